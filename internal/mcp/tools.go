// Package mcp exposes recording control as MCP tools over a websocket, and
// provides the matching client.
package mcp

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/private-scribe/scribe/internal/dictation"
	"github.com/private-scribe/scribe/internal/logging"
	"github.com/private-scribe/scribe/internal/recorder"
)

// Tool names.
const (
	ToolStart  = "start_recording"
	ToolPause  = "pause_recording"
	ToolResume = "resume_recording"
	ToolStop   = "stop_recording"
	ToolStatus = "recording_status"
)

// Controller is the recording surface the tools drive.
type Controller interface {
	Start(ctx context.Context) (dictation.Status, error)
	Pause() (dictation.Status, error)
	Resume() (dictation.Status, error)
	Stop(ctx context.Context) (*recorder.Artifact, error)
	Status() dictation.Status
}

// NoArgs is the input of every tool.
type NoArgs struct{}

// StopOutput describes the artifact produced by stop_recording.
type StopOutput struct {
	ArtifactID string `json:"artifact_id"`
	SessionID  string `json:"session_id"`
	MIMEType   string `json:"mime_type"`
	Bytes      int    `json:"bytes"`
	DurationMs int64  `json:"duration_ms"`
	Path       string `json:"path"`
}

// NewServer returns an MCP server with the recording tools registered.
func NewServer(ctl Controller, version string) *sdk.Server {
	server := sdk.NewServer(&sdk.Implementation{Name: "scribe", Version: version}, nil)

	statusTool := func(name, desc string, fn func(ctx context.Context) (dictation.Status, error)) {
		sdk.AddTool(server, &sdk.Tool{Name: name, Description: desc},
			func(ctx context.Context, _ *sdk.CallToolRequest, _ NoArgs) (*sdk.CallToolResult, dictation.Status, error) {
				st, err := fn(ctx)
				if err != nil {
					return nil, dictation.Status{}, err
				}
				return textResult(st), st, nil
			})
	}
	statusTool(ToolStart, "Start recording from the capture device.", ctl.Start)
	statusTool(ToolPause, "Pause the active recording.", func(context.Context) (dictation.Status, error) { return ctl.Pause() })
	statusTool(ToolResume, "Resume a paused recording.", func(context.Context) (dictation.Status, error) { return ctl.Resume() })
	statusTool(ToolStatus, "Report the state of the current recording.", func(context.Context) (dictation.Status, error) { return ctl.Status(), nil })

	sdk.AddTool(server, &sdk.Tool{Name: ToolStop, Description: "Stop recording and hand the audio off for transcription."},
		func(ctx context.Context, _ *sdk.CallToolRequest, _ NoArgs) (*sdk.CallToolResult, StopOutput, error) {
			a, err := ctl.Stop(ctx)
			if err != nil {
				return nil, StopOutput{}, err
			}
			out := StopOutput{
				ArtifactID: a.ID,
				SessionID:  a.SessionID,
				MIMEType:   a.MIMEType,
				Bytes:      len(a.Data),
				DurationMs: a.Duration.Milliseconds(),
				Path:       a.Path,
			}
			return textResult(out), out, nil
		})
	return server
}

func textResult(v any) *sdk.CallToolResult {
	b, _ := json.Marshal(v)
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: string(b)}}}
}

var upgrader = websocket.Upgrader{
	// the control API only listens on loopback by default
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler upgrades each request to a websocket and serves one MCP session on
// it until the client goes away.
func Handler(server *sdk.Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warnw("mcp: websocket upgrade failed", "err", err)
			return
		}
		go func() {
			session, err := server.Connect(context.Background(), NewWebSocketTransport(conn), nil)
			if err != nil {
				logging.Warnw("mcp: server connect failed", "err", err)
				_ = conn.Close()
				return
			}
			defer session.Close()
			if err := session.Wait(); err != nil {
				logging.Debugw("mcp: session ended", "err", err)
			} else {
				logging.Debugw("mcp: session ended")
			}
		}()
	})
}
