package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/private-scribe/scribe/internal/logging"
)

// ClientWrapper connects to a scribe daemon's MCP endpoint and manages the
// client session lifecycle.
type ClientWrapper struct {
	client          *sdk.Client
	session         *sdk.ClientSession
	keepaliveCancel context.CancelFunc
	mu              sync.Mutex
}

func NewClientWrapper(name, version string) *ClientWrapper {
	impl := &sdk.Implementation{Name: name, Version: version}
	return &ClientWrapper{client: sdk.NewClient(impl, nil)}
}

// ConnectWebSocket dials rawurl (http(s) schemes are mapped to ws(s)) and
// initialises a session.
func (w *ClientWrapper) ConnectWebSocket(ctx context.Context, rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return err
	}
	sess, err := w.client.Connect(ctx, NewWebSocketTransport(conn), nil)
	if err != nil {
		_ = conn.Close()
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.session = sess
	kaCtx, cancel := context.WithCancel(context.Background())
	if prev := w.keepaliveCancel; prev != nil {
		prev()
	}
	w.keepaliveCancel = cancel
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-kaCtx.Done():
				return
			case <-ticker.C:
				_ = sess.Ping(context.Background(), nil)
			}
		}
	}()
	logging.Debugw("mcp: client connected", "url", u.String())
	return nil
}

// Call invokes a tool without arguments and decodes its structured output
// into out (which may be nil). A tool-level failure is returned as an error
// carrying the tool's message.
func (w *ClientWrapper) Call(ctx context.Context, tool string, out any) error {
	w.mu.Lock()
	sess := w.session
	w.mu.Unlock()
	if sess == nil {
		return errors.New("mcp client not connected")
	}
	res, err := sess.CallTool(ctx, &sdk.CallToolParams{Name: tool, Arguments: map[string]any{}})
	if err != nil {
		return err
	}
	if res.IsError {
		return fmt.Errorf("%s: %s", tool, contentText(res))
	}
	if out == nil {
		return nil
	}
	var raw []byte
	if res.StructuredContent != nil {
		raw, err = json.Marshal(res.StructuredContent)
		if err != nil {
			return err
		}
	} else {
		raw = []byte(contentText(res))
	}
	return json.Unmarshal(raw, out)
}

func contentText(res *sdk.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if t, ok := c.(*sdk.TextContent); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (w *ClientWrapper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.keepaliveCancel != nil {
		w.keepaliveCancel()
		w.keepaliveCancel = nil
	}
	if w.session != nil {
		err := w.session.Close()
		w.session = nil
		return err
	}
	return nil
}
