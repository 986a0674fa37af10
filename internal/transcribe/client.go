// Package transcribe uploads finished recordings to the transcription
// backend.
package transcribe

import (
	"bytes"
	"context"
	"mime"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	scerrors "github.com/private-scribe/scribe/internal/errors"
	"github.com/private-scribe/scribe/internal/logging"
	"github.com/private-scribe/scribe/internal/recorder"
)

// TokenSource supplies the bearer token for uploads.
type TokenSource interface {
	Require() (string, error)
}

// Transcript is the backend's answer for one artifact.
type Transcript struct {
	ArtifactID string    `json:"artifact_id"`
	Text       string    `json:"raw_transcript"`
	ReceivedAt time.Time `json:"received_at"`
	LatencyMs  int64     `json:"latency_ms"`
	// ServerMs is the backend's own processing time, when it reports one.
	ServerMs int64 `json:"server_ms,omitempty"`
}

type response struct {
	RawTranscript string `json:"raw_transcript"`
}

// bodyExcerpt bounds how much of an error body ends up in error details.
const bodyExcerpt = 512

// Client posts artifacts as multipart form uploads.
type Client struct {
	URL    string
	Field  string
	Tokens TokenSource
	http   *resty.Client
}

// NewClient returns a client for the transcription endpoint at url. field is
// the multipart field name carrying the audio.
func NewClient(url, field string, timeout time.Duration, tokens TokenSource) *Client {
	if field == "" {
		field = "file"
	}
	hc := resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
	return &Client{URL: url, Field: field, Tokens: tokens, http: hc}
}

// Transcribe uploads the artifact exactly once. Transport errors and non-2xx
// responses become UploadFailure; a missing or expired token is reported as
// Unauthorized without contacting the backend.
func (c *Client) Transcribe(ctx context.Context, a *recorder.Artifact) (*Transcript, error) {
	token, err := c.Tokens.Require()
	if err != nil {
		return nil, err
	}

	filename := Filename(a.MIMEType)
	logging.DebugwCtx(ctx, "transcribe: uploading", append(logging.ArtifactFields(a.ID, len(a.Data), a.Chunks, a.Duration.Milliseconds()),
		"url", c.URL, "filename", filename)...)

	var out response
	sent := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("X-Correlation-ID", a.ID).
		SetMultipartField(c.Field, filename, a.MIMEType, bytes.NewReader(a.Data)).
		SetResult(&out).
		ForceContentType("application/json").
		Post(c.URL)
	if err != nil {
		status := 0
		if resp != nil && resp.RawResponse != nil {
			status = resp.StatusCode()
		}
		logging.WarnwCtx(ctx, "transcribe: upload failed", "correlation_id", a.ID, "err", err)
		return nil, scerrors.NewUploadFailure(status, "", err)
	}
	if !resp.IsSuccess() {
		body := resp.String()
		if len(body) > bodyExcerpt {
			body = body[:bodyExcerpt]
		}
		logging.WarnwCtx(ctx, "transcribe: backend rejected upload", "correlation_id", a.ID, "status", resp.StatusCode())
		return nil, scerrors.NewUploadFailure(resp.StatusCode(), body, nil)
	}

	t := &Transcript{
		ArtifactID: a.ID,
		Text:       strings.TrimSpace(out.RawTranscript),
		ReceivedAt: time.Now().UTC(),
		LatencyMs:  time.Since(sent).Milliseconds(),
	}
	if v := resp.Header().Get("X-Processing-Time-ms"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			t.ServerMs = n
		}
	}
	logging.InfowCtx(ctx, "transcribe: transcript received", "correlation_id", a.ID, "chars", len(t.Text), "latency_ms", t.LatencyMs)
	return t, nil
}

// Filename is the upload filename for a MIME type, e.g. recording.wav. The
// backend reads the audio format from the extension.
func Filename(mimeType string) string {
	ext := ""
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		switch mt {
		case "audio/wav", "audio/x-wav", "audio/wave":
			ext = ".wav"
		case "audio/webm":
			ext = ".webm"
		case "audio/ogg":
			ext = ".ogg"
		default:
			if exts, _ := mime.ExtensionsByType(mt); len(exts) > 0 {
				ext = exts[0]
			}
		}
	}
	if ext == "" {
		ext = ".bin"
	}
	return "recording" + ext
}
