package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/private-scribe/scribe/internal/auth"
	scerrors "github.com/private-scribe/scribe/internal/errors"
	"github.com/private-scribe/scribe/internal/spool"
)

// setupEnv points every piece of local state at a temp dir.
func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("SCRIBE_LOG_LEVEL", "error")
	t.Setenv("SCRIBE_SPOOL_DIR", filepath.Join(dir, "spool"))
	t.Setenv("SCRIBE_TOKEN_FILE", filepath.Join(dir, "tokens.json"))
	return dir
}

func runCLI(t *testing.T, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	app := newCLIApp()
	app.Writer = &buf
	app.ErrWriter = io.Discard
	if stdin == nil {
		stdin = strings.NewReader("")
	}
	app.Reader = stdin
	err := app.Run(append([]string{"scribe"}, args...))
	return buf.String(), err
}

// writeTone writes one second of a 16 kHz mono square wave.
func writeTone(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	samples := make([]int, 16000)
	for i := range samples {
		if (i/20)%2 == 0 {
			samples[i] = 8000
		} else {
			samples[i] = -8000
		}
	}
	enc := wav.NewEncoder(f, 16000, 16, 1, 1)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: 16000},
		Data:           samples,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
}

func TestOutputError(t *testing.T) {
	err := outputError(scerrors.NewInvalidTransition("pause", "idle"))
	ec, ok := err.(cli.ExitCoder)
	require.True(t, ok)
	assert.Equal(t, 1, ec.ExitCode())
	assert.True(t, strings.HasPrefix(err.Error(), "[INVALID_TRANSITION]"), err.Error())

	assert.Equal(t, assert.AnError.Error(), outputError(assert.AnError).Error())
}

func TestLoginWhoAmILogout(t *testing.T) {
	setupEnv(t)
	exp := time.Now().Add(time.Hour)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "dr.lee",
		"exp": exp.Unix(),
	}).SignedString([]byte("test-key"))
	require.NoError(t, err)

	out, err := runCLI(t, nil, "login", "--access-token", token)
	require.NoError(t, err)
	assert.Contains(t, out, "dr.lee")

	out, err = runCLI(t, nil, "whoami", "--json")
	require.NoError(t, err)
	var st auth.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.LoggedIn)
	assert.Equal(t, "dr.lee", st.Subject)
	assert.False(t, st.Expired)

	_, err = runCLI(t, nil, "logout")
	require.NoError(t, err)
	out, err = runCLI(t, nil, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Not logged in")
}

func TestLoginRequiresToken(t *testing.T) {
	setupEnv(t)
	_, err := runCLI(t, nil, "login", "--access-token", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_REQUEST")
}

func TestRecordFromFileWithoutUpload(t *testing.T) {
	dir := setupEnv(t)
	input := filepath.Join(dir, "tone.wav")
	writeTone(t, input)

	// stdin stays open so only --max-duration ends the recording
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	out, err := runCLI(t, pr, "record", "--input", input, "--no-upload", "--json", "--max-duration", "300ms")
	require.NoError(t, err)

	var sum recordSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum), out)
	assert.Equal(t, spool.StatusSkipped, sum.UploadStatus)
	assert.Equal(t, "audio/wav", sum.MIMEType)
	assert.Greater(t, sum.Bytes, 44)
	_, err = os.Stat(sum.Path)
	assert.NoError(t, err)

	out, err = runCLI(t, nil, "recordings")
	require.NoError(t, err)
	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &rows), out)
	require.Len(t, rows, 1)
	assert.Equal(t, sum.ArtifactID, rows[0]["id"])
	assert.Equal(t, spool.StatusSkipped, rows[0]["upload_status"])
}

func TestRecordUploadsAndPrintsTranscript(t *testing.T) {
	dir := setupEnv(t)
	input := filepath.Join(dir, "tone.wav")
	writeTone(t, input)

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer opaque-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if _, _, err := r.FormFile("file"); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"raw_transcript":"patient is stable"}`))
	}))
	defer backend.Close()
	t.Setenv("SCRIBE_BACKEND_URL", backend.URL)

	_, err := runCLI(t, nil, "login", "--access-token", "opaque-token")
	require.NoError(t, err)

	out, err := runCLI(t, strings.NewReader("s\n"), "record", "--input", input)
	require.NoError(t, err)
	assert.Contains(t, out, "Recording stopped")
	assert.Contains(t, out, "patient is stable")
}

func TestRecordReportsUploadFailure(t *testing.T) {
	dir := setupEnv(t)
	input := filepath.Join(dir, "tone.wav")
	writeTone(t, input)
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model offline", http.StatusBadGateway)
	}))
	defer backend.Close()
	t.Setenv("SCRIBE_BACKEND_URL", backend.URL)

	_, err := runCLI(t, nil, "login", "--access-token", "opaque-token")
	require.NoError(t, err)

	out, err := runCLI(t, strings.NewReader("s\n"), "record", "--input", input, "--json")
	require.NoError(t, err)
	var sum recordSummary
	require.NoError(t, json.Unmarshal([]byte(out), &sum), out)
	assert.Equal(t, spool.StatusFailed, sum.UploadStatus)
	assert.Contains(t, sum.Error, "UPLOAD_FAILURE")

	_, err = os.Stat(sum.Path)
	assert.NoError(t, err, "a failed upload keeps the recording")
}

func TestRecordMissingInput(t *testing.T) {
	dir := setupEnv(t)
	_, err := runCLI(t, nil, "record", "--input", filepath.Join(dir, "missing.wav"), "--no-upload")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEVICE_UNAVAILABLE")
}

func TestCtlRejectsUnknownTool(t *testing.T) {
	setupEnv(t)
	_, err := runCLI(t, nil, "ctl", "rewind")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_REQUEST")
}

func TestBadConfigFails(t *testing.T) {
	setupEnv(t)
	t.Setenv("SCRIBE_FFT_SIZE", "300")
	_, err := runCLI(t, nil, "whoami")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fft_size")
}

func TestServeAndCtl(t *testing.T) {
	dir := setupEnv(t)
	input := filepath.Join(dir, "tone.wav")
	writeTone(t, input)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		app := newCLIApp()
		app.Writer = io.Discard
		app.ErrWriter = io.Discard
		done <- app.RunContext(ctx, []string{"scribe", "serve", "--addr", addr, "--input", input, "--no-upload"})
	}()
	require.Eventually(t, func() bool {
		c, err := net.Dial("tcp", addr)
		if err != nil {
			return false
		}
		_ = c.Close()
		return true
	}, 3*time.Second, 20*time.Millisecond)

	ctl := func(tool string) (map[string]any, error) {
		out, err := runCLI(t, nil, "ctl", "--addr", addr, tool)
		if err != nil {
			return nil, err
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(out), &m), out)
		return m, nil
	}

	st, err := ctl("start")
	require.NoError(t, err)
	assert.Equal(t, "recording", st["state"])

	time.Sleep(100 * time.Millisecond)
	stopped, err := ctl("stop")
	require.NoError(t, err)
	assert.Equal(t, "audio/wav", stopped["mime_type"])
	path, _ := stopped["path"].(string)
	_, err = os.Stat(path)
	assert.NoError(t, err)

	_, err = ctl("pause")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "INVALID_TRANSITION")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not shut down")
	}
}
