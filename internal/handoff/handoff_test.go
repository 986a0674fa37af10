package handoff

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/private-scribe/scribe/internal/capture"
	scerrors "github.com/private-scribe/scribe/internal/errors"
	"github.com/private-scribe/scribe/internal/logging"
	"github.com/private-scribe/scribe/internal/recorder"
	"github.com/private-scribe/scribe/internal/spool"
	"github.com/private-scribe/scribe/internal/transcribe"
)

type fakeTranscriber struct {
	text  string
	err   error
	block chan struct{}

	mu   sync.Mutex
	seen []string
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, a *recorder.Artifact) (*transcribe.Transcript, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.seen = append(f.seen, a.ID)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &transcribe.Transcript{ArtifactID: a.ID, Text: f.text}, nil
}

type logEntry struct {
	level string
	msg   string
	kv    []interface{}
}

// captureLogger records warn and info entries for assertions.
type captureLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (c *captureLogger) add(level, msg string, kv []interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = append(c.entries, logEntry{level: level, msg: msg, kv: kv})
}

func (c *captureLogger) Infow(msg string, kv ...interface{})  { c.add("info", msg, kv) }
func (c *captureLogger) Debugw(msg string, kv ...interface{}) {}
func (c *captureLogger) Warnw(msg string, kv ...interface{})  { c.add("warn", msg, kv) }
func (c *captureLogger) Errorw(msg string, kv ...interface{}) { c.add("error", msg, kv) }
func (c *captureLogger) Sync() error                          { return nil }

func (c *captureLogger) find(msg string) (logEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		if e.msg == msg {
			return e, true
		}
	}
	return logEntry{}, false
}

func useCaptureLogger(t *testing.T) *captureLogger {
	t.Helper()
	c := &captureLogger{}
	logging.SetLogger(c)
	t.Cleanup(func() { logging.SetLogger(nil) })
	return c
}

// record produces a real artifact in dir through a recorder session.
func record(t *testing.T, dir *spool.Dir) *recorder.Artifact {
	t.Helper()
	src := capture.NewMemorySource()
	s := (&recorder.Recorder{Source: src, Spool: dir}).NewSession()
	require.NoError(t, s.Start(context.Background()))
	src.Push([]byte{1, 0, 2, 0})
	a, err := s.Stop()
	require.NoError(t, err)
	return a
}

func collect() (func(Result), func() []Result) {
	var mu sync.Mutex
	var got []Result
	return func(r Result) {
			mu.Lock()
			got = append(got, r)
			mu.Unlock()
		}, func() []Result {
			mu.Lock()
			defer mu.Unlock()
			return append([]Result(nil), got...)
		}
}

func TestDispatchUploadsAndRecordsTranscript(t *testing.T) {
	dir := spool.New(t.TempDir())
	lib := NewLibrary(dir)
	onResult, results := collect()
	d := NewDispatcher(lib, &fakeTranscriber{text: "follow up in two weeks"}, onResult)

	a := record(t, dir)
	require.NoError(t, d.Dispatch(context.Background(), a))
	require.NoError(t, d.Close())

	got := results()
	require.Len(t, got, 1)
	assert.NoError(t, got[0].Err)
	assert.Equal(t, "follow up in two weeks", got[0].Transcript.Text)

	e, err := lib.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, spool.StatusDone, e.Status)
	assert.Same(t, a, e.Artifact)

	sc, err := dir.ReadSidecar(a.ID)
	require.NoError(t, err)
	assert.Equal(t, spool.StatusDone, sc.UploadStatus)
	assert.Equal(t, "follow up in two weeks", sc.Transcript)
}

func TestEmptyTranscriptIsNoSpeech(t *testing.T) {
	dir := spool.New(t.TempDir())
	lib := NewLibrary(dir)
	onResult, results := collect()
	d := NewDispatcher(lib, &fakeTranscriber{text: ""}, onResult)

	a := record(t, dir)
	require.NoError(t, d.Dispatch(context.Background(), a))
	require.NoError(t, d.Close())

	got := results()
	require.Len(t, got, 1)
	assert.ErrorIs(t, got[0].Err, ErrNoSpeech)
	e, err := lib.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, spool.StatusNoSpeech, e.Status)
}

func TestUploadFailureKeepsRecording(t *testing.T) {
	dir := spool.New(t.TempDir())
	lib := NewLibrary(dir)
	onResult, results := collect()
	failure := scerrors.NewUploadFailure(502, "bad gateway", nil)
	d := NewDispatcher(lib, &fakeTranscriber{err: failure}, onResult)

	a := record(t, dir)
	require.NoError(t, d.Dispatch(context.Background(), a))
	require.NoError(t, d.Close())

	got := results()
	require.Len(t, got, 1)
	assert.True(t, scerrors.Is(got[0].Err, scerrors.ErrUploadFailure))
	e, err := lib.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, spool.StatusFailed, e.Status)
	assert.FileExists(t, a.Path)
}

func TestPanickingConsumerIsContained(t *testing.T) {
	dir := spool.New(t.TempDir())
	d := NewDispatcher(NewLibrary(dir), &fakeTranscriber{text: "ok"}, func(Result) {
		panic("ui went away")
	})
	require.NoError(t, d.Dispatch(context.Background(), record(t, dir)))
	require.NoError(t, d.Close())
}

func TestDispatchDoesNotWaitForUpload(t *testing.T) {
	dir := spool.New(t.TempDir())
	lib := NewLibrary(dir)
	tr := &fakeTranscriber{text: "x", block: make(chan struct{})}
	d := NewDispatcher(lib, tr, nil)

	ctx, cancel := context.WithCancel(context.Background())
	a := record(t, dir)
	require.NoError(t, d.Dispatch(ctx, a))
	cancel()
	assert.True(t, lib.Pending(a.ID))

	close(tr.block)
	require.NoError(t, d.Close())
	assert.False(t, lib.Pending(a.ID))
	e, err := lib.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, spool.StatusDone, e.Status)
}

func TestNoTranscriberSkipsUpload(t *testing.T) {
	dir := spool.New(t.TempDir())
	lib := NewLibrary(dir)
	d := NewDispatcher(lib, nil, func(Result) { t.Error("unexpected result") })
	a := record(t, dir)
	require.NoError(t, d.Dispatch(context.Background(), a))
	require.NoError(t, d.Close())

	e, err := lib.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, spool.StatusSkipped, e.Status)
	assert.True(t, scerrors.Is(d.Dispatch(context.Background(), nil), scerrors.ErrInvalidRequest))
}

func TestLibraryLoadRemoveAndList(t *testing.T) {
	dir := spool.New(t.TempDir())
	first := NewLibrary(dir)
	d := NewDispatcher(first, &fakeTranscriber{text: "hello"}, nil)
	older := record(t, dir)
	time.Sleep(5 * time.Millisecond)
	newer := record(t, dir)
	require.NoError(t, d.Dispatch(context.Background(), older))
	require.NoError(t, d.Dispatch(context.Background(), newer))
	require.NoError(t, d.Close())

	// a fresh process sees both recordings
	lib := NewLibrary(dir)
	n, err := lib.Load()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	list := lib.List()
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].Artifact.ID)
	assert.Equal(t, "hello", list[1].Transcript.Text)
	assert.Equal(t, older.Path, list[1].Artifact.Path)

	require.NoError(t, lib.Remove(older.ID))
	_, err = os.Stat(older.Path)
	assert.True(t, os.IsNotExist(err))
	_, err = lib.Get(older.ID)
	assert.True(t, scerrors.Is(err, scerrors.ErrNotFound))
	assert.True(t, scerrors.Is(lib.Remove(older.ID), scerrors.ErrNotFound))

	lib.Forget([]string{newer.ID})
	assert.Empty(t, lib.List())
}

func TestLoadMarksInterruptedUploadsFailed(t *testing.T) {
	dir := spool.New(t.TempDir())
	a := record(t, dir)
	sc := a.Sidecar()
	sc.UploadStatus = spool.StatusPending
	require.NoError(t, dir.WriteSidecar(sc))

	lib := NewLibrary(dir)
	_, err := lib.Load()
	require.NoError(t, err)
	e, err := lib.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, spool.StatusFailed, e.Status)
}

func TestUploadLogsCarryRecordingFields(t *testing.T) {
	logs := useCaptureLogger(t)
	dir := spool.New(t.TempDir())
	d := NewDispatcher(NewLibrary(dir), &fakeTranscriber{err: scerrors.NewUploadFailure(503, "", nil)}, nil)

	a := record(t, dir)
	require.NoError(t, d.Dispatch(context.Background(), a))
	require.NoError(t, d.Close())

	e, ok := logs.find("handoff: upload failed")
	require.True(t, ok)
	assert.Equal(t, "warn", e.level)
	assert.Equal(t, []interface{}{"artifact_id", a.ID, "session.id", a.SessionID}, e.kv[:4])
}

func TestSidecarWriteFailureIsLogged(t *testing.T) {
	// recordings land in a working spool; the library's spool path is a
	// plain file so every sidecar write fails
	a := record(t, spool.New(t.TempDir()))
	blocked := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o600))
	lib := NewLibrary(spool.New(blocked))

	logs := useCaptureLogger(t)
	d := NewDispatcher(lib, &fakeTranscriber{text: "ok"}, nil)
	require.NoError(t, d.Dispatch(context.Background(), a))
	require.NoError(t, d.Close())

	_, ok := logs.find("handoff: sidecar write failed")
	assert.True(t, ok)
	_, ok = logs.find("handoff: sidecar update failed")
	assert.True(t, ok)

	e, err := lib.Get(a.ID)
	require.NoError(t, err)
	assert.Equal(t, spool.StatusDone, e.Status)
}
