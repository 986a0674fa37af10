package handoff

import (
	"sort"
	"sync"
	"time"

	"github.com/private-scribe/scribe/internal/capture"
	scerrors "github.com/private-scribe/scribe/internal/errors"
	"github.com/private-scribe/scribe/internal/logging"
	"github.com/private-scribe/scribe/internal/recorder"
	"github.com/private-scribe/scribe/internal/spool"
	"github.com/private-scribe/scribe/internal/transcribe"
)

// Entry is one recording available for playback, with its upload outcome.
type Entry struct {
	Artifact   *recorder.Artifact
	Status     string
	Transcript *transcribe.Transcript
	Err        error
}

// Library holds finished recordings for local playback, backed by the spool
// directory so they survive a restart.
type Library struct {
	spool *spool.Dir

	mu      sync.RWMutex
	entries map[string]*Entry
}

func NewLibrary(dir *spool.Dir) *Library {
	return &Library{spool: dir, entries: make(map[string]*Entry)}
}

// Load registers recordings already present in the spool. Their payload is
// read from disk on demand.
func (l *Library) Load() (int, error) {
	list, err := l.spool.List()
	if err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, sc := range list {
		if _, ok := l.entries[sc.ArtifactID]; ok {
			continue
		}
		e := &Entry{
			Artifact: &recorder.Artifact{
				ID:        sc.ArtifactID,
				SessionID: sc.SessionID,
				MIMEType:  sc.MIMEType,
				Format:    capture.Format{SampleRate: sc.SampleRate, Channels: sc.Channels},
				Chunks:    sc.Chunks,
				Duration:  time.Duration(sc.DurationMs) * time.Millisecond,
				CreatedAt: sc.CreatedAt,
				Path:      sc.WAVPath,
			},
			Status: sc.UploadStatus,
		}
		if sc.Transcript != "" {
			e.Transcript = &transcribe.Transcript{ArtifactID: sc.ArtifactID, Text: sc.Transcript}
		}
		if sc.UploadStatus == spool.StatusPending {
			// the process that was uploading it is gone
			e.Status = spool.StatusFailed
		}
		l.entries[sc.ArtifactID] = e
		n++
	}
	if n > 0 {
		logging.Infow("handoff: loaded spooled recordings", "count", n)
	}
	return n, nil
}

func (l *Library) add(a *recorder.Artifact, status string) {
	l.mu.Lock()
	l.entries[a.ID] = &Entry{Artifact: a, Status: status}
	l.mu.Unlock()
	sc := a.Sidecar()
	sc.UploadStatus = status
	// playback still works from memory; only a restart loses the entry
	if err := l.spool.WriteSidecar(sc); err != nil {
		logging.Warnw("handoff: sidecar write failed", "artifact_id", a.ID, "err", err)
	}
}

func (l *Library) settle(r Result, status string) {
	l.mu.Lock()
	if e, ok := l.entries[r.ArtifactID]; ok {
		e.Status = status
		e.Transcript = r.Transcript
		e.Err = r.Err
	}
	l.mu.Unlock()
	err := l.spool.Update(r.ArtifactID, func(sc *spool.Sidecar) {
		sc.UploadStatus = status
		if r.Transcript != nil {
			sc.Transcript = r.Transcript.Text
		}
		if r.Err != nil {
			sc.UploadError = r.Err.Error()
		}
	})
	if err != nil {
		logging.Warnw("handoff: sidecar update failed", "artifact_id", r.ArtifactID, "status", status, "err", err)
	}
}

// Get returns a copy of the entry for id.
func (l *Library) Get(id string) (Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[id]
	if !ok {
		return Entry{}, scerrors.NewNotFound("recording", id)
	}
	return *e, nil
}

// List returns all entries, newest first.
func (l *Library) List() []Entry {
	l.mu.RLock()
	out := make([]Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, *e)
	}
	l.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].Artifact.CreatedAt.After(out[j].Artifact.CreatedAt)
	})
	return out
}

// Pending reports whether id is still being uploaded.
func (l *Library) Pending(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[id]
	return ok && e.Status == spool.StatusPending
}

// Remove drops id and deletes its spooled files.
func (l *Library) Remove(id string) error {
	l.mu.Lock()
	e, ok := l.entries[id]
	delete(l.entries, id)
	l.mu.Unlock()
	if !ok {
		return scerrors.NewNotFound("recording", id)
	}
	if err := e.Artifact.Release(); err != nil {
		return err
	}
	return l.spool.Remove(id)
}

// Forget drops entries whose spooled files were swept.
func (l *Library) Forget(ids []string) {
	l.mu.Lock()
	for _, id := range ids {
		delete(l.entries, id)
	}
	l.mu.Unlock()
}
