// Package spool manages the on-disk home of finished recordings: one WAV per
// artifact plus a JSON sidecar that tracks its handoff state.
package spool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/private-scribe/scribe/internal/logging"
)

// Sidecar is the metadata written next to each spooled WAV.
type Sidecar struct {
	ArtifactID   string    `json:"artifact_id"`
	SessionID    string    `json:"session_id"`
	MIMEType     string    `json:"mime_type"`
	WAVPath      string    `json:"wav_path"`
	Bytes        int       `json:"bytes"`
	Chunks       int       `json:"chunks"`
	DurationMs   int64     `json:"duration_ms"`
	SampleRate   int       `json:"sample_rate"`
	Channels     int       `json:"channels"`
	CreatedAt    time.Time `json:"created_at"`
	UploadStatus string    `json:"upload_status,omitempty"`
	UploadError  string    `json:"upload_error,omitempty"`
	Transcript   string    `json:"transcript,omitempty"`
}

// Upload states recorded in Sidecar.UploadStatus.
const (
	StatusPending  = "pending"
	StatusDone     = "done"
	StatusFailed   = "failed"
	StatusNoSpeech = "no_speech"
	StatusSkipped  = "skipped"
)

// Dir is a spool directory. A nil *Dir is a valid no-op spool.
type Dir struct {
	Path string
	// Locking takes an advisory flock around sidecar updates, for spools
	// shared between a `scribe serve` daemon and CLI invocations.
	Locking bool
}

func New(path string) *Dir {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	return &Dir{Path: path}
}

func (d *Dir) WAVPath(id string) string     { return filepath.Join(d.Path, id+".wav") }
func (d *Dir) SidecarPath(id string) string { return filepath.Join(d.Path, id+".json") }

// WriteSidecar stores sc atomically, replacing any previous sidecar.
func (d *Dir) WriteSidecar(sc *Sidecar) error {
	if d == nil {
		return nil
	}
	b, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal sidecar %s: %w", sc.ArtifactID, err)
	}
	if err := SaveFileAtomic(d.SidecarPath(sc.ArtifactID), b, 0o600); err != nil {
		logging.Warnw("spool: failed to write sidecar", "artifact_id", sc.ArtifactID, "err", err)
		return err
	}
	return nil
}

// ReadSidecar loads the sidecar for id.
func (d *Dir) ReadSidecar(id string) (*Sidecar, error) {
	if d == nil {
		return nil, fmt.Errorf("spool not configured")
	}
	b, err := os.ReadFile(d.SidecarPath(id))
	if err != nil {
		return nil, err
	}
	var sc Sidecar
	if err := json.Unmarshal(b, &sc); err != nil {
		return nil, fmt.Errorf("invalid sidecar %s: %w", id, err)
	}
	return &sc, nil
}

// Update applies fn to the sidecar for id and writes it back atomically.
func (d *Dir) Update(id string, fn func(*Sidecar)) error {
	if d == nil {
		return nil
	}
	if d.Locking {
		unlock, err := d.lock(id)
		if err != nil {
			return err
		}
		defer unlock()
	}
	sc, err := d.ReadSidecar(id)
	if err != nil {
		logging.Warnw("spool: failed to read sidecar for update", "artifact_id", id, "err", err)
		return err
	}
	fn(sc)
	return d.WriteSidecar(sc)
}

func (d *Dir) lock(id string) (func(), error) {
	lf := d.SidecarPath(id) + ".lock"
	f, err := os.OpenFile(lf, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", lf, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("lock %s: %w", lf, err)
	}
	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		_ = os.Remove(lf)
	}, nil
}

// List returns every readable sidecar, oldest first.
func (d *Dir) List() ([]*Sidecar, error) {
	if d == nil {
		return nil, nil
	}
	files, err := os.ReadDir(d.Path)
	if err != nil {
		return nil, err
	}
	var out []*Sidecar
	for _, fi := range files {
		name := fi.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		sc, err := d.ReadSidecar(strings.TrimSuffix(name, ".json"))
		if err != nil {
			logging.Debugw("spool: skipping unreadable sidecar", "file", name, "err", err)
			continue
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Remove deletes the WAV and sidecar for id. Missing files are not an error.
func (d *Dir) Remove(id string) error {
	if d == nil {
		return nil
	}
	var first error
	for _, p := range []string{d.WAVPath(id), d.SidecarPath(id)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && first == nil {
			first = err
		}
	}
	return first
}
