package recorder

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/private-scribe/scribe/internal/capture"
	"github.com/private-scribe/scribe/internal/spool"
)

// MIMEType of every artifact the recorder produces.
const MIMEType = "audio/wav"

// Artifact is a finished recording.
type Artifact struct {
	ID        string
	SessionID string
	MIMEType  string
	Data      []byte
	Format    capture.Format
	Chunks    int
	Duration  time.Duration
	CreatedAt time.Time
	// Path is the spooled copy used for local playback.
	Path string
}

// Release removes the spooled copy. Data stays valid.
func (a *Artifact) Release() error {
	if a == nil || a.Path == "" {
		return nil
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Sidecar returns the spool metadata for a.
func (a *Artifact) Sidecar() *spool.Sidecar {
	return &spool.Sidecar{
		ArtifactID: a.ID,
		SessionID:  a.SessionID,
		MIMEType:   a.MIMEType,
		WAVPath:    a.Path,
		Bytes:      len(a.Data),
		Chunks:     a.Chunks,
		DurationMs: a.Duration.Milliseconds(),
		SampleRate: a.Format.SampleRate,
		Channels:   a.Format.Channels,
		CreatedAt:  a.CreatedAt,
	}
}

// encodeArtifact concatenates chunks into one WAV written to dir/<id>.wav.
// Zero chunks produce a header-only WAV.
func encodeArtifact(dir *spool.Dir, sessionID string, f capture.Format, chunks [][]byte) (*Artifact, error) {
	id := uuid.New().String()
	path := dir.WAVPath(id)

	total := 0
	for _, c := range chunks {
		total += len(c)
	}
	samples := make([]int, 0, total/2)
	for _, c := range chunks {
		for off := 0; off+1 < len(c); off += 2 {
			samples = append(samples, int(int16(binary.LittleEndian.Uint16(c[off:]))))
		}
	}

	err := spool.WriteAtomic(path, 0o600, func(file *os.File) error {
		enc := wav.NewEncoder(file, f.SampleRate, 16, f.Channels, 1)
		// The encoder only writes its header on the first Write, so always
		// call it even with no samples.
		if err := enc.Write(&audio.IntBuffer{
			Data:           samples,
			Format:         &audio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
			SourceBitDepth: 16,
		}); err != nil {
			return err
		}
		return enc.Close()
	})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read back %s: %w", filepath.Base(path), err)
	}
	return &Artifact{
		ID:        id,
		SessionID: sessionID,
		MIMEType:  MIMEType,
		Data:      data,
		Format:    f,
		Chunks:    len(chunks),
		Duration:  f.Duration(2 * len(samples)),
		CreatedAt: time.Now().UTC(),
		Path:      path,
	}, nil
}
