package recorder

import (
	"context"
	"sync/atomic"
	"time"
)

// VolumeSample is one instantaneous loudness reading.
type VolumeSample struct {
	SessionID string    `json:"session_id"`
	Level     uint8     `json:"level"`
	At        time.Time `json:"at"`
}

// sampler reads the analyser once per frame tick while its context is live.
// The context is owned by the session and cancelled exactly at the
// Recording boundary (Pause or Stop).
type sampler struct {
	sessionID string
	analyser  *Analyser
	interval  time.Duration
	out       chan<- VolumeSample
	emitted   *atomic.Uint64
	dropped   *atomic.Uint64
}

func (s *sampler) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	bins := make([]uint8, s.analyser.BinCount())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		// a tick and a cancel can be ready together
		if ctx.Err() != nil {
			return
		}
		sample := VolumeSample{SessionID: s.sessionID, Level: s.analyser.Level(bins), At: time.Now()}
		select {
		case s.out <- sample:
			s.emitted.Add(1)
		default:
			s.dropped.Add(1)
		}
	}
}
