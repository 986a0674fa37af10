// Package dictation coordinates capture sessions with the handoff layer. It
// is the single owner of the capture device for a process.
package dictation

import (
	"context"
	"sync"
	"sync/atomic"

	scerrors "github.com/private-scribe/scribe/internal/errors"
	"github.com/private-scribe/scribe/internal/handoff"
	"github.com/private-scribe/scribe/internal/logging"
	"github.com/private-scribe/scribe/internal/recorder"
)

// Status is a snapshot of the current (or most recent) session.
type Status struct {
	SessionID  string         `json:"session_id,omitempty"`
	State      string         `json:"state"`
	Stats      recorder.Stats `json:"stats"`
	ArtifactID string         `json:"artifact_id,omitempty"`
}

// Service runs at most one active session at a time.
type Service struct {
	rec        *recorder.Recorder
	dispatcher *handoff.Dispatcher

	mu         sync.Mutex
	current    *recorder.Session
	artifactID string

	subMu   sync.Mutex
	subs    map[int]chan recorder.VolumeSample
	nextSub int
	dropped atomic.Uint64

	wg sync.WaitGroup
}

func NewService(rec *recorder.Recorder, d *handoff.Dispatcher) *Service {
	return &Service{rec: rec, dispatcher: d, subs: make(map[int]chan recorder.VolumeSample)}
}

// Start begins a new session. A previous stopped session is replaced; an
// active one is an InvalidTransition.
func (s *Service) Start(ctx context.Context) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		if st := s.current.State(); st != recorder.Stopped {
			return s.statusLocked(), scerrors.NewInvalidTransition("start", st.String())
		}
	}
	sess := s.rec.NewSession()
	if err := sess.Start(ctx); err != nil {
		_ = sess.Close()
		return s.statusLocked(), err
	}
	s.current = sess
	s.artifactID = ""

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pump(sess)
	}()
	return s.statusLocked(), nil
}

func (s *Service) Pause() (Status, error) {
	return s.apply("pause", (*recorder.Session).Pause)
}

func (s *Service) Resume() (Status, error) {
	return s.apply("resume", (*recorder.Session).Resume)
}

func (s *Service) apply(op string, fn func(*recorder.Session) error) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return s.statusLocked(), scerrors.NewInvalidTransition(op, recorder.Idle.String())
	}
	err := fn(s.current)
	return s.statusLocked(), err
}

// Stop ends the active session and hands its artifact off for playback and
// upload.
func (s *Service) Stop(ctx context.Context) (*recorder.Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil, scerrors.NewInvalidTransition("stop", recorder.Idle.String())
	}
	a, err := s.current.Stop()
	if err != nil {
		return nil, err
	}
	s.artifactID = a.ID
	if err := s.dispatcher.Dispatch(ctx, a); err != nil {
		logging.Warnw("dictation: dispatch failed", "artifact_id", a.ID, "err", err)
		return a, err
	}
	return a, nil
}

func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Service) statusLocked() Status {
	if s.current == nil {
		return Status{State: recorder.Idle.String()}
	}
	return Status{
		SessionID:  s.current.ID(),
		State:      s.current.State().String(),
		Stats:      s.current.Stats(),
		ArtifactID: s.artifactID,
	}
}

// Levels subscribes to Volume Samples of every session this service runs.
// Slow subscribers lose samples rather than stall the meter. Call cancel to
// unsubscribe; the channel is closed then.
func (s *Service) Levels(buffer int) (<-chan recorder.VolumeSample, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan recorder.VolumeSample, buffer)
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
}

func (s *Service) pump(sess *recorder.Session) {
	for v := range sess.Levels() {
		s.subMu.Lock()
		for _, ch := range s.subs {
			select {
			case ch <- v:
			default:
				s.dropped.Add(1)
			}
		}
		s.subMu.Unlock()
	}
	logging.Debugw("dictation: level pump finished", "session.id", sess.ID(), "dropped", s.dropped.Load())
}

// Close stops any active session (its artifact is still handed off), then
// waits for level pumps and uploads.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.current != nil {
		if st := s.current.State(); st == recorder.Recording || st == recorder.Paused {
			if a, err := s.current.Stop(); err == nil {
				s.artifactID = a.ID
				_ = s.dispatcher.Dispatch(context.Background(), a)
			}
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
	return s.dispatcher.Close()
}
