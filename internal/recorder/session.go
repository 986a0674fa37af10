package recorder

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/private-scribe/scribe/internal/capture"
	scerrors "github.com/private-scribe/scribe/internal/errors"
	"github.com/private-scribe/scribe/internal/logging"
	"github.com/private-scribe/scribe/internal/spool"
)

// Recorder holds the settings shared by every Capture Session it creates.
// Zero fields take the defaults below.
type Recorder struct {
	Source        capture.Source
	Format        capture.Format
	Spool         *spool.Dir
	FFTSize       int
	FrameInterval time.Duration
	MinDecibels   float64
	MaxDecibels   float64
	LevelBuffer   int
}

const (
	defaultSampleRate    = 16000
	defaultFFTSize       = 256
	defaultFrameInterval = 16 * time.Millisecond
	defaultMinDecibels   = -100
	defaultMaxDecibels   = -30
	defaultLevelBuffer   = 64
)

// NewSession creates an idle Capture Session.
func (r *Recorder) NewSession() *Session {
	cfg := *r
	if cfg.Format.SampleRate <= 0 {
		cfg.Format.SampleRate = defaultSampleRate
	}
	if cfg.Format.Channels <= 0 {
		cfg.Format.Channels = 1
	}
	if cfg.FFTSize <= 0 {
		cfg.FFTSize = defaultFFTSize
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = defaultFrameInterval
	}
	if cfg.MinDecibels == 0 && cfg.MaxDecibels == 0 {
		cfg.MinDecibels, cfg.MaxDecibels = defaultMinDecibels, defaultMaxDecibels
	}
	if cfg.LevelBuffer <= 0 {
		cfg.LevelBuffer = defaultLevelBuffer
	}
	if cfg.Spool == nil {
		cfg.Spool = spool.New(filepath.Join(os.TempDir(), "scribe"))
	}
	return &Session{
		id:       uuid.New().String(),
		cfg:      cfg,
		levels:   make(chan VolumeSample, cfg.LevelBuffer),
		finished: make(chan *Artifact, 1),
	}
}

// Stats are counters for one session.
type Stats struct {
	Chunks         int    `json:"chunks"`
	Bytes          int    `json:"bytes"`
	SamplesEmitted uint64 `json:"samples_emitted"`
	SamplesDropped uint64 `json:"samples_dropped"`
}

// Session is one recording attempt. All methods are safe for concurrent use.
type Session struct {
	id  string
	cfg Recorder

	mu       sync.Mutex
	state    State
	starting bool
	stream   capture.Stream
	chunks   [][]byte
	bytes    int
	analyser *Analyser

	// sampler run, replaced on every Recording entry
	cancel      context.CancelFunc
	samplerDone chan struct{}

	levels     chan VolumeSample
	finished   chan *Artifact
	finishOnce sync.Once

	emitted atomic.Uint64
	dropped atomic.Uint64
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Levels carries Volume Samples while the session is Recording. It is
// closed once the session is stopped.
func (s *Session) Levels() <-chan VolumeSample { return s.levels }

// Finished yields the Audio Artifact exactly once and is then closed. A
// session torn down before it ever recorded closes it without a value.
func (s *Session) Finished() <-chan *Artifact { return s.finished }

func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Chunks:         len(s.chunks),
		Bytes:          s.bytes,
		SamplesEmitted: s.emitted.Load(),
		SamplesDropped: s.dropped.Load(),
	}
}

// Start opens the input stream and begins recording. It is valid only from
// Idle; if the device cannot be opened the session stays Idle.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle || s.starting {
		st := s.state
		s.mu.Unlock()
		return scerrors.NewInvalidTransition("start", st.String())
	}
	s.starting = true
	s.mu.Unlock()

	// The device may deliver frames before Open returns; onFrame drops them
	// until the state flips to Recording.
	analyser := NewAnalyser(s.cfg.FFTSize, s.cfg.Format.Channels, s.cfg.MinDecibels, s.cfg.MaxDecibels)
	stream, err := s.cfg.Source.Open(ctx, s.cfg.Format, s.onFrame)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	if err != nil {
		logging.Warnw("recorder: start failed", append(logging.SessionFields(s.id, s.state.String()), "err", err)...)
		if !scerrors.Is(err, scerrors.ErrDeviceUnavailable) {
			err = scerrors.NewDeviceUnavailable(err)
		}
		return err
	}
	if s.state != Idle {
		// torn down while the device was opening
		go stream.Close()
		return scerrors.NewInvalidTransition("start", s.state.String())
	}
	s.stream = stream
	s.analyser = analyser
	s.state = Recording
	s.startSamplerLocked()
	logging.Infow("recorder: session started", logging.SessionFields(s.id, s.state.String())...)
	return nil
}

// Pause suspends chunk accumulation and sampling. Valid only from Recording.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Recording {
		return scerrors.NewInvalidTransition("pause", s.state.String())
	}
	s.state = Paused
	s.stopSamplerLocked()
	logging.Infow("recorder: session paused", logging.SessionFields(s.id, s.state.String())...)
	return nil
}

// Resume continues a paused session. Valid only from Paused.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Paused {
		return scerrors.NewInvalidTransition("resume", s.state.String())
	}
	s.state = Recording
	// frames were dropped while paused; the meter must not replay stale audio
	s.analyser.Reset()
	s.startSamplerLocked()
	logging.Infow("recorder: session resumed", logging.SessionFields(s.id, s.state.String())...)
	return nil
}

// Stop finalises the recording, releases the input stream and returns the
// artifact, which is also delivered once on Finished. Valid from Recording
// or Paused.
func (s *Session) Stop() (*Artifact, error) {
	s.mu.Lock()
	if s.state != Recording && s.state != Paused {
		st := s.state
		s.mu.Unlock()
		return nil, scerrors.NewInvalidTransition("stop", st.String())
	}
	s.state = Stopped
	s.stopSamplerLocked()
	close(s.levels)
	stream := s.stream
	s.stream = nil
	chunks := s.chunks
	s.chunks = nil
	s.mu.Unlock()

	// Closing waits for in-flight device callbacks, which take s.mu.
	if err := stream.Close(); err != nil {
		logging.Warnw("recorder: closing input stream", append(logging.SessionFields(s.id, Stopped.String()), "err", err)...)
	}

	a, err := encodeArtifact(s.cfg.Spool, s.id, s.cfg.Format, chunks)
	if err != nil {
		logging.Errorw("recorder: encoding artifact failed", append(logging.SessionFields(s.id, Stopped.String()), "err", err)...)
		s.finish(nil)
		return nil, scerrors.NewInternal(err)
	}
	logging.Infow("recorder: session stopped", append(logging.SessionFields(s.id, Stopped.String()),
		logging.ArtifactFields(a.ID, len(a.Data), a.Chunks, a.Duration.Milliseconds())...)...)
	s.finish(a)
	return a, nil
}

// Close tears the session down from any state. An active recording is
// stopped normally, so its artifact still reaches Finished.
func (s *Session) Close() error {
	s.mu.Lock()
	switch s.state {
	case Recording, Paused:
		s.mu.Unlock()
		_, err := s.Stop()
		if scerrors.Is(err, scerrors.ErrInvalidTransition) {
			// lost a race with a concurrent Stop
			return nil
		}
		return err
	case Idle:
		s.state = Stopped
		close(s.levels)
		s.mu.Unlock()
		s.finish(nil)
		logging.Debugw("recorder: idle session closed", logging.SessionFields(s.id, Stopped.String())...)
		return nil
	default:
		s.mu.Unlock()
		return nil
	}
}

func (s *Session) finish(a *Artifact) {
	s.finishOnce.Do(func() {
		if a != nil {
			s.finished <- a
		}
		close(s.finished)
	})
}

func (s *Session) onFrame(pcm []byte) {
	s.mu.Lock()
	if s.state != Recording {
		s.mu.Unlock()
		return
	}
	chunk := make([]byte, len(pcm))
	copy(chunk, pcm)
	s.chunks = append(s.chunks, chunk)
	s.bytes += len(chunk)
	analyser := s.analyser
	s.mu.Unlock()
	analyser.Write(chunk)
}

func (s *Session) startSamplerLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.samplerDone = done
	smp := &sampler{
		sessionID: s.id,
		analyser:  s.analyser,
		interval:  s.cfg.FrameInterval,
		out:       s.levels,
		emitted:   &s.emitted,
		dropped:   &s.dropped,
	}
	go func() {
		defer close(done)
		smp.run(ctx)
	}()
}

// stopSamplerLocked cancels the current sampler run and waits for it. The
// sampler never takes s.mu, so waiting under the lock is safe.
func (s *Session) stopSamplerLocked() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.samplerDone
	s.cancel = nil
	s.samplerDone = nil
	if n := s.dropped.Load(); n > 0 {
		logging.Debugw("recorder: volume samples dropped", "session.id", s.id, "dropped", n)
	}
}
