package capture

import (
	"context"
	"errors"
	"sync"

	scerrors "github.com/private-scribe/scribe/internal/errors"
)

// ErrPermissionDenied is what a MemorySource reports when access is denied.
var ErrPermissionDenied = errors.New("microphone permission denied")

// MemorySource is an in-process device. Frames reach the open stream only
// through Push. It is used by tests and by callers that already hold PCM.
type MemorySource struct {
	mu     sync.Mutex
	deny   bool
	fn     FrameFunc
	opens  int
	closes int
	open   bool
}

func NewMemorySource() *MemorySource { return &MemorySource{} }

// Deny makes subsequent Open calls fail as if permission were refused.
func (m *MemorySource) Deny(deny bool) {
	m.mu.Lock()
	m.deny = deny
	m.mu.Unlock()
}

func (m *MemorySource) Open(ctx context.Context, _ Format, fn FrameFunc) (Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, scerrors.NewDeviceUnavailable(err)
	}
	if m.deny {
		return nil, scerrors.NewDeviceUnavailable(ErrPermissionDenied)
	}
	m.fn = fn
	m.open = true
	m.opens++
	return &memoryStream{src: m}, nil
}

// Push delivers pcm to the open stream, if any. It reports whether the
// frame was delivered.
func (m *MemorySource) Push(pcm []byte) bool {
	m.mu.Lock()
	fn, open := m.fn, m.open
	m.mu.Unlock()
	if !open || fn == nil {
		return false
	}
	fn(pcm)
	return true
}

// IsOpen reports whether a stream is currently open.
func (m *MemorySource) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Opens and Closes count stream lifecycle events.
func (m *MemorySource) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

func (m *MemorySource) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

type memoryStream struct {
	src  *MemorySource
	once sync.Once
}

func (s *memoryStream) Close() error {
	s.once.Do(func() {
		s.src.mu.Lock()
		s.src.open = false
		s.src.fn = nil
		s.src.closes++
		s.src.mu.Unlock()
	})
	return nil
}
