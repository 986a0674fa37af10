package capture

import (
	"context"
	"time"
)

// Format describes interleaved signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerFrame is the size of one sample across all channels.
func (f Format) BytesPerFrame() int { return 2 * f.Channels }

// Duration returns the playback length of n PCM bytes.
func (f Format) Duration(n int) time.Duration {
	bps := f.SampleRate * f.BytesPerFrame()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// FrameFunc receives PCM as the device produces it. The slice is only valid
// for the duration of the call.
type FrameFunc func(pcm []byte)

// Source hands out input streams, the analogue of asking the platform for
// microphone access.
type Source interface {
	// Open requests a stream in format f and starts delivering frames to fn.
	// Every failure to obtain the stream is a device-unavailable error.
	Open(ctx context.Context, f Format, fn FrameFunc) (Stream, error)
}

// Stream is an open input stream. Close releases the device and is safe to
// call more than once.
type Stream interface {
	Close() error
}
