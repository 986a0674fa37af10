package capture

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	scerrors "github.com/private-scribe/scribe/internal/errors"
	"github.com/private-scribe/scribe/internal/logging"
)

// blockDuration is how much audio FileSource delivers per tick.
const blockDuration = 20 * time.Millisecond

// FileSource replays a PCM WAV file at real-time pace, as if it were a
// microphone. Once the file is exhausted the stream stays open and silent
// until closed.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource { return &FileSource{Path: path} }

func (s *FileSource) Open(ctx context.Context, f Format, fn FrameFunc) (Stream, error) {
	file, err := os.Open(s.Path)
	if err != nil {
		return nil, scerrors.NewDeviceUnavailable(err)
	}
	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		file.Close()
		return nil, scerrors.NewDeviceUnavailable(fmt.Errorf("%s is not a valid WAV file", s.Path))
	}
	if int(dec.SampleRate) != f.SampleRate {
		file.Close()
		return nil, scerrors.NewDeviceUnavailable(fmt.Errorf("%s is %d Hz, want %d Hz", s.Path, dec.SampleRate, f.SampleRate))
	}
	if dec.BitDepth < 8 || dec.BitDepth > 32 {
		file.Close()
		return nil, scerrors.NewDeviceUnavailable(fmt.Errorf("%s has unsupported bit depth %d", s.Path, dec.BitDepth))
	}

	st := &fileStream{
		file:     file,
		dec:      dec,
		out:      f,
		inChans:  int(dec.NumChans),
		bitDepth: int(dec.BitDepth),
		fn:       fn,
		done:     make(chan struct{}),
	}
	st.wg.Add(1)
	go st.run()
	logging.Infow("capture: replaying file", "path", s.Path, "sample_rate", dec.SampleRate, "channels", dec.NumChans)
	return st, nil
}

type fileStream struct {
	file     *os.File
	dec      *wav.Decoder
	out      Format
	inChans  int
	bitDepth int
	fn       FrameFunc
	done     chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

func (s *fileStream) run() {
	defer s.wg.Done()
	framesPerBlock := int(int64(s.out.SampleRate) * int64(blockDuration) / int64(time.Second))
	buf := &audio.IntBuffer{
		Data:   make([]int, framesPerBlock*s.inChans),
		Format: &audio.Format{NumChannels: s.inChans, SampleRate: s.out.SampleRate},
	}
	ticker := time.NewTicker(blockDuration)
	defer ticker.Stop()
	exhausted := false
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if exhausted {
				continue
			}
			n, err := s.dec.PCMBuffer(buf)
			if n > 0 {
				s.fn(s.convert(buf.Data[:n]))
			}
			if err != nil && err != io.EOF {
				logging.Warnw("capture: file read failed", "err", err)
			}
			if n == 0 || err != nil {
				exhausted = true
				logging.Debugw("capture: file exhausted, stream now silent")
			}
		}
	}
}

// convert maps decoded samples to 16-bit PCM in the requested channel layout.
func (s *fileStream) convert(samples []int) []byte {
	frames := len(samples) / s.inChans
	pcm := make([]byte, frames*s.out.BytesPerFrame())
	off := 0
	for i := 0; i < frames; i++ {
		frame := samples[i*s.inChans : (i+1)*s.inChans]
		for ch := 0; ch < s.out.Channels; ch++ {
			var v int
			if s.inChans == s.out.Channels {
				v = frame[ch]
			} else {
				// mix down (or duplicate) by averaging the input frame
				sum := 0
				for _, x := range frame {
					sum += x
				}
				v = sum / len(frame)
			}
			binary.LittleEndian.PutUint16(pcm[off:], uint16(to16(v, s.bitDepth)))
			off += 2
		}
	}
	return pcm
}

func to16(v, bitDepth int) int16 {
	switch {
	case bitDepth == 8:
		// 8-bit WAV is unsigned
		return int16((v - 128) << 8)
	case bitDepth > 16:
		return int16(v >> (bitDepth - 16))
	default:
		return int16(v)
	}
}

func (s *fileStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		s.wg.Wait()
		err = s.file.Close()
		logging.Infow("capture: file stream released")
	})
	return err
}
