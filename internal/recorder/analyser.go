package recorder

import (
	"encoding/binary"
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Analyser produces byte frequency data from the most recent fftSize
// samples of the input, the way a browser AnalyserNode does with smoothing
// disabled. It is safe for concurrent use.
type Analyser struct {
	mu       sync.Mutex
	size     int
	minDb    float64
	maxDb    float64
	ring     []float64
	pos      int
	channels int

	fft     *fourier.FFT
	scratch []float64
	coeff   []complex128
}

// NewAnalyser returns an analyser over fftSize samples (a power of two).
// Frequency bins are fftSize/2.
func NewAnalyser(fftSize, channels int, minDb, maxDb float64) *Analyser {
	if channels < 1 {
		channels = 1
	}
	return &Analyser{
		size:     fftSize,
		minDb:    minDb,
		maxDb:    maxDb,
		ring:     make([]float64, fftSize),
		channels: channels,
		fft:      fourier.NewFFT(fftSize),
		scratch:  make([]float64, fftSize),
	}
}

// BinCount is the number of frequency bins.
func (a *Analyser) BinCount() int { return a.size / 2 }

// Write feeds interleaved PCM16LE. Multi-channel input is averaged to mono.
func (a *Analyser) Write(pcm []byte) {
	step := 2 * a.channels
	a.mu.Lock()
	defer a.mu.Unlock()
	for off := 0; off+step <= len(pcm); off += step {
		sum := 0.0
		for ch := 0; ch < a.channels; ch++ {
			sum += float64(int16(binary.LittleEndian.Uint16(pcm[off+2*ch:]))) / 32768.0
		}
		a.ring[a.pos] = sum / float64(a.channels)
		a.pos = (a.pos + 1) % a.size
	}
}

// Reset clears the sample history.
func (a *Analyser) Reset() {
	a.mu.Lock()
	for i := range a.ring {
		a.ring[i] = 0
	}
	a.pos = 0
	a.mu.Unlock()
}

// ByteFrequencyData fills dst (len BinCount) with 0-255 magnitudes.
func (a *Analyser) ByteFrequencyData(dst []uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	// oldest sample first
	n := copy(a.scratch, a.ring[a.pos:])
	copy(a.scratch[n:], a.ring[:a.pos])

	window.Blackman(a.scratch)
	a.coeff = a.fft.Coefficients(a.coeff, a.scratch)

	span := a.maxDb - a.minDb
	for k := 0; k < len(dst) && k < a.BinCount(); k++ {
		mag := cmplx.Abs(a.coeff[k]) / float64(a.size)
		db := math.Inf(-1)
		if mag > 0 {
			db = 20 * math.Log10(mag)
		}
		v := 255 * (db - a.minDb) / span
		switch {
		case v < 0 || math.IsNaN(v):
			dst[k] = 0
		case v > 255:
			dst[k] = 255
		default:
			dst[k] = uint8(v)
		}
	}
}

// Level is the peak of the current byte frequency data. bins is scratch
// space and is allocated when shorter than BinCount.
func (a *Analyser) Level(bins []uint8) uint8 {
	if len(bins) < a.BinCount() {
		bins = make([]uint8, a.BinCount())
	}
	a.ByteFrequencyData(bins)
	return peak(bins[:a.BinCount()])
}

func peak(bins []uint8) uint8 {
	var m uint8
	for _, b := range bins {
		if b > m {
			m = b
		}
	}
	return m
}
