package recorder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyserSilenceIsZero(t *testing.T) {
	a := NewAnalyser(256, 1, -100, -30)
	assert.Equal(t, 128, a.BinCount())
	assert.Equal(t, uint8(0), a.Level(nil))

	a.Write(make([]byte, 512))
	assert.Equal(t, uint8(0), a.Level(nil))
}

func TestAnalyserFullScaleSineSaturates(t *testing.T) {
	a := NewAnalyser(256, 1, -100, -30)
	a.Write(tone(256, 32767))
	assert.GreaterOrEqual(t, a.Level(nil), uint8(250))

	bins := make([]uint8, a.BinCount())
	a.ByteFrequencyData(bins)
	// 1 kHz at 16 kHz / 256 points lands in bin 16
	assert.Equal(t, peak(bins), bins[16])
	assert.Less(t, bins[100], bins[16])

	scratch := make([]uint8, a.BinCount())
	assert.Equal(t, peak(bins), a.Level(scratch))
	assert.Equal(t, bins, scratch)
}

func TestAnalyserQuietToneIsInRange(t *testing.T) {
	a := NewAnalyser(256, 1, -100, -30)
	// about -80 dBFS after windowing
	a.Write(tone(256, 10))
	lvl := a.Level(nil)
	assert.Greater(t, lvl, uint8(0))
	assert.Less(t, lvl, uint8(255))
}

func TestAnalyserKeepsLatestWindow(t *testing.T) {
	a := NewAnalyser(256, 1, -100, -30)
	a.Write(tone(256, 32767))
	a.Write(make([]byte, 512))
	assert.Equal(t, uint8(0), a.Level(nil))

	a.Write(tone(256, 32767))
	a.Reset()
	assert.Equal(t, uint8(0), a.Level(nil))
}

func TestAnalyserStereoDownmix(t *testing.T) {
	mono := tone(256, 20000)
	stereo := make([]byte, 2*len(mono))
	for i := 0; i+1 < len(mono); i += 2 {
		copy(stereo[2*i:], mono[i:i+2])
		copy(stereo[2*i+2:], mono[i:i+2])
	}
	a := NewAnalyser(256, 2, -100, -30)
	a.Write(stereo)
	b := NewAnalyser(256, 1, -100, -30)
	b.Write(mono)
	assert.Equal(t, b.Level(nil), a.Level(nil))
}

func TestPeak(t *testing.T) {
	assert.Equal(t, uint8(0), peak(nil))
	assert.Equal(t, uint8(9), peak([]uint8{3, 9, 1}))
}
