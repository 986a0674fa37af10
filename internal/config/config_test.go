package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Setenv("SCRIBE_SPOOL_DIR", filepath.Join(dir, "spool"))
	return dir
}

func TestLoadDefaults(t *testing.T) {
	dir := isolate(t)

	v, err := New("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "http://127.0.0.1:5000/api/transcribe", cfg.TranscribeURL())
	assert.Equal(t, "file", cfg.UploadField)
	assert.Equal(t, 16000, cfg.SampleRate)
	assert.Equal(t, 1, cfg.Channels)
	assert.Equal(t, 256, cfg.FFTSize)
	assert.Equal(t, 16*time.Millisecond, cfg.FrameInterval)
	assert.Equal(t, -100.0, cfg.MinDecibels)
	assert.Equal(t, -30.0, cfg.MaxDecibels)
	assert.Equal(t, filepath.Join(dir, "scribe", "tokens.json"), cfg.TokenFile)
	assert.Equal(t, 24*time.Hour, cfg.SpoolRetention)
	assert.Equal(t, 200, cfg.SpoolMaxFiles)

	info, err := os.Stat(cfg.SpoolDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("SCRIBE_BACKEND_URL", "https://scribe.example.com/")
	t.Setenv("SCRIBE_FRAME_INTERVAL", "40ms")
	t.Setenv("SCRIBE_LOG_LEVEL", "debug")

	v, err := New("")
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, "https://scribe.example.com/api/transcribe", cfg.TranscribeURL())
	assert.Equal(t, 40*time.Millisecond, cfg.FrameInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "scribe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sample_rate: 48000\nfft_size: 512\nlisten_addr: 0.0.0.0:9000\n"), 0o644))

	v, err := New(path)
	require.NoError(t, err)
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 48000, cfg.SampleRate)
	assert.Equal(t, 512, cfg.FFTSize)
	assert.Equal(t, "0.0.0.0:9000", cfg.ListenAddr)
}

func TestMissingExplicitConfigFile(t *testing.T) {
	dir := isolate(t)
	_, err := New(filepath.Join(dir, "nope.yaml"))
	require.Error(t, err)
}

func TestValidationRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"SCRIBE_LOG_LEVEL":    "chatty",
		"SCRIBE_CHANNELS":     "6",
		"SCRIBE_FFT_SIZE":     "300",
		"SCRIBE_MAX_DECIBELS": "-120",
		"SCRIBE_BACKEND_URL":  "not a url",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			isolate(t)
			t.Setenv(key, val)
			v, err := New("")
			require.NoError(t, err)
			_, err = Load(v)
			require.Error(t, err)
		})
	}
}
