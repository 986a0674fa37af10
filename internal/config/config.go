package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config is the scribe runtime configuration.
type Config struct {
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`

	// Transcription backend.
	BackendURL     string        `mapstructure:"backend_url" validate:"required,url"`
	TranscribePath string        `mapstructure:"transcribe_path" validate:"required,startswith=/"`
	UploadField    string        `mapstructure:"upload_field" validate:"required"`
	UploadTimeout  time.Duration `mapstructure:"upload_timeout" validate:"gt=0"`

	// Capture format.
	SampleRate int `mapstructure:"sample_rate" validate:"min=8000,max=192000"`
	Channels   int `mapstructure:"channels" validate:"min=1,max=2"`

	// Volume meter.
	FFTSize       int           `mapstructure:"fft_size" validate:"min=32,max=32768"`
	FrameInterval time.Duration `mapstructure:"frame_interval" validate:"gt=0"`
	MinDecibels   float64       `mapstructure:"min_decibels"`
	MaxDecibels   float64       `mapstructure:"max_decibels" validate:"gtfield=MinDecibels"`
	LevelBuffer   int           `mapstructure:"level_buffer" validate:"min=1"`

	// Local state.
	SpoolDir  string `mapstructure:"spool_dir" validate:"required"`
	TokenFile string `mapstructure:"token_file" validate:"required"`

	// Spool janitor. Zero disables the corresponding limit.
	SpoolRetention time.Duration `mapstructure:"spool_retention" validate:"gte=0"`
	SpoolMaxFiles  int           `mapstructure:"spool_max_files" validate:"gte=0"`
	SpoolInterval  time.Duration `mapstructure:"spool_interval" validate:"gt=0"`

	// Control API.
	ListenAddr string `mapstructure:"listen_addr" validate:"required,hostname_port"`

	// InputFile replays a WAV file instead of opening the microphone.
	InputFile string `mapstructure:"input_file"`
}

// New returns a viper instance with defaults, SCRIBE_* environment binding
// and, when present, the config file at path (or the default location when
// path is empty).
func New(path string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("scribe")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefault(v)

	if path == "" {
		path = defaultConfigFile()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return v, nil
}

func setDefault(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("backend_url", "http://127.0.0.1:5000")
	v.SetDefault("transcribe_path", "/api/transcribe")
	v.SetDefault("upload_field", "file")
	v.SetDefault("upload_timeout", 2*time.Minute)

	v.SetDefault("sample_rate", 16000)
	v.SetDefault("channels", 1)

	v.SetDefault("fft_size", 256)
	v.SetDefault("frame_interval", 16*time.Millisecond)
	v.SetDefault("min_decibels", -100.0)
	v.SetDefault("max_decibels", -30.0)
	v.SetDefault("level_buffer", 64)

	v.SetDefault("spool_dir", filepath.Join(os.TempDir(), "scribe"))
	v.SetDefault("token_file", filepath.Join(configDir(), "tokens.json"))
	v.SetDefault("spool_retention", 24*time.Hour)
	v.SetDefault("spool_max_files", 200)
	v.SetDefault("spool_interval", 10*time.Minute)

	v.SetDefault("listen_addr", "127.0.0.1:8787")
	v.SetDefault("input_file", "")
}

// Load unmarshals and validates v, and makes sure the spool directory exists.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.FFTSize&(cfg.FFTSize-1) != 0 {
		return nil, errors.New("invalid config: fft_size must be a power of two")
	}
	cfg.SpoolDir = expandTilde(cfg.SpoolDir)
	cfg.TokenFile = expandTilde(cfg.TokenFile)
	if cfg.InputFile != "" {
		cfg.InputFile = expandTilde(cfg.InputFile)
	}
	if err := os.MkdirAll(cfg.SpoolDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating spool dir: %w", err)
	}
	return &cfg, nil
}

// TranscribeURL joins the backend base URL and the transcription path.
func (c *Config) TranscribeURL() string {
	return strings.TrimRight(c.BackendURL, "/") + c.TranscribePath
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "scribe")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "scribe")
	}
	return filepath.Join(".", ".scribe")
}

func defaultConfigFile() string {
	path := filepath.Join(configDir(), "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path
	}
	return ""
}

func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
