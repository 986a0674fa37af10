package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/private-scribe/scribe/internal/auth"
	"github.com/private-scribe/scribe/internal/capture"
	"github.com/private-scribe/scribe/internal/config"
	scerrors "github.com/private-scribe/scribe/internal/errors"
	"github.com/private-scribe/scribe/internal/handoff"
	"github.com/private-scribe/scribe/internal/logging"
	"github.com/private-scribe/scribe/internal/output"
	"github.com/private-scribe/scribe/internal/recorder"
	"github.com/private-scribe/scribe/internal/spool"
	"github.com/private-scribe/scribe/internal/transcribe"
)

// env is the state shared by every command once configuration has been
// loaded.
type env struct {
	cfg *config.Config
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp() *cli.App {
	rt := &env{}
	app := &cli.App{
		Name:    "scribe",
		Usage:   "Dictation recorder with local playback and remote transcription",
		Version: Version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, EnvVars: []string{"SCRIBE_CONFIG"}, Usage: "Config file (yaml, json or toml)"},
			&cli.StringFlag{Name: "log-level", Usage: "Override log_level"},
		},
		Before: func(c *cli.Context) error {
			v, err := config.New(c.String("config"))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			if lvl := c.String("log-level"); lvl != "" {
				v.Set("log_level", lvl)
			}
			cfg, err := config.Load(v)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			logging.Init(cfg.LogLevel)
			rt.cfg = cfg
			return nil
		},
		Commands: []*cli.Command{
			recordCmd(rt),
			serveCmd(rt),
			ctlCmd(rt),
			recordingsCmd(rt),
			loginCmd(rt),
			logoutCmd(rt),
			whoamiCmd(rt),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

func (rt *env) tokens() *auth.Store {
	return auth.NewStore(rt.cfg.TokenFile)
}

// source picks the capture device: a WAV replay when input is set, the
// default microphone otherwise.
func (rt *env) source(input string) (capture.Source, string) {
	if input == "" {
		input = rt.cfg.InputFile
	}
	if input != "" {
		return capture.NewFileSource(input), input
	}
	return capture.NewMalgoSource(), "default microphone"
}

func (rt *env) recorder(src capture.Source, dir *spool.Dir) *recorder.Recorder {
	return &recorder.Recorder{
		Source:        src,
		Format:        capture.Format{SampleRate: rt.cfg.SampleRate, Channels: rt.cfg.Channels},
		Spool:         dir,
		FFTSize:       rt.cfg.FFTSize,
		FrameInterval: rt.cfg.FrameInterval,
		MinDecibels:   rt.cfg.MinDecibels,
		MaxDecibels:   rt.cfg.MaxDecibels,
		LevelBuffer:   rt.cfg.LevelBuffer,
	}
}

// transcriber returns nil when uploads are disabled, which the dispatcher
// treats as keep-locally.
func (rt *env) transcriber(noUpload bool) handoff.Transcriber {
	if noUpload {
		return nil
	}
	return transcribe.NewClient(rt.cfg.TranscribeURL(), rt.cfg.UploadField, rt.cfg.UploadTimeout, rt.tokens())
}

// recordingsCmd lists the spooled recordings and their upload outcome.
func recordingsCmd(rt *env) *cli.Command {
	return &cli.Command{
		Name:  "recordings",
		Usage: "List spooled recordings",
		Action: func(c *cli.Context) error {
			lib := handoff.NewLibrary(spool.New(rt.cfg.SpoolDir))
			if _, err := lib.Load(); err != nil {
				return outputError(scerrors.NewInternal(err))
			}
			type row struct {
				ID         string `json:"id"`
				Path       string `json:"path"`
				DurationMs int64  `json:"duration_ms"`
				Status     string `json:"upload_status"`
				Transcript string `json:"transcript,omitempty"`
			}
			rows := []row{}
			for _, e := range lib.List() {
				r := row{ID: e.Artifact.ID, Path: e.Artifact.Path, DurationMs: e.Artifact.Duration.Milliseconds(), Status: e.Status}
				if e.Transcript != nil {
					r.Transcript = e.Transcript.Text
				}
				rows = append(rows, r)
			}
			return outputJSON(c.App.Writer, rows)
		},
	}
}

func loginCmd(rt *env) *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "Store backend credentials",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "access-token", Required: true, Usage: "Bearer token for the transcription backend"},
			&cli.StringFlag{Name: "refresh-token", Usage: "Refresh token, stored alongside"},
		},
		Action: func(c *cli.Context) error {
			store := rt.tokens()
			if err := store.Login(c.String("access-token"), c.String("refresh-token")); err != nil {
				return outputError(err)
			}
			st, err := store.Status()
			if err != nil {
				return outputError(scerrors.NewInternal(err))
			}
			output.NewFormatter(c.App.Writer).AuthStatus(st)
			return nil
		},
	}
}

func logoutCmd(rt *env) *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "Forget stored credentials",
		Action: func(c *cli.Context) error {
			if err := rt.tokens().Logout(); err != nil {
				return outputError(scerrors.NewInternal(err))
			}
			output.NewFormatter(c.App.Writer).Success("Logged out")
			return nil
		},
	}
}

func whoamiCmd(rt *env) *cli.Command {
	return &cli.Command{
		Name:  "whoami",
		Usage: "Show the stored credentials",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print JSON"},
		},
		Action: func(c *cli.Context) error {
			st, err := rt.tokens().Status()
			if err != nil {
				return outputError(scerrors.NewInternal(err))
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, st)
			}
			output.NewFormatter(c.App.Writer).AuthStatus(st)
			return nil
		},
	}
}

// outputJSON writes v as indented JSON.
func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if se, ok := scerrors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", se.Code, se.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}
