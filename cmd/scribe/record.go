package main

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/private-scribe/scribe/internal/dictation"
	"github.com/private-scribe/scribe/internal/handoff"
	"github.com/private-scribe/scribe/internal/logging"
	"github.com/private-scribe/scribe/internal/output"
	"github.com/private-scribe/scribe/internal/recorder"
	"github.com/private-scribe/scribe/internal/spool"
)

// recordSummary is printed with --json once the recording is handed off.
type recordSummary struct {
	ArtifactID   string `json:"artifact_id"`
	SessionID    string `json:"session_id"`
	Path         string `json:"path"`
	MIMEType     string `json:"mime_type"`
	DurationMs   int64  `json:"duration_ms"`
	Bytes        int    `json:"bytes"`
	UploadStatus string `json:"upload_status"`
	Transcript   string `json:"transcript,omitempty"`
	Error        string `json:"error,omitempty"`
}

func recordCmd(rt *env) *cli.Command {
	return &cli.Command{
		Name:  "record",
		Usage: "Record a dictation; type p, r or s followed by Enter to pause, resume or stop",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "Replay a WAV file instead of the microphone"},
			&cli.BoolFlag{Name: "no-upload", Usage: "Keep the recording locally without transcribing it"},
			&cli.DurationFlag{Name: "max-duration", Usage: "Stop automatically after this long (0 = until told)"},
			&cli.BoolFlag{Name: "json", Usage: "Print a JSON summary instead of progress output"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return rt.record(ctx, c.App.Reader, c.App.Writer, recordOptions{
				input:       c.String("input"),
				noUpload:    c.Bool("no-upload"),
				maxDuration: c.Duration("max-duration"),
				json:        c.Bool("json"),
			})
		},
	}
}

type recordOptions struct {
	input       string
	noUpload    bool
	maxDuration time.Duration
	json        bool
}

func (rt *env) record(ctx context.Context, in io.Reader, out io.Writer, opts recordOptions) error {
	progress := out
	if opts.json {
		progress = io.Discard
	}
	f := output.NewFormatter(progress)

	src, name := rt.source(opts.input)
	dir := spool.New(rt.cfg.SpoolDir)
	lib := handoff.NewLibrary(dir)
	results := make(chan handoff.Result, 1)
	tr := rt.transcriber(opts.noUpload)
	d := handoff.NewDispatcher(lib, tr, func(r handoff.Result) {
		select {
		case results <- r:
		default:
		}
	})
	rec := rt.recorder(src, dir)
	svc := dictation.NewService(rec, d)
	defer svc.Close()

	levels, unsubscribe := svc.Levels(rt.cfg.LevelBuffer)
	defer unsubscribe()

	if _, err := svc.Start(ctx); err != nil {
		return outputError(err)
	}
	f.RecordingStarted(name)

	commands := make(chan string)
	go func() {
		defer close(commands)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case commands <- strings.ToLower(strings.TrimSpace(scanner.Text())):
			case <-ctx.Done():
				return
			}
		}
	}()

	var deadline <-chan time.Time
	if opts.maxDuration > 0 {
		timer := time.NewTimer(opts.maxDuration)
		defer timer.Stop()
		deadline = timer.C
	}
	elapsed := func() time.Duration {
		return rec.Format.Duration(svc.Status().Stats.Bytes)
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-deadline:
			break loop
		case v := <-levels:
			f.Meter(recorder.Recording.String(), elapsed(), v.Level)
		case cmd, ok := <-commands:
			if !ok {
				break loop
			}
			switch cmd {
			case "p", "pause":
				if _, err := svc.Pause(); err != nil {
					f.Warning(err.Error())
					continue
				}
				f.Paused(elapsed())
			case "r", "resume":
				if _, err := svc.Resume(); err != nil {
					f.Warning(err.Error())
					continue
				}
				f.Resumed()
			case "s", "stop", "q":
				break loop
			case "":
			default:
				f.Warning("unknown command " + cmd)
			}
		}
	}

	a, err := svc.Stop(context.WithoutCancel(ctx))
	if err != nil {
		return outputError(err)
	}
	f.RecordingStopped(a.Duration, a.Path)
	summary := recordSummary{
		ArtifactID: a.ID,
		SessionID:  a.SessionID,
		Path:       a.Path,
		MIMEType:   a.MIMEType,
		DurationMs: a.Duration.Milliseconds(),
		Bytes:      len(a.Data),
	}

	if tr == nil {
		summary.UploadStatus = spool.StatusSkipped
	} else {
		f.Transcribing()
		// bounded by upload_timeout; the dispatcher always reports back
		r := <-results
		summary.UploadStatus = spool.StatusDone
		switch {
		case errors.Is(r.Err, handoff.ErrNoSpeech):
			summary.UploadStatus = spool.StatusNoSpeech
			f.NoSpeech()
		case r.Err != nil:
			summary.UploadStatus = spool.StatusFailed
			summary.Error = r.Err.Error()
			logging.Warnw("scribe: transcription failed", "artifact_id", a.ID, "err", r.Err)
			if !opts.json {
				f.Info("the recording is kept at " + a.Path)
				return outputError(r.Err)
			}
		default:
			summary.Transcript = r.Transcript.Text
			f.Transcript(r.Transcript.Text)
		}
	}
	if opts.json {
		return outputJSON(out, summary)
	}
	return nil
}
