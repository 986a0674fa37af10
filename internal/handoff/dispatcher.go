// Package handoff makes finished recordings available for playback and
// forwards them to the transcription backend.
package handoff

import (
	"context"
	"errors"
	"fmt"
	"sync"

	scerrors "github.com/private-scribe/scribe/internal/errors"
	"github.com/private-scribe/scribe/internal/logging"
	"github.com/private-scribe/scribe/internal/recorder"
	"github.com/private-scribe/scribe/internal/spool"
	"github.com/private-scribe/scribe/internal/transcribe"
)

// ErrNoSpeech is the result of an upload whose transcript came back empty.
var ErrNoSpeech = errors.New("unable to identify speech")

// Transcriber is the remote collaborator.
type Transcriber interface {
	Transcribe(ctx context.Context, a *recorder.Artifact) (*transcribe.Transcript, error)
}

// Result is the outcome of one upload.
type Result struct {
	ArtifactID string
	Transcript *transcribe.Transcript
	Err        error
}

// Dispatcher hands artifacts to the library and uploads them in the
// background. Upload outcomes go to OnResult; the dispatcher itself never
// retries.
type Dispatcher struct {
	Library     *Library
	Transcriber Transcriber
	OnResult    func(Result)

	wg sync.WaitGroup
}

func NewDispatcher(lib *Library, tr Transcriber, onResult func(Result)) *Dispatcher {
	return &Dispatcher{Library: lib, Transcriber: tr, OnResult: onResult}
}

// Dispatch registers a for playback and starts its upload. It returns once
// the artifact is registered. With no Transcriber the upload is skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, a *recorder.Artifact) error {
	if a == nil {
		return scerrors.NewInvalidRequest("no artifact to dispatch")
	}
	if d.Transcriber == nil {
		d.Library.add(a, spool.StatusSkipped)
		logging.Infow("handoff: recording kept locally, upload disabled", "artifact_id", a.ID)
		return nil
	}
	d.Library.add(a, spool.StatusPending)

	// the upload outlives the caller's request
	uctx := logging.WithFields(context.WithoutCancel(ctx), "artifact_id", a.ID, "session.id", a.SessionID)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.upload(uctx, a)
	}()
	return nil
}

func (d *Dispatcher) upload(ctx context.Context, a *recorder.Artifact) {
	tr, err := d.Transcriber.Transcribe(ctx, a)
	res := Result{ArtifactID: a.ID, Transcript: tr, Err: err}
	status := spool.StatusDone
	switch {
	case err != nil:
		status = spool.StatusFailed
		logging.WarnwCtx(ctx, "handoff: upload failed", "err", err)
	case tr == nil || tr.Text == "":
		status = spool.StatusNoSpeech
		res.Err = ErrNoSpeech
		logging.InfowCtx(ctx, "handoff: no speech detected")
	default:
		logging.InfowCtx(ctx, "handoff: transcript ready", "chars", len(tr.Text))
	}
	d.Library.settle(res, status)
	d.deliver(res)
}

// deliver passes r to OnResult. A panicking consumer is logged and ignored.
func (d *Dispatcher) deliver(r Result) {
	if d.OnResult == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			logging.Errorw("handoff: result consumer panicked", "artifact_id", r.ArtifactID, "panic", fmt.Sprint(rec))
		}
	}()
	d.OnResult(r)
}

// Close waits for in-flight uploads.
func (d *Dispatcher) Close() error {
	d.wg.Wait()
	return nil
}
