package server

import (
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/private-scribe/scribe/internal/dictation"
	scerrors "github.com/private-scribe/scribe/internal/errors"
	"github.com/private-scribe/scribe/internal/handoff"
)

// recordingView is the JSON shape of a library entry.
type recordingView struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"session_id"`
	MIMEType   string    `json:"mime_type"`
	DurationMs int64     `json:"duration_ms"`
	Chunks     int       `json:"chunks"`
	CreatedAt  time.Time `json:"created_at"`
	Status     string    `json:"upload_status"`
	Transcript string    `json:"transcript,omitempty"`
	Error      string    `json:"error,omitempty"`
}

func viewOf(e handoff.Entry) recordingView {
	v := recordingView{
		ID:         e.Artifact.ID,
		SessionID:  e.Artifact.SessionID,
		MIMEType:   e.Artifact.MIMEType,
		DurationMs: e.Artifact.Duration.Milliseconds(),
		Chunks:     e.Artifact.Chunks,
		CreatedAt:  e.Artifact.CreatedAt,
		Status:     e.Status,
	}
	if e.Transcript != nil {
		v.Transcript = e.Transcript.Text
	}
	if e.Err != nil {
		v.Error = e.Err.Error()
	}
	return v
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Status())
}

func (s *Server) start(c *gin.Context) {
	s.respond(c, func() (dictation.Status, error) { return s.svc.Start(c.Request.Context()) })
}

func (s *Server) pause(c *gin.Context) { s.respond(c, s.svc.Pause) }

func (s *Server) resume(c *gin.Context) { s.respond(c, s.svc.Resume) }

func (s *Server) respond(c *gin.Context, fn func() (dictation.Status, error)) {
	st, err := fn()
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) stop(c *gin.Context) {
	a, err := s.svc.Stop(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	e, err := s.lib.Get(a.ID)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":   s.svc.Status(),
		"recording": viewOf(e),
	})
}

func (s *Server) listRecordings(c *gin.Context) {
	entries := s.lib.List()
	out := make([]recordingView, 0, len(entries))
	for _, e := range entries {
		out = append(out, viewOf(e))
	}
	c.JSON(http.StatusOK, gin.H{"recordings": out})
}

// playRecording serves the WAV for local playback.
func (s *Server) playRecording(c *gin.Context) {
	e, err := s.lib.Get(c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	a := e.Artifact
	c.Header("Content-Disposition", "inline; filename="+a.ID+".wav")
	if a.Path != "" {
		if _, err := os.Stat(a.Path); err == nil {
			c.Header("Content-Type", a.MIMEType)
			c.File(a.Path)
			return
		}
	}
	if len(a.Data) > 0 {
		c.Data(http.StatusOK, a.MIMEType, a.Data)
		return
	}
	renderError(c, scerrors.NewNotFound("recording file", a.ID))
}

func (s *Server) transcript(c *gin.Context) {
	e, err := s.lib.Get(c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	v := viewOf(e)
	c.JSON(http.StatusOK, gin.H{
		"id":             v.ID,
		"upload_status":  v.Status,
		"raw_transcript": v.Transcript,
		"error":          v.Error,
	})
}

func (s *Server) deleteRecording(c *gin.Context) {
	if err := s.lib.Remove(c.Param("id")); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) whoami(c *gin.Context) {
	st, err := s.tokens.Status()
	if err != nil {
		renderError(c, scerrors.NewInternal(err))
		return
	}
	c.JSON(http.StatusOK, st)
}
