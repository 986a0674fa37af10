// Package server is the local control API for a running scribe daemon.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"golang.org/x/sync/errgroup"

	"github.com/private-scribe/scribe/internal/auth"
	"github.com/private-scribe/scribe/internal/dictation"
	scerrors "github.com/private-scribe/scribe/internal/errors"
	"github.com/private-scribe/scribe/internal/handoff"
	"github.com/private-scribe/scribe/internal/logging"
	"github.com/private-scribe/scribe/internal/mcp"
)

// Server wires the dictation service, the recording library and the token
// store to HTTP.
type Server struct {
	svc    *dictation.Service
	lib    *handoff.Library
	tokens *auth.Store
	mcp    *sdk.Server
	engine *gin.Engine
}

func New(svc *dictation.Service, lib *handoff.Library, tokens *auth.Store, version string) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		svc:    svc,
		lib:    lib,
		tokens: tokens,
		mcp:    mcp.NewServer(svc, version),
		engine: gin.New(),
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.engine.NoRoute(func(c *gin.Context) {
		renderError(c, scerrors.NewNotFound("route", c.Request.URL.Path))
	})
	s.routes()
	return s
}

func (s *Server) routes() {
	g := s.engine
	g.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	session := g.Group("/api/session")
	session.GET("", s.status)
	session.POST("/start", s.start)
	session.POST("/pause", s.pause)
	session.POST("/resume", s.resume)
	session.POST("/stop", s.stop)
	session.GET("/levels", s.levels)

	rec := g.Group("/api/recordings")
	rec.GET("", s.listRecordings)
	rec.GET("/:id", s.playRecording)
	rec.GET("/:id/transcript", s.transcript)
	rec.DELETE("/:id", s.deleteRecording)

	g.GET("/api/auth", s.whoami)
	g.GET("/mcp/ws", gin.WrapH(mcp.Handler(s.mcp)))
}

// Handler exposes the engine, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Infow("server: listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logging.Infow("server: shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debugw("server: request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// renderError writes err as {"error": {code, message, details}} with the
// status carried by the coded error.
func renderError(c *gin.Context, err error) {
	se, ok := scerrors.As(err)
	if !ok {
		se = scerrors.NewInternal(err)
	}
	if se.Status >= http.StatusInternalServerError {
		logging.Warnw("server: request failed", "path", c.Request.URL.Path, "err", err)
	}
	body := gin.H{"code": se.Code, "message": se.Message}
	if len(se.Details) > 0 {
		body["details"] = se.Details
	}
	c.AbortWithStatusJSON(scerrors.StatusOf(se), gin.H{"error": body})
}
