package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/private-scribe/scribe/internal/dictation"
	scerrors "github.com/private-scribe/scribe/internal/errors"
	"github.com/private-scribe/scribe/internal/handoff"
	"github.com/private-scribe/scribe/internal/logging"
	"github.com/private-scribe/scribe/internal/mcp"
	"github.com/private-scribe/scribe/internal/server"
	"github.com/private-scribe/scribe/internal/spool"
)

func serveCmd(rt *env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the control API (HTTP, level websocket and MCP tools)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (defaults to listen_addr)"},
			&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "Replay a WAV file instead of the microphone"},
			&cli.BoolFlag{Name: "no-upload", Usage: "Keep recordings locally without transcribing them"},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			addr := c.String("addr")
			if addr == "" {
				addr = rt.cfg.ListenAddr
			}
			if err := rt.serve(ctx, addr, c.String("input"), c.Bool("no-upload")); err != nil {
				return outputError(err)
			}
			return nil
		},
	}
}

// serve runs the daemon until ctx is cancelled. An active recording is
// stopped and handed off before it returns.
func (rt *env) serve(ctx context.Context, addr, input string, noUpload bool) error {
	dir := spool.New(rt.cfg.SpoolDir)
	// the record command may share the spool with a running daemon
	dir.Locking = true
	lib := handoff.NewLibrary(dir)
	if n, err := lib.Load(); err != nil {
		logging.Warnw("scribe: loading spooled recordings failed", "dir", dir.Path, "err", err)
	} else {
		logging.Infow("scribe: spooled recordings loaded", "count", n)
	}

	src, name := rt.source(input)
	svc := dictation.NewService(rt.recorder(src, dir), handoff.NewDispatcher(lib, rt.transcriber(noUpload), nil))

	var wg sync.WaitGroup
	wg.Add(1)
	dir.StartJanitor(ctx, &wg, rt.cfg.SpoolRetention, rt.cfg.SpoolInterval, rt.cfg.SpoolMaxFiles, lib.Pending, lib.Forget)

	logging.Infow("scribe: serving", "addr", addr, "source", name, "version", Version)
	err := server.New(svc, lib, rt.tokens(), Version).Run(ctx, addr)

	if cerr := svc.Close(); cerr != nil {
		logging.Warnw("scribe: closing dictation service", "err", cerr)
	}
	wg.Wait()
	logging.Infow("scribe: stopped")
	return err
}

// ctlTools maps short command names to MCP tool names.
var ctlTools = map[string]string{
	"start":  mcp.ToolStart,
	"pause":  mcp.ToolPause,
	"resume": mcp.ToolResume,
	"stop":   mcp.ToolStop,
	"status": mcp.ToolStatus,
}

func ctlCmd(rt *env) *cli.Command {
	names := make([]string, 0, len(ctlTools))
	for n := range ctlTools {
		names = append(names, n)
	}
	sort.Strings(names)
	return &cli.Command{
		Name:      "ctl",
		Usage:     "Drive a running daemon over its MCP endpoint",
		ArgsUsage: "<" + strings.Join(names, "|") + ">",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Daemon address (defaults to listen_addr)"},
			&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second, Usage: "Give up after this long"},
		},
		Action: func(c *cli.Context) error {
			tool, ok := ctlTools[c.Args().First()]
			if !ok {
				return outputError(scerrors.NewInvalidRequest(fmt.Sprintf("expected one of %s", strings.Join(names, ", "))))
			}
			addr := c.String("addr")
			if addr == "" {
				addr = rt.cfg.ListenAddr
			}
			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			client := mcp.NewClientWrapper("scribe-ctl", Version)
			if err := client.ConnectWebSocket(ctx, "ws://"+addr+"/mcp/ws"); err != nil {
				return outputError(fmt.Errorf("connecting to %s: %w", addr, err))
			}
			defer client.Close()

			var out map[string]any
			if err := client.Call(ctx, tool, &out); err != nil {
				return outputError(err)
			}
			return outputJSON(c.App.Writer, out)
		},
	}
}
