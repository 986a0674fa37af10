package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/private-scribe/scribe/internal/logging"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	app := newCLIApp()
	err := app.Run(os.Args)
	_ = logging.Sync()
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	if ec, ok := err.(cli.ExitCoder); ok {
		os.Exit(ec.ExitCode())
	}
	os.Exit(1)
}
