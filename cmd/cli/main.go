package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/tidemark/shoregrid/internal/app"
	"github.com/tidemark/shoregrid/internal/cli"
	"github.com/tidemark/shoregrid/internal/hclconf"
)

// main is the entrypoint for the shoregrid application.
func main() {
	// Use a minimal logger until the full one is configured.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	if err := run(os.Stdout, os.Args[1:]); err != nil {
		if exitErr, ok := err.(*cli.ExitError); ok {
			fmt.Fprintln(os.Stderr, exitErr.Message)
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run encapsulates the main application logic for easier testing and error
// handling.
func run(outW io.Writer, args []string) (err error) {
	appConfig, shouldExit, parseErr := cli.Parse(args, outW)
	if parseErr != nil {
		return parseErr
	}
	if shouldExit {
		return nil
	}

	// The app panics on critical config errors; recover here so the user
	// gets a clean exit message instead of a stack trace.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("application startup panicked: %v", r)
		}
	}()

	loader := hclconf.NewLoader()
	shoregridApp := app.NewApp(outW, appConfig, loader)

	return shoregridApp.Run(context.Background())
}
