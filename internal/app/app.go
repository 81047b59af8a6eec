package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/tidemark/shoregrid/internal/config"
	"github.com/tidemark/shoregrid/internal/ctxlog"
	"github.com/tidemark/shoregrid/internal/hclconf"
	"github.com/tidemark/shoregrid/internal/ops"
	"github.com/tidemark/shoregrid/internal/pipeline"
	"github.com/tidemark/shoregrid/internal/retry"
	"github.com/tidemark/shoregrid/internal/tide"
)

// Config holds all the necessary settings for an App instance to run.
type Config struct {
	// RunPath is the run file (or directory of .hcl files) to execute.
	RunPath   string
	LogFormat string
	LogLevel  string
	// Workers overrides the run file's worker count when positive.
	Workers int
}

// App encapsulates the application's dependencies, configuration, and
// lifecycle.
type App struct {
	outW   io.Writer
	logger *slog.Logger
	config *config.Model
	pipe   *pipeline.Pipeline
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger. Failures to
// load or validate configuration are fatal startup errors and panic; the
// entrypoint recovers them into a clean exit.
func NewApp(outW io.Writer, appConfig *Config, loader *hclconf.Loader) *App {
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, outW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	model, err := loader.Load(ctx, appConfig.RunPath)
	if err != nil {
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	if appConfig.Workers > 0 {
		model.Execution.Workers = appConfig.Workers
	}
	logger.Debug("Configuration loaded and translated into unified model.")

	var tides pipeline.TideFetcher
	if model.TideAPI.BaseURL != "" {
		client, err := tide.New(model.TideAPI, retry.DefaultConfig())
		if err != nil {
			panic(fmt.Errorf("failed to configure tide service client: %w", err))
		}
		tides = client
	} else {
		logger.Warn("No tide service configured; runs relying on persisted tide series only.")
	}

	pipe, err := pipeline.New(model, tides, &ops.FileExtractor{SourceDir: model.SourceDir})
	if err != nil {
		// A graph or registry inconsistency is a programmer error.
		panic(err)
	}
	logger.Debug("Pipeline assembled.", "stages", pipe.Graph().Len())

	return &App{
		outW:   outW,
		logger: logger,
		config: model,
		pipe:   pipe,
	}
}

// Model returns the loaded configuration model. This is primarily for
// testing.
func (a *App) Model() *config.Model {
	return a.config
}
