package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hotfold/hotfold/internal/config"
	"github.com/hotfold/hotfold/internal/counter"
	"github.com/hotfold/hotfold/internal/metrics"
	"github.com/hotfold/hotfold/internal/pipeline"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Watch hotfolders and process documents",
		Long: `Start the pipeline: watch every configured hotfolder, process stable
files and deliver them to their destinations.

Process-level settings (data directory, log level, metrics address, SMTP
relay) come from the environment; see the HOTFOLD_* variables.

Example:
  hotfold run --config /etc/hotfold/hotfold.yaml
  HOTFOLD_METRICS_ADDR=:9090 hotfold run -c hotfold.yaml --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(rootOpts, cmd)
		},
	}
	return cmd
}

func runPipeline(opts *RootOptions, cmd *cobra.Command) error {
	settings, err := config.LoadSettings()
	if err != nil {
		return WrapExitError(ExitCommandError, "bad environment", err)
	}

	log := newLogger(settings, opts.Verbose)
	slog.SetDefault(log)

	log.Info("loading configuration", "path", opts.Config)
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load configuration", err)
	}

	log.Info("opening counter store", "path", settings.CounterDB)
	counters, err := counter.Open(settings.CounterDB)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open counter store", err)
	}
	defer func() {
		if closeErr := counters.Close(); closeErr != nil {
			log.Error("error closing counter store", "error", closeErr)
		}
	}()

	met := metrics.New()
	mgr, err := pipeline.NewManager(log, settings, cfg, counters, met)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build pipeline", err)
	}
	log.Info("pipeline ready", "hotfolders", mgr.Folders())

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	if settings.MetricsAddr != "" {
		g.Go(func() error {
			return met.Serve(ctx, settings.MetricsAddr, log)
		})
	}
	g.Go(func() error {
		return mgr.Run(ctx)
	})

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return WrapExitError(ExitFailure, "pipeline stopped", err)
	}
	log.Info("shutdown complete")
	return nil
}

// newLogger builds the process logger from settings, with --verbose forcing
// debug level.
func newLogger(settings config.Settings, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch settings.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if settings.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}
