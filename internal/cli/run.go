package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/capsync/internal/app"
	"github.com/roach88/capsync/internal/clock"
	"github.com/roach88/capsync/internal/engine"
	"github.com/roach88/capsync/internal/model"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// ClockSource and IDGenerator override the hardware clock and UUIDv7
	// session IDs (for testing).
	ClockSource clock.Source
	IDGenerator model.IDGenerator
}

// RunSummary is printed when the service stops.
type RunSummary struct {
	Recovered []string       `json:"recovered"`
	Metrics   engine.Metrics `json:"metrics"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the synchronization service",
		Long: `Start the capsync synchronization service.

Runs startup crash recovery against the session database, then starts the
correlation engine, the component registry and their maintenance loops.
The service runs until interrupted, then drains in-flight correlation and
closes the database.

Example:
  capsync run --db ./capsync.db
  capsync run --db /tmp/test.db --artifacts ./recordings --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(opts, cmd)
		},
	}

	return cmd
}

func runService(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	// The long-running service logs JSON.
	logger := slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: logLevel(opts.RootOptions, cfg),
	}))

	var appOpts []app.Option
	if opts.ClockSource != nil {
		appOpts = append(appOpts, app.WithClockSource(opts.ClockSource))
	}
	if opts.IDGenerator != nil {
		appOpts = append(appOpts, app.WithIDGenerator(opts.IDGenerator))
	}

	rt, err := app.New(cfg, logger, appOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start runtime", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := rt.Start(ctx)
	if err != nil {
		_ = rt.Shutdown(context.Background())
		return WrapExitError(ExitFailure, "runtime start failed", err)
	}

	formatter := newFormatter(opts.RootOptions, cmd)
	if report.CrashDetected {
		formatter.Notice("Recovered %d crashed session(s).", len(report.Recovered))
	}
	formatter.Notice("capsync started. Press Ctrl-C to stop.")

	<-ctx.Done()
	logger.Info("run: shutting down", "cause", context.Cause(ctx))

	summary := RunSummary{Recovered: report.Recovered, Metrics: rt.Engine.Metrics()}
	if err := rt.Shutdown(context.Background()); err != nil {
		return WrapExitError(ExitFailure, "shutdown incomplete", err)
	}

	return formatter.Success(summary)
}
