package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/capsync/internal/recovery"
	"github.com/roach88/capsync/internal/store"
)

// RecoverOptions holds flags for the recover command.
type RecoverOptions struct {
	*RootOptions
	Days int // retention; 0 keeps every session
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecoverOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Run crash recovery once",
		Long: `Run the startup crash-recovery pass without starting the service.

Sessions left STARTING or RECORDING are marked FAILED, undersized and
temporary artifacts are removed, and sessions older than the retention
period are pruned.

Exit codes:
  0 - Recovery completed (whether or not a crash was found)
  1 - One or more sessions could not be recovered
  2 - Command error (database could not be opened, etc.)`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Days, "days", -1, "retention in days (default $CAPSYNC_RETENTION_DAYS, 0 disables)")

	return cmd
}

func runRecover(opts *RecoverOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	logger := newLogger(opts.RootOptions, cfg, cmd.ErrOrStderr())

	st, err := store.Open(cfg.DBPath, store.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	days := cfg.RetentionDays
	if opts.Days >= 0 {
		days = opts.Days
	}

	coord := recovery.New(st, cfg.Recovery(), recovery.WithLogger(logger))
	report, err := coord.RunStartup(cmd.Context(), days)
	if err != nil {
		return WrapExitError(ExitFailure, "retention cleanup failed", err)
	}

	if err := newFormatter(opts.RootOptions, cmd).Success(report); err != nil {
		return err
	}

	if len(report.Failed) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d session(s) could not be recovered", len(report.Failed)))
	}
	return nil
}
