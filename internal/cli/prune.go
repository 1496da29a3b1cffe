package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/capsync/internal/recovery"
	"github.com/roach88/capsync/internal/store"
)

// PruneOptions holds flags for the prune command.
type PruneOptions struct {
	*RootOptions
	Days int
}

// PruneResult reports what prune removed.
type PruneResult struct {
	Days            int   `json:"days"`
	SessionsDeleted int64 `json:"sessions_deleted"`
	HistoryDeleted  int64 `json:"history_deleted"`
}

// NewPruneCommand creates the prune command.
func NewPruneCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PruneOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete old sessions and connection history",
		Long: `Delete completed and failed sessions, and connection-history rows, older
than the given number of days. Active sessions are never pruned.

Example:
  capsync prune --days 7`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPrune(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Days, "days", 0, "retention in days (default $CAPSYNC_RETENTION_DAYS)")

	return cmd
}

func runPrune(opts *PruneOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	days := opts.Days
	if days == 0 {
		days = cfg.RetentionDays
	}
	if days <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--days must be positive, got %d", days))
	}

	logger := newLogger(opts.RootOptions, cfg, cmd.ErrOrStderr())
	st, err := store.Open(cfg.DBPath, store.WithLogger(logger))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	result := PruneResult{Days: days}

	coord := recovery.New(st, cfg.Recovery(), recovery.WithLogger(logger))
	if result.SessionsDeleted, err = coord.CleanupOldSessions(ctx, days); err != nil {
		return WrapExitError(ExitFailure, "failed to prune sessions", err)
	}
	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
	if result.HistoryDeleted, err = st.PruneConnectionHistory(ctx, cutoff); err != nil {
		return WrapExitError(ExitFailure, "failed to prune connection history", err)
	}

	return newFormatter(opts.RootOptions, cmd).Success(result)
}
