package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/capsync/internal/model"
	"github.com/roach88/capsync/internal/store"
)

// SessionsOptions holds flags for the sessions command.
type SessionsOptions struct {
	*RootOptions
	Active bool
	Latest bool
	Limit  int
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recording sessions",
		Long: `List persisted recording sessions, newest first.

Examples:
  capsync sessions
  capsync sessions --active
  capsync sessions --latest --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Active, "active", false, "only sessions in STARTING or RECORDING")
	cmd.Flags().BoolVar(&opts.Latest, "latest", false, "only the most recently created session")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum sessions to list")
	cmd.MarkFlagsMutuallyExclusive("active", "latest")

	return cmd
}

func runSessions(opts *SessionsOptions, cmd *cobra.Command) error {
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

	ctx := cmd.Context()
	var sessions []model.SessionState
	switch {
	case opts.Active:
		sessions, err = st.ActiveSessions(ctx)
	case opts.Latest:
		var latest model.SessionState
		latest, err = st.LatestSession(ctx)
		if errors.Is(err, store.ErrNotFound) {
			err = nil
		} else if err == nil {
			sessions = []model.SessionState{latest}
		}
	default:
		sessions, err = st.ListSessions(ctx, opts.Limit)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "failed to query sessions", err)
	}
	if sessions == nil {
		sessions = []model.SessionState{}
	}

	return newFormatter(opts.RootOptions, cmd).Success(sessions)
}
