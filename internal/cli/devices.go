package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/capsync/internal/model"
	"github.com/roach88/capsync/internal/store"
)

// DevicesOptions holds flags for the devices command.
type DevicesOptions struct {
	*RootOptions
	History string // device address whose connection history to show
	Limit   int
}

// NewDevicesCommand creates the devices command.
func NewDevicesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DevicesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List sensor device snapshots",
		Long: `List the persisted sensor device snapshots in preferred order, or the
connection history of one device.

Examples:
  capsync devices
  capsync devices --history 00:06:66:AA:BB:CC --limit 5`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevices(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.History, "history", "", "show connection history for this device address")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum history rows")

	return cmd
}

func runDevices(opts *DevicesOptions, cmd *cobra.Command) error {
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

	formatter := newFormatter(opts.RootOptions, cmd)

	if opts.History != "" {
		rows, err := st.ConnectionHistory(cmd.Context(), opts.History, opts.Limit)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to query connection history", err)
		}
		return formatter.Success(ConnectionLog{Address: opts.History, Rows: rows})
	}

	devices, err := st.ListDevices(cmd.Context())
	if err != nil {
		return WrapExitError(ExitFailure, "failed to list devices", err)
	}
	if devices == nil {
		devices = []model.SensorDevice{}
	}
	return formatter.Success(devices)
}
