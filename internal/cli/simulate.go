package cli

import (
	"context"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/capsync/internal/app"
	"github.com/roach88/capsync/internal/clock"
	"github.com/roach88/capsync/internal/engine"
	"github.com/roach88/capsync/internal/model"
	"github.com/roach88/capsync/internal/registry"
	"github.com/roach88/capsync/internal/session"
)

// Simulated component and device identifiers.
const (
	simVideoComponent = "sim-video"
	simRawComponent   = "sim-raw"
	simBioComponent   = "sim-bio"
	simDeviceAddress  = "sim:gsr-0"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Duration time.Duration

	// Negative rates fall back to the CAPSYNC_SIM_*_RATE settings.
	VideoRate float64
	RawRate   float64
	BioRate   float64

	// ClockSource overrides the hardware clock (for testing).
	ClockSource clock.Source
}

// SimulationResult is the outcome of one simulated capture.
type SimulationResult struct {
	SessionID string               `json:"session_id"`
	State     model.RecordingState `json:"state"`
	CaptureID string               `json:"capture_id"`
	Metrics   engine.Metrics       `json:"metrics"`
	Registry  registry.Statistics  `json:"registry"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run synthetic producers through a full capture session",
		Long: `Start the service, record one session fed by synthetic video, raw-frame
and bio-signal producers for the given duration, then print the
correlation metrics and registry statistics.

A rate of 0 disables that producer.

Examples:
  capsync simulate --duration 5s
  capsync simulate --video-rate 60 --raw-rate 10 --bio-rate 0 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Duration, "duration", 3*time.Second, "how long the producers run")
	cmd.Flags().Float64Var(&opts.VideoRate, "video-rate", -1, "video frames per second")
	cmd.Flags().Float64Var(&opts.RawRate, "raw-rate", -1, "raw frames per second")
	cmd.Flags().Float64Var(&opts.BioRate, "bio-rate", -1, "bio-signal samples per second")

	return cmd
}

func runSimulate(opts *SimulateOptions, cmd *cobra.Command) error {
	if opts.Duration <= 0 {
		return NewExitError(ExitCommandError, "--duration must be positive")
	}
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	if opts.VideoRate >= 0 {
		cfg.SimVideoRate = opts.VideoRate
	}
	if opts.RawRate >= 0 {
		cfg.SimRawRate = opts.RawRate
	}
	if opts.BioRate >= 0 {
		cfg.SimBioRate = opts.BioRate
	}

	logger := newLogger(opts.RootOptions, cfg, cmd.ErrOrStderr())
	var appOpts []app.Option
	if opts.ClockSource != nil {
		appOpts = append(appOpts, app.WithClockSource(opts.ClockSource))
	}
	rt, err := app.New(cfg, logger, appOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start runtime", err)
	}
	defer func() { _ = rt.Shutdown(context.Background()) }()

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := rt.Start(ctx); err != nil {
		return WrapExitError(ExitFailure, "runtime start failed", err)
	}

	result, err := simulate(ctx, rt, cfg.SimVideoRate, cfg.SimRawRate, cfg.SimBioRate, opts.Duration)
	if err != nil {
		return WrapExitError(ExitFailure, "simulation failed", err)
	}

	// Drain correlation before reading the final metrics.
	if err := rt.Shutdown(context.Background()); err != nil {
		logger.Warn("simulate: shutdown incomplete", "error", err)
	}
	result.Metrics = rt.Engine.Metrics()

	return newFormatter(opts.RootOptions, cmd).Success(result)
}

// simulate records one session while the producers run. Metrics are left
// for the caller to read once correlation has drained.
func simulate(ctx context.Context, rt *app.Runtime, videoRate, rawRate, bioRate float64, d time.Duration) (SimulationResult, error) {
	now := time.Now().UnixMilli()
	device := model.SensorDevice{
		Address:         simDeviceAddress,
		Name:            "Simulated GSR",
		ConnectionType:  "simulated",
		Connected:       true,
		LastConnectedAt: now,
		EnabledSensors:  []string{"gsr"},
		SamplingRate:    bioRate,
		BatteryLevel:    100,
		AutoReconnect:   true,
	}
	if err := rt.Store.SaveDevice(ctx, device); err != nil {
		return SimulationResult{}, err
	}
	if _, err := rt.Store.LogConnectionAttempt(ctx, model.ConnectionHistory{
		DeviceAddress: simDeviceAddress,
		Action:        "connect",
		Success:       true,
		Timestamp:     now,
	}); err != nil {
		return SimulationResult{}, err
	}

	devState := model.DeviceState{
		DeviceID:     simDeviceAddress,
		DeviceType:   "GSR",
		Connected:    true,
		BatteryLevel: 100,
		Status:       "streaming",
	}
	sess, err := rt.Sessions.Begin(ctx, session.Options{
		Video:     videoRate > 0,
		Raw:       rawRate > 0,
		BioSignal: bioRate > 0,
		Devices:   []model.DeviceState{devState},
	})
	if err != nil {
		return SimulationResult{}, err
	}
	if _, err := rt.Sessions.MarkRecording(ctx); err != nil {
		_, _ = rt.Sessions.Fail(ctx, err.Error())
		return SimulationResult{}, err
	}

	capture := rt.Engine.StartCapture()
	rt.Registry.Register(simVideoComponent, model.ComponentVideoRecorder)
	rt.Registry.Register(simRawComponent, model.ComponentRawCapture)
	rt.Registry.Register(simBioComponent, model.ComponentBioSignalSensor)

	runCtx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	start := time.Now()

	produce(g, gctx, videoRate, func(int) {
		rt.Registry.ComponentTimestamp(simVideoComponent)
		rt.Engine.RegisterVideoFrame(time.Since(start).Microseconds())
	})
	produce(g, gctx, rawRate, func(i int) {
		rt.Registry.ComponentTimestamp(simRawComponent)
		rt.Engine.RegisterRawFrame(0, i)
	})
	produce(g, gctx, bioRate, func(i int) {
		rt.Registry.ComponentTimestamp(simBioComponent)
		// Slow skin-conductance wave in microsiemens.
		value := 2 + 0.5*math.Sin(2*math.Pi*float64(i)/(bioRate*4))
		rt.Engine.RegisterBioSignalSample(value, 0, time.Now().UnixMilli())
	})
	if err := g.Wait(); err != nil {
		return SimulationResult{}, err
	}

	stats := rt.Registry.Statistics()

	devState.Status = "idle"
	if _, err := rt.Sessions.UpdateDeviceStates(ctx, []model.DeviceState{devState}); err != nil {
		return SimulationResult{}, err
	}
	final, err := rt.Sessions.Stop(ctx)
	if err != nil {
		return SimulationResult{}, err
	}
	if _, err := rt.Store.LogConnectionAttempt(ctx, model.ConnectionHistory{
		DeviceAddress: simDeviceAddress,
		Action:        "disconnect",
		Success:       true,
		Timestamp:     time.Now().UnixMilli(),
		DurationMs:    time.Since(start).Milliseconds(),
	}); err != nil {
		return SimulationResult{}, err
	}

	return SimulationResult{
		SessionID: sess.SessionID,
		State:     final.RecordingState,
		CaptureID: capture.SessionID,
		Registry:  stats,
	}, nil
}

// produce runs fn at rate Hz until ctx ends. A non-positive rate starts
// nothing.
func produce(g *errgroup.Group, ctx context.Context, rate float64, fn func(i int)) {
	if rate <= 0 {
		return
	}
	period := time.Duration(float64(time.Second) / rate)
	g.Go(func() error {
		t := time.NewTicker(period)
		defer t.Stop()
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
				fn(i)
			}
		}
	})
}
