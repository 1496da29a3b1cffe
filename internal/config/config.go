// Package config loads and validates capsync configuration from environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/roach88/capsync/internal/engine"
	"github.com/roach88/capsync/internal/recovery"
	"github.com/roach88/capsync/internal/registry"
)

// Config holds all runtime configuration.
type Config struct {
	// Storage settings.
	DBPath        string
	ArtifactsRoot string
	WatchInterval time.Duration // 0 disables polling; writes still notify.

	LogLevel string

	// Correlation pool.
	CorrelationWorkers   int
	CorrelationQueueSize int

	// Correlation engine.
	CorrelationWindow    time.Duration
	MaxTemporalDrift     time.Duration
	BioCorrelationWindow time.Duration
	FramePeriod          time.Duration
	BufferFrames         int
	PruneInterval        time.Duration

	// Master clock.
	ClockRefreshInterval time.Duration
	ClockDriftThreshold  time.Duration

	// Component registry.
	DriftThreshold   time.Duration
	MaxSkew          time.Duration
	HealthInterval   time.Duration
	LivenessWindow   time.Duration
	IdleHorizon      time.Duration
	EvictionInterval time.Duration

	// Recovery.
	RetentionDays    int
	MinArtifactBytes int64

	ShutdownGrace time.Duration

	// Synthetic producer rates for the simulate command, in Hz.
	SimVideoRate float64
	SimRawRate   float64
	SimBioRate   float64

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string
}

// Load reads CAPSYNC_* variables over the defaults and validates the result.
// Malformed values are reported together rather than silently defaulted.
func Load() (Config, error) {
	var errs []error
	str := func(key, def string) string { return envStr(key, def) }
	num := func(key string, def int) int {
		v, err := envInt(key, def)
		errs = append(errs, err)
		return v
	}
	dur := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		errs = append(errs, err)
		return v
	}
	rate := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		errs = append(errs, err)
		return v
	}
	flag := func(key string, def bool) bool {
		v, err := envBool(key, def)
		errs = append(errs, err)
		return v
	}

	eng := engine.DefaultConfig()
	reg := registry.DefaultConfig()

	cfg := Config{
		DBPath:        str("CAPSYNC_DB_PATH", "capsync.db"),
		ArtifactsRoot: str("CAPSYNC_ARTIFACTS_ROOT", "recordings"),
		WatchInterval: dur("CAPSYNC_WATCH_INTERVAL", 0),
		LogLevel:      str("CAPSYNC_LOG_LEVEL", "info"),

		CorrelationWorkers:   num("CAPSYNC_CORRELATION_WORKERS", 4),
		CorrelationQueueSize: num("CAPSYNC_CORRELATION_QUEUE_SIZE", 1024),

		CorrelationWindow:    dur("CAPSYNC_CORRELATION_WINDOW", eng.CorrelationWindow),
		MaxTemporalDrift:     dur("CAPSYNC_MAX_TEMPORAL_DRIFT", eng.MaxTemporalDrift),
		BioCorrelationWindow: dur("CAPSYNC_BIO_CORRELATION_WINDOW", eng.BioCorrelationWindow),
		FramePeriod:          dur("CAPSYNC_FRAME_PERIOD", eng.FramePeriod),
		BufferFrames:         num("CAPSYNC_BUFFER_FRAMES", eng.BufferFrames),
		PruneInterval:        dur("CAPSYNC_PRUNE_INTERVAL", eng.PruneInterval),

		ClockRefreshInterval: dur("CAPSYNC_CLOCK_REFRESH_INTERVAL", 100*time.Millisecond),
		ClockDriftThreshold:  dur("CAPSYNC_CLOCK_DRIFT_THRESHOLD", time.Millisecond),

		DriftThreshold:   dur("CAPSYNC_DRIFT_THRESHOLD", reg.DriftThreshold),
		MaxSkew:          dur("CAPSYNC_MAX_SKEW", reg.MaxSkew),
		HealthInterval:   dur("CAPSYNC_HEALTH_INTERVAL", reg.HealthInterval),
		LivenessWindow:   dur("CAPSYNC_LIVENESS_WINDOW", reg.LivenessWindow),
		IdleHorizon:      dur("CAPSYNC_IDLE_HORIZON", reg.IdleHorizon),
		EvictionInterval: dur("CAPSYNC_EVICTION_INTERVAL", reg.EvictionInterval),

		RetentionDays:    num("CAPSYNC_RETENTION_DAYS", 30),
		MinArtifactBytes: int64(num("CAPSYNC_MIN_ARTIFACT_BYTES", recovery.DefaultMinArtifactBytes)),

		ShutdownGrace: dur("CAPSYNC_SHUTDOWN_GRACE", time.Second),

		SimVideoRate: rate("CAPSYNC_SIM_VIDEO_RATE", 30),
		SimRawRate:   rate("CAPSYNC_SIM_RAW_RATE", 30),
		SimBioRate:   rate("CAPSYNC_SIM_BIO_RATE", 128),

		OTELEndpoint: str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure: flag("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:  str("OTEL_SERVICE_NAME", "capsync"),
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and consistent.
func (c Config) Validate() error {
	var errs []error
	if c.DBPath == "" {
		errs = append(errs, errors.New("CAPSYNC_DB_PATH is required"))
	}
	if c.CorrelationWorkers <= 0 {
		errs = append(errs, errors.New("CAPSYNC_CORRELATION_WORKERS must be positive"))
	}
	if c.CorrelationQueueSize < c.CorrelationWorkers {
		errs = append(errs, errors.New("CAPSYNC_CORRELATION_QUEUE_SIZE must be at least the worker count"))
	}
	for _, d := range []struct {
		name string
		v    time.Duration
	}{
		{"CAPSYNC_CORRELATION_WINDOW", c.CorrelationWindow},
		{"CAPSYNC_MAX_TEMPORAL_DRIFT", c.MaxTemporalDrift},
		{"CAPSYNC_BIO_CORRELATION_WINDOW", c.BioCorrelationWindow},
		{"CAPSYNC_FRAME_PERIOD", c.FramePeriod},
		{"CAPSYNC_PRUNE_INTERVAL", c.PruneInterval},
		{"CAPSYNC_CLOCK_REFRESH_INTERVAL", c.ClockRefreshInterval},
		{"CAPSYNC_DRIFT_THRESHOLD", c.DriftThreshold},
		{"CAPSYNC_MAX_SKEW", c.MaxSkew},
		{"CAPSYNC_HEALTH_INTERVAL", c.HealthInterval},
		{"CAPSYNC_SHUTDOWN_GRACE", c.ShutdownGrace},
	} {
		if d.v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	if c.MaxSkew < c.DriftThreshold {
		errs = append(errs, errors.New("CAPSYNC_MAX_SKEW must not be below CAPSYNC_DRIFT_THRESHOLD"))
	}
	if c.BufferFrames <= 0 {
		errs = append(errs, errors.New("CAPSYNC_BUFFER_FRAMES must be positive"))
	}
	if c.RetentionDays < 0 {
		errs = append(errs, errors.New("CAPSYNC_RETENTION_DAYS must not be negative"))
	}
	if c.MinArtifactBytes < 0 {
		errs = append(errs, errors.New("CAPSYNC_MIN_ARTIFACT_BYTES must not be negative"))
	}
	if c.SimVideoRate < 0 || c.SimRawRate < 0 || c.SimBioRate < 0 {
		errs = append(errs, errors.New("CAPSYNC_SIM_*_RATE must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Engine returns the correlation engine settings.
func (c Config) Engine() engine.Config {
	return engine.Config{
		CorrelationWindow:    c.CorrelationWindow,
		MaxTemporalDrift:     c.MaxTemporalDrift,
		BioCorrelationWindow: c.BioCorrelationWindow,
		FramePeriod:          c.FramePeriod,
		BufferFrames:         c.BufferFrames,
		PruneInterval:        c.PruneInterval,
		QueueWarnDepth:       int64(2 * c.CorrelationWorkers),
	}
}

// Registry returns the component registry settings.
func (c Config) Registry() registry.Config {
	return registry.Config{
		DriftThreshold:   c.DriftThreshold,
		MaxSkew:          c.MaxSkew,
		HealthInterval:   c.HealthInterval,
		LivenessWindow:   c.LivenessWindow,
		IdleHorizon:      c.IdleHorizon,
		EvictionInterval: c.EvictionInterval,
	}
}

// Recovery returns the crash recovery settings.
func (c Config) Recovery() recovery.Config {
	rc := recovery.DefaultConfig(c.ArtifactsRoot)
	rc.MinArtifactBytes = c.MinArtifactBytes
	return rc
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}
