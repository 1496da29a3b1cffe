package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "capsync.db", cfg.DBPath)
	assert.Equal(t, 4, cfg.CorrelationWorkers)
	assert.Equal(t, 33_333_333*time.Nanosecond, cfg.CorrelationWindow)
	assert.Equal(t, 16_666_666*time.Nanosecond, cfg.MaxTemporalDrift)
	assert.Equal(t, 8_333_333*time.Nanosecond, cfg.BioCorrelationWindow)
	assert.Equal(t, 512, cfg.BufferFrames)
	assert.Equal(t, 3*time.Second, cfg.PruneInterval)
	assert.Equal(t, time.Millisecond, cfg.DriftThreshold)
	assert.Equal(t, 5*time.Millisecond, cfg.MaxSkew)
	assert.Equal(t, 30, cfg.RetentionDays)
	assert.Equal(t, int64(1024), cfg.MinArtifactBytes)
	assert.Equal(t, "capsync", cfg.ServiceName)
	assert.Equal(t, 30.0, cfg.SimVideoRate)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CAPSYNC_DB_PATH", "/tmp/x.db")
	t.Setenv("CAPSYNC_CORRELATION_WORKERS", "8")
	t.Setenv("CAPSYNC_CORRELATION_WINDOW", "20ms")
	t.Setenv("CAPSYNC_SIM_BIO_RATE", "51.2")
	t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x.db", cfg.DBPath)
	assert.Equal(t, 8, cfg.CorrelationWorkers)
	assert.Equal(t, 20*time.Millisecond, cfg.CorrelationWindow)
	assert.Equal(t, 51.2, cfg.SimBioRate)
	assert.True(t, cfg.OTELInsecure)
	assert.Equal(t, int64(16), cfg.Engine().QueueWarnDepth)
}

func TestLoad_MalformedValuesReportedTogether(t *testing.T) {
	t.Setenv("CAPSYNC_CORRELATION_WORKERS", "four")
	t.Setenv("CAPSYNC_PRUNE_INTERVAL", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `CAPSYNC_CORRELATION_WORKERS="four" is not a valid integer`)
	assert.Contains(t, err.Error(), `CAPSYNC_PRUNE_INTERVAL="soon" is not a valid duration`)
}

func TestValidate(t *testing.T) {
	base, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty db path", func(c *Config) { c.DBPath = "" }, "CAPSYNC_DB_PATH"},
		{"zero workers", func(c *Config) { c.CorrelationWorkers = 0 }, "CAPSYNC_CORRELATION_WORKERS"},
		{"queue below workers", func(c *Config) { c.CorrelationQueueSize = 1 }, "CAPSYNC_CORRELATION_QUEUE_SIZE"},
		{"negative window", func(c *Config) { c.CorrelationWindow = -1 }, "CAPSYNC_CORRELATION_WINDOW"},
		{"skew below threshold", func(c *Config) { c.MaxSkew = time.Microsecond }, "CAPSYNC_MAX_SKEW"},
		{"negative retention", func(c *Config) { c.RetentionDays = -1 }, "CAPSYNC_RETENTION_DAYS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.want), err.Error())
		})
	}
	assert.NoError(t, base.Validate())
}

func TestSubConfigs(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, cfg.CorrelationWindow, cfg.Engine().CorrelationWindow)
	assert.Equal(t, cfg.IdleHorizon, cfg.Registry().IdleHorizon)
	rc := cfg.Recovery()
	assert.Equal(t, cfg.ArtifactsRoot, rc.ArtifactsRoot)
	assert.Contains(t, rc.TempSuffixes, ".tmp")
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	v, err := envInt("TEST_INT", 0)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = envInt("TEST_INT_MISSING", 99)
	require.NoError(t, err)
	assert.Equal(t, 99, v)

	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err = envBool("TEST_BOOL_BAD", false)
	assert.EqualError(t, err, `TEST_BOOL_BAD="maybe" is not a valid boolean`)

	t.Setenv("TEST_FLOAT_BAD", "fast")
	_, err = envFloat("TEST_FLOAT_BAD", 1)
	assert.EqualError(t, err, `TEST_FLOAT_BAD="fast" is not a valid number`)
}
