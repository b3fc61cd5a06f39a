package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.Scaling.MinWorkers)
	assert.Equal(t, 10, cfg.Scaling.MaxWorkers)
	assert.Equal(t, 0.5, cfg.Scaling.ScaleDownThreshold)
	assert.Equal(t, 60*time.Second, cfg.Scaling.CooldownPeriod)
	assert.Equal(t, 300*time.Second, cfg.Scaling.HeartbeatTimeout)
	assert.Equal(t, 300*time.Second, cfg.Scaling.GracefulShutdownTimeout)
	assert.Equal(t, 15*time.Second, cfg.Monitor.Interval)
	assert.Equal(t, 30*time.Second, cfg.Controller.Interval)
	assert.Equal(t, "memory", cfg.Registry.Backend)
	assert.Equal(t, "simulator", cfg.Fleet.Driver)

	assert.NoError(t, cfg.Validate())
}

func TestWorkerHeartbeatIntervalDerived(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 100*time.Second, cfg.WorkerHeartbeatInterval())

	cfg.Worker.HeartbeatInterval = 10 * time.Second
	assert.Equal(t, 10*time.Second, cfg.WorkerHeartbeatInterval())
}

func TestValidateAggregatesErrors(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Scaling.MinWorkers = 5
	cfg.Scaling.MaxWorkers = 2
	cfg.Scaling.CooldownPeriod = 0
	cfg.Registry.Backend = "redis"

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "min_workers (5) must be <= scaling.max_workers (2)")
	assert.Contains(t, err.Error(), "cooldown_period must be > 0")
	assert.Contains(t, err.Error(), "registry.backend")
}

func TestValidateThresholdBounds(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Scaling.ScaleDownThreshold = 1.5
	require.Error(t, cfg.Validate())

	cfg.Scaling.ScaleDownThreshold = 0
	require.Error(t, cfg.Validate())

	cfg.Scaling.ScaleDownThreshold = 0.25
	require.NoError(t, cfg.Validate())
}

func TestValidateSourceTimeoutAgainstInterval(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Monitor.SourceTimeout = cfg.Monitor.Interval
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source_timeout must be shorter")
}
