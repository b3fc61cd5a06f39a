package config

import (
	"fmt"
	"strings"
)

// Validate checks the full configuration and returns every violation at
// once. Invalid configuration is a fatal startup error, never a runtime
// fallback.
func (c *Config) Validate() error {
	var errs []string

	if c.Scaling.MinWorkers < 0 {
		errs = append(errs, "scaling.min_workers must be >= 0")
	}
	if c.Scaling.MaxWorkers < 1 {
		errs = append(errs, "scaling.max_workers must be >= 1")
	}
	if c.Scaling.MinWorkers > c.Scaling.MaxWorkers {
		errs = append(errs, fmt.Sprintf(
			"scaling.min_workers (%d) must be <= scaling.max_workers (%d)",
			c.Scaling.MinWorkers, c.Scaling.MaxWorkers))
	}
	if c.Scaling.ScaleUpThreshold <= 0 {
		errs = append(errs, "scaling.scale_up_threshold must be > 0")
	}
	if c.Scaling.ScaleDownThreshold <= 0 || c.Scaling.ScaleDownThreshold >= 1 {
		errs = append(errs, "scaling.scale_down_threshold must be in (0, 1)")
	}
	if c.Scaling.CooldownPeriod <= 0 {
		errs = append(errs, "scaling.cooldown_period must be > 0")
	}
	if c.Scaling.HeartbeatTimeout <= 0 {
		errs = append(errs, "scaling.heartbeat_timeout must be > 0")
	}
	if c.Scaling.GracefulShutdownTimeout <= 0 {
		errs = append(errs, "scaling.graceful_shutdown_timeout must be > 0")
	}
	if c.Scaling.MetricsWindow <= 0 {
		errs = append(errs, "scaling.metrics_window must be > 0")
	}

	if c.Monitor.Interval <= 0 {
		errs = append(errs, "monitor.interval must be > 0")
	}
	if c.Monitor.SourceTimeout <= 0 {
		errs = append(errs, "monitor.source_timeout must be > 0")
	}
	if c.Monitor.SourceTimeout >= c.Monitor.Interval {
		errs = append(errs, "monitor.source_timeout must be shorter than monitor.interval")
	}
	if c.Monitor.HistorySize < 1 {
		errs = append(errs, "monitor.history_size must be >= 1")
	}
	if c.Monitor.DegradedAfter < 1 {
		errs = append(errs, "monitor.degraded_after must be >= 1")
	}

	if c.Controller.Interval <= 0 {
		errs = append(errs, "controller.interval must be > 0")
	}
	if c.Controller.ActionTimeout <= 0 {
		errs = append(errs, "controller.action_timeout must be > 0")
	}
	if c.Controller.ActionRetries < 1 {
		errs = append(errs, "controller.action_retries must be >= 1")
	}

	if c.Worker.HeartbeatInterval < 0 {
		errs = append(errs, "worker.heartbeat_interval must be >= 0")
	}
	if c.Worker.HeartbeatInterval >= c.Scaling.HeartbeatTimeout && c.Worker.HeartbeatInterval > 0 {
		errs = append(errs, "worker.heartbeat_interval must be shorter than scaling.heartbeat_timeout")
	}
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, "worker.poll_interval must be > 0")
	}

	if c.Broker.ManagementURL == "" {
		errs = append(errs, "broker.management_url must not be empty")
	}
	if c.Broker.Queue == "" {
		errs = append(errs, "broker.queue must not be empty")
	}
	if c.Broker.Timeout <= 0 {
		errs = append(errs, "broker.timeout must be > 0")
	}

	switch c.Registry.Backend {
	case "memory", "postgres":
	default:
		errs = append(errs, fmt.Sprintf("registry.backend must be memory or postgres, got %q", c.Registry.Backend))
	}

	switch c.Fleet.Driver {
	case "simulator", "docker":
	default:
		errs = append(errs, fmt.Sprintf("fleet.driver must be simulator or docker, got %q", c.Fleet.Driver))
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be a valid port")
	}
	if c.Events.BufferSize < 1 {
		errs = append(errs, "events.buffer_size must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
