package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from an optional YAML file and the environment.
// Environment variables use the AUTOSCALER_ prefix with underscores for
// nesting, e.g. AUTOSCALER_SCALING_MAX_WORKERS=8.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AUTOSCALER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "autoscaler")
	v.SetDefault("app.mode", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("scaling.min_workers", 1)
	v.SetDefault("scaling.max_workers", 10)
	v.SetDefault("scaling.scale_up_threshold", 2.0)
	v.SetDefault("scaling.scale_down_threshold", 0.5)
	v.SetDefault("scaling.cooldown_period", "60s")
	v.SetDefault("scaling.heartbeat_timeout", "300s")
	v.SetDefault("scaling.graceful_shutdown_timeout", "300s")
	v.SetDefault("scaling.metrics_window", "5m")

	v.SetDefault("monitor.interval", "15s")
	v.SetDefault("monitor.source_timeout", "10s")
	v.SetDefault("monitor.history_size", 100)
	v.SetDefault("monitor.degraded_after", 3)

	v.SetDefault("controller.interval", "30s")
	v.SetDefault("controller.action_timeout", "20s")
	v.SetDefault("controller.action_retries", 3)

	v.SetDefault("worker.heartbeat_interval", "0s")
	v.SetDefault("worker.poll_interval", "2s")
	v.SetDefault("worker.health_port", 8090)

	v.SetDefault("broker.management_url", "http://localhost:15672")
	v.SetDefault("broker.queue", "render_jobs")
	v.SetDefault("broker.timeout", "5s")

	v.SetDefault("registry.backend", "memory")

	v.SetDefault("fleet.driver", "simulator")
	v.SetDefault("fleet.docker_host", "unix:///var/run/docker.sock")
	v.SetDefault("fleet.image", "rabbitreels/worker:latest")
	v.SetDefault("fleet.network", "rabbitreels")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "autoscaler")
	v.SetDefault("database.user", "autoscaler")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 10)

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", "10s")
	v.SetDefault("api.write_timeout", "10s")
	v.SetDefault("api.rate_limit", 100)
	v.SetDefault("api.rate_window", "1m")

	v.SetDefault("events.buffer_size", 64)
}
