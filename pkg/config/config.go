package config

import "time"

type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Scaling    ScalingConfig    `mapstructure:"scaling"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Controller ControllerConfig `mapstructure:"controller"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Fleet      FleetConfig      `mapstructure:"fleet"`
	Database   DatabaseConfig   `mapstructure:"database"`
	API        APIConfig        `mapstructure:"api"`
	Events     EventsConfig     `mapstructure:"events"`
}

type AppConfig struct {
	Name     string `mapstructure:"name"`
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`
}

// ScalingConfig is loaded once at startup and immutable thereafter.
type ScalingConfig struct {
	MinWorkers              int           `mapstructure:"min_workers"`
	MaxWorkers              int           `mapstructure:"max_workers"`
	ScaleUpThreshold        float64       `mapstructure:"scale_up_threshold"`
	ScaleDownThreshold      float64       `mapstructure:"scale_down_threshold"`
	CooldownPeriod          time.Duration `mapstructure:"cooldown_period"`
	HeartbeatTimeout        time.Duration `mapstructure:"heartbeat_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
	MetricsWindow           time.Duration `mapstructure:"metrics_window"`
}

type MonitorConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	SourceTimeout time.Duration `mapstructure:"source_timeout"`
	HistorySize   int           `mapstructure:"history_size"`
	DegradedAfter int           `mapstructure:"degraded_after"`
}

type ControllerConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	ActionTimeout time.Duration `mapstructure:"action_timeout"`
	ActionRetries int           `mapstructure:"action_retries"`
}

type WorkerConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HealthPort        int           `mapstructure:"health_port"`
}

type BrokerConfig struct {
	ManagementURL string        `mapstructure:"management_url"`
	Queue         string        `mapstructure:"queue"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type RegistryConfig struct {
	Backend string `mapstructure:"backend"`
}

type FleetConfig struct {
	Driver     string `mapstructure:"driver"`
	DockerHost string `mapstructure:"docker_host"`
	Image      string `mapstructure:"image"`
	Network    string `mapstructure:"network"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

type APIConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	RateLimit    int           `mapstructure:"rate_limit"`
	RateWindow   time.Duration `mapstructure:"rate_window"`
}

type EventsConfig struct {
	BufferSize int `mapstructure:"buffer_size"`
}

// WorkerHeartbeatInterval returns the configured heartbeat interval, or
// one third of the heartbeat timeout when unset so a worker always gets
// several beats in before it is presumed dead.
func (c *Config) WorkerHeartbeatInterval() time.Duration {
	if c.Worker.HeartbeatInterval > 0 {
		return c.Worker.HeartbeatInterval
	}
	return c.Scaling.HeartbeatTimeout / 3
}
