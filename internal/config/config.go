package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"PluginSystem/pkg/logger"
)

// Storage drivers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverMySQL  = "mysql"
)

// Event relay drivers.
const (
	EventsNone     = "none"
	EventsRabbitMQ = "rabbitmq"
)

// Config is the daemon configuration.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Logging logger.Config `json:"logging"`
	Storage StorageConfig `json:"storage"`
	Events  EventsConfig  `json:"events"`
	Health  HealthConfig  `json:"health"`
	Plugins PluginsConfig `json:"plugins"`
	Runtime RuntimeConfig `json:"runtime"`
}

// ServerConfig controls the admin HTTP listener.
type ServerConfig struct {
	Address string `json:"address"`
	// Token, when set, is required as a bearer token on /api routes.
	Token string `json:"token"`
}

// StorageConfig selects where registry snapshots are kept.
type StorageConfig struct {
	Driver string      `json:"driver"`
	Path   string      `json:"path"`
	Redis  RedisConfig `json:"redis"`
	MySQL  MySQLConfig `json:"mysql"`
}

// RedisConfig configures the redis driver.
type RedisConfig struct {
	Address  string   `json:"address"`
	Password string   `json:"password"`
	DB       int      `json:"db"`
	Key      string   `json:"key"`
	TTL      Duration `json:"ttl"`
}

// MySQLConfig configures the mysql driver.
type MySQLConfig struct {
	DSN             string   `json:"dsn"`
	MaxOpenConns    int      `json:"max_open_conns"`
	MaxIdleConns    int      `json:"max_idle_conns"`
	ConnMaxLifetime Duration `json:"conn_max_lifetime"`
}

// EventsConfig selects the broker lifecycle events are relayed to.
type EventsConfig struct {
	Driver   string         `json:"driver"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RabbitMQConfig configures the rabbitmq relay.
type RabbitMQConfig struct {
	URL           string `json:"url"`
	Exchange      string `json:"exchange"`
	RoutingPrefix string `json:"routing_prefix"`
	Durable       bool   `json:"durable"`
}

// HealthConfig controls the periodic health poller. A negative MaxRetries
// disables retries.
type HealthConfig struct {
	Enabled    bool     `json:"enabled"`
	Interval   Duration `json:"interval"`
	MaxRetries int      `json:"max_retries"`
	RetryDelay Duration `json:"retry_delay"`
	Timeout    Duration `json:"timeout"`
	Workers    int      `json:"workers"`
}

// PluginsConfig points at the plugin manager's YAML configuration.
type PluginsConfig struct {
	ConfigPath string `json:"config_path"`
}

// RuntimeConfig holds general runtime parameters.
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Duration accepts either a Go duration string ("30s") or a number of
// nanoseconds in JSON.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(raw []byte) error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return fmt.Errorf("duration must be a string or an integer: %s", raw)
	}
	*d = Duration(n)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load parses the JSON file at path and applies defaults. Relative paths in
// the file are resolved against the file's directory.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default(baseDir string) *Config {
	var cfg Config
	cfg.applyDefaults(baseDir)
	return &cfg
}

// Validate reports inconsistent settings.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverFile:
	case DriverRedis:
		if c.Storage.Redis.Address == "" {
			return errors.New("storage.redis.address is required for the redis driver")
		}
	case DriverMySQL:
		if c.Storage.MySQL.DSN == "" {
			return errors.New("storage.mysql.dsn is required for the mysql driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Events.Driver {
	case EventsNone:
	case EventsRabbitMQ:
		if c.Events.RabbitMQ.URL == "" {
			return errors.New("events.rabbitmq.url is required for the rabbitmq driver")
		}
	default:
		return fmt.Errorf("unknown events driver %q", c.Events.Driver)
	}
	return nil
}

func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if len(c.Logging.OutputPaths) == 0 {
		c.Logging.OutputPaths = []string{"stdout"}
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}

	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverMemory
	}
	if c.Storage.Driver == DriverFile {
		if c.Storage.Path == "" {
			c.Storage.Path = filepath.Join(c.Runtime.DataDir, "registry.json")
		} else if !filepath.IsAbs(c.Storage.Path) {
			c.Storage.Path = filepath.Join(baseDir, c.Storage.Path)
		}
	}

	if c.Events.Driver == "" {
		c.Events.Driver = EventsNone
	}

	if c.Health.Interval == 0 {
		c.Health.Interval = Duration(30 * time.Second)
	}
	if c.Health.RetryDelay == 0 {
		c.Health.RetryDelay = Duration(time.Second)
	}
	if c.Health.Timeout == 0 {
		c.Health.Timeout = Duration(5 * time.Second)
	}
	if c.Health.MaxRetries == 0 {
		c.Health.MaxRetries = 3
	}

	if c.Plugins.ConfigPath != "" && !filepath.IsAbs(c.Plugins.ConfigPath) {
		c.Plugins.ConfigPath = filepath.Join(baseDir, c.Plugins.ConfigPath)
	}
}
