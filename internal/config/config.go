// Package config loads the bot's YAML configuration and watches it for changes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StorageFile = "file"
	StorageBolt = "bolt"
	StorageS3   = "s3"
)

// Session backends.
const (
	SessionsMemory = "memory"
	SessionsRedis  = "redis"
)

// Config represents the complete bot configuration.
type Config struct {
	Signal          SignalConfig   `yaml:"signal"`
	Storage         StorageConfig  `yaml:"storage"`
	Sessions        SessionsConfig `yaml:"sessions"`
	Queue           QueueConfig    `yaml:"queue"`
	Engine          EngineConfig   `yaml:"engine"`
	HTTP            HTTPConfig     `yaml:"http"`
	Logging         LoggingConfig  `yaml:"logging"`
	ShutdownTimeout time.Duration  `yaml:"shutdown_timeout"`
}

// SignalConfig locates signal-cli.
type SignalConfig struct {
	SocketPath    string `yaml:"socket_path"`
	Account       string `yaml:"account"`        // bot's own number
	AttachmentDir string `yaml:"attachment_dir"` // spool for outgoing files
}

// StorageConfig selects where readings are persisted.
type StorageConfig struct {
	Backend  string   `yaml:"backend"` // file, bolt, s3
	Dir      string   `yaml:"dir"`
	BoltPath string   `yaml:"bolt_path"`
	S3       S3Config `yaml:"s3"`
}

// S3Config contains S3 object storage settings.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	Prefix          string `yaml:"prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// SessionsConfig selects where in-progress conversations are kept.
type SessionsConfig struct {
	Backend string        `yaml:"backend"` // memory, redis
	TTL     time.Duration `yaml:"ttl"`     // 0 keeps contexts forever
	Redis   RedisConfig   `yaml:"redis"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// QueueConfig sizes the worker pool and per-user rate limit.
type QueueConfig struct {
	Workers       int `yaml:"workers"`
	RatePerMinute int `yaml:"rate_per_minute"` // 0 disables limiting
	Burst         int `yaml:"burst"`
}

// EngineConfig controls how dates are resolved.
type EngineConfig struct {
	Timezone string `yaml:"timezone"`
}

// HTTPConfig controls the operator HTTP server.
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json, logfmt
	File   string `yaml:"file"`   // empty logs to stderr
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Signal: SignalConfig{
			SocketPath:    "/var/run/signal-cli/socket",
			AttachmentDir: os.TempDir(),
		},
		Storage: StorageConfig{
			Backend:  StorageFile,
			Dir:      "data",
			BoltPath: "data/tonometer.db",
			S3: S3Config{
				Prefix: "tonometer",
			},
		},
		Sessions: SessionsConfig{
			Backend: SessionsMemory,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "tonometer:session",
			},
		},
		Queue: QueueConfig{
			Workers:       4,
			RatePerMinute: 30,
			Burst:         5,
		},
		Engine: EngineConfig{
			Timezone: "Local",
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9464",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadFromFile reads and parses a YAML configuration file over the defaults.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case StorageFile:
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir is required for the file backend")
		}
	case StorageBolt:
		if c.Storage.BoltPath == "" {
			return fmt.Errorf("storage.bolt_path is required for the bolt backend")
		}
	case StorageS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
		if (c.Storage.S3.AccessKeyID == "") != (c.Storage.S3.SecretAccessKey == "") {
			return fmt.Errorf("storage.s3: access_key_id and secret_access_key must be set together")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}

	switch c.Sessions.Backend {
	case SessionsMemory:
	case SessionsRedis:
		if c.Sessions.Redis.Addr == "" {
			return fmt.Errorf("sessions.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown sessions.backend %q", c.Sessions.Backend)
	}
	if c.Sessions.TTL < 0 {
		return fmt.Errorf("sessions.ttl cannot be negative")
	}

	if c.Queue.Workers < 1 {
		return fmt.Errorf("queue.workers must be at least 1")
	}
	if c.Queue.RatePerMinute < 0 {
		return fmt.Errorf("queue.rate_per_minute cannot be negative")
	}
	if c.Queue.Burst < 1 {
		return fmt.Errorf("queue.burst must be at least 1")
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		return fmt.Errorf("http.listen is required when http is enabled")
	}

	switch c.Logging.Format {
	case "text", "json", "logfmt":
	default:
		return fmt.Errorf("unknown logging.format %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}

	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}

	return nil
}

// Location resolves engine.timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Engine.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid engine.timezone %q: %w", c.Engine.Timezone, err)
	}
	return loc, nil
}
