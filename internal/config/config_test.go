package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/tonometer/internal/config"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, config.StorageFile, cfg.Storage.Backend)
	assert.Equal(t, config.SessionsMemory, cfg.Sessions.Backend)
	assert.Equal(t, "127.0.0.1:9464", cfg.HTTP.Listen)
	assert.Zero(t, cfg.Sessions.TTL)
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("TONOMETER_TEST_BUCKET", "readings-bucket")
	t.Setenv("TONOMETER_TEST_SECRET", "s3cret")

	path := writeConfigFile(t, `
signal:
  socket_path: /tmp/signal.sock
  account: "+15550000"
storage:
  backend: s3
  s3:
    bucket: ${TONOMETER_TEST_BUCKET}
    region: eu-central-1
    access_key_id: AKIA
    secret_access_key: ${TONOMETER_TEST_SECRET}
sessions:
  backend: redis
  ttl: 24h
  redis:
    addr: redis:6379
queue:
  workers: 8
engine:
  timezone: Europe/Berlin
logging:
  level: debug
  format: json
`)

	cfg, err := config.LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/signal.sock", cfg.Signal.SocketPath)
	assert.Equal(t, "+15550000", cfg.Signal.Account)
	assert.Equal(t, "readings-bucket", cfg.Storage.S3.Bucket)
	assert.Equal(t, "s3cret", cfg.Storage.S3.SecretAccessKey)
	assert.Equal(t, 24*time.Hour, cfg.Sessions.TTL)
	assert.Equal(t, "redis:6379", cfg.Sessions.Redis.Addr)
	assert.Equal(t, 8, cfg.Queue.Workers)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Unset fields keep their defaults.
	assert.Equal(t, 5, cfg.Queue.Burst)
	assert.Equal(t, "tonometer", cfg.Storage.S3.Prefix)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())
}

func TestLoadFromFileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := config.LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "read config file")
	})

	t.Run("bad yaml", func(t *testing.T) {
		_, err := config.LoadFromFile(writeConfigFile(t, "storage: [unterminated"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "parse config")
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := config.LoadFromFile(writeConfigFile(t, "storage:\n  backend: floppy\n"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validate config")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "unknown storage backend",
			mutate:  func(c *config.Config) { c.Storage.Backend = "tape" },
			wantErr: "unknown storage.backend",
		},
		{
			name:    "file backend without dir",
			mutate:  func(c *config.Config) { c.Storage.Dir = "" },
			wantErr: "storage.dir",
		},
		{
			name: "bolt backend without path",
			mutate: func(c *config.Config) {
				c.Storage.Backend = config.StorageBolt
				c.Storage.BoltPath = ""
			},
			wantErr: "storage.bolt_path",
		},
		{
			name:    "s3 without bucket",
			mutate:  func(c *config.Config) { c.Storage.Backend = config.StorageS3 },
			wantErr: "storage.s3.bucket",
		},
		{
			name: "s3 with half credentials",
			mutate: func(c *config.Config) {
				c.Storage.Backend = config.StorageS3
				c.Storage.S3.Bucket = "b"
				c.Storage.S3.AccessKeyID = "AKIA"
			},
			wantErr: "must be set together",
		},
		{
			name:    "unknown sessions backend",
			mutate:  func(c *config.Config) { c.Sessions.Backend = "etcd" },
			wantErr: "unknown sessions.backend",
		},
		{
			name: "redis without addr",
			mutate: func(c *config.Config) {
				c.Sessions.Backend = config.SessionsRedis
				c.Sessions.Redis.Addr = ""
			},
			wantErr: "sessions.redis.addr",
		},
		{
			name:    "negative ttl",
			mutate:  func(c *config.Config) { c.Sessions.TTL = -time.Second },
			wantErr: "sessions.ttl",
		},
		{
			name:    "no workers",
			mutate:  func(c *config.Config) { c.Queue.Workers = 0 },
			wantErr: "queue.workers",
		},
		{
			name:    "negative rate",
			mutate:  func(c *config.Config) { c.Queue.RatePerMinute = -1 },
			wantErr: "queue.rate_per_minute",
		},
		{
			name:    "zero burst",
			mutate:  func(c *config.Config) { c.Queue.Burst = 0 },
			wantErr: "queue.burst",
		},
		{
			name:    "bad timezone",
			mutate:  func(c *config.Config) { c.Engine.Timezone = "Mars/Olympus" },
			wantErr: "engine.timezone",
		},
		{
			name:    "http without listen",
			mutate:  func(c *config.Config) { c.HTTP.Listen = "" },
			wantErr: "http.listen",
		},
		{
			name:    "bad log format",
			mutate:  func(c *config.Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "bad log level",
			mutate:  func(c *config.Config) { c.Logging.Level = "loud" },
			wantErr: "logging.level",
		},
		{
			name:    "zero shutdown timeout",
			mutate:  func(c *config.Config) { c.ShutdownTimeout = 0 },
			wantErr: "shutdown_timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_HTTPDisabledNeedsNoListen(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.HTTP.Enabled = false
	cfg.HTTP.Listen = ""

	assert.NoError(t, cfg.Validate())
}
