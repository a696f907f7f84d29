package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, time.Hour, cfg.Analytics.RetentionPeriod)
	assert.Equal(t, 5*time.Second, cfg.Analytics.ProducerPollInterval)
	assert.Equal(t, 5*time.Second, cfg.Analytics.ConsumerPollInterval)
	assert.Equal(t, 10*time.Second, cfg.Analytics.TransportPollInterval)
	assert.Equal(t, 30*time.Second, cfg.Analytics.GlobalEmitInterval)
	assert.Equal(t, 60*time.Second, cfg.Analytics.RoomEmitInterval)
	assert.Equal(t, 500, cfg.Analytics.SessionEventLogSize)
	assert.Equal(t, 100, cfg.Analytics.TransportEventLogSize)
	assert.Equal(t, 10, cfg.Analytics.RecentEventsLimit)
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0

	assert.NoError(t, cfg.Validate())
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty server address", mutate: func(c *Config) { c.Server.Address = "" }},
		{name: "zero retention", mutate: func(c *Config) { c.Analytics.RetentionPeriod = 0 }},
		{name: "zero producer poll", mutate: func(c *Config) { c.Analytics.ProducerPollInterval = 0 }},
		{name: "zero room emit", mutate: func(c *Config) { c.Analytics.RoomEmitInterval = 0 }},
		{name: "zero session log", mutate: func(c *Config) { c.Analytics.SessionEventLogSize = 0 }},
		{name: "quality threshold out of range", mutate: func(c *Config) { c.Alerts.LowQualityScore = 6 }},
		{name: "packet loss threshold out of range", mutate: func(c *Config) { c.Alerts.HighPacketLoss = 120 }},
		{name: "redis without address", mutate: func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Address = ""
		}},
		{name: "negative heartbeat", mutate: func(c *Config) {
			c.Redis.Enabled = true
			c.Redis.Heartbeat = -time.Second
		}},
		{name: "archive without breaker", mutate: func(c *Config) { c.Archive.BreakerFailures = 0 }},
		{name: "negative cache ttl", mutate: func(c *Config) { c.Archive.CacheTTL = -time.Second }},
		{name: "backup without path", mutate: func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.Path = ""
		}},
		{name: "backup without interval", mutate: func(c *Config) {
			c.Backup.Enabled = true
			c.Backup.Interval = 0
		}},
		{name: "auth without secret", mutate: func(c *Config) {
			c.Auth.Enabled = true
			c.Auth.JWTSecret = ""
		}},
		{name: "rate limit without rps", mutate: func(c *Config) {
			c.RateLimiting.Enabled = true
			c.RateLimiting.HTTP.RequestsPerSecond = 0
		}},
		{name: "tracing sample rate", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.SampleRate = 2
		}},
		{name: "pong not after ping", mutate: func(c *Config) { c.WebSocket.PongTimeout = c.WebSocket.PingInterval }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  address: ":9000"
analytics:
  retention_period: 10m
  transport_poll_interval: 2s
alerts:
  low_framerate: 20
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("CALLSCOPE_LOG_LEVEL", "debug")
	t.Setenv("CALLSCOPE_REDIS_ADDRESS", "redis:6379")
	t.Setenv("CALLSCOPE_TRACING_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 10*time.Minute, cfg.Analytics.RetentionPeriod)
	assert.Equal(t, 2*time.Second, cfg.Analytics.TransportPollInterval)
	assert.Equal(t, 5*time.Second, cfg.Analytics.ProducerPollInterval)
	assert.Equal(t, 20.0, cfg.Alerts.LowFramerate)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Address)
	assert.True(t, cfg.Tracing.Enabled)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("analytics:\n  retention_period: 0s\n"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "retention_period")
}
