package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		InstanceID      string        `yaml:"instance_id"`
	} `yaml:"server"`

	Analytics struct {
		RetentionPeriod       time.Duration `yaml:"retention_period"`
		ProducerPollInterval  time.Duration `yaml:"producer_poll_interval"`
		ConsumerPollInterval  time.Duration `yaml:"consumer_poll_interval"`
		TransportPollInterval time.Duration `yaml:"transport_poll_interval"`
		GlobalEmitInterval    time.Duration `yaml:"global_emit_interval"`
		RoomEmitInterval      time.Duration `yaml:"room_emit_interval"`
		SessionEventLogSize   int           `yaml:"session_event_log_size"`
		TransportEventLogSize int           `yaml:"transport_event_log_size"`
		RecentEventsLimit     int           `yaml:"recent_events_limit"`
	} `yaml:"analytics"`

	Alerts struct {
		HighPacketLoss  float64 `yaml:"high_packet_loss"`
		LowQualityScore float64 `yaml:"low_quality_score"`
		HighErrorRate   int     `yaml:"high_error_rate"`
		LowFramerate    float64 `yaml:"low_framerate"`
	} `yaml:"alerts"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		MetricsPath       string `yaml:"metrics_path"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled       bool          `yaml:"enabled"`
		Address       string        `yaml:"address"`
		Password      string        `yaml:"password"`
		DB            int           `yaml:"db"`
		PoolSize      int           `yaml:"pool_size"`
		RecordTTL     time.Duration `yaml:"record_ttl"`
		ForwardEvents bool          `yaml:"forward_events"`
		EventChannel  string        `yaml:"event_channel"`
		Heartbeat     time.Duration `yaml:"heartbeat"`
	} `yaml:"redis"`

	Archive struct {
		SaveTimeout     time.Duration `yaml:"save_timeout"`
		MaxRetries      int           `yaml:"max_retries"`
		RetryDelay      time.Duration `yaml:"retry_delay"`
		BreakerFailures int           `yaml:"breaker_failures"`
		BreakerTimeout  time.Duration `yaml:"breaker_timeout"`
		CacheTTL        time.Duration `yaml:"cache_ttl"`
	} `yaml:"archive"`

	Backup struct {
		Enabled   bool          `yaml:"enabled"`
		Path      string        `yaml:"path"`
		Interval  time.Duration `yaml:"interval"`
		Retention time.Duration `yaml:"retention"`
	} `yaml:"backup"`

	Auth struct {
		Enabled        bool          `yaml:"enabled"`
		JWTSecret      string        `yaml:"jwt_secret"`
		Issuer         string        `yaml:"issuer"`
		AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
		AllowedOrigins []string      `yaml:"allowed_origins"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"http"`
	} `yaml:"rate_limiting"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	WebSocket struct {
		PingInterval   time.Duration `yaml:"ping_interval"`
		PongTimeout    time.Duration `yaml:"pong_timeout"`
		SendBufferSize int           `yaml:"send_buffer_size"`
		MaxClients     int           `yaml:"max_clients"`
	} `yaml:"websocket"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("server.read_timeout must be > 0")
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("server.write_timeout must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Analytics
	a := c.Analytics
	if a.RetentionPeriod <= 0 {
		return fmt.Errorf("analytics.retention_period must be > 0")
	}
	if a.ProducerPollInterval <= 0 || a.ConsumerPollInterval <= 0 || a.TransportPollInterval <= 0 {
		return fmt.Errorf("analytics poll intervals must be > 0")
	}
	if a.GlobalEmitInterval <= 0 || a.RoomEmitInterval <= 0 {
		return fmt.Errorf("analytics emit intervals must be > 0")
	}
	if a.SessionEventLogSize <= 0 || a.TransportEventLogSize <= 0 {
		return fmt.Errorf("analytics event log sizes must be > 0")
	}
	if a.RecentEventsLimit <= 0 {
		return fmt.Errorf("analytics.recent_events_limit must be > 0")
	}

	// Alerts
	if c.Alerts.LowQualityScore < 1 || c.Alerts.LowQualityScore > 5 {
		return fmt.Errorf("alerts.low_quality_score must be within [1,5]")
	}
	if c.Alerts.HighPacketLoss < 0 || c.Alerts.HighPacketLoss > 100 {
		return fmt.Errorf("alerts.high_packet_loss must be within [0,100]")
	}
	if c.Alerts.HighErrorRate < 0 {
		return fmt.Errorf("alerts.high_error_rate must be >= 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
		if c.Redis.RecordTTL < 0 {
			return fmt.Errorf("redis.record_ttl must be >= 0")
		}
		if c.Redis.Heartbeat < 0 {
			return fmt.Errorf("redis.heartbeat must be >= 0")
		}
	}

	// Archive
	if c.Archive.SaveTimeout <= 0 {
		return fmt.Errorf("archive.save_timeout must be > 0")
	}
	if c.Archive.MaxRetries < 0 {
		return fmt.Errorf("archive.max_retries must be >= 0")
	}
	if c.Archive.BreakerFailures <= 0 {
		return fmt.Errorf("archive.breaker_failures must be > 0")
	}
	if c.Archive.CacheTTL < 0 {
		return fmt.Errorf("archive.cache_ttl must be >= 0")
	}

	// Backup
	if c.Backup.Enabled {
		if c.Backup.Path == "" {
			return fmt.Errorf("backup.path must not be empty when backup.enabled=true")
		}
		if c.Backup.Interval <= 0 {
			return fmt.Errorf("backup.interval must be > 0 when backup.enabled=true")
		}
		if c.Backup.Retention < 0 {
			return fmt.Errorf("backup.retention must be >= 0")
		}
	}

	// Auth
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
		}
		if c.Auth.AccessTokenTTL <= 0 {
			return fmt.Errorf("auth.access_token_ttl must be > 0")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0,1]")
		}
	}

	// WebSocket
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("websocket.ping_interval must be > 0")
	}
	if c.WebSocket.PongTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket.pong_timeout must be greater than websocket.ping_interval")
	}
	if c.WebSocket.SendBufferSize <= 0 {
		return fmt.Errorf("websocket.send_buffer_size must be > 0")
	}
	if c.WebSocket.MaxClients < 0 {
		return fmt.Errorf("websocket.max_clients must be >= 0")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8080"
	cfg.Server.ReadTimeout = 30 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.ShutdownTimeout = 30 * time.Second

	cfg.Analytics.RetentionPeriod = time.Hour
	cfg.Analytics.ProducerPollInterval = 5 * time.Second
	cfg.Analytics.ConsumerPollInterval = 5 * time.Second
	cfg.Analytics.TransportPollInterval = 10 * time.Second
	cfg.Analytics.GlobalEmitInterval = 30 * time.Second
	cfg.Analytics.RoomEmitInterval = 60 * time.Second
	cfg.Analytics.SessionEventLogSize = 500
	cfg.Analytics.TransportEventLogSize = 100
	cfg.Analytics.RecentEventsLimit = 10

	cfg.Alerts.HighPacketLoss = 5
	cfg.Alerts.LowQualityScore = 2
	cfg.Alerts.HighErrorRate = 10
	cfg.Alerts.LowFramerate = 15

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsPath = "/metrics"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10
	cfg.Redis.RecordTTL = 30 * 24 * time.Hour
	cfg.Redis.EventChannel = "callscope:events"
	cfg.Redis.Heartbeat = 10 * time.Second

	cfg.Archive.SaveTimeout = 5 * time.Second
	cfg.Archive.MaxRetries = 3
	cfg.Archive.RetryDelay = 100 * time.Millisecond
	cfg.Archive.BreakerFailures = 5
	cfg.Archive.BreakerTimeout = 30 * time.Second
	cfg.Archive.CacheTTL = 5 * time.Minute

	cfg.Backup.Enabled = false
	cfg.Backup.Path = "data/backups"
	cfg.Backup.Interval = 15 * time.Minute
	cfg.Backup.Retention = 7 * 24 * time.Hour

	cfg.Auth.Enabled = false
	cfg.Auth.JWTSecret = "change-me-in-production"
	cfg.Auth.Issuer = "callscope"
	cfg.Auth.AccessTokenTTL = 15 * time.Minute
	cfg.Auth.AllowedOrigins = []string{"*"}

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.WebSocket.PingInterval = 30 * time.Second
	cfg.WebSocket.PongTimeout = 60 * time.Second
	cfg.WebSocket.SendBufferSize = 256
	cfg.WebSocket.MaxClients = 0

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("CALLSCOPE_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if id := os.Getenv("CALLSCOPE_INSTANCE_ID"); id != "" {
		c.Server.InstanceID = id
	}
	if level := os.Getenv("CALLSCOPE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("CALLSCOPE_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if addr := os.Getenv("CALLSCOPE_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
		c.Redis.Enabled = true
	}
	if v := os.Getenv("CALLSCOPE_RETENTION_PERIOD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Analytics.RetentionPeriod = d
		}
	}
	if v := os.Getenv("CALLSCOPE_TRACING_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Tracing.Enabled = enabled
		}
	}
}
