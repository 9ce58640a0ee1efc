package config

import (
	"fmt"
	"time"
)

// Config is the parsed configuration the core consumes. Loading, env overlay
// and validation happen in Load; everything downstream receives this struct
// already validated.
type Config struct {
	Logging   LoggingConfig    `yaml:"logging" mapstructure:"logging"`
	Auth      AuthConfig       `yaml:"auth" mapstructure:"auth"`
	Listen    ListenConfig     `yaml:"listen" mapstructure:"listen"`
	Providers []ProviderConfig `yaml:"providers" mapstructure:"providers"`
	Request   RequestConfig    `yaml:"request" mapstructure:"request"`
	Retry     RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Cache     CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Pool      PoolConfig       `yaml:"pool" mapstructure:"pool"`
	Breaker   BreakerConfig    `yaml:"breaker" mapstructure:"breaker"`
	Metrics   MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
	Workers   WorkersConfig    `yaml:"workers" mapstructure:"workers"`
}

// ListenConfig holds the HTTP bind settings.
type ListenConfig struct {
	BindAddress     string        `yaml:"bind_address" mapstructure:"bind_address"`
	Port            int           `yaml:"port" mapstructure:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	RequestLogging  bool          `yaml:"request_logging" mapstructure:"request_logging"`
}

// GetAddress returns the bind address in host:port form.
func (l *ListenConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", l.BindAddress, l.Port)
}

// ProviderConfig describes one upstream provider.
type ProviderConfig struct {
	Name       string        `yaml:"name" mapstructure:"name"`
	Kind       string        `yaml:"kind" mapstructure:"kind"`
	Endpoint   string        `yaml:"endpoint" mapstructure:"endpoint"`
	Credential string        `yaml:"credential" mapstructure:"credential"`
	GroupID    string        `yaml:"group_id" mapstructure:"group_id"`
	Models     []string      `yaml:"models" mapstructure:"models"`
	Priority   int           `yaml:"priority" mapstructure:"priority"`
	Timeout    time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries int           `yaml:"max_retries" mapstructure:"max_retries"`
	MaxRPS     float64       `yaml:"max_rps" mapstructure:"max_rps"`
}

// RequestConfig bounds inbound request handling.
type RequestConfig struct {
	MaxConcurrent  int           `yaml:"max_concurrent" mapstructure:"max_concurrent"`
	DefaultTimeout time.Duration `yaml:"default_timeout" mapstructure:"default_timeout"`
	MaxBodyBytes   int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// RetryConfig shapes the router's backoff between attempts.
type RetryConfig struct {
	BaseDelay      time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	JitterFraction float64       `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// CacheConfig bounds the response cache.
type CacheConfig struct {
	Enabled          bool          `yaml:"enabled" mapstructure:"enabled"`
	MaxEntries       int           `yaml:"max_entries" mapstructure:"max_entries"`
	MaxBytes         int64         `yaml:"max_bytes" mapstructure:"max_bytes"`
	DefaultTTL       time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	MaxTTL           time.Duration `yaml:"max_ttl" mapstructure:"max_ttl"`
	ScanInterval     time.Duration `yaml:"scan_interval" mapstructure:"scan_interval"`
	HitRateThreshold float64       `yaml:"hit_rate_threshold" mapstructure:"hit_rate_threshold"`
	AdaptiveTTL      bool          `yaml:"adaptive_ttl" mapstructure:"adaptive_ttl"`
}

// PoolConfig bounds the upstream connection pool.
type PoolConfig struct {
	MaxConnections      int           `yaml:"max_connections" mapstructure:"max_connections"`
	MaxAge              time.Duration `yaml:"max_age" mapstructure:"max_age"`
	IdleTimeout         time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxRequestsPerEntry int64         `yaml:"max_requests_per_entry" mapstructure:"max_requests_per_entry"`
	ReapInterval        time.Duration `yaml:"reap_interval" mapstructure:"reap_interval"`
}

// BreakerConfig tunes the per-provider circuit breakers.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" mapstructure:"recovery_timeout"`
	SuccessThreshold int           `yaml:"success_threshold" mapstructure:"success_threshold"`
}

// MetricsConfig tunes the aggregator, sampler and dashboard feed.
type MetricsConfig struct {
	SampleInterval    time.Duration `yaml:"sample_interval" mapstructure:"sample_interval"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval" mapstructure:"broadcast_interval"`
	HistoryPoints     int           `yaml:"history_points" mapstructure:"history_points"`
	MaxWSConnections  int           `yaml:"max_ws_connections" mapstructure:"max_ws_connections"`
	PongTimeout       time.Duration `yaml:"pong_timeout" mapstructure:"pong_timeout"`
}

// WorkersConfig tunes the supervisor's health surveillance.
type WorkersConfig struct {
	StaleActivityThreshold time.Duration `yaml:"stale_activity_threshold" mapstructure:"stale_activity_threshold"`
	HealthCheckInterval    time.Duration `yaml:"health_check_interval" mapstructure:"health_check_interval"`
	StopTimeout            time.Duration `yaml:"stop_timeout" mapstructure:"stop_timeout"`
}

// AuthConfig is the optional static bearer gate. Empty token disables auth.
type AuthConfig struct {
	BearerToken string `yaml:"bearer_token" mapstructure:"bearer_token"`
}

// LoggingConfig feeds the styled logger.
type LoggingConfig struct {
	Level      string `yaml:"level" mapstructure:"level"`
	Theme      string `yaml:"theme" mapstructure:"theme"`
	LogDir     string `yaml:"log_dir" mapstructure:"log_dir"`
	FileOutput bool   `yaml:"file_output" mapstructure:"file_output"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"`       // megabytes
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"` // files
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`         // days
}
