package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultPort        = 18920
	DefaultBindAddress = "localhost"

	envPrefix  = "SWITCHBOARD"
	envCfgFile = "SWITCHBOARD_CONFIG_FILE"
)

// DefaultConfig returns a configuration with sensible defaults. Providers are
// deliberately empty; a gateway with nothing to route to refuses to start.
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{
			BindAddress:     DefaultBindAddress,
			Port:            DefaultPort,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0, // long-running streams, see docs
			ShutdownTimeout: 10 * time.Second,
		},
		Request: RequestConfig{
			MaxConcurrent:  256,
			DefaultTimeout: 2 * time.Minute,
			MaxBodyBytes:   10 << 20,
		},
		Retry: RetryConfig{
			BaseDelay:      200 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			JitterFraction: 0.2,
		},
		Cache: CacheConfig{
			Enabled:          true,
			MaxEntries:       2048,
			MaxBytes:         64 << 20,
			DefaultTTL:       5 * time.Minute,
			MaxTTL:           30 * time.Minute,
			ScanInterval:     time.Minute,
			HitRateThreshold: 0.0, // cold-entry sweep off by default
		},
		Pool: PoolConfig{
			MaxConnections:      64,
			MaxAge:              10 * time.Minute,
			IdleTimeout:         90 * time.Second,
			MaxRequestsPerEntry: 1000,
			ReapInterval:        30 * time.Second,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			SuccessThreshold: 2,
		},
		Metrics: MetricsConfig{
			SampleInterval:    time.Minute,
			BroadcastInterval: 2 * time.Second,
			HistoryPoints:     60,
			MaxWSConnections:  32,
			PongTimeout:       30 * time.Second,
		},
		Workers: WorkersConfig{
			StaleActivityThreshold: 5 * time.Minute,
			HealthCheckInterval:    time.Minute,
			StopTimeout:            5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Theme:      "default",
			LogDir:     "./logs",
			FileOutput: false,
			MaxSize:    20,
			MaxBackups: 5,
			MaxAge:     14,
		},
	}
}

// Load reads configuration from file and environment variables, then
// validates. The rest of the system only ever sees the returned struct.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if configFile := os.Getenv(envCfgFile); configFile != "" {
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the core cannot run with. Exit code 1
// territory; nothing here is recoverable at runtime.
func (c *Config) Validate() error {
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if c.Request.MaxConcurrent <= 0 {
		return fmt.Errorf("request.max_concurrent must be positive")
	}
	if c.Pool.MaxConnections <= 0 {
		return fmt.Errorf("pool.max_connections must be positive")
	}
	if c.Cache.MaxTTL > 0 && c.Cache.DefaultTTL > c.Cache.MaxTTL {
		return fmt.Errorf("cache.default_ttl %s exceeds cache.max_ttl %s", c.Cache.DefaultTTL, c.Cache.MaxTTL)
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		return fmt.Errorf("retry.jitter_fraction %f out of range [0,1]", c.Retry.JitterFraction)
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be positive")
	}
	if c.Breaker.SuccessThreshold <= 0 {
		return fmt.Errorf("breaker.success_threshold must be positive")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if p.Name == "" {
			return fmt.Errorf("providers[%d]: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
		if p.Endpoint == "" {
			return fmt.Errorf("provider %s: endpoint is required", p.Name)
		}
		if len(p.Models) == 0 {
			return fmt.Errorf("provider %s: at least one model is required", p.Name)
		}
		if p.Timeout <= 0 {
			p.Timeout = 60 * time.Second
		}
		if p.MaxRetries < 0 {
			return fmt.Errorf("provider %s: max_retries must be non-negative", p.Name)
		}
		// same default the admin API applies; an omitted max_retries must not
		// silently disable failover
		if p.MaxRetries == 0 {
			p.MaxRetries = 2
		}
	}

	return nil
}
