package config

import (
	"time"
)

// Config represents the complete gateway configuration. Values are layered:
// built-in defaults, then the YAML config file, then LABGATE_* environment
// variables.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Store   StoreConfig   `mapstructure:"store"`
	Read    ReadConfig    `mapstructure:"read"`
	Ledger  LedgerConfig  `mapstructure:"ledger"`
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Health  HealthConfig  `mapstructure:"health"`

	// RateLimits paces requests per provider name, in requests per minute.
	RateLimits      map[string]int `mapstructure:"rate_limits"`
	RateLimitMargin float64        `mapstructure:"rate_limit_margin"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StoreConfig contains database configuration for libsql/Turso. The store
// only holds cache snapshots; the gateway runs without it when Persist is off.
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
	Persist   bool   `mapstructure:"persist"`
}

// ReadConfig tunes the resilient read layer.
type ReadConfig struct {
	FreshTTL          time.Duration `mapstructure:"fresh_ttl"`
	ExtendedTTL       time.Duration `mapstructure:"extended_ttl"`
	RateLimitCooldown time.Duration `mapstructure:"rate_limit_cooldown"`
	BatchConcurrency  int           `mapstructure:"batch_concurrency"`
	BatchPause        time.Duration `mapstructure:"batch_pause"`
	ItemTimeout       time.Duration `mapstructure:"item_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	BaseDelay         time.Duration `mapstructure:"base_delay"`
	BackoffFactor     float64       `mapstructure:"backoff_factor"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	PoolTTL           time.Duration `mapstructure:"pool_ttl"`

	// FallbackDataset is an optional YAML file served when nothing else is.
	FallbackDataset string `mapstructure:"fallback_dataset"`
}

// LedgerConfig describes the upstream ledger networks.
type LedgerConfig struct {
	Network  string                   `mapstructure:"network"`
	Networks map[string]NetworkConfig `mapstructure:"networks"`

	// TierTimeouts are per-call timeouts for tiers 1..4.
	TierTimeouts []time.Duration `mapstructure:"tier_timeouts"`
}

// NetworkConfig lists the endpoints of one network by tier.
type NetworkConfig struct {
	Premium    []ProviderConfig `mapstructure:"premium"`
	HTTP       []ProviderConfig `mapstructure:"http"`
	PublicURL  string           `mapstructure:"public_url"`
	DefaultURL string           `mapstructure:"default_url"`
}

// ProviderConfig is one RPC provider. A URL may contain {api_key}, which is
// substituted with APIKey.
type ProviderConfig struct {
	Name      string `mapstructure:"name"`
	URL       string `mapstructure:"url"`
	APIKey    string `mapstructure:"api_key"`
	Weight    int    `mapstructure:"weight"`
	RateLimit int    `mapstructure:"rate_limit"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated exporter port; /metrics on the main port proxies it.
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ActiveNetwork returns the configuration of the selected network.
func (c *Config) ActiveNetwork() (NetworkConfig, bool) {
	if c == nil {
		return NetworkConfig{}, false
	}
	network, ok := c.Ledger.Networks[c.Ledger.Network]
	return network, ok
}
