// Package config provides centralized configuration management for labgate.
// Defaults are registered on a viper instance, which also reads the YAML
// config file and LABGATE_* environment variables; the merged settings are
// decoded into Config with mapstructure.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Application identity used for paths and the environment prefix.
const (
	AppName   = "labgate"
	EnvPrefix = "LABGATE"
)

var (
	appConfig *Config
	configMu  sync.RWMutex
)

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("logging.level", "info")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")
	v.SetDefault("store.persist", true)

	// Read layer defaults
	v.SetDefault("read.fresh_ttl", "30s")
	v.SetDefault("read.extended_ttl", "10m")
	v.SetDefault("read.rate_limit_cooldown", "10s")
	v.SetDefault("read.batch_concurrency", 4)
	v.SetDefault("read.batch_pause", "100ms")
	v.SetDefault("read.item_timeout", "15s")
	v.SetDefault("read.max_retries", 2)
	v.SetDefault("read.base_delay", "500ms")
	v.SetDefault("read.backoff_factor", 2.0)
	v.SetDefault("read.max_delay", "10s")
	v.SetDefault("read.pool_ttl", "24h")
	v.SetDefault("read.fallback_dataset", "")

	// Ledger defaults
	v.SetDefault("ledger.network", "sepolia")
	v.SetDefault("ledger.tier_timeouts", []string{"1.5s", "2s", "2.5s", "3s"})

	v.SetDefault("rate_limits", map[string]int{})
	v.SetDefault("rate_limit_margin", 0.9)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("health.enabled", true)
}

// NewViper returns a viper instance with defaults and environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	BindEnv(v)
	return v
}

// BindEnv maps LABGATE_SECTION_KEY environment variables onto section.key.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes the merged settings of v into a validated Config and makes it
// the current configuration.
func Load(v *viper.Viper) (*Config, error) {
	if v == nil {
		v = NewViper()
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	normalize(cfg)
	applyProviderKeyOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	setConfig(cfg)
	return cfg, nil
}

// Validate checks the settings the read layer cannot run without.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Read.FreshTTL <= 0 {
		return fmt.Errorf("read.fresh_ttl must be positive")
	}
	if cfg.Read.ExtendedTTL < cfg.Read.FreshTTL {
		return fmt.Errorf("read.extended_ttl (%s) must not be shorter than read.fresh_ttl (%s)",
			cfg.Read.ExtendedTTL, cfg.Read.FreshTTL)
	}
	if cfg.Read.BatchConcurrency <= 0 {
		return fmt.Errorf("read.batch_concurrency must be positive")
	}
	if cfg.Read.MaxRetries < 0 {
		return fmt.Errorf("read.max_retries must not be negative")
	}
	if cfg.Read.BackoffFactor < 1 {
		return fmt.Errorf("read.backoff_factor must be at least 1")
	}
	if cfg.RateLimitMargin <= 0 || cfg.RateLimitMargin > 1 {
		return fmt.Errorf("rate_limit_margin must be within (0, 1]")
	}
	for i, timeout := range cfg.Ledger.TierTimeouts {
		if timeout <= 0 {
			return fmt.Errorf("ledger.tier_timeouts[%d] must be positive", i)
		}
	}
	return nil
}

// TierTimeout returns the per-call timeout for tier (1-based). Tiers beyond
// the configured list reuse the last entry.
func (l LedgerConfig) TierTimeout(tier int) time.Duration {
	if len(l.TierTimeouts) == 0 {
		return 0
	}
	index := tier - 1
	if index < 0 {
		index = 0
	}
	if index >= len(l.TierTimeouts) {
		index = len(l.TierTimeouts) - 1
	}
	return l.TierTimeouts[index]
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

func normalize(cfg *Config) {
	cfg.Ledger.Network = strings.ToLower(strings.TrimSpace(cfg.Ledger.Network))

	if len(cfg.Ledger.Networks) > 0 {
		networks := make(map[string]NetworkConfig, len(cfg.Ledger.Networks))
		for name, network := range cfg.Ledger.Networks {
			networks[strings.ToLower(strings.TrimSpace(name))] = network
		}
		cfg.Ledger.Networks = networks
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
}

// applyProviderKeyOverrides fills provider api keys from
// LABGATE_<PROVIDER>_API_KEY so secrets stay out of config files.
func applyProviderKeyOverrides(cfg *Config) {
	for name, network := range cfg.Ledger.Networks {
		for i := range network.Premium {
			applyProviderKey(&network.Premium[i])
		}
		for i := range network.HTTP {
			applyProviderKey(&network.HTTP[i])
		}
		cfg.Ledger.Networks[name] = network
	}
}

func applyProviderKey(provider *ProviderConfig) {
	key := ProviderKeyEnv(provider.Name)
	if key == "" {
		return
	}
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		provider.APIKey = value
	}
}

// ProviderKeyEnv returns the environment variable holding a provider's api key.
func ProviderKeyEnv(provider string) string {
	slug := strings.ToUpper(strings.TrimSpace(provider))
	slug = strings.NewReplacer("-", "_", " ", "_", ".", "_").Replace(slug)
	if slug == "" {
		return ""
	}
	return EnvPrefix + "_" + slug + "_API_KEY"
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(AppName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultStorePath returns the XDG-compliant path to the snapshot database.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(AppName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + AppName + ".db"
	}
	return filepath.Join(dataDir, AppName+".db")
}
