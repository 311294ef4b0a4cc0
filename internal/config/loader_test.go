package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
ledger:
  network: Sepolia
  networks:
    sepolia:
      premium:
        - name: alchemy
          url: https://eth-sepolia.example.com/v2/{api_key}
          weight: 3
          rate_limit: 600
      http:
        - name: infura-public
          url: https://sepolia.example.org
      public_url: https://rpc.sepolia.example.net
      default_url: https://default.sepolia.example.net
read:
  fresh_ttl: 45s
  batch_concurrency: 8
rate_limits:
  alchemy: 300
`

func loadYAML(t *testing.T, raw string) *Config {
	t.Helper()

	v := NewViper()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewBufferString(raw)))

	cfg, err := Load(v)
	require.NoError(t, err)
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	cfg, err := Load(NewViper())
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "libsql", cfg.Store.Driver)
	assert.Equal(t, filepath.Join(gfconfig.GetAppDataDir(AppName), AppName+".db"), cfg.Store.Path)
	assert.True(t, cfg.Store.Persist)

	assert.Equal(t, 30*time.Second, cfg.Read.FreshTTL)
	assert.Equal(t, 10*time.Minute, cfg.Read.ExtendedTTL)
	assert.Equal(t, 10*time.Second, cfg.Read.RateLimitCooldown)
	assert.Equal(t, 4, cfg.Read.BatchConcurrency)
	assert.Equal(t, 100*time.Millisecond, cfg.Read.BatchPause)
	assert.Equal(t, 15*time.Second, cfg.Read.ItemTimeout)
	assert.Equal(t, 2, cfg.Read.MaxRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Read.BaseDelay)
	assert.Equal(t, 2.0, cfg.Read.BackoffFactor)
	assert.Equal(t, 24*time.Hour, cfg.Read.PoolTTL)

	assert.Equal(t, "sepolia", cfg.Ledger.Network)
	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 2 * time.Second, 2500 * time.Millisecond, 3 * time.Second}, cfg.Ledger.TierTimeouts)
	assert.Equal(t, 0.9, cfg.RateLimitMargin)
	assert.Same(t, cfg, GetConfig())
}

func TestLoadNetworksFromYAML(t *testing.T) {
	cfg := loadYAML(t, sampleYAML)

	network, ok := cfg.ActiveNetwork()
	require.True(t, ok)
	require.Len(t, network.Premium, 1)
	assert.Equal(t, "alchemy", network.Premium[0].Name)
	assert.Equal(t, 3, network.Premium[0].Weight)
	assert.Equal(t, 600, network.Premium[0].RateLimit)
	require.Len(t, network.HTTP, 1)
	assert.Equal(t, "https://rpc.sepolia.example.net", network.PublicURL)
	assert.Equal(t, "https://default.sepolia.example.net", network.DefaultURL)

	assert.Equal(t, 45*time.Second, cfg.Read.FreshTTL)
	assert.Equal(t, 8, cfg.Read.BatchConcurrency)
	assert.Equal(t, 300, cfg.RateLimits["alchemy"])
}

func TestProviderKeyFromEnvironment(t *testing.T) {
	t.Setenv("LABGATE_ALCHEMY_API_KEY", "secret-key")

	cfg := loadYAML(t, sampleYAML)
	network, ok := cfg.ActiveNetwork()
	require.True(t, ok)
	assert.Equal(t, "secret-key", network.Premium[0].APIKey)
	assert.Empty(t, network.HTTP[0].APIKey)
}

func TestEnvironmentOverridesReadSettings(t *testing.T) {
	t.Setenv("LABGATE_READ_FRESH_TTL", "5s")
	t.Setenv("LABGATE_READ_MAX_RETRIES", "4")

	cfg, err := Load(NewViper())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Read.FreshTTL)
	assert.Equal(t, 4, cfg.Read.MaxRetries)
}

func TestValidateRejectsInvertedTTLs(t *testing.T) {
	v := NewViper()
	v.Set("read.fresh_ttl", "10m")
	v.Set("read.extended_ttl", "1m")

	_, err := Load(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extended_ttl")
}

func TestValidateRejectsBadMargin(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	for _, margin := range []float64{1.5, 0, -0.2} {
		v.Set("rate_limit_margin", margin)
		_, err := Load(v)
		require.Error(t, err, "margin %v", margin)
		assert.Contains(t, err.Error(), "rate_limit_margin")
	}

	v.Set("rate_limit_margin", 1)
	_, err := Load(v)
	require.NoError(t, err)
}

func TestTierTimeout(t *testing.T) {
	ledger := LedgerConfig{TierTimeouts: []time.Duration{time.Second, 2 * time.Second}}
	assert.Equal(t, time.Second, ledger.TierTimeout(1))
	assert.Equal(t, 2*time.Second, ledger.TierTimeout(2))
	assert.Equal(t, 2*time.Second, ledger.TierTimeout(4))
	assert.Equal(t, time.Duration(0), LedgerConfig{}.TierTimeout(1))
}

func TestProviderKeyEnv(t *testing.T) {
	assert.Equal(t, "LABGATE_QUICK_NODE_API_KEY", ProviderKeyEnv("quick-node"))
	assert.Equal(t, "", ProviderKeyEnv("  "))
}
