package endpoint

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/fulmenhq/gofulmen/logging"
	"go.uber.org/zap"

	"github.com/labgate/labgate/internal/config"
	"github.com/labgate/labgate/internal/core"
)

// Endpoint tiers, most preferred first.
const (
	TierPremium = 1
	TierHTTP    = 2
	TierPublic  = 3
	TierDefault = 4
)

const apiKeyPlaceholder = "{api_key}"

// FromConfig returns a BuildFunc reading networks from ledger. Providers
// whose URL is unusable or lacks a required api key are skipped with a
// warning rather than failing the whole pool.
func FromConfig(ledger config.LedgerConfig, logger *logging.Logger) BuildFunc {
	return func(ctx context.Context, network string) ([]core.EndpointDescriptor, error) {
		netCfg, ok := ledger.Networks[network]
		if !ok {
			return nil, fmt.Errorf("network %q is not configured: %w", network, core.ErrNoEndpointsAvailable)
		}
		return Descriptors(netCfg, ledger, logger), nil
	}
}

// Descriptors builds the endpoint list of one network.
func Descriptors(netCfg config.NetworkConfig, ledger config.LedgerConfig, logger *logging.Logger) []core.EndpointDescriptor {
	var endpoints []core.EndpointDescriptor
	seen := make(map[string]bool)

	add := func(name, rawURL, apiKey string, tier, weight int) {
		address, err := resolveURL(rawURL, apiKey)
		if err != nil {
			if logger != nil {
				logger.Warn("Skipping endpoint",
					zap.String("endpoint", name),
					zap.Int("tier", tier),
					zap.Error(err))
			}
			return
		}
		if seen[address] {
			return
		}
		seen[address] = true

		endpoints = append(endpoints, core.EndpointDescriptor{
			Name:           name,
			Address:        address,
			Tier:           tier,
			Weight:         weight,
			PerCallTimeout: ledger.TierTimeout(tier),
		})
	}

	for _, provider := range netCfg.Premium {
		add(providerName(provider, "premium"), provider.URL, provider.APIKey, TierPremium, provider.Weight)
	}
	for _, provider := range netCfg.HTTP {
		add(providerName(provider, "http"), provider.URL, provider.APIKey, TierHTTP, provider.Weight)
	}
	if strings.TrimSpace(netCfg.PublicURL) != "" {
		add("public", netCfg.PublicURL, "", TierPublic, 1)
	}
	if strings.TrimSpace(netCfg.DefaultURL) != "" {
		add("default", netCfg.DefaultURL, "", TierDefault, 1)
	}
	return endpoints
}

// RateLimits collects the per-provider pacing limits declared on a network.
func RateLimits(netCfg config.NetworkConfig) map[string]int {
	limits := make(map[string]int)
	for _, group := range [][]config.ProviderConfig{netCfg.Premium, netCfg.HTTP} {
		for _, provider := range group {
			if provider.RateLimit > 0 && strings.TrimSpace(provider.Name) != "" {
				limits[provider.Name] = provider.RateLimit
			}
		}
	}
	return limits
}

func providerName(provider config.ProviderConfig, fallback string) string {
	if name := strings.TrimSpace(provider.Name); name != "" {
		return name
	}
	if parsed, err := url.Parse(strings.TrimSpace(provider.URL)); err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return fallback
}

func resolveURL(rawURL, apiKey string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return "", fmt.Errorf("empty url")
	}
	if strings.Contains(rawURL, apiKeyPlaceholder) {
		if strings.TrimSpace(apiKey) == "" {
			return "", fmt.Errorf("url requires an api key")
		}
		rawURL = strings.ReplaceAll(rawURL, apiKeyPlaceholder, url.PathEscape(strings.TrimSpace(apiKey)))
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("url has no host")
	}
	return rawURL, nil
}
