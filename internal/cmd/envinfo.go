package cmd

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/labgate/labgate/internal/config"
	"github.com/labgate/labgate/internal/core/endpoint"
	"github.com/labgate/labgate/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, configuration, endpoint and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		version := crucible.GetVersion()

		log.Info("=== labgate Environment Information ===")
		log.Info("")

		log.Info("Application:")
		log.Info("  Name:       " + config.AppName)
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("")

		log.Info("SSOT:")
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		log.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		log.Info(fmt.Sprintf("  NumCPU:     %d", runtime.NumCPU()), zap.Int("num_cpu", runtime.NumCPU()))
		log.Info("")

		cfg, err := loadConfig()
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return
		}

		configFile := appViper.ConfigFileUsed()
		if configFile == "" {
			configFile = config.DefaultConfigPath() + " (not found)"
		}

		log.Info("Configuration:")
		log.Info("  Config File:    "+configFile, zap.String("config_file", configFile))
		log.Info("  Server:         "+fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port))
		log.Info("  Log Level:      "+cfg.Logging.Level, zap.String("log_level", cfg.Logging.Level))
		log.Info(fmt.Sprintf("  Metrics Port:   %d", cfg.Metrics.Port), zap.Int("metrics_port", cfg.Metrics.Port))
		log.Info(fmt.Sprintf("  Persist:        %t", cfg.Store.Persist))
		log.Info("  Store:          "+storeLocation(cfg.Store), zap.String("db_driver", cfg.Store.Driver))
		log.Info("")

		log.Info("Read Layer:")
		log.Info("  Fresh TTL:      " + cfg.Read.FreshTTL.String())
		log.Info("  Extended TTL:   " + cfg.Read.ExtendedTTL.String())
		log.Info("  Cooldown:       " + cfg.Read.RateLimitCooldown.String())
		log.Info(fmt.Sprintf("  Batch:          %d per window, %s pause, %s per item",
			cfg.Read.BatchConcurrency, cfg.Read.BatchPause, cfg.Read.ItemTimeout))
		log.Info(fmt.Sprintf("  Retries:        %d (base %s, factor %.1f, cap %s)",
			cfg.Read.MaxRetries, cfg.Read.BaseDelay, cfg.Read.BackoffFactor, cfg.Read.MaxDelay))
		if cfg.Read.FallbackDataset != "" {
			log.Info("  Fallback:       " + cfg.Read.FallbackDataset)
		}
		log.Info("")

		log.Info("Ledger:")
		log.Info("  Network:        "+cfg.Ledger.Network, zap.String("network", cfg.Ledger.Network))
		network, ok := cfg.ActiveNetwork()
		if !ok {
			log.Info("  (network not configured)")
		} else {
			for _, ep := range endpoint.Descriptors(network, cfg.Ledger, nil) {
				log.Info(fmt.Sprintf("  tier %d  %-12s %s (timeout %s)", ep.Tier, ep.Name, redactURL(ep.Address), ep.PerCallTimeout))
			}
		}
		if len(cfg.RateLimits) > 0 {
			names := make([]string, 0, len(cfg.RateLimits))
			for name := range cfg.RateLimits {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				log.Info(fmt.Sprintf("  pace %-12s %d/min", name, cfg.RateLimits[name]))
			}
		}
		log.Info("")

		log.Info("=== End Environment Information ===")
	},
}

// redactURL hides everything after the host, where provider keys live.
func redactURL(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	host, path, _ := strings.Cut(rest, "/")
	if path == "" {
		return raw
	}
	return scheme + "://" + host + "/…"
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
