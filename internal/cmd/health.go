package cmd

import (
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/labgate/labgate/internal/core/endpoint"
	errwrap "github.com/labgate/labgate/internal/errors"
	"github.com/labgate/labgate/internal/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Run a self-health check to verify the gateway can start: version, logger, configuration and ledger endpoints.",
	Run: func(cmd *cobra.Command, args []string) {
		if observability.CLILogger == nil {
			ExitWithCodeStderr(foundry.ExitConfigInvalid, "Logger not initialized", errwrap.NewConfigInvalidError("Logger not initialized"))
			return
		}
		log := observability.CLILogger
		log.Info("Running health check...")

		if versionInfo.Version == "" {
			log.Error("❌ FAIL: Version information missing")
			ExitWithCode(log, foundry.ExitConfigInvalid, "Version information missing", errwrap.NewConfigInvalidError("Version information missing"))
			return
		}
		log.Debug("Version check passed", zap.String("version", versionInfo.Version))
		log.Info("✅ Version information available")
		log.Info("✅ Logger initialized")

		cfg, err := loadConfig()
		if err != nil {
			log.Error("❌ FAIL: Configuration invalid")
			ExitWithCode(log, foundry.ExitConfigInvalid, "Configuration invalid", errwrap.WrapConfigInvalid(cmd.Context(), err, "configuration invalid"))
			return
		}
		log.Info("✅ Configuration valid")

		network, ok := cfg.ActiveNetwork()
		if !ok {
			log.Error("❌ FAIL: Ledger network not configured", zap.String("network", cfg.Ledger.Network))
			ExitWithCode(log, foundry.ExitConfigInvalid, "Ledger network not configured", errwrap.NewConfigInvalidError("ledger network "+cfg.Ledger.Network+" is not configured"))
			return
		}
		endpoints := endpoint.Descriptors(network, cfg.Ledger, log)
		if len(endpoints) == 0 {
			log.Error("❌ FAIL: No usable ledger endpoints", zap.String("network", cfg.Ledger.Network))
			ExitWithCode(log, foundry.ExitConfigInvalid, "No usable ledger endpoints", errwrap.NewConfigInvalidError("no usable ledger endpoints"))
			return
		}
		log.Info("✅ Ledger endpoints resolved", zap.Int("count", len(endpoints)))

		log.Info("")
		log.Info("✅ All health checks passed")
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
