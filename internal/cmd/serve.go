package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/labgate/labgate/internal/config"
	errwrap "github.com/labgate/labgate/internal/errors"
	"github.com/labgate/labgate/internal/metrics"
	"github.com/labgate/labgate/internal/observability"
	"github.com/labgate/labgate/internal/server"
	"github.com/labgate/labgate/internal/server/handlers"
)

var (
	serverPort int
	serverHost string
)

// telemetryHealthChecker ensures telemetry system and exporter are available
type telemetryHealthChecker struct{}

func (telemetryHealthChecker) CheckHealth(ctx context.Context) error {
	if observability.TelemetrySystem == nil || observability.PrometheusExporter == nil {
		return errwrap.NewInternalError("telemetry system not initialized")
	}
	return nil
}

// registerReadCheckers adds the read-layer probes: governor cooldown makes
// the service degraded, an unbuildable endpoint pool or an unreachable
// snapshot store makes it unhealthy.
func registerReadCheckers(hm *handlers.HealthManager, rt *readRuntime, network string) {
	hm.RegisterChecker("rate_limit", handlers.CheckFunc(func(ctx context.Context) error {
		if remaining := rt.Governor.ShouldCooldown(); remaining > 0 {
			return fmt.Errorf("cooldown %s remaining: %w", remaining.Round(time.Second), handlers.ErrDegraded)
		}
		return nil
	}))
	hm.RegisterChecker("endpoints", handlers.CheckFunc(func(ctx context.Context) error {
		pool, err := rt.Registry.Get(ctx, network)
		if err != nil {
			return err
		}
		if len(pool.Endpoints) == 0 {
			return errwrap.NewConfigInvalidError("no ledger endpoints configured")
		}
		return nil
	}))
	if rt.Store != nil {
		hm.RegisterChecker("store", handlers.CheckFunc(func(ctx context.Context) error {
			return rt.Store.DB.PingContext(ctx)
		}))
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP gateway",
	Long: `Start the HTTP gateway with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit
  • SIGHUP: Re-read and validate the config file

The server will cleanly shut down the HTTP server, close the snapshot store
and flush logs on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "invalid configuration")
		}

		observability.InitServerLogger(config.AppName, cfg.Logging.Level, cfg.Ledger.Network)
		logger := observability.ServerLogger

		metricsPort := cfg.Metrics.Port
		if metricsPort == 0 {
			metricsPort = observability.DefaultMetricsPort
		}
		if cfg.Metrics.Enabled {
			if err := observability.InitMetrics(config.AppName, metricsPort, config.AppName); err != nil {
				logger.Error("Failed to initialize metrics", zap.Error(err))
				return errwrap.WrapInternal(cmd.Context(), err, "metrics initialization failed")
			}
			metrics.SetServerStartTime(time.Now().Unix())
		}

		rt, err := buildRuntime(cmd.Context(), cfg, logger)
		if err != nil {
			return errwrap.WrapConfigInvalid(cmd.Context(), err, "read layer initialization failed")
		}

		logger.Info("Initializing server",
			zap.String("service", config.AppName),
			zap.String("version", versionInfo.Version),
			zap.String("network", cfg.Ledger.Network),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port),
			zap.Int("metrics_port", metricsPort),
			zap.Bool("snapshot_store", rt.Store != nil))

		handlers.InitHealthManager(versionInfo.Version)
		hm := handlers.GetHealthManager()
		if cfg.Metrics.Enabled {
			hm.RegisterChecker("telemetry", telemetryHealthChecker{})
		}
		registerReadCheckers(hm, rt, cfg.Ledger.Network)

		srv := server.New(cfg.Server, rt.Service)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run LIFO: HTTP server, then store, then logger.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			if err := logger.Sync(); err != nil {
				// Sync errors are often benign (stdout/stderr already closed)
				logger.Warn("Logger sync returned error (may be benign)", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			if err := rt.Close(); err != nil {
				logger.Warn("Failed to close snapshot store", zap.Error(err))
			}
			return nil
		})

		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return errwrap.WrapInternal(ctx, err, "server shutdown failed")
			}

			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		signals.OnReload(func(ctx context.Context) error {
			logger.Info("Received SIGHUP: re-reading configuration")

			if err := appViper.ReadInConfig(); err != nil {
				if _, ok := err.(viper.ConfigFileNotFoundError); ok {
					logger.Info("No config file found - using defaults and environment variables")
					return nil
				}
				logger.Error("Failed to reload config file",
					zap.String("file", appViper.ConfigFileUsed()),
					zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}
			reloaded, err := loadConfig()
			if err != nil {
				logger.Error("Reloaded configuration is invalid", zap.Error(err))
				return errwrap.WrapConfigInvalid(ctx, err, "config reload failed")
			}

			rt.ReloadEndpoints(reloaded)
			logger.Info("Ledger endpoints reloaded; restart to apply server and read-layer settings",
				zap.String("file", appViper.ConfigFileUsed()))
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			return errwrap.WrapInternal(cmd.Context(), err, "server error")
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "localhost", "server host")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 8080, "server port")

	_ = appViper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = appViper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
}
