package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/agrisync/internal/logger"
	"github.com/marmos91/agrisync/internal/telemetry"
	"github.com/marmos91/agrisync/pkg/api"
	"github.com/marmos91/agrisync/pkg/config"
	"github.com/marmos91/agrisync/pkg/metrics"
)

var pidFile string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the sync daemon",
	Long: `Start the agrisync daemon in the foreground.

The daemon opens the local store, watches connectivity, drains the
operation queue in the background and serves the local API. Run it under a
process supervisor (systemd, an Android foreground service, ...).

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/agrisync/config.yaml.

Examples:
  # Start with the default config
  agrisync start

  # Start with custom config file
  agrisync start --config /etc/agrisync/config.yaml

  # Start with environment variable overrides
  AGRISYNC_LOGGING_LEVEL=DEBUG agrisync start`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().StringVar(&pidFile, "pid-file", "", "Path to PID file")
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "agrisync",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "agrisync",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
		Tags:           cfg.Telemetry.Profiling.Tags,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize profiling: %w", err)
	}
	defer func() {
		if err := profilingShutdown(); err != nil {
			logger.Error("profiling shutdown error", logger.KeyError, err)
		}
	}()

	fmt.Printf("agrisync %s - offline cache and sync engine\n", Version)
	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", getConfigSource(GetConfigFile()))
	if telemetry.IsEnabled() {
		logger.Info("Telemetry enabled", "endpoint", cfg.Telemetry.Endpoint, "sample_rate", cfg.Telemetry.SampleRate)
	} else {
		logger.Info("Telemetry disabled")
	}

	var (
		m              *metrics.Metrics
		metricsHandler http.Handler
	)
	if cfg.Metrics.Enabled {
		reg := metrics.NewRegistry()
		m = metrics.NewMetrics(reg)
		metricsHandler = metrics.Handler(reg)
		logger.Info("Metrics enabled", "path", "/metrics")
	} else {
		logger.Info("Metrics collection disabled")
	}

	eng, runMonitor, err := config.InitializeEngine(ctx, cfg, m)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Error("Engine shutdown error", logger.KeyError, err)
		}
	}()

	if runMonitor != nil {
		go runMonitor(ctx)
	}
	eng.Start(ctx)

	if pidFile != "" {
		if err := os.WriteFile(pidFile, []byte(fmt.Sprintf("%d", os.Getpid())), 0644); err != nil {
			return fmt.Errorf("failed to write PID file: %w", err)
		}
		defer func() { _ = os.Remove(pidFile) }()
	}

	serverDone := make(chan error, 1)
	if cfg.API.IsEnabled() {
		apiServer := api.NewServer(cfg.API, eng, api.RouterOptions{
			FetchTimeout: cfg.Sync.FetchTimeout,
			Metrics:      metricsHandler,
		})
		logger.Info("API server enabled", "addr", cfg.API.Addr())
		go func() {
			serverDone <- apiServer.Start(ctx)
		}()
	} else {
		logger.Info("API server disabled")
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Daemon is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()

		if cfg.API.IsEnabled() {
			if err := <-serverDone; err != nil {
				logger.Error("API server shutdown error", logger.KeyError, err)
				return err
			}
		}
		logger.Info("Daemon stopped gracefully")

	case err := <-serverDone:
		signal.Stop(sigChan)
		cancel()
		if err != nil {
			logger.Error("API server error", logger.KeyError, err)
			return err
		}
		logger.Info("Daemon stopped")
	}

	return nil
}
