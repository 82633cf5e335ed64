package config

import (
	"context"
	"fmt"

	"github.com/marmos91/agrisync/internal/logger"
	"github.com/marmos91/agrisync/pkg/engine"
	"github.com/marmos91/agrisync/pkg/metrics"
	"github.com/marmos91/agrisync/pkg/provider"
	"github.com/marmos91/agrisync/pkg/queue"
	"github.com/marmos91/agrisync/pkg/syncer"
)

// InitializeEngine creates a fully configured Engine from the provided
// configuration.
//
// This function orchestrates the complete initialization process:
//  1. Builds the category policies and the device key store
//  2. Creates the remote provider (with per-category routes)
//  3. Creates the connectivity monitor
//  4. Opens the storage backend and the engine on top of it
//
// The returned runner, when non-nil, must be started by the caller to keep
// the connectivity class current. m may be nil.
//
// Example:
//
//	cfg, _ := config.Load("config.yaml")
//	eng, run, err := config.InitializeEngine(ctx, cfg, nil)
//	if err != nil {
//	    log.Fatalf("Failed to initialize engine: %v", err)
//	}
func InitializeEngine(ctx context.Context, cfg *Config, m *metrics.Metrics) (*engine.Engine, MonitorRunner, error) {
	if cfg == nil {
		return nil, nil, fmt.Errorf("configuration is nil")
	}
	logger.Debug("Initializing engine from configuration")

	policies, err := BuildPolicies(cfg.Categories)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid category policies: %w", err)
	}

	keys, err := CreateKeyStore(cfg.Encryption)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open device key: %w", err)
	}

	remote, err := CreateProvider(ctx, cfg.Providers)
	if err != nil {
		return nil, nil, err
	}

	monitor, run, err := CreateMonitor(cfg.Connectivity)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create connectivity monitor: %w", err)
	}

	backend, err := CreateBackend(cfg.Storage)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open storage backend: %w", err)
	}

	eng, err := engine.Open(ctx, engine.Options{
		Backend:  backend,
		KeyStore: keys,
		Provider: remote,
		Monitor:  monitor,
		Metrics:  m,
		Budget:   int64(cfg.Storage.Budget),
		Policies: policies,
		Queue: queue.Config{
			Backoff:     queue.Backoff{Base: cfg.Queue.BaseDelay, Max: cfg.Queue.MaxDelay},
			MaxAttempts: cfg.Queue.MaxAttempts,
		},
		Sync: syncer.Config{
			BatchLimit:       cfg.Sync.BatchLimit,
			Interval:         cfg.Sync.Interval,
			EvictionInterval: cfg.Storage.EvictionInterval,
			Credentials: provider.Credentials{
				Token:   cfg.Credentials.Token,
				Headers: cfg.Credentials.Headers,
			},
		},
		RefreshOnRead:   cfg.Sync.RefreshesOnRead(),
		DeleteDeadline:  cfg.DeleteDeadline,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	if err != nil {
		_ = backend.Close()
		return nil, nil, fmt.Errorf("failed to open engine: %w", err)
	}

	logger.Info("Engine initialized",
		logger.KeyBackend, cfg.Storage.Backend,
		logger.KeyBudgetBytes, int64(cfg.Storage.Budget),
		logger.KeyProvider, cfg.Providers.Default,
		"connectivity_mode", cfg.Connectivity.Mode)

	return eng, run, nil
}
