package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/marmos91/agrisync/internal/logger"
	"github.com/marmos91/agrisync/pkg/cache"
	"github.com/marmos91/agrisync/pkg/connectivity"
	"github.com/marmos91/agrisync/pkg/keystore"
	"github.com/marmos91/agrisync/pkg/provider"
	"github.com/marmos91/agrisync/pkg/provider/httpprovider"
	"github.com/marmos91/agrisync/pkg/provider/s3provider"
	"github.com/marmos91/agrisync/pkg/storage"
	"github.com/marmos91/agrisync/pkg/storage/badger"
	"github.com/marmos91/agrisync/pkg/storage/memory"
	"github.com/marmos91/agrisync/pkg/storage/sqlite"
)

// CreateBackend opens the durable backend selected by cfg.Backend.
func CreateBackend(cfg StorageConfig) (storage.Store, error) {
	logger.Debug("Creating storage backend", logger.KeyBackend, cfg.Backend, logger.KeyPath, cfg.Path)

	switch strings.ToLower(cfg.Backend) {
	case "badger":
		return badger.New(badger.Config{Path: cfg.Path, SyncWrites: cfg.SyncWrites})
	case "sqlite":
		return sqlite.New(sqlite.Config{Path: cfg.Path})
	case "memory":
		logger.Warn("Using the in-memory backend: cached data is lost on restart")
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", cfg.Backend)
	}
}

// CreateKeyStore returns the device key store. A passphrase in the
// environment variable named by PassphraseEnv takes precedence over the key
// file, which is created on first use.
func CreateKeyStore(cfg EncryptionConfig) (keystore.KeyStore, error) {
	if cfg.PassphraseEnv != "" {
		passphrase := os.Getenv(cfg.PassphraseEnv)
		if passphrase == "" {
			return nil, fmt.Errorf("environment variable %s is empty", cfg.PassphraseEnv)
		}
		logger.Debug("Deriving device key from passphrase", logger.KeyPath, cfg.SaltPath)
		return keystore.FromPassphrase([]byte(passphrase), cfg.SaltPath)
	}

	if cfg.KeyPath == "" {
		return nil, fmt.Errorf("encryption key_path is required")
	}
	logger.Debug("Loading device key", logger.KeyPath, cfg.KeyPath)
	return keystore.LoadOrCreateKeyFile(cfg.KeyPath)
}

// BuildPolicies merges the category overrides into the built-in policies.
// The profile category always keeps the protected priority.
func BuildPolicies(overrides map[string]CategoryConfig) (cache.Policies, error) {
	policies := cache.DefaultPolicies()
	for name, o := range overrides {
		category, err := cache.ParseCategory(name)
		if err != nil {
			return nil, err
		}

		pol := policies[category]
		if o.Priority != 0 && category != cache.CategoryProfile {
			pol.Priority = o.Priority
		}
		if o.Freshness != 0 {
			pol.Freshness = o.Freshness
		}
		if o.Encrypt {
			pol.Encrypt = true
		}
		policies[category] = pol
	}
	return policies, nil
}

// CreateProvider builds the remote provider. Each provider named by the
// default or a route is constructed once and shared.
func CreateProvider(ctx context.Context, cfg ProvidersConfig) (provider.Provider, error) {
	built := make(map[string]provider.Provider)
	get := func(name string) (provider.Provider, error) {
		if p, ok := built[name]; ok {
			return p, nil
		}
		p, err := createProvider(ctx, name, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s provider: %w", name, err)
		}
		built[name] = p
		return p, nil
	}

	def, err := get(cfg.Default)
	if err != nil {
		return nil, err
	}
	if len(cfg.Routes) == 0 {
		return def, nil
	}

	mux := &provider.Mux{Routes: make(map[cache.Category]provider.Provider), Default: def}
	for name, target := range cfg.Routes {
		category, err := cache.ParseCategory(name)
		if err != nil {
			return nil, err
		}
		p, err := get(target)
		if err != nil {
			return nil, err
		}
		mux.Routes[category] = p
		logger.Debug("Routed category", logger.KeyCategory, category, logger.KeyProvider, target)
	}
	return mux, nil
}

func createProvider(ctx context.Context, name string, cfg ProvidersConfig) (provider.Provider, error) {
	switch strings.ToLower(name) {
	case "http":
		return httpprovider.New(httpprovider.Config{
			BaseURL:    cfg.HTTP.BaseURL,
			Timeout:    cfg.HTTP.Timeout,
			UserAgent:  cfg.HTTP.UserAgent,
			MaxPayload: int64(cfg.HTTP.MaxPayload),
		})
	case "s3":
		client, err := s3provider.NewClient(ctx, s3provider.ClientConfig{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			ForcePathStyle:  cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return s3provider.New(s3provider.Config{
			Client: client,
			Bucket: cfg.S3.Bucket,
			Prefix: cfg.S3.Prefix,
		})
	default:
		return nil, fmt.Errorf("unknown provider: %q", name)
	}
}

// MonitorRunner drives a connectivity monitor until ctx is done. It is nil
// for the static mode.
type MonitorRunner func(ctx context.Context)

// CreateMonitor builds the connectivity monitor selected by cfg.Mode.
func CreateMonitor(cfg ConnectivityConfig) (connectivity.Monitor, MonitorRunner, error) {
	switch strings.ToLower(cfg.Mode) {
	case "static", "":
		class := connectivity.Normal
		if cfg.Class != "" {
			c, err := connectivity.ParseClass(cfg.Class)
			if err != nil {
				return nil, nil, err
			}
			class = c
		}
		return connectivity.NewStatic(class), nil, nil
	case "file":
		m, err := connectivity.NewFileMonitor(cfg.StatusFile)
		if err != nil {
			return nil, nil, err
		}
		return m, m.Run, nil
	case "probe":
		m := connectivity.NewProbeMonitor(connectivity.ProbeConfig{
			URL:            cfg.ProbeURL,
			Interval:       cfg.ProbeInterval,
			Timeout:        cfg.ProbeTimeout,
			MeteredLatency: cfg.MeteredLatency,
		})
		return m, m.Run, nil
	default:
		return nil, nil, fmt.Errorf("unknown connectivity mode: %q", cfg.Mode)
	}
}
