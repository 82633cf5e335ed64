package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/agrisync/internal/bytesize"
	"github.com/marmos91/agrisync/pkg/engine"
	"github.com/marmos91/agrisync/pkg/queue"
	"github.com/marmos91/agrisync/pkg/syncer"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyTimeoutDefaults(cfg)
	applyAPIDefaults(cfg)
	applyStorageDefaults(&cfg.Storage)
	applyEncryptionDefaults(&cfg.Encryption, cfg.Storage.Path)
	applyQueueDefaults(&cfg.Queue)
	applySyncDefaults(&cfg.Sync)
	applyConnectivityDefaults(&cfg.Connectivity)
	applyProviderDefaults(&cfg.Providers)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	applyProfilingDefaults(&cfg.Profiling)
}

// applyProfilingDefaults sets Pyroscope profiling defaults.
func applyProfilingDefaults(cfg *ProfilingConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:4040"
	}
	if len(cfg.ProfileTypes) == 0 {
		cfg.ProfileTypes = []string{
			"cpu",
			"alloc_objects",
			"alloc_space",
			"inuse_objects",
			"inuse_space",
			"goroutines",
		}
	}
}

func applyTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = engine.DefaultShutdownTimeout
	}
	if cfg.DeleteDeadline == 0 {
		cfg.DeleteDeadline = engine.DefaultDeleteDeadline
	}
}

// applyAPIDefaults sets local API server defaults.
func applyAPIDefaults(cfg *Config) {
	cfg.API.ApplyDefaults()
}

// applyStorageDefaults sets storage defaults. The path defaults to the
// per-user data directory.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "badger"
	}
	cfg.Backend = strings.ToLower(cfg.Backend)

	if cfg.Path == "" && cfg.Backend != "memory" {
		switch cfg.Backend {
		case "sqlite":
			cfg.Path = filepath.Join(getDataDir(), "agrisync.db")
		default:
			cfg.Path = filepath.Join(getDataDir(), "store")
		}
	}
	if cfg.Budget == 0 {
		cfg.Budget = 64 * bytesize.MiB
	}
	if cfg.EvictionInterval == 0 {
		cfg.EvictionInterval = syncer.DefaultConfig().EvictionInterval
	}
}

// applyEncryptionDefaults places the device key next to the store.
func applyEncryptionDefaults(cfg *EncryptionConfig, storePath string) {
	dir := getDataDir()
	if storePath != "" {
		dir = filepath.Dir(storePath)
	}
	if cfg.KeyPath == "" {
		cfg.KeyPath = filepath.Join(dir, "device.key")
	}
	if cfg.SaltPath == "" {
		cfg.SaltPath = filepath.Join(dir, "device.salt")
	}
}

// applyQueueDefaults sets retry defaults.
func applyQueueDefaults(cfg *QueueConfig) {
	def := queue.DefaultConfig()
	if cfg.BaseDelay == 0 {
		cfg.BaseDelay = def.Backoff.Base
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = def.Backoff.Max
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
}

// applySyncDefaults sets sync coordinator defaults.
func applySyncDefaults(cfg *SyncConfig) {
	def := syncer.DefaultConfig()
	if cfg.Interval == 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchLimit == 0 {
		cfg.BatchLimit = def.BatchLimit
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
}

// applyConnectivityDefaults sets connectivity defaults.
func applyConnectivityDefaults(cfg *ConnectivityConfig) {
	if cfg.Mode == "" {
		cfg.Mode = "static"
	}
	cfg.Mode = strings.ToLower(cfg.Mode)

	if cfg.Mode == "static" && cfg.Class == "" {
		cfg.Class = "normal"
	}
	if cfg.Mode == "probe" {
		if cfg.ProbeInterval == 0 {
			cfg.ProbeInterval = 30 * time.Second
		}
		if cfg.ProbeTimeout == 0 {
			cfg.ProbeTimeout = 5 * time.Second
		}
		if cfg.MeteredLatency == 0 {
			cfg.MeteredLatency = 800 * time.Millisecond
		}
	}
}

// applyProviderDefaults sets remote provider defaults.
func applyProviderDefaults(cfg *ProvidersConfig) {
	if cfg.Default == "" {
		cfg.Default = "http"
	}
	if cfg.HTTP.Timeout == 0 {
		cfg.HTTP.Timeout = 30 * time.Second
	}
	if cfg.HTTP.MaxPayload == 0 {
		cfg.HTTP.MaxPayload = 8 * bytesize.MiB
	}
	if cfg.HTTP.UserAgent == "" {
		cfg.HTTP.UserAgent = "agrisync"
	}
	if cfg.S3.Region == "" {
		cfg.S3.Region = "us-east-1"
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Providers: ProvidersConfig{
			HTTP: HTTPProviderConfig{BaseURL: "http://localhost:8090/v1"},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
