package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/agrisync/internal/bytesize"
)

func TestApplyDefaults_Logging(t *testing.T) {
	cfg := &Config{Logging: LoggingConfig{Level: "warn"}}
	ApplyDefaults(cfg)

	if cfg.Logging.Level != "WARN" {
		t.Errorf("Expected level normalized to WARN, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" || cfg.Logging.Output != "stdout" {
		t.Errorf("Expected text/stdout, got %s/%s", cfg.Logging.Format, cfg.Logging.Output)
	}
}

func TestApplyDefaults_StoragePaths(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv("XDG_DATA_HOME", dataDir)

	tests := []struct {
		backend  string
		wantPath string
	}{
		{"badger", filepath.Join(dataDir, "agrisync", "store")},
		{"sqlite", filepath.Join(dataDir, "agrisync", "agrisync.db")},
		{"memory", ""},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			cfg := &Config{Storage: StorageConfig{Backend: tt.backend}}
			ApplyDefaults(cfg)

			if cfg.Storage.Path != tt.wantPath {
				t.Errorf("Expected path %q, got %q", tt.wantPath, cfg.Storage.Path)
			}
			if filepath.Dir(cfg.Encryption.KeyPath) != filepath.Join(dataDir, "agrisync") {
				t.Errorf("Expected device key in the data dir, got %q", cfg.Encryption.KeyPath)
			}
		})
	}
}

func TestApplyDefaults_KeyBesideStore(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{Storage: StorageConfig{Backend: "sqlite", Path: filepath.Join(dir, "cache.db")}}
	ApplyDefaults(cfg)

	if cfg.Encryption.KeyPath != filepath.Join(dir, "device.key") {
		t.Errorf("Expected key beside the store, got %q", cfg.Encryption.KeyPath)
	}
	if cfg.Encryption.SaltPath != filepath.Join(dir, "device.salt") {
		t.Errorf("Expected salt beside the store, got %q", cfg.Encryption.SaltPath)
	}
}

func TestApplyDefaults_Timeouts(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)

	if cfg.ShutdownTimeout == 0 || cfg.DeleteDeadline == 0 {
		t.Errorf("Expected shutdown and delete timeouts, got %v and %v", cfg.ShutdownTimeout, cfg.DeleteDeadline)
	}
	if cfg.Sync.FetchTimeout != 15*time.Second {
		t.Errorf("Expected fetch timeout 15s, got %v", cfg.Sync.FetchTimeout)
	}
	if cfg.Queue.BaseDelay != 5*time.Second || cfg.Queue.MaxDelay != 30*time.Minute {
		t.Errorf("Expected backoff 5s..30m, got %v..%v", cfg.Queue.BaseDelay, cfg.Queue.MaxDelay)
	}
}

func TestApplyDefaults_ProbeConnectivity(t *testing.T) {
	cfg := &Config{Connectivity: ConnectivityConfig{Mode: "PROBE", ProbeURL: "http://probe.local"}}
	ApplyDefaults(cfg)

	if cfg.Connectivity.Mode != "probe" {
		t.Errorf("Expected mode normalized to probe, got %q", cfg.Connectivity.Mode)
	}
	if cfg.Connectivity.Class != "" {
		t.Errorf("Expected no static class in probe mode, got %q", cfg.Connectivity.Class)
	}
	if cfg.Connectivity.ProbeInterval != 30*time.Second ||
		cfg.Connectivity.ProbeTimeout != 5*time.Second ||
		cfg.Connectivity.MeteredLatency != 800*time.Millisecond {
		t.Errorf("Unexpected probe defaults: %+v", cfg.Connectivity)
	}
}

func TestApplyDefaults_PreservesExplicitValues(t *testing.T) {
	cfg := &Config{
		Logging:         LoggingConfig{Level: "ERROR", Format: "json", Output: "stderr"},
		ShutdownTimeout: 3 * time.Second,
		Storage:         StorageConfig{Backend: "memory", Budget: 2 * bytesize.MiB},
		Queue:           QueueConfig{BaseDelay: time.Second, MaxDelay: time.Minute, MaxAttempts: 2},
		Sync:            SyncConfig{Interval: time.Minute, BatchLimit: 4},
		Providers:       ProvidersConfig{Default: "s3", S3: S3ProviderConfig{Region: "ap-south-1"}},
	}
	ApplyDefaults(cfg)

	if cfg.Logging.Format != "json" || cfg.Logging.Output != "stderr" {
		t.Errorf("Expected explicit logging to be preserved, got %+v", cfg.Logging)
	}
	if cfg.ShutdownTimeout != 3*time.Second {
		t.Errorf("Expected shutdown timeout 3s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Storage.Budget != 2*bytesize.MiB {
		t.Errorf("Expected budget 2MiB, got %s", cfg.Storage.Budget)
	}
	if cfg.Queue.MaxAttempts != 2 || cfg.Sync.BatchLimit != 4 {
		t.Errorf("Expected explicit queue and sync values, got %+v %+v", cfg.Queue, cfg.Sync)
	}
	if cfg.Providers.Default != "s3" || cfg.Providers.S3.Region != "ap-south-1" {
		t.Errorf("Expected explicit provider values, got %+v", cfg.Providers)
	}
}

func TestGetDefaultConfig_IsValid(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Fatalf("Default config should be valid: %v", err)
	}
}
