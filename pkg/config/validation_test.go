package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Fatalf("Expected valid config, got: %v", err)
	}
}

func TestValidate_S3WithBucket(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Providers.Default = "s3"
	cfg.Providers.S3.Bucket = "agri-data"

	if err := Validate(cfg); err != nil {
		t.Fatalf("Expected valid s3 config, got: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "TRACE" },
			wantErr: "oneof",
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "oneof",
		},
		{
			name:    "api port out of range",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "max",
		},
		{
			name:    "sample rate above one",
			mutate:  func(c *Config) { c.Telemetry.SampleRate = 2 },
			wantErr: "lte",
		},
		{
			name:    "badger without path",
			mutate:  func(c *Config) { c.Storage.Path = "" },
			wantErr: "required_unless",
		},
		{
			name: "max delay below base delay",
			mutate: func(c *Config) {
				c.Queue.BaseDelay = 5 * time.Second
				c.Queue.MaxDelay = time.Second
			},
			wantErr: "gtefield",
		},
		{
			name:    "zero batch limit",
			mutate:  func(c *Config) { c.Sync.BatchLimit = 0 },
			wantErr: "min",
		},
		{
			name: "unknown profile type",
			mutate: func(c *Config) {
				c.Telemetry.Profiling.Enabled = true
				c.Telemetry.Profiling.ProfileTypes = []string{"cpu", "heap"}
			},
			wantErr: "profile_types",
		},
		{
			name:    "unknown category override",
			mutate:  func(c *Config) { c.Categories = map[string]CategoryConfig{"seeds": {Priority: 5}} },
			wantErr: "categories",
		},
		{
			name:    "category priority out of range",
			mutate:  func(c *Config) { c.Categories = map[string]CategoryConfig{"price": {Priority: 100}} },
			wantErr: "max",
		},
		{
			name:    "route for unknown category",
			mutate:  func(c *Config) { c.Providers.Routes = map[string]string{"seeds": "http"} },
			wantErr: "providers.routes",
		},
		{
			name:    "route to unknown provider",
			mutate:  func(c *Config) { c.Providers.Routes = map[string]string{"weather": "ftp"} },
			wantErr: "oneof",
		},
		{
			name:    "file mode without status file",
			mutate:  func(c *Config) { c.Connectivity.Mode = "file" },
			wantErr: "required_if",
		},
		{
			name:    "probe mode without url",
			mutate:  func(c *Config) { c.Connectivity.Mode = "probe" },
			wantErr: "required_if",
		},
		{
			name: "probe url with unsupported scheme",
			mutate: func(c *Config) {
				c.Connectivity.Mode = "probe"
				c.Connectivity.ProbeURL = "ftp://probe.local"
			},
			wantErr: "probe_url",
		},
		{
			name:    "http provider without base url",
			mutate:  func(c *Config) { c.Providers.HTTP.BaseURL = "" },
			wantErr: "providers.http.base_url",
		},
		{
			name: "s3 route without bucket",
			mutate: func(c *Config) {
				c.Providers.Routes = map[string]string{"scheme": "s3"}
			},
			wantErr: "providers.s3.bucket",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatalf("Expected validation error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "debug"
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		t.Fatalf("Expected lowercase level to validate, got: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected level normalized to DEBUG, got %q", cfg.Logging.Level)
	}
}
