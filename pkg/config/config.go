package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/marmos91/agrisync/internal/bytesize"
	"github.com/marmos91/agrisync/pkg/api"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the agrisync configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (AGRISYNC_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// ShutdownTimeout is the maximum time to wait for the sync worker to stop
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// DeleteDeadline bounds a user data deletion request
	DeleteDeadline time.Duration `mapstructure:"delete_deadline" validate:"required,gt=0" yaml:"delete_deadline"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// API contains the local HTTP API server configuration
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Storage selects the durable backend and the storage budget
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Encryption configures the device key used for sensitive categories
	Encryption EncryptionConfig `mapstructure:"encryption" yaml:"encryption"`

	// Queue tunes retries of remote operations
	Queue QueueConfig `mapstructure:"queue" yaml:"queue"`

	// Sync tunes the sync coordinator
	Sync SyncConfig `mapstructure:"sync" yaml:"sync"`

	// Connectivity selects how the link class is detected
	Connectivity ConnectivityConfig `mapstructure:"connectivity" yaml:"connectivity"`

	// Categories overrides the per-category priority and freshness window.
	// Keys are category names (scheme, price, weather, advice, profile).
	Categories map[string]CategoryConfig `mapstructure:"categories" validate:"dive" yaml:"categories,omitempty"`

	// Providers configures the remote data providers
	Providers ProvidersConfig `mapstructure:"providers" yaml:"providers"`

	// Credentials are attached to every provider request
	Credentials CredentialsConfig `mapstructure:"credentials" yaml:"credentials,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled
	// Default: false (opt-in for telemetry)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the OTLP collector endpoint (host:port)
	// Default: "localhost:4317"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure controls whether to use insecure (non-TLS) connection
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0)
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling contains Pyroscope continuous profiling configuration
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls Pyroscope continuous profiling.
type ProfilingConfig struct {
	// Enabled controls whether continuous profiling is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server endpoint (URL)
	// Default: "http://localhost:4040"
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// ProfileTypes specifies which profile types to collect
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`

	// Tags are attached to every profile, e.g. {device: tractor-07}
	Tags map[string]string `mapstructure:"tags" yaml:"tags,omitempty"`
}

// MetricsConfig configures Prometheus metrics. When enabled, metrics are
// served on the API server under /metrics.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// StorageConfig selects the durable backend and the storage budget.
type StorageConfig struct {
	// Backend is one of badger, sqlite, memory
	// Default: badger
	Backend string `mapstructure:"backend" validate:"required,oneof=badger sqlite memory" yaml:"backend"`

	// Path is the Badger directory or the SQLite database file.
	// Required unless the backend is memory.
	Path string `mapstructure:"path" validate:"required_unless=Backend memory" yaml:"path,omitempty"`

	// Budget is the maximum payload size kept on the device
	// Supports human-readable formats: "64Mi", "500MB".
	// Default: 64Mi
	Budget bytesize.ByteSize `mapstructure:"budget" yaml:"budget"`

	// EvictionInterval is the period of background budget enforcement
	// Default: 10m
	EvictionInterval time.Duration `mapstructure:"eviction_interval" yaml:"eviction_interval"`

	// SyncWrites forces an fsync per Badger transaction
	SyncWrites bool `mapstructure:"sync_writes" yaml:"sync_writes,omitempty"`
}

// EncryptionConfig configures the device key store.
type EncryptionConfig struct {
	// KeyPath is the 32-byte device key file, created on first start
	KeyPath string `mapstructure:"key_path" yaml:"key_path,omitempty"`

	// PassphraseEnv names an environment variable holding a passphrase. When
	// set, the key is derived from the passphrase instead of read from KeyPath.
	PassphraseEnv string `mapstructure:"passphrase_env" yaml:"passphrase_env,omitempty"`

	// SaltPath stores the salt of the passphrase-derived key
	SaltPath string `mapstructure:"salt_path" yaml:"salt_path,omitempty"`
}

// QueueConfig tunes retries of remote operations.
type QueueConfig struct {
	// BaseDelay is the backoff after the first failure
	// Default: 5s
	BaseDelay time.Duration `mapstructure:"base_delay" validate:"gt=0" yaml:"base_delay"`

	// MaxDelay caps the backoff
	// Default: 30m
	MaxDelay time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay" yaml:"max_delay"`

	// MaxAttempts is the attempt count at which a failing operation becomes
	// permanent
	// Default: 8
	MaxAttempts int `mapstructure:"max_attempts" validate:"min=1" yaml:"max_attempts"`
}

// SyncConfig tunes the sync coordinator.
type SyncConfig struct {
	// Interval is the period of background drains
	// Default: 5m
	Interval time.Duration `mapstructure:"interval" validate:"gt=0" yaml:"interval"`

	// BatchLimit bounds the operations processed by one drain
	// Default: 32
	BatchLimit int `mapstructure:"batch_limit" validate:"min=1" yaml:"batch_limit"`

	// FetchTimeout bounds a direct fetch issued through the API
	// Default: 15s
	FetchTimeout time.Duration `mapstructure:"fetch_timeout" validate:"gt=0" yaml:"fetch_timeout"`

	// RefreshOnRead queues a fetch for every miss and every stale read
	// Default: true
	RefreshOnRead *bool `mapstructure:"refresh_on_read" yaml:"refresh_on_read"`
}

// RefreshesOnRead returns whether reads queue refreshes. Defaults to true if
// not explicitly set.
func (c *SyncConfig) RefreshesOnRead() bool {
	if c.RefreshOnRead == nil {
		return true
	}
	return *c.RefreshOnRead
}

// ConnectivityConfig selects how the link class is detected.
type ConnectivityConfig struct {
	// Mode is one of static, file, probe
	// Default: static
	Mode string `mapstructure:"mode" validate:"required,oneof=static file probe" yaml:"mode"`

	// Class is the fixed class of the static mode
	// Default: normal
	Class string `mapstructure:"class" validate:"omitempty,oneof=offline metered normal" yaml:"class,omitempty"`

	// StatusFile is watched in file mode; it holds one of offline, metered,
	// normal and is written by the platform network daemon
	StatusFile string `mapstructure:"status_file" validate:"required_if=Mode file" yaml:"status_file,omitempty"`

	// ProbeURL is requested with HEAD in probe mode
	ProbeURL string `mapstructure:"probe_url" validate:"required_if=Mode probe" yaml:"probe_url,omitempty"`

	// ProbeInterval is the period between probes
	ProbeInterval time.Duration `mapstructure:"probe_interval" yaml:"probe_interval,omitempty"`

	// ProbeTimeout bounds one probe
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout,omitempty"`

	// MeteredLatency is the probe round-trip time above which the link is
	// metered
	MeteredLatency time.Duration `mapstructure:"metered_latency" yaml:"metered_latency,omitempty"`
}

// CategoryConfig overrides the policy of one category.
type CategoryConfig struct {
	// Priority is the eviction priority (1-99; profile is always protected)
	Priority int `mapstructure:"priority" validate:"omitempty,min=1,max=99" yaml:"priority,omitempty"`

	// Freshness is how long an entry stays fresh after a sync
	Freshness time.Duration `mapstructure:"freshness" validate:"omitempty,gt=0" yaml:"freshness,omitempty"`

	// Encrypt forces encryption at rest
	Encrypt bool `mapstructure:"encrypt" yaml:"encrypt,omitempty"`
}

// ProvidersConfig configures the remote data providers.
type ProvidersConfig struct {
	// Default is the provider serving categories without a route
	// Valid values: http, s3
	// Default: http
	Default string `mapstructure:"default" validate:"required,oneof=http s3" yaml:"default"`

	// Routes maps a category name to a provider name
	Routes map[string]string `mapstructure:"routes" validate:"dive,oneof=http s3" yaml:"routes,omitempty"`

	HTTP HTTPProviderConfig `mapstructure:"http" yaml:"http"`
	S3   S3ProviderConfig   `mapstructure:"s3" yaml:"s3,omitempty"`
}

// HTTPProviderConfig configures the HTTP provider.
type HTTPProviderConfig struct {
	// BaseURL is the root of the provider API
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url" yaml:"base_url"`

	// Timeout bounds one request
	// Default: 30s
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`

	// UserAgent is sent with every request
	UserAgent string `mapstructure:"user_agent" yaml:"user_agent,omitempty"`

	// MaxPayload rejects larger responses
	// Default: 8Mi
	MaxPayload bytesize.ByteSize `mapstructure:"max_payload" yaml:"max_payload"`
}

// S3ProviderConfig configures the S3 provider.
type S3ProviderConfig struct {
	Bucket          string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Region          string `mapstructure:"region" yaml:"region,omitempty"`
	Endpoint        string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool   `mapstructure:"force_path_style" yaml:"force_path_style,omitempty"`
}

// CredentialsConfig holds caller-supplied provider credentials.
type CredentialsConfig struct {
	// Token is sent as a bearer token
	Token string `mapstructure:"token" yaml:"token,omitempty"`

	// Headers are added to every request
	Headers map[string]string `mapstructure:"headers" yaml:"headers,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (AGRISYNC_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	// If no config file was found, use defaults
	if !configFileFound {
		return GetDefaultConfig(), nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  agrisync config init\n\n"+
				"Or specify a custom config file:\n"+
				"  agrisync <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  agrisync config init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// 0600: the file may hold provider credentials.
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: AGRISYNC_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("AGRISYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/agrisync/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize, so
// config files can use sizes like "64Mi" or "500MB".
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings like "30s" or "72h" to time.Duration.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Raw integers are nanoseconds
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "agrisync")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "agrisync")
}

// getDataDir returns the directory for the store and the device key.
//
// Uses XDG_DATA_HOME if set, otherwise ~/.local/share.
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "agrisync")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".local", "share", "agrisync")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
