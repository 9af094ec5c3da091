// Copyright (c) 2025 mase1981
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every daemon environment variable.
const EnvPrefix = "EMBY_INTG_"

// EnvConfigHome is the data directory variable set by the remote's runtime.
const EnvConfigHome = "UC_CONFIG_HOME"

// AppConfig holds the resolved daemon settings.
type AppConfig struct {
	Version        string
	DataDir        string
	ListenAddr     string
	MetricsAddr    string
	MaxConnections int
	LogLevel       string

	Reconcile ReconcileConfig
	Entity    EntityConfig
	Emby      EmbyConfig
	Telemetry TelemetryConfig
}

// ReconcileConfig controls the session reconciliation loop.
type ReconcileConfig struct {
	Interval time.Duration
	Backoff  time.Duration
}

// EntityConfig controls per-entity monitoring and command handling.
type EntityConfig struct {
	RefreshInterval time.Duration
	RefreshBackoff  time.Duration
	CommandTimeout  time.Duration
	SettleDelay     time.Duration
}

// EmbyConfig controls the Emby HTTP client.
type EmbyConfig struct {
	Timeout    time.Duration
	MaxRetries int
	RateLimit  float64
	RateBurst  int
	VerifyTLS  bool
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool
	Exporter     string
	Endpoint     string
	SamplingRate float64
}

// FileConfig is the on-disk YAML shape. Durations are Go duration strings.
type FileConfig struct {
	DataDir        string `yaml:"dataDir,omitempty"`
	ListenAddr     string `yaml:"listenAddr,omitempty"`
	MetricsAddr    string `yaml:"metricsAddr,omitempty"`
	MaxConnections *int   `yaml:"maxConnections,omitempty"`
	LogLevel       string `yaml:"logLevel,omitempty"`

	Reconcile struct {
		Interval string `yaml:"interval,omitempty"`
		Backoff  string `yaml:"backoff,omitempty"`
	} `yaml:"reconcile,omitempty"`

	Entity struct {
		RefreshInterval string `yaml:"refreshInterval,omitempty"`
		RefreshBackoff  string `yaml:"refreshBackoff,omitempty"`
		CommandTimeout  string `yaml:"commandTimeout,omitempty"`
		SettleDelay     string `yaml:"settleDelay,omitempty"`
	} `yaml:"entity,omitempty"`

	Emby struct {
		Timeout    string   `yaml:"timeout,omitempty"`
		MaxRetries *int     `yaml:"maxRetries,omitempty"`
		RateLimit  *float64 `yaml:"rateLimit,omitempty"`
		RateBurst  *int     `yaml:"rateBurst,omitempty"`
		VerifyTLS  *bool    `yaml:"verifyTLS,omitempty"`
	} `yaml:"emby,omitempty"`

	Telemetry struct {
		Enabled      *bool    `yaml:"enabled,omitempty"`
		Exporter     string   `yaml:"exporter,omitempty"`
		Endpoint     string   `yaml:"endpoint,omitempty"`
		SamplingRate *float64 `yaml:"samplingRate,omitempty"`
	} `yaml:"telemetry,omitempty"`
}

// Defaults returns the built-in daemon settings.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:        ".",
		ListenAddr:     ":9090",
		MaxConnections: 32,
		LogLevel:       "info",
		Reconcile: ReconcileConfig{
			Interval: 10 * time.Second,
			Backoff:  30 * time.Second,
		},
		Entity: EntityConfig{
			RefreshInterval: 5 * time.Second,
			RefreshBackoff:  15 * time.Second,
			CommandTimeout:  5 * time.Second,
			SettleDelay:     500 * time.Millisecond,
		},
		Emby: EmbyConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 2,
			RateLimit:  20,
			RateBurst:  40,
		},
		Telemetry: TelemetryConfig{
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
	}
}

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFileConfig(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge file config: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile loads configuration from a YAML file with STRICT parsing.
// Unknown fields will cause a fatal error to prevent misconfiguration.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

func mergeFileConfig(dst *AppConfig, src *FileConfig) error {
	setString(&dst.DataDir, src.DataDir)
	setString(&dst.ListenAddr, src.ListenAddr)
	setString(&dst.MetricsAddr, src.MetricsAddr)
	setString(&dst.LogLevel, src.LogLevel)
	if src.MaxConnections != nil {
		dst.MaxConnections = *src.MaxConnections
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"reconcile.interval", src.Reconcile.Interval, &dst.Reconcile.Interval},
		{"reconcile.backoff", src.Reconcile.Backoff, &dst.Reconcile.Backoff},
		{"entity.refreshInterval", src.Entity.RefreshInterval, &dst.Entity.RefreshInterval},
		{"entity.refreshBackoff", src.Entity.RefreshBackoff, &dst.Entity.RefreshBackoff},
		{"entity.commandTimeout", src.Entity.CommandTimeout, &dst.Entity.CommandTimeout},
		{"entity.settleDelay", src.Entity.SettleDelay, &dst.Entity.SettleDelay},
		{"emby.timeout", src.Emby.Timeout, &dst.Emby.Timeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		*d.dst = parsed
	}

	if src.Emby.MaxRetries != nil {
		dst.Emby.MaxRetries = *src.Emby.MaxRetries
	}
	if src.Emby.RateLimit != nil {
		dst.Emby.RateLimit = *src.Emby.RateLimit
	}
	if src.Emby.RateBurst != nil {
		dst.Emby.RateBurst = *src.Emby.RateBurst
	}
	if src.Emby.VerifyTLS != nil {
		dst.Emby.VerifyTLS = *src.Emby.VerifyTLS
	}

	if src.Telemetry.Enabled != nil {
		dst.Telemetry.Enabled = *src.Telemetry.Enabled
	}
	setString(&dst.Telemetry.Exporter, src.Telemetry.Exporter)
	setString(&dst.Telemetry.Endpoint, src.Telemetry.Endpoint)
	if src.Telemetry.SamplingRate != nil {
		dst.Telemetry.SamplingRate = *src.Telemetry.SamplingRate
	}
	return nil
}

func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.DataDir = l.envString(EnvConfigHome, cfg.DataDir)
	cfg.DataDir = l.envString(EnvPrefix+"DATA_DIR", cfg.DataDir)
	cfg.ListenAddr = l.envString(EnvPrefix+"LISTEN", cfg.ListenAddr)
	cfg.MetricsAddr = l.envString(EnvPrefix+"METRICS_LISTEN", cfg.MetricsAddr)
	cfg.MaxConnections = l.envInt(EnvPrefix+"MAX_CONNECTIONS", cfg.MaxConnections)
	cfg.LogLevel = l.envString("LOG_LEVEL", cfg.LogLevel)
	cfg.LogLevel = l.envString(EnvPrefix+"LOG_LEVEL", cfg.LogLevel)

	cfg.Reconcile.Interval = l.envDuration(EnvPrefix+"POLL_INTERVAL", cfg.Reconcile.Interval)
	cfg.Reconcile.Backoff = l.envDuration(EnvPrefix+"POLL_BACKOFF", cfg.Reconcile.Backoff)

	cfg.Entity.RefreshInterval = l.envDuration(EnvPrefix+"REFRESH_INTERVAL", cfg.Entity.RefreshInterval)
	cfg.Entity.RefreshBackoff = l.envDuration(EnvPrefix+"REFRESH_BACKOFF", cfg.Entity.RefreshBackoff)
	cfg.Entity.CommandTimeout = l.envDuration(EnvPrefix+"COMMAND_TIMEOUT", cfg.Entity.CommandTimeout)
	cfg.Entity.SettleDelay = l.envDuration(EnvPrefix+"SETTLE_DELAY", cfg.Entity.SettleDelay)

	cfg.Emby.Timeout = l.envDuration(EnvPrefix+"HTTP_TIMEOUT", cfg.Emby.Timeout)
	cfg.Emby.MaxRetries = l.envInt(EnvPrefix+"HTTP_MAX_RETRIES", cfg.Emby.MaxRetries)
	cfg.Emby.RateLimit = l.envFloat(EnvPrefix+"HTTP_RATE_LIMIT", cfg.Emby.RateLimit)
	cfg.Emby.RateBurst = l.envInt(EnvPrefix+"HTTP_RATE_BURST", cfg.Emby.RateBurst)
	cfg.Emby.VerifyTLS = l.envBool(EnvPrefix+"VERIFY_TLS", cfg.Emby.VerifyTLS)

	cfg.Telemetry.Enabled = l.envBool(EnvPrefix+"TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.Exporter = l.envString(EnvPrefix+"TELEMETRY_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString(EnvPrefix+"TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat(EnvPrefix+"TELEMETRY_SAMPLING", cfg.Telemetry.SamplingRate)
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

// String returns a masked, human-readable rendering of the configuration.
func (c AppConfig) String() string {
	out, err := yaml.Marshal(MaskSecrets(c))
	if err != nil {
		return fmt.Sprintf("%+v", MaskSecrets(c))
	}
	return string(out)
}
