package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"isolend/crypto"
	telemetry "isolend/observability/otel"
)

// EnvPrefix namespaces the environment overrides, e.g. LENDINGD_LISTEN.
const EnvPrefix = "LENDINGD"

const (
	defaultListen          = ":8547"
	defaultDataDir         = "./data/lendingd"
	defaultShutdownTimeout = 10 * time.Second
)

// Config captures the runtime settings for the lending service daemon.
type Config struct {
	ListenAddress   string          `yaml:"listen" envconfig:"LISTEN"`
	Environment     string          `yaml:"environment" envconfig:"ENV"`
	DataDir         string          `yaml:"data_dir" envconfig:"DATA_DIR"`
	JournalDSN      string          `yaml:"journal_dsn" envconfig:"JOURNAL_DSN"`
	ParamsFile      string          `yaml:"params_file" envconfig:"PARAMS_FILE"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	TLS             TLSConfig       `yaml:"tls" envconfig:"TLS"`
	Auth            AuthConfig      `yaml:"auth" ignored:"true"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	Log             LogConfig       `yaml:"log" envconfig:"LOG"`
	Telemetry       TelemetryConfig `yaml:"telemetry" envconfig:"TELEMETRY"`
}

// TLSConfig describes the TLS material for the HTTP listener.
type TLSConfig struct {
	CertPath      string `yaml:"cert" envconfig:"CERT"`
	KeyPath       string `yaml:"key" envconfig:"KEY"`
	AllowInsecure bool   `yaml:"allow_insecure" envconfig:"ALLOW_INSECURE"`
}

// AuthConfig binds API tokens to the account they act for.
type AuthConfig struct {
	Tokens []TokenBinding `yaml:"tokens"`
}

// TokenBinding grants the bearer of Token the right to act as Caller.
type TokenBinding struct {
	Token  string `yaml:"token"`
	Caller string `yaml:"caller"`
}

// RateLimitConfig bounds the request rate of a single client.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute" envconfig:"REQUESTS_PER_MINUTE"`
	Burst             int     `yaml:"burst" envconfig:"BURST"`
}

// LogConfig configures the structured logger and its optional rotating file.
type LogConfig struct {
	Level      string `yaml:"level" envconfig:"LEVEL"`
	File       string `yaml:"file" envconfig:"FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb" envconfig:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"max_backups" envconfig:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"max_age_days" envconfig:"MAX_AGE_DAYS"`
	Compress   bool   `yaml:"compress" envconfig:"COMPRESS"`
}

// TelemetryConfig selects the OTLP exporters. The exporter fields also
// honour the standard OTEL_EXPORTER_OTLP_* variables when the LENDINGD_
// prefixed form is unset.
type TelemetryConfig struct {
	Disabled bool              `yaml:"disabled" envconfig:"DISABLED"`
	Endpoint string            `yaml:"endpoint" envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Headers  telemetry.Headers `yaml:"headers" envconfig:"OTEL_EXPORTER_OTLP_HEADERS"`
	Insecure bool              `yaml:"insecure" envconfig:"OTEL_EXPORTER_OTLP_INSECURE"`
	Traces   bool              `yaml:"traces" envconfig:"TRACES"`
	Metrics  bool              `yaml:"metrics" envconfig:"METRICS"`
}

// Exporter builds the exporter configuration for service. Disabled telemetry
// turns both signals off.
func (cfg TelemetryConfig) Exporter(service, env string) telemetry.Config {
	return telemetry.Config{
		ServiceName: service,
		Environment: env,
		Endpoint:    cfg.Endpoint,
		Insecure:    cfg.Insecure,
		Headers:     cfg.Headers,
		Traces:      cfg.Traces && !cfg.Disabled,
		Metrics:     cfg.Metrics && !cfg.Disabled,
	}
}

// Load reads the YAML configuration from disk, applies LENDINGD_* environment
// overrides and validates the result. envFile, when non-empty, is loaded into
// the process environment first; a missing file is ignored.
func Load(path, envFile string) (Config, error) {
	cfg := Config{
		ListenAddress:   defaultListen,
		DataDir:         defaultDataDir,
		ShutdownTimeout: defaultShutdownTimeout,
		RateLimit:       RateLimitConfig{RequestsPerMinute: 600, Burst: 60},
		Telemetry:       TelemetryConfig{Insecure: true, Traces: true, Metrics: true},
	}
	if strings.TrimSpace(path) == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	if envFile = strings.TrimSpace(envFile); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file: %w", err)
		}
	}
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("env overrides: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	cfg.JournalDSN = strings.TrimSpace(cfg.JournalDSN)
	cfg.ParamsFile = strings.TrimSpace(cfg.ParamsFile)
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	cfg.TLS.normalize()
	cfg.Auth.normalize()
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
	cfg.Telemetry.Endpoint = strings.TrimSpace(cfg.Telemetry.Endpoint)
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.TLS.validate(); err != nil {
		return fmt.Errorf("tls: %w", err)
	}
	if err := cfg.Auth.validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if cfg.RateLimit.RequestsPerMinute < 0 || cfg.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit: values must not be negative")
	}
	return nil
}

func (cfg *TLSConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.CertPath = strings.TrimSpace(cfg.CertPath)
	cfg.KeyPath = strings.TrimSpace(cfg.KeyPath)
}

func (cfg TLSConfig) validate() error {
	hasCert := cfg.CertPath != ""
	hasKey := cfg.KeyPath != ""
	if hasCert != hasKey {
		return fmt.Errorf("cert and key must either both be provided or both be empty")
	}
	if !cfg.AllowInsecure && !hasCert {
		return fmt.Errorf("cert and key are required unless allow_insecure=true")
	}
	return nil
}

// Enabled reports whether the listener serves TLS.
func (cfg TLSConfig) Enabled() bool {
	return cfg.CertPath != "" && cfg.KeyPath != ""
}

func (cfg *AuthConfig) normalize() {
	if cfg == nil {
		return
	}
	tokens := make([]TokenBinding, 0, len(cfg.Tokens))
	for _, binding := range cfg.Tokens {
		binding.Token = strings.TrimSpace(binding.Token)
		binding.Caller = strings.TrimSpace(binding.Caller)
		if binding.Token == "" {
			continue
		}
		tokens = append(tokens, binding)
	}
	cfg.Tokens = tokens
}

func (cfg AuthConfig) validate() error {
	if len(cfg.Tokens) == 0 {
		return fmt.Errorf("at least one api token must be configured")
	}
	seen := make(map[string]struct{}, len(cfg.Tokens))
	for i, binding := range cfg.Tokens {
		if _, dup := seen[binding.Token]; dup {
			return fmt.Errorf("tokens[%d]: duplicate token", i)
		}
		seen[binding.Token] = struct{}{}
		if _, err := crypto.DecodeAddressWithPrefix(binding.Caller, crypto.AccountPrefix); err != nil {
			return fmt.Errorf("tokens[%d]: caller: %w", i, err)
		}
	}
	return nil
}
