// Package config provides application configuration management with
// multi-source priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (runtime override)
//  2. Config file (~/.promptforge/config.yaml)
//  3. Default values
//
// Security: the provider API key is masked in MarshalJSON and String; never
// log the raw struct fields directly.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Sentinel errors for configuration validation.
var (
	// ErrMissingAPIKey indicates the provider API key is not set.
	ErrMissingAPIKey = errors.New("missing provider API key")

	// ErrMissingBaseURL indicates the provider base URL is not set.
	ErrMissingBaseURL = errors.New("missing provider base URL")

	// ErrInvalidModel indicates the default model name is empty.
	ErrInvalidModel = errors.New("invalid default model")

	// ErrInvalidHistoryWindow indicates the history window is out of range.
	ErrInvalidHistoryWindow = errors.New("invalid history window")

	// ErrInvalidTimeout indicates the turn timeout is out of range.
	ErrInvalidTimeout = errors.New("invalid turn timeout")
)

const (
	// DefaultModel is used when neither config nor the session selects one.
	DefaultModel = "google-ai-studio/gemini-2.0-flash"

	// MaxHistoryWindow is the absolute bound on the prompt history window.
	MaxHistoryWindow = 100
)

// Config stores application configuration.
// SECURITY: sensitive fields are explicitly masked in MarshalJSON.
type Config struct {
	// Provider configuration
	ProviderBaseURL string `mapstructure:"provider_base_url" json:"provider_base_url"`
	ProviderAPIKey  string `mapstructure:"provider_api_key" json:"provider_api_key"` // SENSITIVE: masked in MarshalJSON
	Model           string `mapstructure:"model" json:"model"`

	// Conversation configuration
	HistoryWindow      int `mapstructure:"history_window" json:"history_window"`
	TurnTimeoutSeconds int `mapstructure:"turn_timeout_seconds" json:"turn_timeout_seconds"`
	ToolConcurrency    int `mapstructure:"tool_concurrency" json:"tool_concurrency"`

	// HTTP server configuration
	ListenAddr  string   `mapstructure:"listen_addr" json:"listen_addr"`
	CORSOrigins []string `mapstructure:"cors_origins" json:"cors_origins"`
	RateLimit   float64  `mapstructure:"rate_limit" json:"rate_limit"` // requests/sec per client IP
	RateBurst   int      `mapstructure:"rate_burst" json:"rate_burst"`
	TrustProxy  bool     `mapstructure:"trust_proxy" json:"trust_proxy"` // trust X-Forwarded-For (set behind a reverse proxy)

	// Storage configuration. Empty = in-memory sessions only.
	DatabaseURL string `mapstructure:"database_url" json:"database_url"` // SENSITIVE: masked in MarshalJSON

	// Observability configuration
	OTLPEndpoint string `mapstructure:"otlp_endpoint" json:"otlp_endpoint"` // empty = tracing disabled
	LogLevel     string `mapstructure:"log_level" json:"log_level"`
	LogJSON      bool   `mapstructure:"log_json" json:"log_json"`
}

// Load loads configuration.
// Priority: environment variables > configuration file > default values.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}
	configDir := filepath.Join(home, ".promptforge")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using default values",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider_base_url", "https://api.openai.com/v1")
	v.SetDefault("model", DefaultModel)

	v.SetDefault("history_window", 10)
	v.SetDefault("turn_timeout_seconds", 120)
	v.SetDefault("tool_concurrency", 4)

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("cors_origins", []string{"http://localhost:5173"})
	v.SetDefault("rate_limit", 10.0)
	v.SetDefault("rate_burst", 30)
	v.SetDefault("trust_proxy", false)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", true)
}

// bindEnvVariables binds environment overrides explicitly. Hardcoded keys
// cannot fail to bind; a bind error here is a bug.
func bindEnvVariables(v *viper.Viper) {
	mustBind := func(key, envVar string) {
		if err := v.BindEnv(key, envVar); err != nil {
			panic(fmt.Sprintf("BUG: failed to bind %q to %q: %v", key, envVar, err))
		}
	}

	mustBind("provider_base_url", "PROMPTFORGE_PROVIDER_BASE_URL")
	mustBind("provider_api_key", "PROMPTFORGE_PROVIDER_API_KEY")
	mustBind("model", "PROMPTFORGE_MODEL")
	mustBind("listen_addr", "PROMPTFORGE_LISTEN_ADDR")
	mustBind("cors_origins", "PROMPTFORGE_CORS_ORIGINS")
	mustBind("trust_proxy", "PROMPTFORGE_TRUST_PROXY")
	mustBind("database_url", "DATABASE_URL")
	mustBind("otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
	mustBind("log_level", "PROMPTFORGE_LOG_LEVEL")
}

// Validate checks the configuration for values that would fail at runtime.
func (c *Config) Validate() error {
	if c.ProviderBaseURL == "" {
		return ErrMissingBaseURL
	}
	if c.ProviderAPIKey == "" {
		return ErrMissingAPIKey
	}
	if c.Model == "" {
		return ErrInvalidModel
	}
	if c.HistoryWindow < 1 || c.HistoryWindow > MaxHistoryWindow {
		return fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidHistoryWindow, c.HistoryWindow, MaxHistoryWindow)
	}
	if c.TurnTimeoutSeconds < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidTimeout, c.TurnTimeoutSeconds)
	}
	return nil
}

// maskedValue is the placeholder for masked sensitive data.
const maskedValue = "████████"

// maskSecret masks a secret for safe logging. Short secrets are fully
// masked to prevent substring matching; longer ones keep two characters on
// each end for debug utility.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return maskedValue
	}
	return s[:2] + "<" + maskedValue + ">" + s[len(s)-2:]
}

// MarshalJSON implements json.Marshaler with explicit sensitive field
// masking. When adding new sensitive fields, update this method.
func (c Config) MarshalJSON() ([]byte, error) {
	type alias Config
	a := alias(c)
	a.ProviderAPIKey = maskSecret(a.ProviderAPIKey)
	a.DatabaseURL = maskSecret(a.DatabaseURL)
	data, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return data, nil
}

// String implements Stringer to prevent accidental printing of secrets.
func (c Config) String() string {
	data, err := c.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("Config{error: %v}", err)
	}
	return string(data)
}
