// Package config provides configuration management for the relay server.
// Configuration is assembled once at startup from built-in defaults, an
// optional YAML file, an optional .env file and the process environment, and
// is treated as read-only afterwards.
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config represents the complete relay configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Webhook        WebhookConfig        `yaml:"webhook"`
	Completion     CompletionConfig     `yaml:"completion"`
	Delivery       DeliveryConfig       `yaml:"delivery"`
	Logging        LoggingConfig        `yaml:"logging"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`

	// Locale selects the language of the system prompt and of every
	// fallback reply sent to users ("en" or "ar").
	Locale string `yaml:"locale" env:"RELAY_LOCALE" validate:"oneof=en ar"`
}

// ServerConfig holds settings for the inbound HTTP server.
type ServerConfig struct {
	// Port specifies the HTTP server port (default: 5000)
	Port int `yaml:"port" env:"PORT" validate:"gte=0,lte=65535"`

	// ReadTimeout is the maximum duration for reading the entire request,
	// including the body (default: 30s)
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds writing the response. Zero (the default) means no
	// write deadline; a payload is answered only after every event in it has
	// been relayed.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// MaxHeaderBytes controls the maximum number of bytes the server will
	// read parsing the request header's keys and values (default: 1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes" validate:"gte=0"`

	// ShutdownTimeout specifies how long to wait for in-flight requests
	// during graceful shutdown (default: 30s)
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MetricsToken, when set, must be presented in the X-API-Key header to
	// scrape /metrics.
	MetricsToken string `yaml:"metrics_token" env:"RELAY_METRICS_TOKEN"`
}

// WebhookConfig holds settings for the platform-facing webhook endpoint.
type WebhookConfig struct {
	// VerifyToken is the shared secret echoed back by the platform during
	// the subscription handshake.
	VerifyToken string `yaml:"verify_token" env:"VERIFY_TOKEN"`

	// RequireSubscribeMode rejects verification requests whose mode is not
	// "subscribe". When false the mode parameter is ignored.
	RequireSubscribeMode bool `yaml:"require_subscribe_mode" env:"RELAY_REQUIRE_SUBSCRIBE_MODE"`

	// MaxBodyBytes caps the size of an inbound event payload (default: 1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes" validate:"gt=0"`
}

// CompletionConfig holds settings for the chat-completion endpoint.
type CompletionConfig struct {
	// BaseURL is the OpenAI-compatible API root; "/chat/completions" is
	// appended to it.
	BaseURL string `yaml:"base_url" env:"RELAY_COMPLETION_BASE_URL" validate:"required,url"`

	// APIKey is sent as a bearer credential. Use ${OPENROUTER_API_KEY} in
	// YAML or set the variable directly.
	APIKey string `yaml:"api_key" env:"OPENROUTER_API_KEY"`

	// Model is the model identifier, e.g. "deepseek/deepseek-r1-0528:free".
	Model string `yaml:"model" env:"MODEL_NAME"`

	// SystemPrompt overrides the locale's default assistant persona.
	SystemPrompt string `yaml:"system_prompt"`

	MaxTokens   int     `yaml:"max_tokens" validate:"gt=0"`
	Temperature float64 `yaml:"temperature" validate:"gte=0,lte=2"`

	// Timeout bounds the single completion call (default: 30s)
	Timeout time.Duration `yaml:"timeout"`

	// Referer and Title are OpenRouter attribution headers (HTTP-Referer,
	// X-Title). Empty values are not sent.
	Referer string `yaml:"referer" env:"RELAY_HTTP_REFERER"`
	Title   string `yaml:"title" env:"RELAY_APP_TITLE"`
}

// DeliveryConfig holds settings for the platform's send-message endpoint.
type DeliveryConfig struct {
	GraphURL   string `yaml:"graph_url" env:"RELAY_GRAPH_URL" validate:"required,url"`
	APIVersion string `yaml:"api_version" env:"RELAY_GRAPH_API_VERSION" validate:"required"`

	// PageAccessToken authorises the send call; it travels as the
	// access_token query parameter.
	PageAccessToken string `yaml:"page_access_token" env:"PAGE_ACCESS_TOKEN"`

	// Timeout bounds a send call. Zero leaves it to the transport defaults.
	Timeout time.Duration `yaml:"timeout"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	// Level sets logging verbosity: debug, info, warn, error
	Level string `yaml:"level" env:"RELAY_LOG_LEVEL" validate:"oneof=debug info warn error"`

	// Format specifies log output format: json or text
	Format string `yaml:"format" env:"RELAY_LOG_FORMAT" validate:"oneof=json text"`
}

// CircuitBreakerConfig configures the optional breaker around the
// completion call. While open, completions short-circuit to a fallback reply
// without contacting the endpoint.
type CircuitBreakerConfig struct {
	Enabled bool `yaml:"enabled" env:"RELAY_CIRCUIT_BREAKER_ENABLED"`

	// MaxRequests is the number of trial requests allowed while half-open
	MaxRequests uint32 `yaml:"max_requests"`

	// Interval is the cyclic period of the closed state after which failure
	// counts are cleared
	Interval time.Duration `yaml:"interval"`

	// Timeout is the period of the open state until it becomes half-open
	Timeout time.Duration `yaml:"timeout"`

	// FailureThreshold is the number of consecutive failures that trips the circuit
	FailureThreshold uint32 `yaml:"failure_threshold"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
// Secrets and the model identifier are intentionally empty.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0,
			MaxHeaderBytes:  1 << 20,
			ShutdownTimeout: 30 * time.Second,
		},
		Webhook: WebhookConfig{
			RequireSubscribeMode: false,
			MaxBodyBytes:         1 << 20,
		},
		Completion: CompletionConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			MaxTokens:   150,
			Temperature: 0.7,
			Timeout:     30 * time.Second,
			Title:       "Facebook Chatbot",
		},
		Delivery: DeliveryConfig{
			GraphURL:   "https://graph.facebook.com",
			APIVersion: "v18.0",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:          false,
			MaxRequests:      1,
			Interval:         time.Minute,
			Timeout:          30 * time.Second,
			FailureThreshold: 5,
		},
		Locale: "en",
	}
}

// LoadFile loads configuration from a YAML file, then applies environment
// overrides and validates the result.
func LoadFile(filename string) (*Config, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("open config file: %w", err)
	}
	defer f.Close()

	return Load(f)
}

// Load decodes YAML from r on top of DefaultConfig, applies environment
// overrides and validates the result.
func Load(r io.Reader) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded, err := expandEnvVars(string(data))
	if err != nil {
		return nil, fmt.Errorf("expand environment variables: %w", err)
	}

	cfg := DefaultConfig()
	if strings.TrimSpace(expanded) != "" {
		if err := yaml.NewDecoder(strings.NewReader(expanded)).Decode(cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	return finish(cfg)
}

// LoadEnv builds the configuration from defaults and the process
// environment only.
func LoadEnv() (*Config, error) {
	return finish(DefaultConfig())
}

// LoadPath loads the YAML file at path, or only defaults and environment
// when path is empty.
func LoadPath(path string) (*Config, error) {
	if path == "" {
		return LoadEnv()
	}
	return LoadFile(path)
}

func finish(cfg *Config) (*Config, error) {
	if err := ApplyEnv(cfg); err != nil {
		return nil, fmt.Errorf("apply environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// expandEnvVars resolves ${VAR} and ${VAR:-default} references in raw YAML.
// Unset variables without a default expand to the empty string.
func expandEnvVars(s string) (string, error) {
	if strings.Count(s, "${") > strings.Count(s, "}") {
		return "", fmt.Errorf("invalid syntax: unterminated variable reference")
	}

	return os.Expand(s, func(key string) string {
		if i := strings.Index(key, ":-"); i >= 0 {
			if val := os.Getenv(key[:i]); val != "" {
				return val
			}
			return key[i+2:]
		}
		return os.Getenv(key)
	}), nil
}

var validate = validator.New()

// Validate checks if the configuration is valid. Missing secrets are not
// errors; see Warnings.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("negative read timeout: %v", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("negative write timeout: %v", c.Server.WriteTimeout)
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("negative shutdown timeout: %v", c.Server.ShutdownTimeout)
	}
	if c.Completion.Timeout <= 0 {
		return fmt.Errorf("completion timeout must be positive: %v", c.Completion.Timeout)
	}
	if c.Delivery.Timeout < 0 {
		return fmt.Errorf("negative delivery timeout: %v", c.Delivery.Timeout)
	}

	if c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.FailureThreshold == 0 {
			return fmt.Errorf("circuit breaker failure threshold must be positive")
		}
		if c.CircuitBreaker.Timeout <= 0 {
			return fmt.Errorf("circuit breaker timeout must be positive: %v", c.CircuitBreaker.Timeout)
		}
		if c.CircuitBreaker.Interval < 0 {
			return fmt.Errorf("negative circuit breaker interval: %v", c.CircuitBreaker.Interval)
		}
	}

	return nil
}

// Warnings lists settings that are missing but do not prevent startup.
// Requests that need them degrade to fallback replies at call time.
func (c *Config) Warnings() []string {
	var warnings []string
	if c.Webhook.VerifyToken == "" {
		warnings = append(warnings, "VERIFY_TOKEN not set: webhook verification will always fail")
	}
	if c.Delivery.PageAccessToken == "" {
		warnings = append(warnings, "PAGE_ACCESS_TOKEN not found in environment variables")
	}
	if c.Completion.APIKey == "" {
		warnings = append(warnings, "OPENROUTER_API_KEY not found in environment variables")
	}
	if c.Completion.Model == "" {
		warnings = append(warnings, "MODEL_NAME not set: completions will return the not-configured reply")
	}
	return warnings
}

// NewLogger builds a zap logger honouring the configured level and format.
func (c LoggingConfig) NewLogger() (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if c.Format == "text" {
		zc = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zc.Level = level

	return zc.Build()
}
