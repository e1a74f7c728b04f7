package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
)

// Reasoning providers.
const (
	ProviderOffline = "offline"
	ProviderOpenAI  = "openai"
	ProviderMCP     = "mcp"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	LogLevel       string   `mapstructure:"LOG_LEVEL"`
	DataDir        string   `mapstructure:"DATA_DIR"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`
	MaxUploadBytes int64    `mapstructure:"MAX_UPLOAD_BYTES"`

	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	ProcessorMaxConcurrency int           `mapstructure:"PROCESSOR_MAX_CONCURRENCY"`
	ProcessorInterItemDelay time.Duration `mapstructure:"PROCESSOR_INTER_ITEM_DELAY"`
	ProcessorMaxRetries     int           `mapstructure:"PROCESSOR_MAX_RETRIES"`
	ProcessorRetryBaseDelay time.Duration `mapstructure:"PROCESSOR_RETRY_BASE_DELAY"`
	ProcessorItemTimeout    time.Duration `mapstructure:"PROCESSOR_ITEM_TIMEOUT"`
	ProcessorAutostart      bool          `mapstructure:"PROCESSOR_AUTOSTART"`

	ReasoningProvider    string  `mapstructure:"REASONING_PROVIDER"`
	ReasoningBaseURL     string  `mapstructure:"REASONING_BASE_URL"`
	ReasoningAPIKey      string  `mapstructure:"REASONING_API_KEY"`
	ReasoningModel       string  `mapstructure:"REASONING_MODEL"`
	ReasoningRPS         float64 `mapstructure:"REASONING_RPS"`
	ReasoningMCPEndpoint string  `mapstructure:"REASONING_MCP_ENDPOINT"`

	CodesFile      string `mapstructure:"CODES_FILE"`
	RulesFile      string `mapstructure:"RULES_FILE"`
	AuditRetention int    `mapstructure:"AUDIT_RETENTION"`
}

var defaults = map[string]any{
	"PORT":                       "8080",
	"ENV":                        "development",
	"LOG_LEVEL":                  "info",
	"DATA_DIR":                   "./data",
	"CORS_ORIGINS":               "*",
	"RATE_LIMIT_RPS":             20,
	"RATE_LIMIT_BURST":           40,
	"BODY_LIMIT":                 "1M",
	"MAX_UPLOAD_BYTES":           5 << 20,
	"REQUEST_TIMEOUT":            "30s",
	"PROCESSOR_MAX_CONCURRENCY":  3,
	"PROCESSOR_INTER_ITEM_DELAY": "5s",
	"PROCESSOR_MAX_RETRIES":      3,
	"PROCESSOR_RETRY_BASE_DELAY": "1s",
	"PROCESSOR_ITEM_TIMEOUT":     "120s",
	"PROCESSOR_AUTOSTART":        true,
	"REASONING_PROVIDER":         ProviderOffline,
	"REASONING_BASE_URL":         "https://api.openai.com/v1",
	"REASONING_MODEL":            "gpt-4o-mini",
	"REASONING_RPS":              1,
	"AUDIT_RETENTION":            1000,
}

// keys lists every setting read from the environment, including those
// without a default.
var keys = []string{
	"PORT", "ENV", "LOG_LEVEL", "DATA_DIR", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "MAX_UPLOAD_BYTES", "REQUEST_TIMEOUT",
	"PROCESSOR_MAX_CONCURRENCY", "PROCESSOR_INTER_ITEM_DELAY", "PROCESSOR_MAX_RETRIES",
	"PROCESSOR_RETRY_BASE_DELAY", "PROCESSOR_ITEM_TIMEOUT", "PROCESSOR_AUTOSTART",
	"REASONING_PROVIDER", "REASONING_BASE_URL", "REASONING_API_KEY", "REASONING_MODEL",
	"REASONING_RPS", "REASONING_MCP_ENDPOINT",
	"CODES_FILE", "RULES_FILE", "AUDIT_RETENTION",
}

// Load reads settings from the environment, falling back to a .env file in
// the working directory and then to the defaults.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	// Bind explicitly so Unmarshal sees variables with no default.
	for _, k := range keys {
		if err := v.BindEnv(k); err != nil {
			return nil, fmt.Errorf("bind %s: %w", k, err)
		}
	}

	// A missing .env is fine.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.ReasoningProvider = strings.ToLower(strings.TrimSpace(cfg.ReasoningProvider))
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration can run.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must be set")
	}
	if c.DataDir == "" {
		return fmt.Errorf("DATA_DIR must be set")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.LogLevel)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)
	}
	if c.ProcessorMaxConcurrency < 1 {
		return fmt.Errorf("PROCESSOR_MAX_CONCURRENCY must be at least 1, got %d", c.ProcessorMaxConcurrency)
	}
	if c.ProcessorMaxRetries < 0 {
		return fmt.Errorf("PROCESSOR_MAX_RETRIES must not be negative, got %d", c.ProcessorMaxRetries)
	}
	if c.ProcessorInterItemDelay < 0 || c.ProcessorRetryBaseDelay < 0 || c.ProcessorItemTimeout < 0 {
		return fmt.Errorf("processor durations must not be negative")
	}
	if c.AuditRetention < 0 {
		return fmt.Errorf("AUDIT_RETENTION must not be negative, got %d", c.AuditRetention)
	}

	switch c.ReasoningProvider {
	case ProviderOffline:
	case ProviderOpenAI:
		if c.ReasoningAPIKey == "" {
			return fmt.Errorf("REASONING_API_KEY is required when REASONING_PROVIDER is %q", ProviderOpenAI)
		}
	case ProviderMCP:
		if c.ReasoningMCPEndpoint == "" {
			return fmt.Errorf("REASONING_MCP_ENDPOINT is required when REASONING_PROVIDER is %q", ProviderMCP)
		}
	default:
		return fmt.Errorf("REASONING_PROVIDER must be %q, %q or %q, got %q",
			ProviderOffline, ProviderOpenAI, ProviderMCP, c.ReasoningProvider)
	}
	return nil
}

// DataFile returns the path of a store file under DATA_DIR.
func (c *Config) DataFile(name string) string {
	return filepath.Join(c.DataDir, name)
}
