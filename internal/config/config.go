// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Stream     StreamConfig     `yaml:"stream"`
	Database   DatabaseConfig   `yaml:"database"`
	Engine     EngineConfig     `yaml:"engine"`
	Settlement SettlementConfig `yaml:"settlement"`
	RefData    RefDataConfig    `yaml:"refdata"`
	Alerts     AlertsConfig     `yaml:"alerts"`
	System     SystemConfig     `yaml:"system"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig contains the REST API server settings
type ServerConfig struct {
	Host                string  `yaml:"host"`
	Port                int     `yaml:"port"`
	ReadTimeoutSeconds  int     `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds int     `yaml:"write_timeout_seconds"`
	ShutdownSeconds     int     `yaml:"shutdown_seconds"`
	SubmitRateLimit     float64 `yaml:"submit_rate_limit"` // order submissions per second, 0 disables
	SubmitRateBurst     int     `yaml:"submit_rate_burst"`
}

// StreamConfig contains the WebSocket event stream settings
type StreamConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	MaxClients     int      `yaml:"max_clients"`
	RateLimitPerIP float64  `yaml:"rate_limit_per_ip"`
	RateBurstPerIP int      `yaml:"rate_burst_per_ip"`
}

// DatabaseConfig contains SQLite settings
type DatabaseConfig struct {
	Path          string `yaml:"path"`
	BusyTimeoutMS int    `yaml:"busy_timeout_ms"`
}

// EngineConfig contains order workflow settings
type EngineConfig struct {
	Workers                int `yaml:"workers"`
	QueueSize              int `yaml:"queue_size"`
	MaxAttempts            int `yaml:"max_attempts"` // attempts per transition on transient failures
	RetryBackoffMS         int `yaml:"retry_backoff_ms"`
	MaxBackoffMS           int `yaml:"max_backoff_ms"`
	WorkflowTimeoutSeconds int `yaml:"workflow_timeout_seconds"`
}

// SettlementConfig contains deferred settlement settings
type SettlementConfig struct {
	DelayMS        int `yaml:"delay_ms"` // simulates T+2; 10s in the demo setup
	PollIntervalMS int `yaml:"poll_interval_ms"`
}

// RefDataConfig selects and configures the investor/asset providers
type RefDataConfig struct {
	Provider   string         `yaml:"provider"` // static | http
	BaseURL    string         `yaml:"base_url"`
	APIKey     Secret         `yaml:"api_key"`
	TimeoutMS  int            `yaml:"timeout_ms"`
	CacheTTLMS int            `yaml:"cache_ttl_ms"`
	Investors  []InvestorSeed `yaml:"investors"`
	Assets     []AssetSeed    `yaml:"assets"`
}

// InvestorSeed is one static-provider investor record
type InvestorSeed struct {
	ID            int64  `yaml:"id"`
	Name          string `yaml:"name"`
	AccountStatus string `yaml:"account_status"`
}

// AssetSeed is one static-provider asset record
type AssetSeed struct {
	ID           int64  `yaml:"id"`
	Symbol       string `yaml:"symbol"`
	Name         string `yaml:"name"`
	Active       bool   `yaml:"active"`
	CurrentPrice string `yaml:"current_price"`
}

// AlertsConfig configures operator notification channels
type AlertsConfig struct {
	Enabled          bool   `yaml:"enabled"`
	SlackWebhookURL  Secret `yaml:"slack_webhook_url"`
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	if err := c.validateServerConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateStreamConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateDatabaseConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateEngineConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateSettlementConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateRefDataConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if err := c.validateSystemConfig(); err != nil {
		errors = append(errors, err.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateServerConfig() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return ValidationError{
			Field:   "server.port",
			Value:   c.Server.Port,
			Message: "must be between 1 and 65535",
		}
	}
	if c.Server.SubmitRateLimit < 0 {
		return ValidationError{
			Field:   "server.submit_rate_limit",
			Value:   c.Server.SubmitRateLimit,
			Message: "must not be negative",
		}
	}
	return nil
}

func (c *Config) validateStreamConfig() error {
	if !c.Stream.Enabled {
		return nil // Skip validation if disabled
	}

	if c.Stream.Port <= 0 || c.Stream.Port > 65535 {
		return ValidationError{
			Field:   "stream.port",
			Value:   c.Stream.Port,
			Message: "must be between 1 and 65535",
		}
	}
	if c.Stream.MaxClients <= 0 {
		return ValidationError{
			Field:   "stream.max_clients",
			Value:   c.Stream.MaxClients,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateDatabaseConfig() error {
	if c.Database.Path == "" {
		return ValidationError{
			Field:   "database.path",
			Message: "database path is required",
		}
	}
	return nil
}

func (c *Config) validateEngineConfig() error {
	if c.Engine.Workers <= 0 {
		return ValidationError{
			Field:   "engine.workers",
			Value:   c.Engine.Workers,
			Message: "must be positive",
		}
	}
	if c.Engine.MaxAttempts <= 0 {
		return ValidationError{
			Field:   "engine.max_attempts",
			Value:   c.Engine.MaxAttempts,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateSettlementConfig() error {
	if c.Settlement.DelayMS <= 0 {
		return ValidationError{
			Field:   "settlement.delay_ms",
			Value:   c.Settlement.DelayMS,
			Message: "must be positive",
		}
	}
	if c.Settlement.PollIntervalMS <= 0 {
		return ValidationError{
			Field:   "settlement.poll_interval_ms",
			Value:   c.Settlement.PollIntervalMS,
			Message: "must be positive",
		}
	}
	return nil
}

func (c *Config) validateRefDataConfig() error {
	switch c.RefData.Provider {
	case "static":
		for i, inv := range c.RefData.Investors {
			if !contains([]string{"Active", "Suspended", "Closed"}, inv.AccountStatus) {
				return ValidationError{
					Field:   fmt.Sprintf("refdata.investors[%d].account_status", i),
					Value:   inv.AccountStatus,
					Message: "must be one of: Active, Suspended, Closed",
				}
			}
		}
		for i, asset := range c.RefData.Assets {
			if _, err := decimal.NewFromString(asset.CurrentPrice); err != nil {
				return ValidationError{
					Field:   fmt.Sprintf("refdata.assets[%d].current_price", i),
					Value:   asset.CurrentPrice,
					Message: "must be a valid decimal",
				}
			}
		}
	case "http":
		if c.RefData.BaseURL == "" {
			return ValidationError{
				Field:   "refdata.base_url",
				Message: "base URL is required for the http provider",
			}
		}
	default:
		return ValidationError{
			Field:   "refdata.provider",
			Value:   c.RefData.Provider,
			Message: "must be one of: static, http",
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	validFormats := []string{"console", "json"}
	if !contains(validFormats, strings.ToLower(c.System.LogFormat)) {
		return ValidationError{
			Field:   "system.log_format",
			Value:   c.System.LogFormat,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validFormats, ", ")),
		}
	}
	return nil
}

// String returns a string representation of the configuration (secrets redact themselves)
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

// expandEnvVars substitutes ${VAR} and ${VAR:default} references with
// environment values before the YAML is parsed.
func expandEnvVars(s string) string {
	return os.Expand(s, func(key string) string {
		name, def, hasDef := strings.Cut(key, ":")
		if value := os.Getenv(name); value != "" {
			return value
		}
		if hasDef {
			return def
		}
		return ""
	})
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns the demo configuration. LoadConfig overlays the YAML
// file on top of these values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                "0.0.0.0",
			Port:                8080,
			ReadTimeoutSeconds:  10,
			WriteTimeoutSeconds: 10,
			ShutdownSeconds:     10,
			SubmitRateLimit:     25,
			SubmitRateBurst:     30,
		},
		Stream: StreamConfig{
			Enabled:        true,
			Host:           "0.0.0.0",
			Port:           8081,
			AllowedOrigins: []string{"http://localhost:3000"},
			MaxClients:     1000,
			RateLimitPerIP: 5,
			RateBurstPerIP: 10,
		},
		Database: DatabaseConfig{
			Path:          "omc.db",
			BusyTimeoutMS: 5000,
		},
		Engine: EngineConfig{
			Workers:                4,
			QueueSize:              256,
			MaxAttempts:            3,
			RetryBackoffMS:         100,
			MaxBackoffMS:           2000,
			WorkflowTimeoutSeconds: 30,
		},
		Settlement: SettlementConfig{
			DelayMS:        10000,
			PollIntervalMS: 500,
		},
		RefData: RefDataConfig{
			Provider:   "static",
			TimeoutMS:  5000,
			CacheTTLMS: 5000,
			Investors: []InvestorSeed{
				{ID: 1, Name: "Ada Byron", AccountStatus: "Active"},
				{ID: 2, Name: "Charles Babbage", AccountStatus: "Suspended"},
			},
			Assets: []AssetSeed{
				{ID: 10, Symbol: "ACME", Name: "Acme Industrial", Active: true, CurrentPrice: "50.00"},
				{ID: 20, Symbol: "GLOB", Name: "Globex Holdings", Active: false, CurrentPrice: "12.50"},
			},
		},
		Alerts: AlertsConfig{
			Enabled: false,
		},
		System: SystemConfig{
			LogLevel:  "INFO",
			LogFormat: "console",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
	}
}
