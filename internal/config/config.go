// Package config loads the signal server configuration from YAML with environment expansion
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Engine    EngineConfig    `yaml:"engine"`
	Server    ServerConfig    `yaml:"server"`
	Journal   JournalConfig   `yaml:"journal"`
	System    SystemConfig    `yaml:"system"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name string `yaml:"name"`
	// Exchange selects the account backend: okx or mock
	Exchange string `yaml:"exchange"`
}

// ExchangeConfig holds OKX credentials and transport settings
type ExchangeConfig struct {
	APIKey            Secret  `yaml:"api_key"`
	SecretKey         Secret  `yaml:"secret_key"`
	Passphrase        Secret  `yaml:"passphrase"`
	BaseURL           string  `yaml:"base_url"`
	Simulated         bool    `yaml:"simulated"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	TimeoutMs         int     `yaml:"timeout_ms"`
}

// Timeout returns the HTTP timeout, defaulting to 10s
func (c ExchangeConfig) Timeout() time.Duration {
	if c.TimeoutMs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// EngineConfig tunes the reconciliation engine
type EngineConfig struct {
	OrderBookDepth int `yaml:"order_book_depth"`
	DCAWorkers     int `yaml:"dca_workers"`
}

// ServerConfig contains the API, dashboard and health listeners
type ServerConfig struct {
	APIPort        int      `yaml:"api_port"`
	DashboardPort  int      `yaml:"dashboard_port"`
	GRPCPort       int      `yaml:"grpc_port"`
	WebhookToken   Secret   `yaml:"webhook_token"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	Production     bool     `yaml:"production"`
}

// JournalConfig controls the sqlite signal journal
type JournalConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// TelemetryConfig contains OpenTelemetry settings
type TelemetryConfig struct {
	ServiceName     string `yaml:"service_name"`
	EnableTracing   bool   `yaml:"enable_tracing"`
	EnableLogExport bool   `yaml:"enable_log_export"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references in data, decodes it over the defaults and validates the result
func Parse(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// Validate checks every section and reports all problems at once
func (c *Config) Validate() error {
	var errs []string
	for _, check := range []func() []error{
		c.validateApp,
		c.validateExchange,
		c.validateEngine,
		c.validateServer,
		c.validateJournal,
		c.validateSystem,
	} {
		for _, err := range check() {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateApp() []error {
	valid := []string{"okx", "mock"}
	if !contains(valid, c.App.Exchange) {
		return []error{ValidationError{
			Field:   "app.exchange",
			Value:   c.App.Exchange,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(valid, ", ")),
		}}
	}
	return nil
}

func (c *Config) validateExchange() []error {
	var errs []error
	if c.App.Exchange == "okx" {
		if c.Exchange.APIKey == "" {
			errs = append(errs, ValidationError{Field: "exchange.api_key", Message: "is required for okx"})
		}
		if c.Exchange.SecretKey == "" {
			errs = append(errs, ValidationError{Field: "exchange.secret_key", Message: "is required for okx"})
		}
		if c.Exchange.Passphrase == "" {
			errs = append(errs, ValidationError{Field: "exchange.passphrase", Message: "is required for okx"})
		}
	}
	if c.Exchange.BaseURL != "" && !strings.HasPrefix(c.Exchange.BaseURL, "https://") &&
		!strings.Contains(c.Exchange.BaseURL, "127.0.0.1") && !strings.Contains(c.Exchange.BaseURL, "localhost") {
		errs = append(errs, ValidationError{Field: "exchange.base_url", Value: c.Exchange.BaseURL, Message: "must start with https://"})
	}
	if c.Exchange.RequestsPerSecond < 0 || c.Exchange.RequestsPerSecond > 100 {
		errs = append(errs, ValidationError{Field: "exchange.requests_per_second", Value: c.Exchange.RequestsPerSecond, Message: "must be between 0 and 100"})
	}
	if c.Exchange.TimeoutMs < 0 || c.Exchange.TimeoutMs > 60000 {
		errs = append(errs, ValidationError{Field: "exchange.timeout_ms", Value: c.Exchange.TimeoutMs, Message: "must be between 0 and 60000"})
	}
	return errs
}

func (c *Config) validateEngine() []error {
	var errs []error
	// OKX serves at most 400 levels per side
	if c.Engine.OrderBookDepth < 1 || c.Engine.OrderBookDepth > 400 {
		errs = append(errs, ValidationError{Field: "engine.order_book_depth", Value: c.Engine.OrderBookDepth, Message: "must be between 1 and 400"})
	}
	if c.Engine.DCAWorkers < 1 || c.Engine.DCAWorkers > 64 {
		errs = append(errs, ValidationError{Field: "engine.dca_workers", Value: c.Engine.DCAWorkers, Message: "must be between 1 and 64"})
	}
	return errs
}

func (c *Config) validateServer() []error {
	var errs []error
	ports := map[string]int{
		"server.api_port":       c.Server.APIPort,
		"server.dashboard_port": c.Server.DashboardPort,
		"server.grpc_port":      c.Server.GRPCPort,
	}
	seen := make(map[int]string)
	for _, field := range []string{"server.api_port", "server.dashboard_port", "server.grpc_port"} {
		port := ports[field]
		if port < 1 || port > 65535 {
			errs = append(errs, ValidationError{Field: field, Value: port, Message: "must be between 1 and 65535"})
			continue
		}
		if other, dup := seen[port]; dup {
			errs = append(errs, ValidationError{Field: field, Value: port, Message: fmt.Sprintf("conflicts with %s", other)})
		}
		seen[port] = field
	}
	if c.Server.Production && c.Server.WebhookToken == "" {
		errs = append(errs, ValidationError{Field: "server.webhook_token", Message: "is required in production"})
	}
	return errs
}

func (c *Config) validateJournal() []error {
	if c.Journal.Enabled && c.Journal.Path == "" {
		return []error{ValidationError{Field: "journal.path", Message: "is required when the journal is enabled"}}
	}
	return nil
}

func (c *Config) validateSystem() []error {
	valid := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(valid, strings.ToUpper(c.System.LogLevel)) {
		return []error{ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(valid, ", ")),
		}}
	}
	return nil
}

// String renders the config as YAML with secrets redacted
func (c *Config) String() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("config: %v", err)
	}
	return string(out)
}

// expandEnvVars replaces ${VAR} and $VAR with environment values. Unset variables become empty.
func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a configuration that runs against the mock exchange
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:     "signal_trader",
			Exchange: "mock",
		},
		Exchange: ExchangeConfig{
			BaseURL:           "https://www.okx.com",
			RequestsPerSecond: 10,
			TimeoutMs:         10000,
		},
		Engine: EngineConfig{
			OrderBookDepth: 100,
			DCAWorkers:     8,
		},
		Server: ServerConfig{
			APIPort:       8080,
			DashboardPort: 8081,
			GRPCPort:      50051,
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "signal_journal.db",
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "signal_trader",
		},
	}
}
