// ABOUTME: Configuration loading and parsing for fraudgate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete fraudgate configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	Catalog    CatalogConfig    `yaml:"catalog"`
	Paywall    PaywallConfig    `yaml:"paywall"`
	Escalation EscalationConfig `yaml:"escalation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds proof token signing configuration
type AuthConfig struct {
	ProofSecret string `yaml:"proof_secret"`
}

// CatalogConfig points at the signal catalog file
type CatalogConfig struct {
	Path string `yaml:"path"`
}

// PaywallConfig holds paywall timing and pricing configuration
type PaywallConfig struct {
	ProofTTL  time.Duration `yaml:"-"`
	SignalTTL time.Duration `yaml:"-"`

	// PriceTolerance absorbs floating point rounding when validating
	// payment amounts against catalog prices.
	PriceTolerance float64 `yaml:"price_tolerance"`

	// Raw string values for YAML unmarshaling
	ProofTTLRaw  string `yaml:"proof_ttl"`
	SignalTTLRaw string `yaml:"signal_ttl"`
}

// EscalationConfig holds escalation pipeline configuration
type EscalationConfig struct {
	BudgetCeiling float64       `yaml:"budget_ceiling"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryBackoff  time.Duration `yaml:"-"`
	AgentTimeout  time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	RetryBackoffRaw string `yaml:"retry_backoff"`
	AgentTimeoutRaw string `yaml:"agent_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied when the config file leaves fields unset.
const (
	DefaultProofTTL      = time.Hour
	DefaultSignalTTL     = 24 * time.Hour
	DefaultBudgetCeiling = 1.00
	DefaultMaxRetries    = 3
	DefaultRetryBackoff  = 500 * time.Millisecond
	DefaultAgentTimeout  = 30 * time.Second
	DefaultTolerance     = 1e-6
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in defaults for optional fields
func (c *Config) applyDefaults() {
	if c.Paywall.ProofTTL == 0 {
		c.Paywall.ProofTTL = DefaultProofTTL
	}
	if c.Paywall.SignalTTL == 0 {
		c.Paywall.SignalTTL = DefaultSignalTTL
	}
	if c.Paywall.PriceTolerance == 0 {
		c.Paywall.PriceTolerance = DefaultTolerance
	}
	if c.Escalation.BudgetCeiling == 0 {
		c.Escalation.BudgetCeiling = DefaultBudgetCeiling
	}
	if c.Escalation.MaxRetries == 0 {
		c.Escalation.MaxRetries = DefaultMaxRetries
	}
	if c.Escalation.RetryBackoff == 0 {
		c.Escalation.RetryBackoff = DefaultRetryBackoff
	}
	if c.Escalation.AgentTimeout == 0 {
		c.Escalation.AgentTimeout = DefaultAgentTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.ProofSecret == "" {
		return fmt.Errorf("auth.proof_secret is required")
	}
	if len(c.Auth.ProofSecret) < 16 {
		return fmt.Errorf("auth.proof_secret must be at least 16 bytes")
	}

	if c.Escalation.BudgetCeiling < 0 {
		return fmt.Errorf("escalation.budget_ceiling must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Paywall.ProofTTLRaw != "" {
		cfg.Paywall.ProofTTL, err = time.ParseDuration(cfg.Paywall.ProofTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing proof_ttl %q: %w", cfg.Paywall.ProofTTLRaw, err)
		}
	}

	if cfg.Paywall.SignalTTLRaw != "" {
		cfg.Paywall.SignalTTL, err = time.ParseDuration(cfg.Paywall.SignalTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing signal_ttl %q: %w", cfg.Paywall.SignalTTLRaw, err)
		}
	}

	if cfg.Escalation.RetryBackoffRaw != "" {
		cfg.Escalation.RetryBackoff, err = time.ParseDuration(cfg.Escalation.RetryBackoffRaw)
		if err != nil {
			return fmt.Errorf("parsing retry_backoff %q: %w", cfg.Escalation.RetryBackoffRaw, err)
		}
	}

	if cfg.Escalation.AgentTimeoutRaw != "" {
		cfg.Escalation.AgentTimeout, err = time.ParseDuration(cfg.Escalation.AgentTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing agent_timeout %q: %w", cfg.Escalation.AgentTimeoutRaw, err)
		}
	}

	return nil
}
