// Package config provides YAML-based configuration loading for Spotter.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the corresponding field is left empty.
const (
	DefaultPort           = 8080
	DefaultSQLitePath     = "spotter.db"
	DefaultMySQLPort      = 3306
	DefaultProvider       = "gemini"
	DefaultModel          = "gemini-2.5-flash"
	DefaultAPIKeyEnv      = "GEMINI_API_KEY"
	DefaultMaxRoundTrips  = 6
	DefaultSweepSchedule  = "*/5 * * * *"
	DefaultPendingTTL     = 24 * time.Hour
	DefaultServiceName    = "spotter"
	DefaultLogLevel       = "info"
	DefaultLogFormat      = "json"
	DefaultMaxOutputToken = 8192
)

// Config is the top-level Spotter configuration, loaded from spotter.yaml.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Provider     ProviderConfig     `yaml:"provider"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Sweeper      SweeperConfig      `yaml:"sweeper"`
	Telemetry    TelemetryConfig    `yaml:"telemetry"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// DatabaseConfig selects the transcript database. Driver is "sqlite" or
// "mysql"; Path is used by sqlite, the rest by mysql.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ProviderConfig configures the language-model provider.
type ProviderConfig struct {
	Name            string `yaml:"name"`
	Model           string `yaml:"model"`
	APIKeyEnv       string `yaml:"api_key_env"`
	SystemPrompt    string `yaml:"system_prompt"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
}

// APIKey returns the provider key from the configured environment variable.
func (p ProviderConfig) APIKey() string {
	return os.Getenv(p.APIKeyEnv)
}

// OrchestratorConfig bounds a single conversation turn.
type OrchestratorConfig struct {
	MaxRoundTrips int `yaml:"max_round_trips"`
}

// SweeperConfig controls expiry of stale pending actions.
type SweeperConfig struct {
	Schedule   string        `yaml:"schedule"`
	PendingTTL time.Duration `yaml:"pending_ttl"`
	Disabled   bool          `yaml:"disabled"`
}

// TelemetryConfig configures the OTLP exporters. An empty endpoint disables
// telemetry.
type TelemetryConfig struct {
	Endpoint    string `yaml:"endpoint"`
	Insecure    bool   `yaml:"insecure"`
	ServiceName string `yaml:"service_name"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = DefaultSQLitePath
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = DefaultMySQLPort
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	}
	if c.Provider.Name == "" {
		c.Provider.Name = DefaultProvider
	}
	if c.Provider.Model == "" {
		c.Provider.Model = DefaultModel
	}
	if c.Provider.APIKeyEnv == "" {
		c.Provider.APIKeyEnv = DefaultAPIKeyEnv
	}
	if c.Provider.MaxOutputTokens == 0 {
		c.Provider.MaxOutputTokens = DefaultMaxOutputToken
	}
	if c.Orchestrator.MaxRoundTrips == 0 {
		c.Orchestrator.MaxRoundTrips = DefaultMaxRoundTrips
	}
	if c.Sweeper.Schedule == "" {
		c.Sweeper.Schedule = DefaultSweepSchedule
	}
	if c.Sweeper.PendingTTL == 0 {
		c.Sweeper.PendingTTL = DefaultPendingTTL
	}
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = DefaultServiceName
	}
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	switch c.Database.Driver {
	case "sqlite":
	case "mysql":
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required for mysql")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Provider.Name != "gemini" {
		errs = append(errs, fmt.Sprintf("provider.name %q is not supported", c.Provider.Name))
	}
	if c.Orchestrator.MaxRoundTrips < 0 {
		errs = append(errs, "orchestrator.max_round_trips must be positive")
	}
	if c.Sweeper.PendingTTL < 0 {
		errs = append(errs, "sweeper.pending_ttl must be positive")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be json or console", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
