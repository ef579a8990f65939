package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "AGENTWS_"

// LoadOptions represents options for loading configuration
type LoadOptions struct {
	Path string
}

// Load loads configuration from defaults, an optional file and the environment
func Load(opts ...LoadOptions) (*Config, error) {
	cfg := Default()

	var options LoadOptions
	if len(opts) > 0 {
		options = opts[0]
	}

	if options.Path != "" {
		if err := loadFromFile(cfg, options.Path); err != nil {
			return nil, err
		}
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile loads configuration from a file
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", ext)
	}

	return nil
}

// loadFromEnv loads configuration from environment variables
func loadFromEnv(cfg *Config) error {
	if origin := getenv("ORIGIN"); origin != "" {
		cfg.Client.Origin = origin
	}
	if token := getenv("TOKEN"); token != "" {
		cfg.Client.Token = token
	}
	if attempts := getenv("MAX_ATTEMPTS"); attempts != "" {
		n, err := strconv.Atoi(attempts)
		if err != nil {
			return NewConfigError("client.reconnect.max_attempts", "not an integer")
		}
		cfg.Client.Reconnect.MaxAttempts = n
	}

	if file := getenv("SESSION_FILE"); file != "" {
		cfg.Session.File = file
	}

	if addr := getenv("SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if addr := getenv("METRICS_ADDR"); addr != "" {
		cfg.Metrics.Addr = addr
	}

	if level := getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := getenv("LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	return nil
}

func getenv(key string) string {
	return os.Getenv(EnvPrefix + key)
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

// NewConfigError creates a new configuration error
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in field '%s': %s", e.Field, e.Message)
}
