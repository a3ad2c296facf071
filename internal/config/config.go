package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// Config represents the complete configuration for the APM mock agent
type Config struct {
	Network      NetworkConfig      `yaml:"network"`
	Timing       TimingConfig       `yaml:"timing"`
	Logging      LoggingConfig      `yaml:"logging"`
	RemoteConfig RemoteConfigConfig `yaml:"remoteConfig"`
}

// NetworkConfig holds network-related settings
type NetworkConfig struct {
	HTTP HTTPConfig `yaml:"http"`
}

// HTTPConfig holds HTTP server settings
type HTTPConfig struct {
	Port         int    `yaml:"port"`
	ServerHeader string `yaml:"serverHeader"`
}

// TimingConfig holds all timing-related settings
type TimingConfig struct {
	StartupTimeoutSec     int `yaml:"startupTimeoutSec"`
	ShutdownTimeoutSec    int `yaml:"shutdownTimeoutSec"`
	DefaultWaitTimeoutSec int `yaml:"defaultWaitTimeoutSec"`
}

// LoggingConfig holds logger and log rotation settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // empty means stderr
	MaxSizeMB  int    `yaml:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// RemoteConfigConfig holds remote configuration distribution settings
type RemoteConfigConfig struct {
	OrgID              int    `yaml:"orgId"`
	OpaqueBackendState string `yaml:"opaqueBackendState"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	// Load default configuration
	cfg := getDefaultConfig()

	// Load from default config file
	if err := loadFromFile(cfg, "config/default.yaml"); err != nil {
		// If default config doesn't exist, continue with defaults
		fmt.Printf("Warning: Could not load default config: %v\n", err)
	}

	// Load from config file if APMMOCK_CONFIG is set
	if configPath := os.Getenv("APMMOCK_CONFIG"); configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %v", configPath, err)
		}
	}

	// Override with environment variables
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %v", err)
	}

	return cfg, nil
}

// Default returns the built-in defaults without touching files or the
// environment. Intended for tests and embedded use.
func Default() *Config {
	return getDefaultConfig()
}

// getDefaultConfig returns the default configuration
func getDefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			HTTP: HTTPConfig{
				Port:         8126,
				ServerHeader: "",
			},
		},
		Timing: TimingConfig{
			StartupTimeoutSec:     5,
			ShutdownTimeoutSec:    5,
			DefaultWaitTimeoutSec: 30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			File:       "",
			MaxSizeMB:  20,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   false,
		},
		RemoteConfig: RemoteConfigConfig{
			OrgID:              2,
			OpaqueBackendState: "opaquebackendstate",
		},
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides applies environment variable overrides
func applyEnvOverrides(cfg *Config) {
	if port := os.Getenv("APMMOCK_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Network.HTTP.Port = p
		}
	}

	if level := os.Getenv("APMMOCK_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	if waitTimeout := os.Getenv("APMMOCK_WAIT_TIMEOUT"); waitTimeout != "" {
		if sec, err := strconv.Atoi(waitTimeout); err == nil {
			cfg.Timing.DefaultWaitTimeoutSec = sec
		}
	}
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	// Validate log level
	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.Logging.Level) {
		return fmt.Errorf("invalid log level %s, must be one of: %v", cfg.Logging.Level, validLevels)
	}

	// Validate port range (0 means pick an ephemeral port)
	if cfg.Network.HTTP.Port < 0 || cfg.Network.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP port %d, must be in [0, 65535]", cfg.Network.HTTP.Port)
	}

	// Validate timing values
	if cfg.Timing.StartupTimeoutSec <= 0 || cfg.Timing.StartupTimeoutSec > 60 {
		return fmt.Errorf("startup timeout %d seconds is outside reasonable range [1, 60]", cfg.Timing.StartupTimeoutSec)
	}

	if cfg.Timing.ShutdownTimeoutSec <= 0 || cfg.Timing.ShutdownTimeoutSec > 60 {
		return fmt.Errorf("shutdown timeout %d seconds is outside reasonable range [1, 60]", cfg.Timing.ShutdownTimeoutSec)
	}

	if cfg.Timing.DefaultWaitTimeoutSec <= 0 {
		return fmt.Errorf("default wait timeout must be positive, got %d", cfg.Timing.DefaultWaitTimeoutSec)
	}

	// Validate remote config tenant
	if cfg.RemoteConfig.OrgID <= 0 {
		return fmt.Errorf("invalid orgId %d, must be positive", cfg.RemoteConfig.OrgID)
	}

	return nil
}

// contains checks if a string slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
