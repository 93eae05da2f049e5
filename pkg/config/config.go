// Package config holds runtime configuration for the package subsystem,
// loaded from an optional YAML project file with environment variable
// overrides.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the subsystem configuration.
type Config struct {
	// PackageRoot is the directory scanned for package candidates.
	PackageRoot string `yaml:"packageRoot"`

	// LogLevel is a logrus level name.
	LogLevel string `yaml:"logLevel"`

	// Autoload lists packages loaded (with dependencies) at startup.
	Autoload []string `yaml:"autoload"`

	// Debug configures the read-only status server.
	Debug DebugConfig `yaml:"debug"`
}

// DebugConfig configures the debug/status HTTP server.
type DebugConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		PackageRoot: "packages",
		LogLevel:    "info",
		Debug: DebugConfig{
			Enabled: false,
			Addr:    "127.0.0.1:6460",
		},
	}
}

// Load builds the configuration: defaults, then the YAML project file at
// path if non-empty, then EMBER_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read project file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse project file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.PackageRoot = getEnv("EMBER_PACKAGE_ROOT", c.PackageRoot)
	c.LogLevel = getEnv("EMBER_LOG_LEVEL", c.LogLevel)
	c.Debug.Addr = getEnv("EMBER_DEBUG_ADDR", c.Debug.Addr)
	if v, ok := os.LookupEnv("EMBER_DEBUG_ENABLED"); ok {
		c.Debug.Enabled = v == "1" || v == "true"
	}
}

// Validate checks the configuration for obvious mistakes.
func (c *Config) Validate() error {
	if c.PackageRoot == "" {
		return fmt.Errorf("packageRoot must not be empty")
	}
	if c.Debug.Enabled && c.Debug.Addr == "" {
		return fmt.Errorf("debug.addr must be set when the debug server is enabled")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
