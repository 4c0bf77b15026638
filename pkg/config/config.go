// Package config loads engine configuration from the environment, with an
// optional YAML profile file for deployments that prefer checked-in config.
// Environment variables always win over the profile.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds engine configuration.
type Config struct {
	// RegistryPath is the grant registry JSON file.
	RegistryPath string `yaml:"registry_path"`
	// AuditDBPath is the SQLite audit database. ":memory:" for ephemeral.
	AuditDBPath string `yaml:"audit_db_path"`
	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	LogLevel string `yaml:"log_level"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// TelemetryConfig configures the optional OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	ServiceName  string  `yaml:"service_name"`
	SampleRate   float64 `yaml:"sample_rate"`
	Insecure     bool    `yaml:"insecure"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		RegistryPath: "skills_registry.json",
		AuditDBPath:  "trustgate_audit.db",
		LogLevel:     "INFO",
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			ServiceName:  "trustgate",
			SampleRate:   1.0,
		},
	}
}

// Load builds configuration from defaults overlaid with the environment.
func Load() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

// LoadFile reads a YAML profile, then overlays the environment on top.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TRUSTGATE_REGISTRY"); v != "" {
		c.RegistryPath = v
	}
	if v := os.Getenv("TRUSTGATE_AUDIT_DB"); v != "" {
		c.AuditDBPath = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("TRUSTGATE_TELEMETRY"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.OTLPEndpoint = v
	}
	if v := os.Getenv("OTEL_SERVICE_NAME"); v != "" {
		c.Telemetry.ServiceName = v
	}
	if v := os.Getenv("TRUSTGATE_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.ParseFloat(v, 64); err == nil {
			c.Telemetry.SampleRate = rate
		}
	}
}
