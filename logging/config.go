package logging

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Environment types
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
	EnvTest        = "test"
)

// Config holds logger configuration
type Config struct {
	Level       string `json:"level" yaml:"level" env:"LOG_LEVEL"`                // debug, info, warn, error
	Format      string `json:"format" yaml:"format" env:"LOG_FORMAT"`             // text, json
	AddSource   bool   `json:"add_source" yaml:"add_source" env:"LOG_ADD_SOURCE"` // whether to add source code information
	Environment string `json:"environment" yaml:"environment" env:"ENVIRONMENT"`  // development, production, test
}

// DefaultConfig is used when no configuration is supplied.
var DefaultConfig = Config{
	Level:       "info",
	Format:      "json",
	AddSource:   false,
	Environment: EnvProduction,
}

// GetConfigFromEnv creates a logger configuration based on environment variables
func GetConfigFromEnv() (Config, error) {
	config := Config{}
	if err := env.Parse(&config); err != nil {
		return DefaultConfig, fmt.Errorf("parse logging env: %w", err)
	}
	config.Level = strings.ToLower(config.Level)
	config.Format = strings.ToLower(config.Format)
	config.Environment = strings.ToLower(config.Environment)
	return config.withEnvironmentDefaults(), nil
}

// withEnvironmentDefaults fills unset fields from the environment profile.
func (c Config) withEnvironmentDefaults() Config {
	switch c.Environment {
	case EnvTest, EnvDevelopment:
		if c.Format == "" {
			c.Format = "text"
		}
		if c.Level == "" {
			c.Level = "debug"
		}
	default:
		if c.Environment == "" {
			c.Environment = EnvProduction
		}
		if c.Format == "" {
			c.Format = "json"
		}
		if c.Level == "" {
			c.Level = "info"
		}
	}
	return c
}
