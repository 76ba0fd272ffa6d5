// Package config reads stacktally.yaml directly, without going through the
// viper singleton. Commands use viper; library consumers and early-startup
// checks use this.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// LocalConfig is the subset of stacktally.yaml fields that are useful to read
// before (or without) viper initialization.
type LocalConfig struct {
	Backend     string `yaml:"backend"`     // "sqlite" or "mysql"
	Database    string `yaml:"database"`    // path or DSN, per backend
	NATSURL     string `yaml:"nats-url"`    // broker URL for consume/verify
	Deployments string `yaml:"deployments"` // path to deployments.toml
}

// LoadLocalConfig reads and parses stacktally.yaml from dir. Returns an empty
// LocalConfig (not nil) if the file doesn't exist or can't be parsed.
func LoadLocalConfig(dir string) *LocalConfig {
	configPath := filepath.Join(dir, "stacktally.yaml")
	data, err := os.ReadFile(configPath) // #nosec G304 - config file path from dir
	if err != nil {
		return &LocalConfig{}
	}

	var cfg LocalConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}

	return &cfg
}

// LoadLocalConfigWithEnv reads stacktally.yaml and applies environment
// variable overrides. Environment variables take precedence over file values.
//
// Supported environment variables:
//   - STALLY_BACKEND: overrides backend
//   - STALLY_DB: overrides database
//   - STALLY_NATS_URL: overrides nats-url
//   - STALLY_DEPLOYMENTS: overrides deployments
func LoadLocalConfigWithEnv(dir string) *LocalConfig {
	cfg := LoadLocalConfig(dir)

	if v := os.Getenv("STALLY_BACKEND"); v != "" {
		cfg.Backend = v
	}
	if v := os.Getenv("STALLY_DB"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv("STALLY_NATS_URL"); v != "" {
		cfg.NATSURL = v
	}
	if v := os.Getenv("STALLY_DEPLOYMENTS"); v != "" {
		cfg.Deployments = v
	}

	return cfg
}
