// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keystorage.
//
// go-keystorage is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package config loads the keystorectl configuration: the scrypt
// stretching parameter source, secure-erase tool paths and the software
// keymaster root key location. The scrypt parameters are captured into
// each stored record; changing them here never affects existing records.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jeremyhahn/go-keystorage/pkg/keystore"
	"github.com/spf13/viper"
)

// Config is the complete tool configuration.
type Config struct {
	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" mapstructure:"debug"`

	// ScryptParams is the stretching cost exponent string ("N:r:p").
	ScryptParams string `yaml:"scrypt_params" mapstructure:"scrypt_params"`

	// SecdiscardPath is the secure-erase tool invoked during
	// destruction.
	SecdiscardPath string `yaml:"secdiscard_path" mapstructure:"secdiscard_path"`

	// RemovePath is the recursive removal tool invoked during
	// destruction.
	RemovePath string `yaml:"remove_path" mapstructure:"remove_path"`

	// RootKeyFile is where the software keymaster root key lives. It is
	// created on first use.
	RootKeyFile string `yaml:"root_key_file" mapstructure:"root_key_file"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		ScryptParams: keystore.DefaultScryptParams,
		RootKeyFile:  filepath.Join(home, ".keystorage", "rootkey"),
	}
}

// Load reads configuration from the given file, or from the standard
// locations ($HOME/.keystorage.yaml, /etc/keystorage) when path is empty,
// with KEYSTORAGE_* environment variables overriding file values. A
// missing config file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults := DefaultConfig()
	v.SetDefault("debug", defaults.Debug)
	v.SetDefault("scrypt_params", defaults.ScryptParams)
	v.SetDefault("secdiscard_path", defaults.SecdiscardPath)
	v.SetDefault("remove_path", defaults.RemovePath)
	v.SetDefault("root_key_file", defaults.RootKeyFile)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(".keystorage")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath("/etc/keystorage")
	}
	v.SetEnvPrefix("KEYSTORAGE")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configured values.
func (c *Config) Validate() error {
	if err := keystore.ValidateScryptParams(c.ScryptParams); err != nil {
		return fmt.Errorf("config: scrypt_params: %w", err)
	}
	if c.RootKeyFile == "" {
		return fmt.Errorf("config: root_key_file is required")
	}
	return nil
}
