package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"mcphub/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/mcphub"
	configFileName = "config.yaml"
)

// DefaultConfigPath returns the user-level configuration directory.
func DefaultConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user home directory: %w", err)
	}
	return filepath.Join(homeDir, userConfigDir), nil
}

// LoadConfig loads configuration from the specified directory. The directory
// should contain config.yaml; a missing file yields the defaults.
func LoadConfig(configPath string) (HubConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	cfg := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			return cfg, nil
		}
		return HubConfig{}, fmt.Errorf("error reading config from %s: %w", configFilePath, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return HubConfig{}, fmt.Errorf("error parsing config from %s: %w", configFilePath, err)
	}

	applyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return HubConfig{}, fmt.Errorf("invalid configuration in %s: %w", configFilePath, err)
	}

	// Resolve a relative API tools path against the config directory.
	if cfg.APITools.Path != "" && !filepath.IsAbs(cfg.APITools.Path) {
		cfg.APITools.Path = filepath.Join(configPath, cfg.APITools.Path)
	}

	logging.Info("ConfigLoader", "Loaded configuration from %s (%d servers, %d groups)",
		configFilePath, len(cfg.Servers), len(cfg.Groups))
	return cfg, nil
}
