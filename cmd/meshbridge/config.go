package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/nerrad567/meshbridge/internal/infrastructure/config"
)

// getConfigPath returns the configuration file path and whether it was
// chosen explicitly.
func getConfigPath(flag string) (string, bool) {
	if flag != "" {
		return flag, true
	}
	if path := os.Getenv(configEnv); path != "" {
		return path, true
	}
	return defaultConfigPath, false
}

// loadConfig loads the configuration. A missing default file falls back to
// the built-in defaults; a missing explicit file is an error.
func loadConfig(flag string) (*config.Config, string, error) {
	path, explicit := getConfigPath(flag)

	cfg, err := config.Load(path)
	if err == nil {
		return cfg, path, nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		cfg, err = config.LoadDefaults()
		if err != nil {
			return nil, "", err
		}
		return cfg, "", nil
	}
	return nil, "", fmt.Errorf("loading config: %w", err)
}
