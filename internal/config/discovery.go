package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigDirEnv overrides the configuration directory.
const ConfigDirEnv = "EUPHROSYNE_LIFECYCLE_CONFIG_DIR"

// ErrNoConfig is returned by DiscoverConfigPath when no file exists in any
// standard location.
var ErrNoConfig = fmt.Errorf("no config found (checked: $%s, ~/.config/euphrosyne-lifecycle, /etc/euphrosyne-lifecycle, ./config.yaml)", ConfigDirEnv)

// DiscoverConfigPath finds config.yaml by checking standard locations.
// Priority order: $EUPHROSYNE_LIFECYCLE_CONFIG_DIR, ~/.config/euphrosyne-lifecycle,
// /etc/euphrosyne-lifecycle, ./config.yaml
func DiscoverConfigPath() (string, error) {
	var candidates []string
	if dir := os.Getenv(ConfigDirEnv); dir != "" {
		candidates = append(candidates, filepath.Join(dir, "config.yaml"))
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "euphrosyne-lifecycle", "config.yaml"))
	}
	candidates = append(candidates,
		"/etc/euphrosyne-lifecycle/config.yaml",
		"./config.yaml",
	)

	for _, path := range candidates {
		if fileExists(path) {
			return path, nil
		}
	}
	return "", ErrNoConfig
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
