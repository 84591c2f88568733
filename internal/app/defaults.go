package app

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - VFSPANEL_CONFIG_PATH: config file location (default: $XDG_CONFIG_HOME/vfspanel.toml)
//   - VFSPANEL_HOME: base directory for vfspanel data (default: $XDG_DATA_HOME/vfspanel)
func GetDefaults() map[string]string {
	baseDir := getBaseDir()
	return map[string]string{
		"config_path": getConfigPath(),
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}
}

func getConfigPath() string {
	if path := os.Getenv("VFSPANEL_CONFIG_PATH"); path != "" {
		return path
	}
	return filepath.Join(xdg.ConfigHome, "vfspanel.toml")
}

func getBaseDir() string {
	if path := os.Getenv("VFSPANEL_HOME"); path != "" {
		return path
	}
	return filepath.Join(xdg.DataHome, "vfspanel")
}
