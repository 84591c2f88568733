package registry

import (
	"fmt"
	"os"
	"path/filepath"

	"vfspanel/internal/config"
)

// NewRegistryFromConfig creates a Registry implementation based on the registry config type.
func NewRegistryFromConfig(cfg config.RegistryConfig) (Registry, error) {
	if cfg.Type != "memory" {
		if cfg.Path == "" {
			return nil, fmt.Errorf("path required for %s registry", cfg.Type)
		}
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("creating registry directory: %w", err)
		}
	}

	switch cfg.Type {
	case "sqlite":
		return NewSQLiteRegistry(cfg.Path)
	case "bolt":
		return NewBoltRegistry(cfg.Path)
	case "badger":
		return NewBadgerRegistry(cfg.Path)
	case "ini":
		return NewINIRegistry(cfg.Path)
	case "memory":
		return NewMemoryRegistry(), nil
	default:
		return nil, fmt.Errorf("unknown registry type: %s", cfg.Type)
	}
}
