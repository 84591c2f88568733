package vault

import (
	"context"
	"fmt"

	"vfspanel/internal/config"
	"vfspanel/internal/encryption"
	"vfspanel/internal/panel"
)

// NewVaultFromConfig creates a CredentialVault implementation based on the vault config type.
// The file and s3 vaults need the age identity created by `config init`.
func NewVaultFromConfig(ctx context.Context, cfg config.VaultConfig, logger panel.Logger) (panel.CredentialVault, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryVault(), nil
	case "secret-service":
		return NewSecretServiceVault(logger)
	case "file":
		if cfg.FileRoot == "" {
			return nil, fmt.Errorf("file vault requires file_root to be set")
		}
		sealer, err := openSealer(cfg)
		if err != nil {
			return nil, err
		}
		return NewFileVault(cfg.FileRoot, sealer)
	case "s3":
		sealer, err := openSealer(cfg)
		if err != nil {
			return nil, err
		}
		return NewS3Vault(ctx, S3Options{
			Bucket:          cfg.S3Bucket,
			Prefix:          cfg.S3Prefix,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		}, sealer)
	default:
		return nil, fmt.Errorf("unknown vault type: %s", cfg.Type)
	}
}

func openSealer(cfg config.VaultConfig) (*encryption.AgeSealer, error) {
	if cfg.IdentityPath == "" {
		return nil, fmt.Errorf("%s vault requires identity_path to be set", cfg.Type)
	}
	sealer := encryption.NewAgeSealer(cfg.IdentityPath)
	if !sealer.IsConfigured() {
		return nil, fmt.Errorf("vault identity %s missing, run `vfspanel config init`", cfg.IdentityPath)
	}
	return sealer, nil
}
