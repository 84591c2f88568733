package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags first, then the rules that tie fields of a
// tagged union to its Type.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if cfg.Registry.Type != "memory" && cfg.Registry.Path == "" {
		return fmt.Errorf("registry: path is required for type %q", cfg.Registry.Type)
	}

	switch cfg.Vault.Type {
	case "file":
		if cfg.Vault.FileRoot == "" {
			return fmt.Errorf("vault: file_root is required for type \"file\"")
		}
		if cfg.Vault.IdentityPath == "" {
			return fmt.Errorf("vault: identity_path is required for type \"file\"")
		}
	case "s3":
		if cfg.Vault.S3Bucket == "" {
			return fmt.Errorf("vault: s3_bucket is required for type \"s3\"")
		}
		if cfg.Vault.IdentityPath == "" {
			return fmt.Errorf("vault: identity_path is required for type \"s3\"")
		}
	}

	if cfg.Monitor.Source == "fuse" && cfg.Backend.Type != "gvfs" {
		return fmt.Errorf("monitor: source \"fuse\" needs the gvfs backend")
	}
	return nil
}

func formatValidationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		e := verrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}
	return err
}
