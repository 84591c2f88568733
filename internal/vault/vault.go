// Package vault provides panel.CredentialVault implementations: the desktop
// Secret Service, age-sealed files, age-sealed S3 objects and memory.
package vault

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSecretNotFound is returned by blob stores when no secret exists for
// an id. The CredentialVault methods translate it into found=false.
var ErrSecretNotFound = errors.New("secret not found")

// Sealer encrypts secrets at rest for the blob-backed vaults.
type Sealer interface {
	Seal(plain []byte) ([]byte, error)
	Open(sealed []byte) ([]byte, error)
}

// checkID rejects ids that could escape a vault's namespace when used as a
// file or object name.
func checkID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("invalid secret id %q", id)
	}
	return nil
}
