package encryption

import (
	"fmt"

	"vfspanel/internal/panel"
)

// Record schema versions that changed how passwords are stored.
const (
	FirstAESVersion = 3
	LatestVersion   = 5
)

// NewCipherForVersion returns the password cipher used by records of the
// given schema version. From version 3 on, each record's cipher is keyed by
// its storage ID.
func NewCipherForVersion(version int, storageID string) (panel.SecretCipher, error) {
	switch {
	case version < 1 || version > LatestVersion:
		return nil, fmt.Errorf("unknown record version: %d", version)
	case version < FirstAESVersion:
		return LegacyCipher{}, nil
	}

	if storageID == "" {
		return nil, fmt.Errorf("record version %d needs a storage id to key its cipher", version)
	}
	c := NewAESCipher()
	if !c.Init(storageID) {
		return nil, fmt.Errorf("deriving key for record %s", storageID)
	}
	return c, nil
}
