package encryption

import (
	"fmt"

	"golang.org/x/text/encoding/unicode"

	"vfspanel/internal/panel"
)

// LegacyCipher is the obfuscation of version 1 and 2 records: the secret is
// stored as UTF-16 code units, two little-endian bytes each. It offers no
// secrecy and exists so old records can still be read.
type LegacyCipher struct{}

var _ panel.SecretCipher = LegacyCipher{}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func (LegacyCipher) Encrypt(plain []byte) ([]byte, error) {
	out, err := utf16le.NewEncoder().Bytes(plain)
	if err != nil {
		return nil, fmt.Errorf("packing legacy secret: %w", err)
	}
	return out, nil
}

// Decrypt unpacks code units. A trailing odd byte is ignored.
func (LegacyCipher) Decrypt(data []byte) ([]byte, error) {
	data = data[:len(data)&^1]
	out, err := utf16le.NewDecoder().Bytes(data)
	if err != nil {
		return nil, fmt.Errorf("unpacking legacy secret: %w", err)
	}
	return out, nil
}
