package encryption

import (
	"bytes"
	"fmt"
)

// testHeader is prepended by TestSealer to make sealed output clearly
// different from plaintext while remaining deterministic and reversible.
var testHeader = []byte("VPSEAL\x00\x00")

// TestSealer is a deterministic stand-in for AgeSealer in tests. It
// prepends a fixed 8-byte header when sealing and strips it when opening.
type TestSealer struct{}

// NewTestSealer creates a new TestSealer.
func NewTestSealer() *TestSealer {
	return &TestSealer{}
}

func (s *TestSealer) Seal(plain []byte) ([]byte, error) {
	out := make([]byte, 0, len(testHeader)+len(plain))
	out = append(out, testHeader...)
	return append(out, plain...), nil
}

func (s *TestSealer) Open(sealed []byte) ([]byte, error) {
	if !bytes.HasPrefix(sealed, testHeader) {
		return nil, fmt.Errorf("invalid test seal header")
	}
	return append([]byte(nil), sealed[len(testHeader):]...), nil
}
