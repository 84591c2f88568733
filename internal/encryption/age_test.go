package encryption

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func newTestAgeSealer(t *testing.T) *AgeSealer {
	t.Helper()
	return NewAgeSealer(filepath.Join(t.TempDir(), "keys", "vault.key"))
}

func TestAgeSealer_IsConfigured_BeforeSetup(t *testing.T) {
	t.Parallel()
	s := newTestAgeSealer(t)
	if s.IsConfigured() {
		t.Error("IsConfigured() = true before Setup, want false")
	}
	if _, err := s.Seal([]byte("x")); err == nil {
		t.Error("Seal() before Setup should fail")
	}
}

func TestAgeSealer_Setup(t *testing.T) {
	t.Parallel()
	s := newTestAgeSealer(t)

	if err := s.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if !s.IsConfigured() {
		t.Error("IsConfigured() = false after Setup, want true")
	}

	info, err := os.Stat(s.identityPath)
	if err != nil {
		t.Fatalf("identity file missing: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("identity permissions = %o, want 600", info.Mode().Perm())
	}

	if err := s.Setup(); err == nil {
		t.Error("second Setup() should refuse to overwrite the identity")
	}
}

func TestAgeSealer_SealOpenRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input []byte
	}{
		{name: "password", input: []byte("hunter2")},
		{name: "empty", input: []byte{}},
		{name: "binary data", input: []byte{0x00, 0xff, 0x01, 0xfe}},
	}

	s := newTestAgeSealer(t)
	if err := s.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := s.Seal(tt.input)
			if err != nil {
				t.Fatalf("Seal() error = %v", err)
			}
			if len(tt.input) > 0 && bytes.Contains(sealed, tt.input) {
				t.Error("sealed output contains the plaintext")
			}

			// a fresh sealer reads the identity back from disk
			reopened := NewAgeSealer(s.identityPath)
			got, err := reopened.Open(sealed)
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			if !bytes.Equal(got, tt.input) {
				t.Errorf("Open() = %x, want %x", got, tt.input)
			}
		})
	}
}

func TestAgeSealer_WrongIdentity(t *testing.T) {
	t.Parallel()
	a := newTestAgeSealer(t)
	b := newTestAgeSealer(t)
	if err := a.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := b.Setup(); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	sealed, err := a.Seal([]byte("hunter2"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if _, err := b.Open(sealed); err == nil {
		t.Error("Open() with the wrong identity should fail")
	}
}
