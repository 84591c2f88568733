package encryption

import (
	"bytes"
	"testing"
)

func TestTestSealer_RoundTrip(t *testing.T) {
	s := NewTestSealer()
	sealed, err := s.Seal([]byte("hunter2"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if !bytes.HasPrefix(sealed, testHeader) {
		t.Errorf("sealed output %q lacks the test header", sealed)
	}
	got, err := s.Open(sealed)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if string(got) != "hunter2" {
		t.Errorf("Open() = %q, want %q", got, "hunter2")
	}
}

func TestTestSealer_RejectsForeignData(t *testing.T) {
	if _, err := NewTestSealer().Open([]byte("plain")); err == nil {
		t.Error("Open() of unsealed data should fail")
	}
}

func TestNewCipherForVersion(t *testing.T) {
	tests := []struct {
		version   int
		storageID string
		wantAES   bool
		wantErr   bool
	}{
		{1, "", false, false},
		{2, "id", false, false},
		{3, testStorageID, true, false},
		{5, testStorageID, true, false},
		{4, "", false, true},
		{0, "id", false, true},
		{6, "id", false, true},
	}

	for _, tt := range tests {
		c, err := NewCipherForVersion(tt.version, tt.storageID)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NewCipherForVersion(%d, %q) expected error", tt.version, tt.storageID)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NewCipherForVersion(%d) error = %v", tt.version, err)
		}
		_, isAES := c.(*AESCipher)
		if isAES != tt.wantAES {
			t.Errorf("NewCipherForVersion(%d) = %T, wantAES %v", tt.version, c, tt.wantAES)
		}
	}
}
