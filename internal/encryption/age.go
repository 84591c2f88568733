package encryption

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"filippo.io/age"
)

// AgeSealer seals vault secrets with an X25519 age identity kept in a
// private file. Unlike the record cipher it needs no per-record key, so a
// sealed secret can live in any blob store.
type AgeSealer struct {
	identityPath string

	mu       sync.Mutex
	identity *age.X25519Identity
}

// NewAgeSealer creates a sealer backed by the identity file at identityPath.
func NewAgeSealer(identityPath string) *AgeSealer {
	return &AgeSealer{identityPath: identityPath}
}

// Setup generates a new identity and writes it with owner-only permissions.
// It refuses to overwrite an existing identity, which would orphan every
// secret sealed with it.
func (s *AgeSealer) Setup() error {
	if s.IsConfigured() {
		return fmt.Errorf("identity already exists at %s", s.identityPath)
	}
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return fmt.Errorf("generating identity: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.identityPath), 0700); err != nil {
		return fmt.Errorf("creating identity directory: %w", err)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# created: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&buf, "# public key: %s\n", identity.Recipient())
	fmt.Fprintf(&buf, "%s\n", identity)
	if err := os.WriteFile(s.identityPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing identity: %w", err)
	}

	s.mu.Lock()
	s.identity = identity
	s.mu.Unlock()
	return nil
}

// IsConfigured returns true if the identity file exists.
func (s *AgeSealer) IsConfigured() bool {
	_, err := os.Stat(s.identityPath)
	return err == nil
}

// Seal encrypts plain to the identity's recipient.
func (s *AgeSealer) Seal(plain []byte) ([]byte, error) {
	identity, err := s.loadIdentity()
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	w, err := age.Encrypt(&out, identity.Recipient())
	if err != nil {
		return nil, fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := w.Write(plain); err != nil {
		return nil, fmt.Errorf("sealing secret: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing sealed secret: %w", err)
	}
	return out.Bytes(), nil
}

// Open decrypts a secret produced by Seal.
func (s *AgeSealer) Open(sealed []byte) ([]byte, error) {
	identity, err := s.loadIdentity()
	if err != nil {
		return nil, err
	}

	r, err := age.Decrypt(bytes.NewReader(sealed), identity)
	if err != nil {
		return nil, fmt.Errorf("opening sealed secret: %w", err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading sealed secret: %w", err)
	}
	return plain, nil
}

func (s *AgeSealer) loadIdentity() (*age.X25519Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity != nil {
		return s.identity, nil
	}

	data, err := os.ReadFile(s.identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading identity: %w", err)
	}
	identities, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing identity: %w", err)
	}
	for _, id := range identities {
		if x, ok := id.(*age.X25519Identity); ok {
			s.identity = x
			return x, nil
		}
	}
	return nil, fmt.Errorf("no X25519 identity in %s", s.identityPath)
}
