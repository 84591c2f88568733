package vault

import (
	"context"
	"sync"

	"vfspanel/internal/panel"
)

// MemoryVault is an in-memory implementation of panel.CredentialVault.
// It is useful for testing and safe for concurrent use.
type MemoryVault struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// Compile-time check that MemoryVault implements panel.CredentialVault
var _ panel.CredentialVault = (*MemoryVault)(nil)

// NewMemoryVault creates an empty in-memory vault.
func NewMemoryVault() *MemoryVault {
	return &MemoryVault{secrets: make(map[string]string)}
}

// Store saves password under id.
func (m *MemoryVault) Store(ctx context.Context, id, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[id] = password
	return nil
}

// Load returns the password stored under id.
func (m *MemoryVault) Load(ctx context.Context, id string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	pw, ok := m.secrets[id]
	return pw, ok, nil
}

// Remove deletes the password stored under id, if any.
func (m *MemoryVault) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, id)
	return nil
}

// Len returns the number of stored secrets.
func (m *MemoryVault) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.secrets)
}
