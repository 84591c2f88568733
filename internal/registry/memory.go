package registry

import (
	"fmt"
	"strings"
	"sync"
)

// MemoryRegistry keeps everything in memory, making it useful for tests.
// Subkeys are listed in creation order. Safe for concurrent use.
type MemoryRegistry struct {
	mu     sync.RWMutex
	keys   map[string]map[string]Value // key path -> values
	order  []string                    // key paths in creation order
	closed bool
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{keys: map[string]map[string]Value{"": {}}}
}

func (m *MemoryRegistry) CreateKey(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	m.createLocked(key)
	return nil
}

func (m *MemoryRegistry) KeyExists(key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return false, err
	}
	_, ok := m.keys[CleanKey(key)]
	return ok, nil
}

func (m *MemoryRegistry) SubKeys(key string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	key = CleanKey(key)
	if _, ok := m.keys[key]; !ok && key != "" {
		return nil, fmt.Errorf("listing %s: %w", key, ErrKeyNotFound)
	}
	var names []string
	for _, p := range m.order {
		if name, ok := childName(key, p); ok {
			names = append(names, name)
		}
	}
	return names, nil
}

func (m *MemoryRegistry) DeleteKey(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	key = CleanKey(key)
	if key == "" {
		return fmt.Errorf("refusing to delete the root key")
	}
	kept := m.order[:0]
	for _, p := range m.order {
		if p == key || strings.HasPrefix(p, key+"/") {
			delete(m.keys, p)
			continue
		}
		kept = append(kept, p)
	}
	m.order = kept
	return nil
}

func (m *MemoryRegistry) GetValue(key, name string) (Value, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return Value{}, err
	}
	values, ok := m.keys[CleanKey(key)]
	if !ok {
		return Value{}, fmt.Errorf("reading %s: %w", key, ErrKeyNotFound)
	}
	v, ok := values[name]
	if !ok {
		return Value{}, fmt.Errorf("reading %s/%s: %w", key, name, ErrValueNotFound)
	}
	return Value{Kind: v.Kind, Data: append([]byte(nil), v.Data...)}, nil
}

func (m *MemoryRegistry) SetValue(key, name string, v Value) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	values := m.createLocked(key)
	values[name] = Value{Kind: v.Kind, Data: append([]byte(nil), v.Data...)}
	return nil
}

func (m *MemoryRegistry) DeleteValue(key, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.checkOpen(); err != nil {
		return err
	}
	if values, ok := m.keys[CleanKey(key)]; ok {
		delete(values, name)
	}
	return nil
}

func (m *MemoryRegistry) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryRegistry) checkOpen() error {
	if m.closed {
		return fmt.Errorf("registry is closed")
	}
	return nil
}

func (m *MemoryRegistry) createLocked(key string) map[string]Value {
	key = CleanKey(key)
	for _, p := range parentKeys(key) {
		if _, ok := m.keys[p]; !ok {
			m.keys[p] = make(map[string]Value)
			m.order = append(m.order, p)
		}
	}
	return m.keys[key]
}

// childName reports whether path is a direct child of key and returns its
// last segment.
func childName(key, path string) (string, bool) {
	prefix := key + "/"
	if key == "" {
		prefix = ""
	}
	if path == "" || !strings.HasPrefix(path, prefix) {
		return "", false
	}
	rest := path[len(prefix):]
	if rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
