package testutil

import (
	"context"
	"sync"

	"vfspanel/internal/panel"
)

// MemoryStore is an in-memory panel.RecordStore. Records are kept by
// storage ID; FailSave makes every Save report failure.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]*panel.Record
	ids      *StubIDGenerator
	FailSave bool
	saves    int
}

var _ panel.RecordStore = (*MemoryStore)(nil)

func NewMemoryStore(records ...*panel.Record) *MemoryStore {
	s := &MemoryStore{records: make(map[string]*panel.Record), ids: NewStubIDGenerator()}
	for _, r := range records {
		s.records[r.StorageID] = persisted(r)
	}
	return s
}

func (s *MemoryStore) LoadAll(context.Context) map[string]*panel.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*panel.Record, len(s.records))
	for _, r := range s.records {
		out[r.URL] = r.Clone()
	}
	return out
}

func (s *MemoryStore) Save(_ context.Context, rec *panel.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.FailSave {
		return false
	}
	s.records[rec.StorageID] = persisted(rec)
	return true
}

func (s *MemoryStore) Delete(_ context.Context, rec *panel.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, rec.StorageID)
}

func (s *MemoryStore) Factory() *panel.Record {
	return panel.NewRecord(s.ids.New())
}

func (s *MemoryStore) FindDuplicate(_ context.Context, url, user, excludingID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.StorageID != excludingID && r.URL == url && r.User == user {
			return true
		}
	}
	return false
}

// Get returns the persisted copy of the record with storage ID id.
func (s *MemoryStore) Get(id string) (*panel.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// Saves returns how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// persisted keeps only what a real store writes: no mount state, and no
// password for AskPassword records.
func persisted(rec *panel.Record) *panel.Record {
	p := panel.NewRecord(rec.StorageID)
	p.URL = rec.URL
	p.User = rec.User
	p.AskPassword = rec.AskPassword
	if !rec.AskPassword {
		p.Password = rec.Password
	}
	return p
}
