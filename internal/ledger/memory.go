package ledger

import (
	"context"
	"sync"
)

// MemoryStore is a thread-safe in-memory Store for tests and single-process runs.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	records []VitaminRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// Insert assigns the next id and appends rec.
func (m *MemoryStore) Insert(_ context.Context, rec VitaminRecord) (VitaminRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = m.nextID
	m.nextID++
	m.records = append(m.records, rec)
	return rec, nil
}

// ListFor returns identity's records in insertion order.
func (m *MemoryStore) ListFor(_ context.Context, identity string) ([]VitaminRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]VitaminRecord, 0)
	for _, rec := range m.records {
		if rec.UserIdentity == identity {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Delete removes record id if identity owns it, else returns ErrNotFound.
func (m *MemoryStore) Delete(_ context.Context, identity string, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, rec := range m.records {
		if rec.ID == id && rec.UserIdentity == identity {
			m.records = append(m.records[:i], m.records[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}
