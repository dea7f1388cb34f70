package audit

import (
	"context"
	"sync"
)

// MemoryStore keeps records in-process, for environments without a
// database. Mirrors the teacher's MemoryStorage fallback.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Record(_ context.Context, r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
}

func (m *MemoryStore) Close() error { return nil }

// Snapshot returns a copy of all recorded entries; used by tests.
func (m *MemoryStore) Snapshot() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}
