package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records for the lifetime of the process only.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

func (m *MemoryStore) Load(ctx context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedRecords(m.records), nil
}

func (m *MemoryStore) Save(ctx context.Context, rec Record) error {
	m.mu.Lock()
	m.records[rec.ID()] = rec
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error { return nil }

func sortedRecords(in map[string]Record) []Record {
	out := make([]Record, 0, len(in))
	for _, r := range in {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
