package store

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store for tests and local development.
// Behavior mirrors PostgresStore: Insert assigns an id when the record has
// none, Update/Select filter by column equality.
type MemoryStore struct {
	mu     sync.Mutex
	tables map[string][]Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tables: map[string][]Record{}}
}

func (m *MemoryStore) Insert(_ context.Context, table string, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make(Record, len(rec)+1)
	for k, v := range rec {
		stored[k] = v
	}
	if _, ok := stored["id"]; !ok {
		stored["id"] = uuid.NewString()
	}
	m.tables[table] = append(m.tables[table], stored)
	return copyRecord(stored), nil
}

func (m *MemoryStore) Update(_ context.Context, table string, patch Record, filter Filter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, rec := range m.tables[table] {
		if !matches(rec, filter) {
			continue
		}
		for k, v := range patch {
			rec[k] = v
		}
		out = append(out, copyRecord(rec))
	}
	return out, nil
}

func (m *MemoryStore) Select(_ context.Context, table string, filter Filter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, rec := range m.tables[table] {
		if matches(rec, filter) {
			out = append(out, copyRecord(rec))
		}
	}
	return out, nil
}

// Rows returns a snapshot of a table for test assertions.
func (m *MemoryStore) Rows(table string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Record, 0, len(m.tables[table]))
	for _, rec := range m.tables[table] {
		out = append(out, copyRecord(rec))
	}
	return out
}

// Seed inserts rows without generated ids, for test fixtures.
func (m *MemoryStore) Seed(table string, recs ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range recs {
		m.tables[table] = append(m.tables[table], copyRecord(rec))
	}
}

func matches(rec Record, filter Filter) bool {
	for k, want := range filter {
		if rec[k] != want {
			return false
		}
	}
	return true
}

func copyRecord(rec Record) Record {
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
