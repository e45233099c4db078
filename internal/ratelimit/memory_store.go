package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process memory. It is used for tests and
// single-instance deployments; records are only coordinated within one process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]Record
}

var _ AtomicStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]Record),
	}
}

// Get returns a copy of the stored record. Records past ExpireAt stay visible until
// Sweep removes them; the limiter starts a new window for them on its own.
func (m *MemoryStore) Get(ctx context.Context, key string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	record, ok := m.records[key]
	m.mu.RUnlock()

	if !ok {
		return nil, ErrRecordNotFound
	}
	return &record, nil
}

// Put stores record under key, replacing any previous value.
func (m *MemoryStore) Put(ctx context.Context, key string, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	m.records[key] = record
	m.mu.Unlock()
	return nil
}

// Increment performs the whole fixed-window update under the store lock.
func (m *MemoryStore) Increment(ctx context.Context, key string, policy Policy, now time.Time) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	record, ok := m.records[key]
	if !ok || now.UnixMilli()-record.WindowStart > policy.Window.Milliseconds() {
		record = newRecord(now, policy.Window)
	} else {
		record.Count++
	}

	if record.Count <= int64(policy.MaxRequests) {
		m.records[key] = record
	}

	return record, nil
}

// Sweep removes records whose expiry has passed and reports how many were removed.
func (m *MemoryStore) Sweep(now time.Time) int {
	cutoff := now.Unix()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key, record := range m.records {
		if record.ExpireAt < cutoff {
			delete(m.records, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
