package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process cache backend for tests and single-node deploys.
// Expiry is logical: entries are checked on lookup and overwritten on save,
// never swept.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

func (m *Memory) Lookup(ctx context.Context, key Key) (*Entry, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key.String()]
	m.mu.RUnlock()

	if !ok || entry.Expired(m.now()) {
		return nil, false, nil
	}
	return entry, true, nil
}

func (m *Memory) Save(ctx context.Context, key Key, entry *Entry, ttl time.Duration) error {
	stored := *entry
	now := m.now()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.ExpiresAt = now.Add(ttl)

	m.mu.Lock()
	m.entries[key.String()] = &stored
	m.mu.Unlock()
	return nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return nil
}

func (m *Memory) Close() error {
	return nil
}

var _ Store = (*Memory)(nil)
