package store

import (
	"sync"
)

// MemoryStore is the default, process-local Store backend. Pending
// deliveries do not survive a restart; clean sessions lose nothing by
// that, non-clean sessions that need durability should use a durable
// backend instead.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[Key]PendingDelivery
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[Key]PendingDelivery),
	}
}

func (ms *MemoryStore) Put(entry *PendingDelivery) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.entries[entry.Key()] = *entry
	return nil
}

func (ms *MemoryStore) Get(key Key) (*PendingDelivery, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	entry, ok := ms.entries[key]
	if !ok {
		return nil, ErrNotFound
	}
	return &entry, nil
}

func (ms *MemoryStore) Delete(key Key) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.entries[key]; !ok {
		return ErrNotFound
	}
	delete(ms.entries, key)
	return nil
}

func (ms *MemoryStore) List() ([]*PendingDelivery, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	entries := make([]*PendingDelivery, 0, len(ms.entries))
	for _, entry := range ms.entries {
		entry := entry
		entries = append(entries, &entry)
	}
	return entries, nil
}

func (ms *MemoryStore) Close() error {
	return nil
}
