package state

import (
	"sort"
	"sync"
)

// Entry is the ratchet state of one server
type Entry struct {
	// Next is the armed traffic percent
	Next float64 `json:"next"`
	// Exhausted is set once remaining traffic fell below every configured
	// percent; Next keeps its last armed value.
	Exhausted bool `json:"exhausted"`
}

// Store is a concurrency-safe, process-lifetime map from server name to its
// ratchet entry. Nothing is persisted.
type Store interface {
	Get(key string) (Entry, bool)
	Set(key string, value Entry)
	Delete(key string)
	Keys() []string
	Snapshot() map[string]Entry
}

type memoryStore struct {
	mu     sync.RWMutex
	values map[string]Entry
}

// NewMemoryStore returns an empty in-memory Store
func NewMemoryStore() Store {
	return &memoryStore{values: make(map[string]Entry)}
}

func (m *memoryStore) Get(key string) (Entry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *memoryStore) Set(key string, value Entry) {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()
}

func (m *memoryStore) Delete(key string) {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
}

// Keys returns the stored keys in sorted order
func (m *memoryStore) Keys() []string {
	m.mu.RLock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

func (m *memoryStore) Snapshot() map[string]Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Entry, len(m.values))
	for k, v := range m.values {
		out[k] = v
	}
	return out
}
