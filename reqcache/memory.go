package reqcache

import (
	"strings"
	"sync"
	"time"
)

// memEntry is a memory-tier cache entry. Values are stored as-is (no
// copying), so mutations to stored pointers are visible through the cache.
type memEntry struct {
	value    any
	expireAt time.Time
}

// memoryStore is the fast in-process tier. It does not judge freshness
// itself; the orchestrator compares expireAt against its clock at read
// time. Expired entries are deliberately retained (they feed the
// stale-on-error snapshot) until overwritten, invalidated, or swept.
type memoryStore struct {
	mu   sync.Mutex
	data map[string]memEntry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{data: make(map[string]memEntry)}
}

func (m *memoryStore) get(key string) (memEntry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.data[key]
	return e, ok
}

func (m *memoryStore) set(key string, value any, expireAt time.Time) {
	m.mu.Lock()
	m.data[key] = memEntry{value: value, expireAt: expireAt}
	m.mu.Unlock()
}

func (m *memoryStore) delete(key string) {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
}

func (m *memoryStore) deletePrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n
}

// sweep removes entries that expired before the boundary. Used by the
// janitor to keep stale entries around for a retention window instead of
// leaking them for the process lifetime.
func (m *memoryStore) sweep(boundary time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k, e := range m.data {
		if e.expireAt.Before(boundary) {
			delete(m.data, k)
			n++
		}
	}
	return n
}

func (m *memoryStore) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}
