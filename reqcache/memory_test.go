package reqcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMemoryStoreSetGetDelete(t *testing.T) {
	m := newMemoryStore()

	_, ok := m.get("k")
	assert.False(t, ok)

	exp := time.Now().Add(time.Minute)
	m.set("k", "v", exp)
	e, ok := m.get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", e.value)
	assert.Equal(t, exp, e.expireAt)

	m.delete("k")
	_, ok = m.get("k")
	assert.False(t, ok)

	// Deleting an absent key is a no-op.
	m.delete("k")
}

func TestMemoryStoreKeepsExpiredEntries(t *testing.T) {
	m := newMemoryStore()
	m.set("k", "v", time.Now().Add(-time.Hour))

	// The store itself never judges freshness.
	e, ok := m.get("k")
	assert.True(t, ok)
	assert.Equal(t, "v", e.value)
}

func TestMemoryStoreDeletePrefix(t *testing.T) {
	m := newMemoryStore()
	exp := time.Now().Add(time.Minute)
	m.set("/a/1", 1, exp)
	m.set("/a/2", 2, exp)
	m.set("/b/1", 3, exp)

	assert.Equal(t, 2, m.deletePrefix("/a/"))
	_, ok := m.get("/a/1")
	assert.False(t, ok)
	_, ok = m.get("/a/2")
	assert.False(t, ok)
	_, ok = m.get("/b/1")
	assert.True(t, ok)

	assert.Equal(t, 0, m.deletePrefix("/a/"))
}

func TestMemoryStoreSweep(t *testing.T) {
	m := newMemoryStore()
	now := time.Now()
	m.set("old", 1, now.Add(-2*time.Hour))
	m.set("stale", 2, now.Add(-time.Minute))
	m.set("fresh", 3, now.Add(time.Minute))

	// Only entries expired before the boundary are dropped.
	assert.Equal(t, 1, m.sweep(now.Add(-time.Hour)))
	_, ok := m.get("old")
	assert.False(t, ok)
	_, ok = m.get("stale")
	assert.True(t, ok)
	_, ok = m.get("fresh")
	assert.True(t, ok)
	assert.Equal(t, 2, m.len())
}
