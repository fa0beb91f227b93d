package reqcache

import (
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// inflight collapses concurrent fetches for the same key into one network
// operation. It wraps singleflight with a refcounted key set so that
// prefix invalidation can forget every pending call whose key matches.
type inflight struct {
	group  singleflight.Group
	mu     sync.Mutex
	active map[string]int
}

func newInflight() *inflight {
	return &inflight{active: make(map[string]int)}
}

// do runs fn for key, joining an already-pending call if one exists. The
// registry entry is dropped when the shared call settles, success or
// failure, so a dead entry can never block future calls.
func (f *inflight) do(key string, fn func() (any, error)) (any, error) {
	f.mu.Lock()
	f.active[key]++
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active[key]--
		if f.active[key] <= 0 {
			delete(f.active, key)
		}
		f.mu.Unlock()
	}()

	v, err, _ := f.group.Do(key, fn)
	return v, err
}

// forget detaches any pending call for key so the next do issues a fresh
// fetch instead of joining it.
func (f *inflight) forget(key string) {
	f.group.Forget(key)
}

func (f *inflight) forgetPrefix(prefix string) {
	f.mu.Lock()
	keys := make([]string, 0, len(f.active))
	for k := range f.active {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	f.mu.Unlock()

	for _, k := range keys {
		f.group.Forget(k)
	}
}
