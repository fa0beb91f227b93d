package reqcache

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// DefaultSweepInterval is how often the janitor scans the memory tier for
// entries past their retention window.
const DefaultSweepInterval = 10 * time.Minute

// DefaultSweepRetention is how long an expired memory entry is kept before
// the janitor removes it. Expired entries are useful that long because they
// back the stale-on-error fallback.
const DefaultSweepRetention = 24 * time.Hour

// Policy controls caching for one class of requests.
type Policy struct {
	// FreshTTL is how long a fetched value is served from memory without
	// revalidation.
	FreshTTL time.Duration

	// PersistTTL, when > 0, additionally writes the value to the
	// persistent tier with this (typically longer) lifetime, so a cold
	// revisit can show slightly old data instantly.
	PersistTTL time.Duration

	// StaleOnError serves the previous value (even if expired) when a
	// refetch fails, instead of returning the error.
	StaleOnError bool

	// Force bypasses every read path and issues a fresh fetch, still
	// repopulating both tiers on success.
	Force bool
}

// Config configures a Cache.
type Config struct {
	// Store is the optional persistent tier. Nil leaves the cache
	// memory-only.
	Store PersistentStore

	// Logger, nil defaults to a no-op logger.
	Logger *zap.Logger

	// SweepInterval is the memory janitor interval, DefaultSweepInterval
	// if zero. Negative disables the janitor.
	SweepInterval time.Duration

	// SweepRetention is how long expired memory entries are retained for
	// stale fallback, DefaultSweepRetention if zero.
	SweepRetention time.Duration
}

// Cache is a two-tier request cache: a process-lifetime memory tier in
// front of an optional persistent tier, with per-key coalescing of
// concurrent fetches. All state is owned by the instance; independent
// instances share nothing.
type Cache struct {
	mem    *memoryStore
	tier   *persistTier // nil when no persistent store is configured
	flight *inflight
	log    *zap.Logger
	now    func() time.Time

	cancel    context.CancelFunc
	waitGroup sync.WaitGroup
	once      sync.Once
}

// New creates a Cache. The parent context bounds the janitor goroutine;
// Close (or canceling the context) stops it.
func New(parent context.Context, cfg Config) *Cache {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}
	if cfg.SweepRetention == 0 {
		cfg.SweepRetention = DefaultSweepRetention
	}

	ctx, cancel := context.WithCancel(parent)
	c := &Cache{
		mem:    newMemoryStore(),
		flight: newInflight(),
		log:    log,
		now:    time.Now,
		cancel: cancel,
	}
	if cfg.Store != nil {
		c.tier = &persistTier{store: cfg.Store, log: log}
	}

	if cfg.SweepInterval > 0 {
		c.waitGroup.Add(1)
		go c.sweeper(ctx, cfg.SweepInterval, cfg.SweepRetention)
	}
	return c
}

// FetchFunc performs the actual network read for one key. It runs at most
// once per key at a time regardless of how many callers are waiting.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Get returns the value for key, consulting the memory tier, then the
// persistent tier, then the network via fetch. Concurrent calls for the
// same key share one fetch. On fetch failure with Policy.StaleOnError set,
// the previous value is served if one existed when this caller started.
func Get[T any](ctx context.Context, c *Cache, key string, p Policy, fetch FetchFunc[T]) (T, error) {
	if !p.Force {
		if v, ok := lookupFresh[T](ctx, c, key); ok {
			return v, nil
		}
	}

	// Snapshot a fallback candidate before fetching. Each caller captures
	// its own snapshot, so callers that join an in-flight fetch still fall
	// back to whatever they saw before joining.
	var (
		stale     T
		haveStale bool
	)
	if p.StaleOnError {
		stale, haveStale = snapshotStale[T](ctx, c, key)
	}

	if p.Force {
		// A forced read must not piggyback on a pending fetch.
		c.flight.forget(key)
	}

	v, err := c.flight.do(key, func() (any, error) {
		val, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.populate(ctx, key, val, p)
		return val, nil
	})
	if err != nil {
		if haveStale {
			c.log.Warn("serving stale value after fetch failure",
				zap.String("key", key), zap.Error(err))
			return stale, nil
		}
		var zero T
		return zero, err
	}

	typed, ok := v.(T)
	if !ok {
		// Concurrent callers requested the same key with different types.
		// Same fragmentation class as inconsistent key normalization.
		var zero T
		return zero, errors.Newf("reqcache: cached value for %q is %T, not %T", key, v, zero)
	}
	return typed, nil
}

// Peek returns the fresh value for key without ever fetching. A persistent
// hit is promoted into memory like a regular read.
func Peek[T any](c *Cache, key string) (T, bool) {
	return lookupFresh[T](context.Background(), c, key)
}

// lookupFresh implements the read path: memory first, then promotion from
// the persistent tier. Entries at or past their deadline are misses here.
func lookupFresh[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	now := c.now()

	if e, ok := c.mem.get(key); ok && e.expireAt.After(now) {
		if v, ok := e.value.(T); ok {
			return v, true
		}
	}

	if c.tier != nil {
		if env, ok := c.tier.read(ctx, key); ok && env.expireTime().After(now) {
			v, err := decodePayload[T](env)
			if err != nil {
				c.log.Debug("promotion decode failed", zap.String("key", key), zap.Error(err))
			} else {
				c.mem.set(key, v, env.expireTime())
				return v, true
			}
		}
	}

	var zero T
	return zero, false
}

// snapshotStale returns the newest value known for key regardless of
// expiration: the memory entry if present, else the persisted one.
func snapshotStale[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	if e, ok := c.mem.get(key); ok {
		if v, ok := e.value.(T); ok {
			return v, true
		}
	}
	if c.tier != nil {
		if env, ok := c.tier.read(ctx, key); ok {
			if v, err := decodePayload[T](env); err == nil {
				return v, true
			}
		}
	}
	var zero T
	return zero, false
}

// populate writes a freshly fetched value to both tiers.
func (c *Cache) populate(ctx context.Context, key string, val any, p Policy) {
	now := c.now()
	c.mem.set(key, val, now.Add(p.FreshTTL))
	if c.tier != nil && p.PersistTTL > 0 {
		c.tier.write(ctx, key, val, now, now.Add(p.PersistTTL))
	}
}

// Invalidate removes key from memory, the persistent tier and the
// in-flight registry, so the next Get refetches cleanly. Invalidating an
// absent key is a no-op.
func (c *Cache) Invalidate(ctx context.Context, key string) {
	c.mem.delete(key)
	if c.tier != nil {
		c.tier.remove(ctx, key)
	}
	c.flight.forget(key)
}

// InvalidatePrefix removes every key starting with prefix from all three
// structures. Used after a mutation that affects a family of reads.
func (c *Cache) InvalidatePrefix(ctx context.Context, prefix string) {
	n := c.mem.deletePrefix(prefix)
	if c.tier != nil {
		for _, k := range c.tier.keys(ctx, prefix) {
			c.tier.remove(ctx, k)
		}
	}
	c.flight.forgetPrefix(prefix)
	c.log.Debug("invalidated prefix", zap.String("prefix", prefix), zap.Int("memoryEntries", n))
}

// Len reports the number of memory-tier entries, expired ones included.
func (c *Cache) Len() int {
	return c.mem.len()
}

// Close stops the janitor and closes the persistent store, if any.
func (c *Cache) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
		if c.tier != nil {
			err = c.tier.store.Close()
		}
	})
	return err
}

func (c *Cache) sweeper(ctx context.Context, interval, retention time.Duration) {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.mem.sweep(c.now().Add(-retention)); n > 0 {
				c.log.Debug("swept expired memory entries", zap.Int("count", n))
			}
		}
	}
}
