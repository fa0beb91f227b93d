// Package reqcache implements the client-side request cache used by the
// marketglass API client: a two-tier cache with TTL expiration, in-flight
// request coalescing, stale-data fallback and prefix invalidation.
//
// # Tiers
//
// The memory tier is a process-lifetime map holding live Go values; it is
// the authoritative fast path within a session. The optional persistent
// tier survives restarts and stores versioned msgpack envelopes
// ({v, expireAt, savedAt, data}); two backends are provided:
//
//   - [NewSQLiteStore] — a local SQLite database ([modernc.org/sqlite],
//     pure Go, WAL mode). Rows past their persist deadline are removed by a
//     background cleanup job; until then they remain readable and back the
//     stale-on-error fallback.
//
//   - [NewRedisStore] — Redis via [github.com/redis/go-redis/v9] with
//     native TTL expiry, for a persistent tier shared across processes.
//
// Storage failures (quota, disabled storage, corrupt blobs, version
// mismatches) never surface to callers: every one degrades to a cache miss
// and is logged at debug level.
//
// # Reading
//
// [Get] is the single read entry point. Given a key, a [Policy] and a
// fetch function it serves from memory if fresh, promotes a fresh
// persistent entry into memory, joins a pending fetch for the same key, or
// issues a new fetch and populates both tiers. FreshTTL and PersistTTL are
// deliberately independent: "how long may this be shown without
// revalidation" is a different question from "how long is this worth
// keeping to avoid a blank screen on a cold revisit".
//
// With Policy.StaleOnError set, a failed refetch resolves with the
// previous value (however old) instead of the error, degrading a flaky
// upstream to slightly old numbers rather than an error page. Without it,
// the fetch error is returned verbatim.
//
// [Peek] is a fetch-free fresh-only read for optimistic UI pre-fill.
//
// # Keys and invalidation
//
// [BuildKey], [BuildKeyQuery], [NormalizeQuery] and [JoinCodes] derive
// deterministic keys: compound parameters are sorted before key
// construction so that semantically equal requests share an entry.
// Mutations bypass the cache entirely; afterwards the caller removes the
// affected keys with [Cache.Invalidate] or, for a whole endpoint family,
// [Cache.InvalidatePrefix]. Both operate on all three structures (memory,
// persistent store, in-flight registry) and are idempotent.
package reqcache
