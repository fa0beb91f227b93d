package reqcache

import "github.com/cockroachdb/errors"

var (
	// ErrNotFound indicates a missing or expired cache entry.
	ErrNotFound = errors.New("reqcache: entry not found")

	// ErrStoreUnavailable indicates the persistent tier rejected an
	// operation. It never escapes the package; the adapter downgrades it
	// to a miss so callers only ever see fetch errors.
	ErrStoreUnavailable = errors.New("reqcache: persistent store unavailable")

	// ErrBadEnvelope indicates a persisted blob that could not be decoded
	// or carries an unknown schema version. Treated as a miss.
	ErrBadEnvelope = errors.New("reqcache: malformed cache envelope")

	// ErrClosed indicates the cache was closed.
	ErrClosed = errors.New("reqcache: cache is closed")
)
