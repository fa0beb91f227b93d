package reqcache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// SchemaVersion is the persisted envelope schema version. Bump it when the
// envelope layout changes; readers treat any other version as a miss.
const SchemaVersion = 1

// PersistentStore is a durable blob store for cache envelopes. Implementations
// may fail (quota, disabled storage, broken connection); the adapter above
// them absorbs every error, so they are free to return them honestly.
//
// Get returns the stored blob even if expireAt has passed — freshness is
// judged by the orchestrator, and expired blobs back the stale-on-error
// fallback until the store's own cleanup discards them.
type PersistentStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, blob []byte, expireAt time.Time) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// envelope is the persisted form of a cache entry. Data holds the
// msgpack-encoded payload so the envelope can be decoded without knowing
// the payload type.
type envelope struct {
	Version  int    `msgpack:"v"`
	ExpireAt int64  `msgpack:"expireAt"` // epoch ms
	SavedAt  int64  `msgpack:"savedAt"`  // epoch ms
	Data     []byte `msgpack:"data"`
}

func (e envelope) expireTime() time.Time {
	return time.UnixMilli(e.ExpireAt)
}

func encodeEnvelope(value any, savedAt, expireAt time.Time) ([]byte, error) {
	payload, err := msgpack.Marshal(value)
	if err != nil {
		return nil, errors.Wrap(err, "encode payload")
	}
	blob, err := msgpack.Marshal(envelope{
		Version:  SchemaVersion,
		ExpireAt: expireAt.UnixMilli(),
		SavedAt:  savedAt.UnixMilli(),
		Data:     payload,
	})
	if err != nil {
		return nil, errors.Wrap(err, "encode envelope")
	}
	return blob, nil
}

func decodeEnvelope(blob []byte) (envelope, error) {
	var e envelope
	if err := msgpack.Unmarshal(blob, &e); err != nil {
		return envelope{}, errors.Mark(err, ErrBadEnvelope)
	}
	if e.Version != SchemaVersion {
		return envelope{}, errors.Wrapf(ErrBadEnvelope, "schema version %d", e.Version)
	}
	return e, nil
}

func decodePayload[T any](e envelope) (T, error) {
	var v T
	if err := msgpack.Unmarshal(e.Data, &v); err != nil {
		return v, errors.Mark(err, ErrBadEnvelope)
	}
	return v, nil
}

// EntryMeta describes a persisted envelope without decoding its payload.
// Used by tooling that inspects a cache store directly.
type EntryMeta struct {
	Version      int
	SavedAt      time.Time
	ExpireAt     time.Time
	PayloadBytes int
}

// DecodeEntryMeta decodes the envelope of a raw stored blob.
func DecodeEntryMeta(blob []byte) (EntryMeta, error) {
	e, err := decodeEnvelope(blob)
	if err != nil {
		return EntryMeta{}, err
	}
	return EntryMeta{
		Version:      e.Version,
		SavedAt:      time.UnixMilli(e.SavedAt),
		ExpireAt:     e.expireTime(),
		PayloadBytes: len(e.Data),
	}, nil
}

// persistTier wraps a PersistentStore with envelope coding and the
// fail-open contract: no storage problem is ever allowed to surface as
// anything but a miss. Failures are still logged so "storage broken" and
// "entry absent" remain distinguishable when debugging.
type persistTier struct {
	store PersistentStore
	log   *zap.Logger
}

func (p *persistTier) read(ctx context.Context, key string) (envelope, bool) {
	blob, found, err := p.store.Get(ctx, key)
	if err != nil {
		p.log.Debug("persistent read failed", zap.String("key", key), zap.Error(err))
		return envelope{}, false
	}
	if !found {
		return envelope{}, false
	}
	e, err := decodeEnvelope(blob)
	if err != nil {
		// Legacy or corrupt blob: treat as absent and drop it so it
		// does not fail decoding forever.
		p.log.Debug("dropping undecodable cache entry", zap.String("key", key), zap.Error(err))
		p.remove(ctx, key)
		return envelope{}, false
	}
	return e, true
}

func (p *persistTier) write(ctx context.Context, key string, value any, savedAt, expireAt time.Time) {
	blob, err := encodeEnvelope(value, savedAt, expireAt)
	if err != nil {
		p.log.Debug("persistent encode failed", zap.String("key", key), zap.Error(err))
		return
	}
	if err := p.store.Set(ctx, key, blob, expireAt); err != nil {
		p.log.Debug("persistent write failed", zap.String("key", key), zap.Error(err))
	}
}

func (p *persistTier) remove(ctx context.Context, key string) {
	if err := p.store.Delete(ctx, key); err != nil {
		p.log.Debug("persistent delete failed", zap.String("key", key), zap.Error(err))
	}
}

func (p *persistTier) keys(ctx context.Context, prefix string) []string {
	keys, err := p.store.Keys(ctx, prefix)
	if err != nil {
		p.log.Debug("persistent key scan failed", zap.String("prefix", prefix), zap.Error(err))
		return nil
	}
	return keys
}
