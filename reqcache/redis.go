package reqcache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

type redisStore struct {
	client       *redis.Client
	prefix       string
	queryTimeout time.Duration
}

var _ PersistentStore = (*redisStore)(nil)

// NewRedisStore returns a PersistentStore backed by Redis, for deployments
// that want the persistent tier shared across processes. Expiry uses native
// Redis TTLs, so there is no cleanup goroutine. The optional prefix
// namespaces keys on a shared instance. The caller owns the redis.Client
// lifecycle — Close is a no-op on the client.
func NewRedisStore(client *redis.Client, prefix string) PersistentStore {
	return &redisStore{
		client:       client,
		prefix:       prefix,
		queryTimeout: DefaultQueryTimeout,
	}
}

func (s *redisStore) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.queryTimeout)
}

func (s *redisStore) prefixKey(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

func (s *redisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	blob, err := s.client.Get(qctx, s.prefixKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

func (s *redisStore) Set(ctx context.Context, key string, blob []byte, expireAt time.Time) error {
	ttl := time.Until(expireAt)
	if ttl <= 0 {
		return nil
	}
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	return s.client.Set(qctx, s.prefixKey(key), blob, ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, key string) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	return s.client.Del(qctx, s.prefixKey(key)).Err()
}

func (s *redisStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()

	match := s.prefixKey(prefix) + "*"
	var keys []string
	iter := s.client.Scan(qctx, 0, match, 0).Iterator()
	for iter.Next(qctx) {
		k := iter.Val()
		if s.prefix != "" {
			k = k[len(s.prefix)+1:]
		}
		keys = append(keys, k)
	}
	return keys, iter.Err()
}

// Close is a no-op — the caller owns the redis.Client lifecycle.
func (s *redisStore) Close() error {
	return nil
}
