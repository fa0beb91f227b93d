package reqcache

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"
)

// DefaultQueryTimeout bounds each persistent-store operation so slow or
// locked storage cannot hang a cache read.
const DefaultQueryTimeout = 5 * time.Second

type sqliteStore struct {
	db           *sql.DB
	cancel       context.CancelFunc
	waitGroup    sync.WaitGroup
	once         sync.Once
	queryTimeout time.Duration
}

var _ PersistentStore = (*sqliteStore)(nil)

// NewSQLiteStore returns a PersistentStore backed by a SQLite database.
// If dbPath is empty or ":memory:", an in-memory database is used (useful
// in tests, though it defeats cross-restart durability). cleanupInterval
// controls how often rows past their persist deadline are deleted; <= 0
// defaults to one minute.
func NewSQLiteStore(ctx context.Context, dbPath string, cleanupInterval time.Duration) (PersistentStore, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "open cache db")
	}

	// WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable WAL")
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS entries (
		key TEXT PRIMARY KEY,
		blob BLOB NOT NULL,
		expires_at INTEGER NOT NULL
	)`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create entries table")
	}

	// Index on expires_at for efficient cleanup.
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_entries_expires_at ON entries(expires_at)`); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "create expiry index")
	}

	if cleanupInterval <= 0 {
		cleanupInterval = time.Minute
	}

	childCtx, cancel := context.WithCancel(ctx)
	s := &sqliteStore{
		db:           db,
		cancel:       cancel,
		queryTimeout: DefaultQueryTimeout,
	}

	s.waitGroup.Add(1)
	go s.run(childCtx, cleanupInterval)

	return s, nil
}

func (s *sqliteStore) queryCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, s.queryTimeout)
}

// Get returns the stored blob whether or not it has passed its deadline;
// expired rows stay readable for stale fallback until cleanup removes them.
func (s *sqliteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	var blob []byte
	err := s.db.QueryRowContext(qctx, `SELECT blob FROM entries WHERE key = ?`, key).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return blob, true, nil
}

func (s *sqliteStore) Set(ctx context.Context, key string, blob []byte, expireAt time.Time) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(qctx,
		`INSERT INTO entries (key, blob, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET blob = excluded.blob, expires_at = excluded.expires_at`,
		key, blob, expireAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) Delete(ctx context.Context, key string) error {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	_, err := s.db.ExecContext(qctx, `DELETE FROM entries WHERE key = ?`, key)
	return err
}

func (s *sqliteStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	qctx, cancel := s.queryCtx(ctx)
	defer cancel()
	rows, err := s.db.QueryContext(qctx,
		`SELECT key FROM entries WHERE key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *sqliteStore) Close() error {
	var dbErr error
	s.once.Do(func() {
		s.cancel()
		s.waitGroup.Wait()
		dbErr = s.db.Close()
	})
	return dbErr
}

func (s *sqliteStore) run(ctx context.Context, interval time.Duration) {
	defer s.waitGroup.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UnixMilli()
			_, _ = s.db.Exec(`DELETE FROM entries WHERE expires_at < ?`, now)
		}
	}
}

// escapeLike escapes LIKE wildcards so a key prefix matches literally.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
