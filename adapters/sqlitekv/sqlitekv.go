// Package sqlitekv implements the stream.KV contract on SQLite, giving tenant
// contexts, audit entries, and rate counters durable single-file storage.
package sqlitekv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/next-trace/scg-tenant-bus/contract/stream"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value BLOB,
	counter INTEGER NOT NULL DEFAULT 0,
	expires_at_ns INTEGER NOT NULL DEFAULT 0
);
`

// Store is a SQLite-backed KV store. Expired rows are filtered on read and
// overwritten on conflict; single-key counter updates execute as one UPSERT
// statement and are therefore atomic.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ stream.KV = (*Store)(nil)

// Open creates or opens the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open kv store %s: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("apply kv schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// SetClock overrides the time source. Test hook for TTL expiry.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var (
		value   []byte
		expires int64
	)

	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at_ns FROM kv WHERE key = ?`, key,
	).Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, fmt.Errorf("kv get %s: %w", key, err)
	}

	if expires > 0 && expires <= s.now().UnixNano() {
		return nil, false, nil
	}

	return value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expires int64
	if ttl > 0 {
		expires = s.now().Add(ttl).UnixNano()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO kv (key, value, counter, expires_at_ns) VALUES (?, ?, 0, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, expires_at_ns = excluded.expires_at_ns`,
		key, value, expires)
	if err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("kv delete %s: %w", key, err)
	}

	return nil
}

// IncrBy bumps the counter in a single UPSERT. An expired row restarts the
// counter and applies the fresh ttl, matching create-time TTL semantics.
func (s *Store) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	now := s.now().UnixNano()

	var expires int64
	if ttl > 0 {
		expires = s.now().Add(ttl).UnixNano()
	}

	var n int64

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO kv (key, counter, expires_at_ns) VALUES (?1, ?2, ?3)
		 ON CONFLICT(key) DO UPDATE SET
			counter = CASE
				WHEN kv.expires_at_ns > 0 AND kv.expires_at_ns <= ?4 THEN excluded.counter
				ELSE kv.counter + excluded.counter
			END,
			expires_at_ns = CASE
				WHEN kv.expires_at_ns > 0 AND kv.expires_at_ns <= ?4 THEN excluded.expires_at_ns
				ELSE kv.expires_at_ns
			END
		 RETURNING counter`,
		key, delta, expires, now,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("kv incr %s: %w", key, err)
	}

	return n, nil
}

func (s *Store) ScanPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value, expires_at_ns FROM kv WHERE key LIKE ? || '%'`, prefix)
	if err != nil {
		return nil, fmt.Errorf("kv scan %s: %w", prefix, err)
	}
	defer rows.Close()

	now := s.now().UnixNano()
	out := make(map[string][]byte)

	for rows.Next() {
		var (
			key     string
			value   []byte
			expires int64
		)

		if err := rows.Scan(&key, &value, &expires); err != nil {
			return nil, fmt.Errorf("kv scan row: %w", err)
		}

		if expires > 0 && expires <= now {
			continue
		}

		out[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("kv scan %s: %w", prefix, err)
	}

	return out, nil
}
