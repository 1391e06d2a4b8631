package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLite implements Store and Queue on a single SQLite database file. It
// holds one connection so every statement is serialized through one writer.
type SQLite struct {
	db    *sql.DB
	clock clockwork.Clock
}

// OpenSQLite opens (or creates) the database at dsn, applies pragmas and runs
// the embedded migrations. Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, dsn string, clock clockwork.Clock) (*SQLite, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	if dsn != ":memory:" {
		dir := filepath.Dir(dsn)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return nil, fmt.Errorf("creating db directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	if _, err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLite{db: db, clock: clock}, nil
}

// Migrate applies pending migrations and returns the resulting version.
func Migrate(ctx context.Context, db *sql.DB) (int64, error) {
	provider, err := newMigrationProvider(db)
	if err != nil {
		return 0, err
	}
	if _, err := provider.Up(ctx); err != nil {
		return 0, fmt.Errorf("running migrations: %w", err)
	}
	return provider.GetDBVersion(ctx)
}

// MigrationVersion reports the current schema version without migrating.
func MigrationVersion(ctx context.Context, db *sql.DB) (int64, error) {
	provider, err := newMigrationProvider(db)
	if err != nil {
		return 0, err
	}
	return provider.GetDBVersion(ctx)
}

func newMigrationProvider(db *sql.DB) (*goose.Provider, error) {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return nil, fmt.Errorf("loading migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return nil, fmt.Errorf("creating migration provider: %w", err)
	}
	return provider, nil
}

// DB returns the underlying connection for the station catalogue and migrations.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Get(ctx context.Context, key string) (Entry, error) {
	e := Entry{Key: key}
	var cachedAt, expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, source, cached_at, expires_at FROM cache_entries WHERE key = ? AND expires_at > ?`,
		key, s.clock.Now().UnixMilli(),
	).Scan(&e.Payload, &e.Source, &cachedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, unavailable("reading "+key, err)
	}
	e.CachedAt = time.UnixMilli(cachedAt)
	e.ExpiresAt = time.UnixMilli(expiresAt)
	return e, nil
}

func (s *SQLite) Put(ctx context.Context, e Entry) error {
	if err := e.validate(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, payload, source, cached_at, expires_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload=excluded.payload, source=excluded.source,
			cached_at=excluded.cached_at, expires_at=excluded.expires_at`,
		e.Key, nonNil(e.Payload), e.Source, e.CachedAt.UnixMilli(), e.ExpiresAt.UnixMilli(),
	)
	if err != nil {
		return unavailable("writing "+e.Key, err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return unavailable("deleting "+key, err)
	}
	return nil
}

func (s *SQLite) ScanPrefix(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, payload, source, cached_at, expires_at FROM cache_entries
		WHERE substr(key, 1, ?) = ? AND expires_at > ?
		ORDER BY key`,
		len(prefix), prefix, s.clock.Now().UnixMilli(),
	)
	if err != nil {
		return nil, unavailable("scanning "+prefix, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var cachedAt, expiresAt int64
		if err := rows.Scan(&e.Key, &e.Payload, &e.Source, &cachedAt, &expiresAt); err != nil {
			return nil, unavailable("scanning "+prefix, err)
		}
		e.CachedAt = time.UnixMilli(cachedAt)
		e.ExpiresAt = time.UnixMilli(expiresAt)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("scanning "+prefix, err)
	}
	return out, nil
}

func (s *SQLite) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE expires_at <= ?`, s.clock.Now().UnixMilli())
	if err != nil {
		return 0, unavailable("purging expired entries", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) Enqueue(ctx context.Context, itemType string, payload []byte) (SyncItem, error) {
	item := SyncItem{
		ID:         uuid.NewString(),
		Type:       itemType,
		Payload:    nonNil(payload),
		EnqueuedAt: s.clock.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_queue (id, type, payload, enqueued_at) VALUES (?, ?, ?, ?)`,
		item.ID, item.Type, item.Payload, item.EnqueuedAt.UnixMilli(),
	)
	if err != nil {
		return SyncItem{}, unavailable("enqueueing "+itemType, err)
	}
	return item, nil
}

func (s *SQLite) Peek(ctx context.Context, limit int) ([]SyncItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, payload, enqueued_at, attempts, last_attempt, last_error
		FROM sync_queue ORDER BY seq LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable("reading sync queue", err)
	}
	defer rows.Close()

	var items []SyncItem
	for rows.Next() {
		var item SyncItem
		var enqueuedAt int64
		var lastAttempt sql.NullInt64
		if err := rows.Scan(&item.ID, &item.Type, &item.Payload, &enqueuedAt,
			&item.Attempts, &lastAttempt, &item.LastError); err != nil {
			return nil, unavailable("reading sync queue", err)
		}
		item.EnqueuedAt = time.UnixMilli(enqueuedAt)
		if lastAttempt.Valid {
			item.LastAttempt = time.UnixMilli(lastAttempt.Int64)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("reading sync queue", err)
	}
	return items, nil
}

func (s *SQLite) Remove(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return unavailable("removing sync item", err)
	}
	return nil
}

func (s *SQLite) RecordFailure(ctx context.Context, id, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sync_queue SET attempts = attempts + 1, last_attempt = ?, last_error = ? WHERE id = ?`,
		s.clock.Now().UnixMilli(), reason, id,
	)
	if err != nil {
		return unavailable("recording sync failure", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sync item %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *SQLite) Purge(ctx context.Context, maxAge time.Duration, maxAttempts int) (int, error) {
	cutoff := s.clock.Now().Add(-maxAge).UnixMilli()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sync_queue WHERE enqueued_at < ? AND attempts > ?`, cutoff, maxAttempts)
	if err != nil {
		return 0, unavailable("purging sync queue", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue`).Scan(&n); err != nil {
		return 0, unavailable("counting sync queue", err)
	}
	return n, nil
}

// nonNil maps a nil payload to an empty one; payload columns are NOT NULL.
func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
