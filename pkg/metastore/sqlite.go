package metastore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteStore keeps records in a single SQLite table. Each Put is one upsert
// statement, so writes are atomic per key.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at dsn and applies
// pending migrations.
func OpenSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	// One writer at a time; SQLite serialises anyway and this avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func runMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migrate metadata db: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (Record, bool, error) {
	var (
		rec                    Record
		lastModified, cachedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT content_tag, last_modified, size, local_path, source, version_id, cached_at
		FROM cache_records WHERE key = ?`, key).
		Scan(&rec.ContentTag, &lastModified, &rec.Size, &rec.LocalPath, &rec.Source, &rec.VersionID, &cachedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get record %s: %w", key, err)
	}
	if rec.LastModified, err = parseTime(lastModified); err != nil {
		return Record{}, false, &CorruptError{Key: key, Err: err}
	}
	if rec.CachedAt, err = parseTime(cachedAt); err != nil {
		return Record{}, false, &CorruptError{Key: key, Err: err}
	}
	return rec, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, key string, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cache_records (key, content_tag, last_modified, size, local_path, source, version_id, cached_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			content_tag = excluded.content_tag,
			last_modified = excluded.last_modified,
			size = excluded.size,
			local_path = excluded.local_path,
			source = excluded.source,
			version_id = excluded.version_id,
			cached_at = excluded.cached_at
	`, key, rec.ContentTag, formatTime(rec.LastModified), rec.Size, rec.LocalPath, rec.Source, rec.VersionID, formatTime(rec.CachedAt))
	if err != nil {
		return fmt.Errorf("put record %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Invalidate(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_records WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete record %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Keys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM cache_records ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan record key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}
