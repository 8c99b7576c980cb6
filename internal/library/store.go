// Package library maintains the local photo library: a metadata table mirrored
// from the remote source, the background downloader that fills the image
// cache, and the synchronizer that reconciles the two.
//
// Both the table and the cache directory are disposable; everything can be
// rebuilt from the remote folder.
package library

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PhotoRecord is one mirrored file. ExternalID is the sole identity; records
// are refreshed on every sync pass that still sees the id and never deleted.
type PhotoRecord struct {
	Seq         int64      `json:"-"`
	ExternalID  string     `json:"id"`
	DisplayName string     `json:"name"`
	MimeType    string     `json:"mime_type,omitempty"`
	RemoteURL   string     `json:"-"`
	CachedPath  string     `json:"-"`
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	TakenAt     *time.Time `json:"taken_at,omitempty"`
	LastSeen    time.Time  `json:"-"`
	CreatedAt   time.Time  `json:"-"`
	UpdatedAt   time.Time  `json:"-"`
}

// schema is portable between sqlite3 and postgres. seq carries insertion
// order; it is assigned on insert and never updated.
const schema = `
CREATE TABLE IF NOT EXISTS photos (
	external_id  TEXT PRIMARY KEY,
	seq          BIGINT NOT NULL,
	display_name TEXT NOT NULL DEFAULT '',
	mime_type    TEXT NOT NULL DEFAULT '',
	remote_url   TEXT NOT NULL DEFAULT '',
	cached_path  TEXT NOT NULL DEFAULT '',
	width        INTEGER NOT NULL DEFAULT 0,
	height       INTEGER NOT NULL DEFAULT 0,
	taken_at     TIMESTAMP,
	last_seen    TIMESTAMP NOT NULL,
	created_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_photos_seq ON photos (seq);

CREATE TABLE IF NOT EXISTS sync_state (
	key          TEXT PRIMARY KEY,
	last_updated TIMESTAMP NOT NULL
);
`

// Store persists PhotoRecord rows and the last-sync timestamp.
type Store struct {
	db *sql.DB
}

// Open opens the metadata store and applies the schema. driver is "sqlite3"
// or "postgres"; dsn is a file path or connection URL respectively.
func Open(driver, dsn string) (*Store, error) {
	if driver == "sqlite3" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Upsert inserts a new record or refreshes an existing one by external id.
// Returns true when the row was newly inserted. CachedPath and image
// dimensions are left untouched for existing rows.
func (s *Store) Upsert(ctx context.Context, rec *PhotoRecord) (bool, error) {
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO photos (external_id, seq, display_name, mime_type, remote_url, last_seen, created_at, updated_at)
		VALUES ($1, (SELECT COALESCE(MAX(seq), 0) + 1 FROM photos), $2, $3, $4, $5, $5, $5)
		ON CONFLICT (external_id) DO NOTHING`,
		rec.ExternalID, rec.DisplayName, rec.MimeType, rec.RemoteURL, now)
	if err != nil {
		return false, fmt.Errorf("insert photo %s: %w", rec.ExternalID, err)
	}

	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return true, nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE photos
		SET display_name = $1, mime_type = $2, remote_url = $3, last_seen = $4, updated_at = $4
		WHERE external_id = $5`,
		rec.DisplayName, rec.MimeType, rec.RemoteURL, now, rec.ExternalID)
	if err != nil {
		return false, fmt.Errorf("refresh photo %s: %w", rec.ExternalID, err)
	}
	return false, nil
}

// MarkCached records that bytes for id are durably on disk.
func (s *Store) MarkCached(ctx context.Context, id, cachedPath string, width, height int, takenAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE photos
		SET cached_path = $1, width = $2, height = $3, taken_at = $4, updated_at = $5
		WHERE external_id = $6`,
		cachedPath, width, height, takenAt, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("mark cached %s: %w", id, err)
	}
	return nil
}

// ClearCached resets the cached path after the file went missing on disk, so
// the next sync pass re-downloads it.
func (s *Store) ClearCached(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE photos SET cached_path = '', updated_at = $1 WHERE external_id = $2`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("clear cached %s: %w", id, err)
	}
	return nil
}

const recordColumns = `seq, external_id, display_name, mime_type, remote_url, cached_path,
	width, height, taken_at, last_seen, created_at, updated_at`

func scanRecord(row interface{ Scan(...any) error }) (*PhotoRecord, error) {
	rec := &PhotoRecord{}
	err := row.Scan(
		&rec.Seq, &rec.ExternalID, &rec.DisplayName, &rec.MimeType, &rec.RemoteURL,
		&rec.CachedPath, &rec.Width, &rec.Height, &rec.TakenAt,
		&rec.LastSeen, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Get retrieves one record by external id, or nil when unknown.
func (s *Store) Get(ctx context.Context, id string) (*PhotoRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM photos WHERE external_id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get photo %s: %w", id, err)
	}
	return rec, nil
}

// List returns all records in insertion order.
func (s *Store) List(ctx context.Context) ([]PhotoRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM photos ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	var recs []PhotoRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// ListUncached returns records without cached bytes, oldest first.
func (s *Store) ListUncached(ctx context.Context, limit int) ([]PhotoRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM photos WHERE cached_path = '' ORDER BY seq LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list uncached photos: %w", err)
	}
	defer rows.Close()

	var recs []PhotoRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// Stats holds aggregate library counts.
type Stats struct {
	Photos int `json:"photos"`
	Cached int `json:"cached"`
}

// GetStats returns library-wide counts.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(CASE WHEN cached_path <> '' THEN 1 END) FROM photos`).
		Scan(&st.Photos, &st.Cached)
	if err != nil {
		return nil, fmt.Errorf("library stats: %w", err)
	}
	return st, nil
}

// LastSync returns the persisted last successful sync time, or the zero time
// when no sync has completed yet.
func (s *Store) LastSync(ctx context.Context) (time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT last_updated FROM sync_state WHERE key = 'photos'`).Scan(&t)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read sync state: %w", err)
	}
	return t, nil
}

// SetLastSync persists the last successful sync time.
func (s *Store) SetLastSync(ctx context.Context, t time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, last_updated) VALUES ('photos', $1)
		ON CONFLICT (key) DO UPDATE SET last_updated = excluded.last_updated`,
		t.UTC())
	if err != nil {
		return fmt.Errorf("write sync state: %w", err)
	}
	return nil
}
