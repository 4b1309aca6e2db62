package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// MetadataRegistry is the lightweight tier of the durable store: an ordered,
// append-capable record store holding everything about a recording except
// its audio payload. Listing and searching never touch binary data.
type MetadataRegistry interface {
	Append(ctx context.Context, rec Recording) error
	List(ctx context.Context) ([]Recording, error)
	Get(ctx context.Context, id string) (Recording, error)
	Remove(ctx context.Context, id string) error
	Wipe(ctx context.Context) error
	Close() error
}

// sqliteRegistry persists recording metadata in a SQLite table, ordered by
// insertion (rowid).
type sqliteRegistry struct {
	db    *sql.DB
	log   *slog.Logger
	clock func() time.Time
}

// OpenRegistry initializes the metadata registry at path.
func OpenRegistry(ctx context.Context, path string, vacuumOnStart bool, log *slog.Logger) (MetadataRegistry, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	r := &sqliteRegistry{db: db, log: log, clock: time.Now}

	if err := r.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if vacuumOnStart {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			log.Warn("registry vacuum failed", slog.String("error", err.Error()))
		}
	}

	return r, nil
}

func (r *sqliteRegistry) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS recordings (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    transcription TEXT NOT NULL,
    duration REAL NOT NULL,
    size INTEGER NOT NULL,
    sample_rate INTEGER NOT NULL,
    channels INTEGER NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_recordings_created ON recordings(created_at);
`
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

func (r *sqliteRegistry) Append(ctx context.Context, rec Recording) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.clock().UTC()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO recordings(id, title, transcription, duration, size, sample_rate, channels, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Title, rec.Transcription, rec.Duration, rec.Size, rec.SampleRate, rec.Channels,
		rec.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// List returns all metadata records in storage order. Sorting beyond that is
// a presentation concern.
func (r *sqliteRegistry) List(ctx context.Context) ([]Recording, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, transcription, duration, size, sample_rate, channels, created_at
		 FROM recordings ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []Recording
	for rows.Next() {
		rec, err := scanRecording(rows.Scan)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (r *sqliteRegistry) Get(ctx context.Context, id string) (Recording, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, title, transcription, duration, size, sample_rate, channels, created_at
		 FROM recordings WHERE id = ?`, id)
	rec, err := scanRecording(row.Scan)
	if err == sql.ErrNoRows {
		return Recording{}, ErrNotFound
	}
	return rec, err
}

func scanRecording(scan func(dest ...any) error) (Recording, error) {
	var rec Recording
	var created string
	if err := scan(&rec.ID, &rec.Title, &rec.Transcription, &rec.Duration, &rec.Size,
		&rec.SampleRate, &rec.Channels, &created); err != nil {
		return Recording{}, err
	}
	ts, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		// A zero CreatedAt would make the row look infinitely old to Prune.
		return Recording{}, fmt.Errorf("parse created_at for %s: %w", rec.ID, err)
	}
	rec.CreatedAt = ts
	return rec, nil
}

func (r *sqliteRegistry) Remove(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	return err
}

func (r *sqliteRegistry) Wipe(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM recordings`)
	return err
}

func (r *sqliteRegistry) Close() error {
	return r.db.Close()
}
