// Package history persists finished download summaries in SQLite.
package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tunedl/tunedl/download/batch"
)

const schema = `
CREATE TABLE IF NOT EXISTS downloads (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    download_id TEXT NOT NULL,
    title       TEXT NOT NULL,
    platform    TEXT NOT NULL,
    type        TEXT NOT NULL,
    url         TEXT NOT NULL,
    status      TEXT NOT NULL,
    completed   INTEGER NOT NULL DEFAULT 0,
    failed      INTEGER NOT NULL DEFAULT 0,
    total       INTEGER NOT NULL DEFAULT 0,
    finished_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_downloads_finished_at ON downloads(finished_at);
`

// Entry is one row of download history.
type Entry struct {
	ID         int64     `json:"id"`
	BatchID    string    `json:"download_id"`
	Title      string    `json:"title"`
	Platform   string    `json:"platform"`
	Type       string    `json:"type"`
	URL        string    `json:"url"`
	Status     string    `json:"status"`
	Completed  int       `json:"completed"`
	Failed     int       `json:"failed"`
	Total      int       `json:"total"`
	FinishedAt time.Time `json:"finished_at"`
}

// Store implements the batch executor's Recorder hook on SQLite.
type Store struct {
	db *sql.DB
}

// Open creates a history store, initializing the schema if needed.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts a finished batch summary.
func (s *Store) Record(ctx context.Context, rec batch.Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO downloads (download_id, title, platform, type, url, status, completed, failed, total, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.BatchID, rec.Title, rec.Platform, rec.Type, rec.URL, rec.Status,
		rec.Completed, rec.Failed, rec.Total, rec.FinishedAt,
	)
	return err
}

// Recent returns the most recently finished downloads, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, download_id, title, platform, type, url, status, completed, failed, total, finished_at
		 FROM downloads ORDER BY finished_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.BatchID, &e.Title, &e.Platform, &e.Type, &e.URL,
			&e.Status, &e.Completed, &e.Failed, &e.Total, &e.FinishedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
