package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/siftlabs/kbharvest/internal/types"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS extraction_results (
	id                    TEXT PRIMARY KEY,
	extraction_request_id TEXT NOT NULL,
	title                 TEXT NOT NULL,
	content               TEXT NOT NULL,
	content_type          TEXT NOT NULL,
	source_url            TEXT NOT NULL,
	author                TEXT NOT NULL DEFAULT '',
	created_at            TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_extraction_results_request
	ON extraction_results (extraction_request_id);
CREATE TABLE IF NOT EXISTS extraction_requests (
	id           TEXT PRIMARY KEY,
	is_completed INTEGER NOT NULL DEFAULT 0,
	completed_at TEXT
);`

// SQLiteStore writes extraction results to a local SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	mu     sync.Mutex
	count  int
	logger *slog.Logger
}

// NewSQLiteStore opens the database at path, creating it and the schema
// if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("database path is empty")}
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("create db dir: %w", err)}
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("open: %w", err)}
	}
	// Single connection avoids SQLITE_BUSY under concurrent writers.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("create schema: %w", err)}
	}

	return &SQLiteStore{
		db:     db,
		path:   path,
		logger: logger.With("component", "sqlite_store"),
	}, nil
}

func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) SaveResults(ctx context.Context, records []ResultRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("begin: %w", err)}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO extraction_results
		(id, extraction_request_id, title, content, content_type, source_url, author, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("prepare: %w", err)}
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx, rec.ID, rec.ExtractionRequestID, rec.Title,
			rec.Content, rec.ContentType, rec.SourceURL, rec.Author,
			rec.CreatedAt.UTC().Format(time.RFC3339Nano))
		if err != nil {
			return &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("insert result %s: %w", rec.ID, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("commit: %w", err)}
	}

	s.count += len(records)
	s.logger.Debug("results stored in sqlite", "count", len(records), "total", s.count)
	return nil
}

func (s *SQLiteStore) CompleteRequest(ctx context.Context, requestID string) error {
	// Upsert keeps standalone runs working without a pre-seeded request row.
	_, err := s.db.ExecContext(ctx, `INSERT INTO extraction_requests (id, is_completed, completed_at)
		VALUES (?, 1, ?)
		ON CONFLICT(id) DO UPDATE SET is_completed = 1, completed_at = excluded.completed_at`,
		requestID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &types.StorageError{Backend: "sqlite", Err: fmt.Errorf("complete request: %w", err)}
	}
	s.logger.Debug("request marked complete", "request_id", requestID)
	return nil
}

func (s *SQLiteStore) Close() error {
	s.logger.Info("sqlite store closing", "path", s.path, "total_results", s.count)
	return s.db.Close()
}
