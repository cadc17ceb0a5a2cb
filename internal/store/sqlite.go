package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lumenreach/chatwidget/internal/domain"
	"github.com/lumenreach/chatwidget/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	saveMu sync.Mutex // Serializes snapshot writes to prevent SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS snapshots (
		visitor_id TEXT PRIMARY KEY,
		payload_json TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_updated ON snapshots(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// LoadSnapshot retrieves the stored snapshot for a visitor. A missing row and
// a payload that no longer unmarshals both yield (nil, nil): the conversation
// starts fresh rather than failing.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, visitorID string) (*domain.Snapshot, error) {
	query := `SELECT payload_json FROM snapshots WHERE visitor_id = ?`

	var payload string
	err := s.db.QueryRowContext(ctx, query, visitorID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan snapshot row: %w", err)
	}

	var snap domain.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		slog.Warn("Discarding malformed snapshot payload", "visitor_id", visitorID, "error", err)
		return nil, nil
	}
	if snap.Empty() {
		return nil, nil
	}
	return &snap, nil
}

// SaveSnapshot serializes and writes the snapshot, replacing any previous one.
// SQLITE_BUSY conflicts are retried with exponential backoff before the error
// is returned.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, visitorID string, snap *domain.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	query := `
	INSERT INTO snapshots (visitor_id, payload_json, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(visitor_id) DO UPDATE SET
		payload_json = excluded.payload_json,
		updated_at = excluded.updated_at`

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	maxRetries := 3
	baseDelay := 50 * time.Millisecond
	for i := 0; i < maxRetries; i++ {
		_, err = s.db.ExecContext(ctx, query, visitorID, string(payload), time.Now().Unix())
		if err == nil {
			return nil
		}
		if shared.IsSQLiteConflictError(err) && i < maxRetries-1 {
			delay := baseDelay * time.Duration(1<<i)
			slog.Debug("Snapshot save hit SQLITE_BUSY, retrying",
				"visitor_id", visitorID, "attempt", i+1, "delay", delay)
			time.Sleep(delay)
			continue
		}
		break
	}
	return fmt.Errorf("save snapshot: %w", err)
}

// DeleteSnapshot removes the stored snapshot for a visitor.
func (s *SQLiteStore) DeleteSnapshot(ctx context.Context, visitorID string) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE visitor_id = ?`, visitorID); err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// PruneSnapshots removes snapshots that have not been written for longer
// than maxAge.
func (s *SQLiteStore) PruneSnapshots(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).Unix()
	res, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune snapshots rows affected: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
