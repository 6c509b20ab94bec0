package tracker

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"time"

	_ "github.com/mattn/go-sqlite3"

	"marketdata_hub/models"
)

// AttemptArchive persists terminal fetch attempts to a local SQLite file so
// they survive restarts and can feed offline diagnostics. Writes are best
// effort; the tracker's live statistics never depend on the archive.
type AttemptArchive struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenAttemptArchive opens (or creates) the archive at path.
func OpenAttemptArchive(path string) (*AttemptArchive, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open attempt archive: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping attempt archive: %w", err)
	}

	a := &AttemptArchive{db: db}
	if err := a.createTable(); err != nil {
		return nil, fmt.Errorf("failed to create attempts table: %w", err)
	}
	return a, nil
}

func (a *AttemptArchive) createTable() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	_, err := a.db.Exec(`
		CREATE TABLE IF NOT EXISTS fetch_attempts (
			id TEXT PRIMARY KEY,
			symbol TEXT NOT NULL,
			data_type TEXT NOT NULL,
			provider TEXT NOT NULL,
			status TEXT NOT NULL,
			error_message TEXT,
			retry_count INTEGER NOT NULL DEFAULT 0,
			execution_time_ms INTEGER NOT NULL DEFAULT 0,
			payload_size INTEGER NOT NULL DEFAULT 0,
			job_id TEXT,
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_attempts_started ON fetch_attempts(started_at);
		CREATE INDEX IF NOT EXISTS idx_attempts_provider ON fetch_attempts(provider, status);
	`)
	return err
}

// Insert stores one terminal attempt.
func (a *AttemptArchive) Insert(attempt *models.FetchAttempt) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var completed any
	if attempt.CompletedAt != nil {
		completed = attempt.CompletedAt.UTC()
	}
	_, err := a.db.Exec(`
		INSERT OR REPLACE INTO fetch_attempts
		(id, symbol, data_type, provider, status, error_message, retry_count,
		 execution_time_ms, payload_size, job_id, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID,
		attempt.Symbol,
		string(attempt.DataType),
		attempt.Provider,
		string(attempt.Status),
		attempt.ErrorMessage,
		attempt.RetryCount,
		attempt.ExecutionTimeMs,
		attempt.PayloadSize,
		attempt.JobID,
		attempt.StartedAt.UTC(),
		completed,
	)
	return err
}

// DeleteOlderThan removes attempts started before the cutoff and returns
// the number of rows deleted.
func (a *AttemptArchive) DeleteOlderThan(cutoff time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, err := a.db.Exec(`DELETE FROM fetch_attempts WHERE started_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old attempts: %w", err)
	}
	return res.RowsAffected()
}

// Count returns the number of archived attempts.
func (a *AttemptArchive) Count() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var n int64
	if err := a.db.QueryRow(`SELECT COUNT(*) FROM fetch_attempts`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Close releases the underlying database handle.
func (a *AttemptArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.db.Close()
}
