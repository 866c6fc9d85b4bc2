package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS execution_state (
	execution_id TEXT PRIMARY KEY,
	data         BLOB NOT NULL,
	updated_at   TIMESTAMP NOT NULL
);`

// Store implements ports.StateStore on a local SQLite database, for
// deployments that want durability without a Redis instance.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore opens (creating if needed) the database at dbPath and ensures
// the schema exists. ":memory:" is accepted for tests.
func NewStore(dbPath string, logger *zap.Logger) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// busy_timeout first so subsequent statements wait on locks.
	pragmas := []string{
		"PRAGMA busy_timeout=5000",
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Save upserts the record for an execution id.
func (s *Store) Save(ctx context.Context, executionID string, data []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO execution_state (execution_id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(execution_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		executionID, data, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Load retrieves the record for an execution id, or nil when absent.
func (s *Store) Load(ctx context.Context, executionID string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM execution_state WHERE execution_id = ?`, executionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	return data, nil
}

// Delete removes the record for an execution id.
func (s *Store) Delete(ctx context.Context, executionID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM execution_state WHERE execution_id = ?`, executionID); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// List returns all execution ids that have stored records.
func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT execution_id FROM execution_state`)
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan execution id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
