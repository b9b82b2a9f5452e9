package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// currentSnapshotName is the row holding the live snapshot; archived copies
// use their backup names
const currentSnapshotName = "current"

// SQLStore keeps snapshots in the permission_snapshots table. The DDL and
// upsert are portable between PostgreSQL and SQLite.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore creates the table if it does not exist
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	s := &SQLStore{db: db}
	if err := s.ensureTable(); err != nil {
		return nil, fmt.Errorf("failed to ensure permission_snapshots table: %w", err)
	}
	return s, nil
}

func (s *SQLStore) ensureTable() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS permission_snapshots (
		name VARCHAR(255) PRIMARY KEY,
		payload TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`)
	return err
}

func (s *SQLStore) upsert(ctx context.Context, name string, data []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO permission_snapshots (name, payload, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET payload = excluded.payload, updated_at = excluded.updated_at`,
		name, string(data), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert snapshot %s: %w", name, err)
	}
	return nil
}

// Save replaces the current snapshot row
func (s *SQLStore) Save(ctx context.Context, data []byte) error {
	return s.upsert(ctx, currentSnapshotName, data)
}

// Load returns the current snapshot row
func (s *SQLStore) Load(ctx context.Context) ([]byte, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM permission_snapshots WHERE name = $1`, currentSnapshotName,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return []byte(payload), nil
}

// Archive stores a named copy in its own row
func (s *SQLStore) Archive(ctx context.Context, name string, data []byte) error {
	if name == currentSnapshotName {
		return fmt.Errorf("archive name %q is reserved", name)
	}
	return s.upsert(ctx, name, data)
}
