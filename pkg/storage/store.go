package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNoSnapshot is returned by Load when nothing has been saved yet
var ErrNoSnapshot = errors.New("no snapshot stored")

// SnapshotStore persists the serialized permission snapshot
type SnapshotStore interface {
	// Save replaces the current snapshot
	Save(ctx context.Context, data []byte) error

	// Load returns the current snapshot or ErrNoSnapshot
	Load(ctx context.Context) ([]byte, error)
}

// Archiver keeps named point-in-time copies alongside the current snapshot
type Archiver interface {
	Archive(ctx context.Context, name string, data []byte) error
}

// BackupName returns the date-stamped name used for snapshot backups
func BackupName(t time.Time) string {
	return fmt.Sprintf("permissoes-backup-%s.json", t.Format("2006-01-02"))
}
