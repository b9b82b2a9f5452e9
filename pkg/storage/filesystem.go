package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileSystemStore keeps the snapshot in a file under a root directory
type FileSystemStore struct {
	rootDir string
	name    string
}

// NewFileSystemStore creates the root directory if needed. The current
// snapshot is stored as rootDir/current.json.
func NewFileSystemStore(rootDir string) (*FileSystemStore, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &FileSystemStore{rootDir: rootDir, name: "current.json"}, nil
}

// Save writes the snapshot atomically
func (s *FileSystemStore) Save(ctx context.Context, data []byte) error {
	return writeFileAtomic(filepath.Join(s.rootDir, s.name), data)
}

// Load reads the current snapshot
func (s *FileSystemStore) Load(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(s.rootDir, s.name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return data, nil
}

// Archive writes a named copy under rootDir/backups
func (s *FileSystemStore) Archive(ctx context.Context, name string, data []byte) error {
	if name == "" || filepath.Base(name) != name {
		return fmt.Errorf("invalid archive name %q", name)
	}

	dir := filepath.Join(s.rootDir, "backups")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	return writeFileAtomic(filepath.Join(dir, name), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}
	return nil
}
