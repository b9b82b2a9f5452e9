package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileSystemStore_RoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	store, err := NewFileSystemStore(dir)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = store.Load(ctx)
	assert.ErrorIs(t, err, ErrNoSnapshot)

	require.NoError(t, store.Save(ctx, []byte(`{"v":1}`)))
	require.NoError(t, store.Save(ctx, []byte(`{"v":2}`)))

	data, err := store.Load(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":2}`, string(data))

	leftovers, err := filepath.Glob(filepath.Join(dir, ".snapshot-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestFileSystemStore_Archive(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileSystemStore(dir)
	require.NoError(t, err)

	name := BackupName(time.Date(2024, 8, 15, 23, 0, 0, 0, time.UTC))
	assert.Equal(t, "permissoes-backup-2024-08-15.json", name)

	require.NoError(t, store.Archive(context.Background(), name, []byte("{}")))
	_, err = os.Stat(filepath.Join(dir, "backups", name))
	assert.NoError(t, err)

	assert.Error(t, store.Archive(context.Background(), "../escape.json", []byte("{}")))
	assert.Error(t, store.Archive(context.Background(), "", []byte("{}")))
}
