package audit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLogger_AppendAndRead(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := NewFileLogger(FileLoggerConfig{BasePath: tmpDir})
	require.NoError(t, err)
	defer logger.Close()

	ctx := context.Background()
	require.NoError(t, logger.Append(ctx, entryAt(time.Now().UTC(), KindAdd, "one")))
	require.NoError(t, logger.Append(ctx, entryAt(time.Now().UTC(), KindRemove, "two")))

	_, err = os.Stat(filepath.Join(tmpDir, "audit.log"))
	require.NoError(t, err)

	entries, err := logger.ReadEntries()
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "one", entries[0].Details)
	assert.Equal(t, KindRemove, entries[1].Kind)
}

func TestFileLogger_Rotation(t *testing.T) {
	tmpDir := t.TempDir()

	logger, err := NewFileLogger(FileLoggerConfig{
		BasePath: tmpDir,
		Rotate:   true,
		MaxSize:  100,
		MaxFiles: 2,
	})
	require.NoError(t, err)
	defer logger.Close()

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, logger.Append(ctx, entryAt(time.Now().UTC(), KindUpdate, "a details string long enough to fill the file")))
	}

	rotated, err := filepath.Glob(filepath.Join(tmpDir, "audit-*.log"))
	require.NoError(t, err)
	assert.NotEmpty(t, rotated)
	assert.LessOrEqual(t, len(rotated), 2)

	entries, err := logger.ReadEntries()
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestFileLogger_AppendAfterClose(t *testing.T) {
	logger, err := NewFileLogger(FileLoggerConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())

	err = logger.Append(context.Background(), entryAt(time.Now(), KindAdd, "late"))
	assert.Error(t, err)
}

func TestFileLogger_ReplayIntoMemoryLog(t *testing.T) {
	tmpDir := t.TempDir()
	ctx := context.Background()

	first, err := NewFileLogger(FileLoggerConfig{BasePath: tmpDir})
	require.NoError(t, err)
	require.NoError(t, first.Append(ctx, entryAt(time.Now().UTC(), KindReset, "before restart")))
	require.NoError(t, first.Close())

	second, err := NewFileLogger(FileLoggerConfig{BasePath: tmpDir})
	require.NoError(t, err)
	defer second.Close()

	replayed, err := second.ReadEntries()
	require.NoError(t, err)

	mem := NewMemoryLog(replayed...)
	got, err := mem.Query(ctx, Filter{Text: "restart"})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}
