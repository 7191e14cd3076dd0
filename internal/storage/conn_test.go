package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestIsContentionError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{errors.New("database table is locked"), true},
		{errors.New("disk I/O error"), true},
		{errors.New("unable to open database file: no such file or directory"), true},
		{errors.New("UNIQUE constraint failed: sources.name"), false},
		{ErrVectorIndexUnavailable, false},
	}
	for _, tt := range tests {
		name := "nil"
		if tt.err != nil {
			name = tt.err.Error()
		}
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tt.want, isContentionError(tt.err))
		})
	}
}

func TestOpen_FileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "docs.db")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	s, err := Open(context.Background(), Options{Path: path, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var fk int
	require.NoError(t, s.db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestOpen_NonRetryableErrorFailsFast(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-a-db")
	require.NoError(t, os.WriteFile(path, []byte("this is definitely not sqlite, padded to look like a header......"), 0o644))

	start := time.Now()
	_, err := Open(context.Background(), Options{Path: path, InitialBackoff: time.Second})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLockContention)
	assert.Less(t, time.Since(start), time.Second, "no backoff for non-contention errors")
}

func TestWithRetry(t *testing.T) {
	s := newTestStorage(t)
	s.opts.InitialBackoff = time.Millisecond
	ctx := context.Background()

	calls := 0
	err := s.withRetry(ctx, "test", func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = s.withRetry(ctx, "test", func() error {
		calls++
		return errors.New("database is locked")
	})
	assert.ErrorIs(t, err, ErrLockContention)
	assert.Equal(t, DefaultMaxAttempts, calls)

	calls = 0
	boom := errors.New("constraint failed")
	err = s.withRetry(ctx, "test", func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestRecoverDatabase_RemovesArtifactsWhenCheckpointFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.db")
	require.NoError(t, os.WriteFile(path, []byte("garbage garbage garbage garbage garbage garbage garbage garbage garbage"), 0o644))
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		require.NoError(t, os.WriteFile(path+suffix, []byte("stale"), 0o644))
	}

	recoverDatabase(context.Background(), path, zap.NewNop())

	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		_, err := os.Stat(path + suffix)
		assert.True(t, os.IsNotExist(err), suffix)
	}
	_, err := os.Stat(path)
	assert.NoError(t, err, "the database file itself is kept")
}

func TestRecoverDatabase_CheckpointKeepsHealthyDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docs.db")
	s, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	_, err = s.EnsureSource(context.Background(), "engine", "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	recoverDatabase(context.Background(), path, zap.NewNop())

	reopened, err := NewSQLiteStorage(path)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()
	_, err = reopened.GetSource(context.Background(), "engine")
	assert.NoError(t, err)
}

func TestRecoverDatabase_SkipsMemory(t *testing.T) {
	assert.True(t, isMemoryPath(":memory:"))
	assert.True(t, isMemoryPath("file::memory:?mode=memory&cache=shared"))
	assert.False(t, isMemoryPath("/tmp/docs.db"))
	recoverDatabase(context.Background(), ":memory:", zap.NewNop())
}
