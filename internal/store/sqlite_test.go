package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "migration.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"sqlite": newTestSQLiteStore(t),
		"memory": NewMemoryStore(),
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, ok, err := s.Get("migration.stage")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, s.Put("migration.stage", "FS_MIGRATION_COPY"))
			require.NoError(t, s.Put("migration.stage", "FS_MIGRATION_COPY_WAIT"))

			v, ok, err := s.Get("migration.stage")
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, "FS_MIGRATION_COPY_WAIT", v)

			require.NoError(t, s.Delete("migration.stage", "missing"))
			_, ok, err = s.Get("migration.stage")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestFileRecords(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			rec, err := s.GetFile("/home/data/a.txt")
			require.NoError(t, err)
			assert.Nil(t, rec)

			mod := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
			require.NoError(t, s.SaveFile(&FileRecord{
				Path:      "/home/data/a.txt",
				Key:       "data/a.txt",
				Size:      42,
				ModTime:   mod,
				Status:    StatusFailed,
				Attempts:  1,
				LastError: "connection reset",
			}))
			require.NoError(t, s.SaveFile(&FileRecord{
				Path:    "/home/data/b.txt",
				Key:     "data/b.txt",
				Size:    7,
				ModTime: mod,
				Status:  StatusCompleted,
			}))

			rec, err = s.GetFile("/home/data/a.txt")
			require.NoError(t, err)
			require.NotNil(t, rec)
			assert.Equal(t, "data/a.txt", rec.Key)
			assert.Equal(t, int64(42), rec.Size)
			assert.True(t, mod.Equal(rec.ModTime))
			assert.Equal(t, "connection reset", rec.LastError)

			failed, err := s.ListFilesByStatus(StatusFailed)
			require.NoError(t, err)
			require.Len(t, failed, 1)
			assert.Equal(t, "/home/data/a.txt", failed[0].Path)

			require.NoError(t, s.ResetFiles())
			completed, err := s.ListFilesByStatus(StatusCompleted)
			require.NoError(t, err)
			assert.Empty(t, completed)
		})
	}
}

func TestSQLiteConcurrentWrites(t *testing.T) {
	s := newTestSQLiteStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				assert.NoError(t, s.SaveFile(&FileRecord{
					Path:    filepath.Join("/home", string(rune('a'+i)), string(rune('a'+j))),
					Key:     "k",
					ModTime: time.Now(),
					Status:  StatusCompleted,
				}))
			}
		}(i)
	}
	wg.Wait()

	completed, err := s.ListFilesByStatus(StatusCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 80)
}

func TestClosedStore(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Close())
			require.NoError(t, s.Close())

			_, _, err := s.Get("x")
			assert.ErrorIs(t, err, ErrClosed)
			assert.ErrorIs(t, s.Put("x", "y"), ErrClosed)
			assert.ErrorIs(t, s.SaveFile(&FileRecord{Path: "p"}), ErrClosed)
		})
	}
}
