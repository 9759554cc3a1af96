package db

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"dcmigrate/internal/fs"
	"dcmigrate/internal/metrics"
	"dcmigrate/internal/migration"
	"dcmigrate/internal/stage"
	"dcmigrate/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeExtractor struct {
	err   error
	files []string
}

func (f *fakeExtractor) Dump(_ context.Context, target string) error {
	if f.err != nil {
		return f.err
	}
	if err := os.MkdirAll(target, 0o700); err != nil {
		return err
	}
	for _, name := range f.files {
		if err := os.WriteFile(filepath.Join(target, name), []byte(name), 0o600); err != nil {
			return err
		}
	}
	return nil
}

type fakeUploader struct {
	mu   sync.Mutex
	keys []string
	err  error
}

func (u *fakeUploader) Upload(_ context.Context, _, key string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.err != nil {
		return u.err
	}
	u.keys = append(u.keys, key)
	return nil
}

func newTestService(t *testing.T, extractor Extractor, uploader *fakeUploader, current stage.Stage) (*Service, *migration.Service) {
	t.Helper()
	db := store.NewMemoryStore()
	require.NoError(t, db.Put("migration.stage", string(current)))
	stages := migration.NewService(db, zap.NewNop())
	svc := NewService(t.TempDir(), extractor, stages, uploader, db,
		fs.Config{Workers: 2, QueueSize: 2, Retries: 1}, metrics.New(), zap.NewNop())
	return svc, stages
}

func TestPerformMigration(t *testing.T) {
	uploader := &fakeUploader{}
	svc, stages := newTestService(t, &fakeExtractor{files: []string{"toc.dat", "3001.dat.gz"}}, uploader, stage.DbMigrationExport)

	var seen []stage.Stage
	stages.OnTransition(func(_, to stage.Stage) { seen = append(seen, to) })

	assert.Equal(t, StatusNotStarted, svc.Status())
	require.NoError(t, svc.PerformMigration(context.Background()))

	assert.Equal(t, StatusFinished, svc.Status())
	assert.Equal(t, []stage.Stage{
		stage.DbMigrationExportWait,
		stage.DbMigrationUpload,
		stage.DbMigrationUploadWait,
		stage.DataMigrationImport,
	}, seen)
	assert.ElementsMatch(t, []string{"db.dump/toc.dat", "db.dump/3001.dat.gz"}, uploader.keys)
	assert.Equal(t, int64(2), svc.Report().Snapshot().FilesMigrated)
}

func TestPerformMigrationUploadsOnlyTheDump(t *testing.T) {
	dumpDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dumpDir, "stray.log"), []byte("x"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(dumpDir, "old"), 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dumpDir, "old", "toc.dat"), []byte("x"), 0o600))

	db := store.NewMemoryStore()
	require.NoError(t, db.Put("migration.stage", string(stage.DbMigrationExport)))
	stages := migration.NewService(db, zap.NewNop())
	uploader := &fakeUploader{}
	svc := NewService(dumpDir, &fakeExtractor{files: []string{"toc.dat"}}, stages, uploader, db,
		fs.Config{Workers: 2, QueueSize: 2, Retries: 1}, metrics.New(), zap.NewNop())

	require.NoError(t, svc.PerformMigration(context.Background()))

	assert.Equal(t, []string{"db.dump/toc.dat"}, uploader.keys)
	snapshot := svc.Report().Snapshot()
	assert.Equal(t, int64(1), snapshot.FilesFound)
	assert.Zero(t, snapshot.ErrorCount)
}

func TestPerformMigrationWrongStage(t *testing.T) {
	svc, stages := newTestService(t, &fakeExtractor{}, &fakeUploader{}, stage.FsMigrationCopy)

	err := svc.PerformMigration(context.Background())
	var stageErr *stage.InvalidStageError
	require.True(t, errors.As(err, &stageErr))

	current, _ := stages.CurrentStage()
	assert.Equal(t, stage.FsMigrationCopy, current)
	assert.Equal(t, StatusNotStarted, svc.Status())
}

func TestPerformMigrationDumpFailure(t *testing.T) {
	svc, stages := newTestService(t, &fakeExtractor{err: errors.New("pg_dump process exited with non-zero status: 1")}, &fakeUploader{}, stage.DbMigrationExport)

	err := svc.PerformMigration(context.Background())
	require.Error(t, err)

	assert.Equal(t, StatusFailed, svc.Status())
	current, _ := stages.CurrentStage()
	assert.Equal(t, stage.Error, current)
}

func TestPerformMigrationUploadFailure(t *testing.T) {
	uploader := &fakeUploader{err: errors.New("access denied")}
	svc, stages := newTestService(t, &fakeExtractor{files: []string{"toc.dat"}}, uploader, stage.DbMigrationExport)

	err := svc.PerformMigration(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 database dump files failed")

	assert.Equal(t, StatusFailed, svc.Status())
	current, _ := stages.CurrentStage()
	assert.Equal(t, stage.Error, current)
}

func TestPgDumpArgs(t *testing.T) {
	e := NewPgDumpExtractor("", []string{"--exclude-table=audit"}, 0, Connection{
		Name: "jira", Host: "db.internal", Port: 5432, Username: "jira",
	}, zap.NewNop())

	args := strings.Join(e.Args("/tmp/db.dump"), " ")
	assert.Equal(t, "--no-owner --no-acl --compress=9 --format=directory --jobs 1 --file /tmp/db.dump "+
		"--dbname jira --host db.internal --port 5432 --username jira --exclude-table=audit", args)
}

func TestPgDumpExitStatus(t *testing.T) {
	if _, err := exec.LookPath("false"); err != nil {
		t.Skip("false not available")
	}
	e := NewPgDumpExtractor("false", nil, 1, Connection{}, zap.NewNop())
	err := e.Dump(context.Background(), filepath.Join(t.TempDir(), "db.dump"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-zero status: 1")
}

func TestPgDumpMissingCommand(t *testing.T) {
	e := NewPgDumpExtractor("definitely-not-pg-dump", nil, 1, Connection{}, zap.NewNop())
	assert.Error(t, e.Dump(context.Background(), t.TempDir()))
}
