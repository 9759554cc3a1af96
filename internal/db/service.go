package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"dcmigrate/internal/fs"
	"dcmigrate/internal/metrics"
	"dcmigrate/internal/migration"
	"dcmigrate/internal/progress"
	"dcmigrate/internal/stage"
	"dcmigrate/internal/storage"
	"dcmigrate/internal/store"

	"go.uber.org/zap"
)

// Status tracks the database phase
type Status string

const (
	StatusNotStarted       Status = "NOT_STARTED"
	StatusDumpInProgress   Status = "DUMP_IN_PROGRESS"
	StatusDumpComplete     Status = "DUMP_COMPLETE"
	StatusUploadInProgress Status = "UPLOAD_IN_PROGRESS"
	StatusUploadComplete   Status = "UPLOAD_COMPLETE"
	StatusFinished         Status = "FINISHED"
	StatusFailed           Status = "FAILED"
)

// dumpName is the directory pg_dump writes into
const dumpName = "db.dump"

// Service exports the database and uploads the export, driving the stage
// from DB_MIGRATION_EXPORT to DATA_MIGRATION_IMPORT
type Service struct {
	dumpDir   string
	extractor Extractor
	stages    migration.StageStore
	uploader  storage.Uploader
	files     store.FileRecords
	config    fs.Config
	metrics   *metrics.Collector
	logger    *zap.Logger

	mu     sync.RWMutex
	status Status
	report *progress.Report
}

// NewService creates the database migration service. The dump is written
// below dumpDir.
func NewService(
	dumpDir string,
	extractor Extractor,
	stages migration.StageStore,
	uploader storage.Uploader,
	files store.FileRecords,
	config fs.Config,
	metricsCollector *metrics.Collector,
	logger *zap.Logger,
) *Service {
	config.SkipUnchanged = false
	config.KeyPrefix = dumpName
	return &Service{
		dumpDir:   dumpDir,
		extractor: extractor,
		stages:    stages,
		uploader:  uploader,
		files:     files,
		config:    config,
		metrics:   metricsCollector,
		logger:    logger,
		status:    StatusNotStarted,
		report:    progress.NewReport(),
	}
}

// Status returns the phase status
func (s *Service) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Report returns the upload report of the current or last run
func (s *Service) Report() *progress.Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.report
}

func (s *Service) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	s.logger.Info("Database migration status changed", zap.String("status", string(status)))
}

// PerformMigration dumps and uploads the database. It fails with a
// *stage.InvalidStageError unless the migration is in DB_MIGRATION_EXPORT.
// This blocks for the duration of the dump and upload.
func (s *Service) PerformMigration(ctx context.Context) error {
	if err := s.stages.Transition(stage.DbMigrationExport, stage.DbMigrationExportWait); err != nil {
		return err
	}

	target := filepath.Join(s.dumpDir, dumpName)
	if err := os.RemoveAll(target); err != nil {
		return s.fail(fmt.Errorf("failed to clear previous dump: %w", err))
	}
	if err := os.MkdirAll(s.dumpDir, 0o700); err != nil {
		return s.fail(fmt.Errorf("failed to create dump directory: %w", err))
	}

	s.setStatus(StatusDumpInProgress)
	if err := s.extractor.Dump(ctx, target); err != nil {
		return s.fail(fmt.Errorf("database dump failed: %w", err))
	}
	s.setStatus(StatusDumpComplete)

	if err := s.stages.Transition(stage.DbMigrationExportWait, stage.DbMigrationUpload); err != nil {
		return err
	}
	if err := s.stages.Transition(stage.DbMigrationUpload, stage.DbMigrationUploadWait); err != nil {
		return err
	}

	s.setStatus(StatusUploadInProgress)
	report := progress.NewReport()
	s.mu.Lock()
	s.report = report
	s.mu.Unlock()

	report.Start()
	pipeline := fs.NewPipeline(s.config, s.uploader, s.files, report, s.metrics, s.logger.Named("upload"))
	if err := pipeline.Run(ctx, target); err != nil {
		report.Finish(progress.StatusFailed)
		return s.fail(fmt.Errorf("database dump upload failed: %w", err))
	}
	report.Complete()

	snapshot := report.Snapshot()
	if snapshot.ErrorCount > 0 {
		// a partial dump cannot be restored
		return s.fail(fmt.Errorf("%d database dump files failed to upload", snapshot.ErrorCount))
	}
	s.setStatus(StatusUploadComplete)
	s.logger.Info("Database dump uploaded", zap.Stringer("report", snapshot))

	if err := s.stages.Transition(stage.DbMigrationUploadWait, stage.DataMigrationImport); err != nil {
		return err
	}
	s.setStatus(StatusFinished)
	return nil
}

func (s *Service) fail(err error) error {
	s.setStatus(StatusFailed)
	if stageErr := s.stages.Error(err); stageErr != nil {
		s.logger.Error("Failed to move migration to error stage", zap.Error(stageErr))
	}
	return err
}
