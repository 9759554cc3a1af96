package fs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"dcmigrate/internal/metrics"
	"dcmigrate/internal/migration"
	"dcmigrate/internal/progress"
	"dcmigrate/internal/stage"
	"dcmigrate/internal/storage"
	"dcmigrate/internal/store"

	"go.uber.org/zap"
)

// MigrationError is returned when the filesystem migration cannot record
// its own outcome
type MigrationError struct {
	Op  string
	Err error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("filesystem migration %s: %v", e.Op, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// errAborted is recorded as the cause when an operator aborts the copy
var errAborted = errors.New("filesystem migration aborted")

// Service runs the FS_MIGRATION_COPY phase: it uploads the application home
// directory and drives the stage through FS_MIGRATION_COPY_WAIT to
// OFFLINE_WARNING.
type Service struct {
	root     string
	config   Config
	stages   migration.StageStore
	uploader storage.Uploader
	files    store.FileRecords
	metrics  *metrics.Collector
	logger   *zap.Logger

	mu      sync.Mutex
	report  *progress.Report
	cancel  context.CancelFunc
	aborted atomic.Bool
}

// NewService creates the filesystem migration service for root
func NewService(
	root string,
	config Config,
	stages migration.StageStore,
	uploader storage.Uploader,
	files store.FileRecords,
	metricsCollector *metrics.Collector,
	logger *zap.Logger,
) *Service {
	return &Service{
		root:     root,
		config:   config,
		stages:   stages,
		uploader: uploader,
		files:    files,
		metrics:  metricsCollector,
		logger:   logger,
		report:   progress.NewReport(),
	}
}

// IsRunning reports whether the copy is in progress
func (s *Service) IsRunning() bool {
	current, err := s.stages.CurrentStage()
	if err != nil {
		s.logger.Warn("Failed to read migration stage", zap.Error(err))
		return false
	}
	return current == stage.FsMigrationCopyWait
}

// Report returns the report of the current or most recent run
func (s *Service) Report() *progress.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.report
}

// StartMigration uploads the home directory. It fails with a
// *stage.InvalidStageError unless the migration is in FS_MIGRATION_COPY.
// An aborted run returns context.Canceled.
func (s *Service) StartMigration(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	report := progress.NewReport()

	s.mu.Lock()
	if err := s.stages.Transition(stage.FsMigrationCopy, stage.FsMigrationCopyWait); err != nil {
		s.mu.Unlock()
		return err
	}
	s.aborted.Store(false)
	s.report = report
	s.cancel = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
	}()

	report.Start()
	s.logger.Info("Starting filesystem migration", zap.String("root", s.root))

	pipeline := NewPipeline(s.config, s.uploader, s.files, report, s.metrics, s.logger)
	err := pipeline.Run(ctx, s.root)

	switch {
	case s.aborted.Load() || errors.Is(err, context.Canceled):
		report.Finish(progress.StatusCancelled)
		if !s.aborted.Load() {
			// interrupted without an operator abort, e.g. shutdown
			if stageErr := s.stages.Error(fmt.Errorf("filesystem migration interrupted: %w", context.Canceled)); stageErr != nil {
				s.logger.Error("Failed to move migration to error stage", zap.Error(stageErr))
			}
		}
		s.logger.Warn("Filesystem migration cancelled", zap.Stringer("report", report.Snapshot()))
		return context.Canceled

	case err != nil:
		report.Finish(progress.StatusFailed)
		s.logger.Error("Filesystem migration failed", zap.Error(err))
		if stageErr := s.stages.Error(err); stageErr != nil {
			return &MigrationError{Op: "error", Err: errors.Join(err, stageErr)}
		}
		return err
	}

	report.Complete()
	s.logger.Info("Filesystem migration finished", zap.Stringer("report", report.Snapshot()))

	return s.stages.Transition(stage.FsMigrationCopyWait, stage.OfflineWarning)
}

// AbortMigration cancels a running copy and moves the migration to ERROR.
// It fails with a *stage.InvalidStageError if no copy is running.
func (s *Service) AbortMigration() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.stages.CurrentStage()
	if err != nil {
		return err
	}
	if current != stage.FsMigrationCopyWait {
		return &stage.InvalidStageError{
			Expected: stage.FsMigrationCopyWait,
			Actual:   current,
			Prefix:   "cannot abort filesystem migration",
		}
	}

	s.logger.Warn("Aborting filesystem migration")
	s.aborted.Store(true)
	if s.cancel != nil {
		s.cancel()
	}
	s.report.Finish(progress.StatusCancelled)

	if err := s.stages.Error(errAborted); err != nil {
		return &MigrationError{Op: "abort", Err: err}
	}
	return nil
}
