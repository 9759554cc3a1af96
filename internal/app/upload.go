package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"dcmigrate/internal/config"
	"dcmigrate/internal/fs"
	"dcmigrate/internal/metrics"
	"dcmigrate/internal/progress"
	"dcmigrate/internal/storage"
	"dcmigrate/internal/store"

	"go.uber.org/zap"
)

// UploadDirectory copies root to the target outside of any migration. File
// checkpoints are kept in memory only, so every run uploads everything.
func UploadDirectory(ctx context.Context, cfg *config.Config, logger *zap.Logger, root string, out io.Writer) (progress.Snapshot, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return progress.Snapshot{}, fmt.Errorf("failed to create data dir: %w", err)
	}
	stateStore, err := store.NewSQLiteStore(cfg.DatabasePath())
	if err != nil {
		return progress.Snapshot{}, fmt.Errorf("failed to create state store: %w", err)
	}
	defer stateStore.Close()

	_, client, err := openTarget(cfg, stateStore)
	if err != nil {
		return progress.Snapshot{}, err
	}
	uploader := storage.NewS3Uploader(client, uploaderConfig(cfg), nil, logger.Named("upload"))

	transfer := transferConfig(cfg)
	transfer.SkipUnchanged = false
	return runUpload(ctx, cfg, logger, root, uploader, out, transfer)
}

func runUpload(
	ctx context.Context,
	cfg *config.Config,
	logger *zap.Logger,
	root string,
	uploader storage.Uploader,
	out io.Writer,
	transfer fs.Config,
) (progress.Snapshot, error) {
	report := progress.NewReport()
	report.Start()

	// Create progress display if enabled and supported
	var display *progress.Display
	if cfg.ShowProgress && out != nil {
		display = progress.NewDisplay(report, 2*time.Second, out)
		display.Start()
		logger.Info("Progress display enabled")
	}

	pipeline := fs.NewPipeline(transfer, uploader, store.NewMemoryStore(), report, metrics.New(), logger)
	err := pipeline.Run(ctx, root)
	switch {
	case err == nil:
		report.Complete()
	case ctx.Err() != nil:
		report.Finish(progress.StatusCancelled)
	default:
		report.Finish(progress.StatusFailed)
	}

	// Stop progress display if it was started
	if display != nil {
		display.Stop()
	}

	snapshot := report.Snapshot()
	logger.Info("Upload finished", zap.Stringer("report", snapshot))
	return snapshot, err
}
