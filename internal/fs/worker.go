package fs

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"dcmigrate/internal/metrics"
	"dcmigrate/internal/progress"
	"dcmigrate/internal/queue"
	"dcmigrate/internal/storage"
	"dcmigrate/internal/store"

	"go.uber.org/zap"
)

// worker drains the upload queue until it sees the end-of-stream marker
type worker struct {
	id       int
	config   Config
	uploader storage.Uploader
	files    store.FileRecords
	report   *progress.Report
	metrics  *metrics.Collector
	logger   *zap.Logger
}

func (w *worker) run(ctx context.Context, q *queue.Queue[TransferUnit]) {
	w.logger.Debug("Worker started")

	for {
		item := q.Take()
		if item.EndOfStream() {
			q.Relay()
			w.logger.Debug("Worker finished - no more files")
			return
		}
		// keep draining after cancellation so the producer is never stuck
		if ctx.Err() != nil {
			continue
		}
		w.process(ctx, item.Value())
	}
}

func (w *worker) process(ctx context.Context, unit TransferUnit) {
	if w.config.SkipUnchanged && w.alreadyMigrated(unit) {
		w.logger.Debug("Skipping unchanged file", zap.String("path", unit.Path))
		w.report.ReportFileSkipped()
		w.metrics.IncSkipped()
		return
	}

	startTime := time.Now()
	w.report.ReportUploadCommenced()
	w.metrics.UploadStarted()
	defer w.metrics.UploadFinished()

	// an upload already under way finishes on its own; cancellation only
	// stops retries and new work
	uploadCtx := context.WithoutCancel(ctx)

	var lastErr error
	attempt := 1
	for {
		err := w.uploader.Upload(uploadCtx, unit.Path, unit.Key)
		if err == nil {
			w.markCompleted(unit, attempt)
			w.report.ReportFileMigrated(unit.Size)
			w.metrics.IncMigrated(unit.Size, time.Since(startTime))
			w.logger.Debug("File uploaded",
				zap.String("key", unit.Key),
				zap.Int64("size", unit.Size),
				zap.Duration("duration", time.Since(startTime)),
			)
			return
		}

		if errors.Is(err, storage.ErrCircuitOpen) {
			// the target is unavailable, not this file; wait without
			// spending an attempt
			w.logger.Debug("Target unavailable, waiting", zap.String("key", unit.Key))
			if !w.sleep(ctx, w.config.CircuitWait) {
				return
			}
			continue
		}

		lastErr = err
		w.logger.Warn("Upload attempt failed",
			zap.String("key", unit.Key),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if ctx.Err() != nil || !isRetriableError(err) || attempt == w.config.Retries {
			break
		}
		if !w.sleep(ctx, w.calculateBackoff(attempt)) {
			return
		}
		attempt++
	}

	w.markFailed(unit, attempt, lastErr)
	w.report.ReportFileNotMigrated(progress.FailedFile{Path: unit.Path, Reason: lastErr.Error()})
	w.metrics.IncFailed()
	w.logger.Error("File failed after all retries",
		zap.String("path", unit.Path),
		zap.Error(lastErr),
	)
}

func (w *worker) alreadyMigrated(unit TransferUnit) bool {
	record, err := w.files.GetFile(unit.Path)
	if err != nil || record == nil {
		return false
	}
	return record.Status == store.StatusCompleted &&
		record.Size == unit.Size &&
		record.ModTime.Equal(unit.ModTime)
}

func (w *worker) markCompleted(unit TransferUnit, attempts int) {
	w.save(&store.FileRecord{
		Path:     unit.Path,
		Key:      unit.Key,
		Size:     unit.Size,
		ModTime:  unit.ModTime,
		Status:   store.StatusCompleted,
		Attempts: attempts,
	}, nil)
}

func (w *worker) markFailed(unit TransferUnit, attempts int, err error) {
	w.save(&store.FileRecord{
		Path:      unit.Path,
		Key:       unit.Key,
		Size:      unit.Size,
		ModTime:   unit.ModTime,
		Status:    store.StatusFailed,
		Attempts:  attempts,
		LastError: err.Error(),
	}, err)
}

func (w *worker) save(record *store.FileRecord, uploadErr error) {
	err := w.files.SaveFile(record)
	if err == nil {
		return
	}
	if errors.Is(err, store.ErrClosed) {
		w.logger.Warn("Cannot save file record - database is closed",
			zap.String("path", record.Path),
			zap.NamedError("upload_error", uploadErr))
		return
	}
	w.logger.Error("Failed to save file record",
		zap.String("path", record.Path),
		zap.Error(err))
}

// sleep waits for d and reports false if ctx ended first
func (w *worker) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (w *worker) calculateBackoff(attempt int) time.Duration {
	base := time.Duration(w.config.RetryBackoffMs) * time.Millisecond
	return base * time.Duration(math.Pow(2, float64(attempt-1)))
}

func isRetriableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "connection") ||
		strings.Contains(errStr, "temporary") ||
		strings.Contains(errStr, "network") ||
		strings.Contains(errStr, "dns") ||
		// HTTP 5xx server errors
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "gateway timeout") ||
		strings.Contains(errStr, "slow down")
}
