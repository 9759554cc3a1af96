package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"

	"dcmigrate/internal/progress"
	"dcmigrate/internal/queue"

	"go.uber.org/zap"
)

// TransferUnit is one file scheduled for upload
type TransferUnit struct {
	Path    string    `json:"path"`
	Key     string    `json:"key"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Crawler walks a directory tree and feeds every regular file into a queue
type Crawler struct {
	report    *progress.Report
	logger    *zap.Logger
	keyPrefix string
}

// NewCrawler creates a crawler reporting into report
func NewCrawler(report *progress.Report, logger *zap.Logger) *Crawler {
	return &Crawler{report: report, logger: logger}
}

// WithKeyPrefix places every key below prefix instead of at the root
func (c *Crawler) WithKeyPrefix(prefix string) *Crawler {
	c.keyPrefix = prefix
	return c
}

// Crawl enqueues every regular file under root in lexical order. Unreadable
// entries below root are recorded as failed files and skipped. An unreadable
// root, a cancelled context or a finished queue stop the walk with an error.
// The queue is always finished when Crawl returns.
func (c *Crawler) Crawl(ctx context.Context, root string, q *queue.Queue[TransferUnit]) error {
	defer q.Finish()

	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("failed to read migration root %s: %w", root, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("migration root %s is not a directory", root)
	}

	var found int64
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			c.recordFailure(path, walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			c.recordFailure(path, err)
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			c.recordFailure(path, err)
			return nil
		}

		c.report.ReportFileFound()
		found++
		return q.Put(ctx, TransferUnit{
			Path:    path,
			Key:     c.key(rel),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	})

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			c.logger.Info("Crawl interrupted", zap.Int64("found", found))
			return err
		}
		return fmt.Errorf("failed to crawl %s: %w", root, err)
	}

	c.logger.Info("Finished crawling", zap.String("root", root), zap.Int64("found", found))
	return nil
}

func (c *Crawler) key(rel string) string {
	if c.keyPrefix == "" {
		return filepath.ToSlash(rel)
	}
	return path.Join(c.keyPrefix, filepath.ToSlash(rel))
}

func (c *Crawler) recordFailure(path string, err error) {
	c.logger.Warn("Failed to read path", zap.String("path", path), zap.Error(err))
	c.report.ReportFileNotMigrated(progress.FailedFile{Path: path, Reason: err.Error()})
}
