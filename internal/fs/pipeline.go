package fs

import (
	"context"
	"errors"
	"sync"
	"time"

	"dcmigrate/internal/metrics"
	"dcmigrate/internal/progress"
	"dcmigrate/internal/queue"
	"dcmigrate/internal/storage"
	"dcmigrate/internal/store"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNotRunning is returned when aborting a pipeline that is not running
var ErrNotRunning = errors.New("transfer pipeline is not running")

// ErrAlreadyRunning is returned when Run is called on a running pipeline
var ErrAlreadyRunning = errors.New("transfer pipeline is already running")

// Config contains pipeline configuration
type Config struct {
	Workers        int
	QueueSize      int
	Retries        int
	RetryBackoffMs int
	SkipUnchanged  bool
	// KeyPrefix is prepended to every object key relative to the root
	KeyPrefix string
	// CircuitWait is how long a worker waits before retrying while the
	// target's circuit breaker is open
	CircuitWait time.Duration
}

// Pipeline streams a directory tree to object storage: one crawler feeds a
// bounded queue that a pool of upload workers drains.
type Pipeline struct {
	config   Config
	uploader storage.Uploader
	files    store.FileRecords
	report   *progress.Report
	metrics  *metrics.Collector
	logger   *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewPipeline creates a pipeline reporting into report
func NewPipeline(
	config Config,
	uploader storage.Uploader,
	files store.FileRecords,
	report *progress.Report,
	metricsCollector *metrics.Collector,
	logger *zap.Logger,
) *Pipeline {
	if config.Workers < 1 {
		config.Workers = 1
	}
	if config.Retries < 1 {
		config.Retries = 1
	}
	if config.CircuitWait <= 0 {
		config.CircuitWait = time.Second
	}
	return &Pipeline{
		config:   config,
		uploader: uploader,
		files:    files,
		report:   report,
		metrics:  metricsCollector,
		logger:   logger,
	}
}

// Run uploads every file under root and returns once all workers have
// exited. Per-file failures are recorded in the report and do not fail the
// run; an unreadable root or a cancelled context does.
func (p *Pipeline) Run(ctx context.Context, root string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.cancel = cancel
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.cancel = nil
		p.mu.Unlock()
	}()

	p.logger.Info("Starting transfer pipeline",
		zap.String("root", root),
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize),
	)

	q := queue.New[TransferUnit](p.config.QueueSize)
	g, gctx := errgroup.WithContext(ctx)

	crawler := NewCrawler(p.report, p.logger.Named("crawler")).WithKeyPrefix(p.config.KeyPrefix)
	g.Go(func() error {
		return crawler.Crawl(gctx, root, q)
	})

	for i := 0; i < p.config.Workers; i++ {
		w := &worker{
			id:       i,
			config:   p.config,
			uploader: p.uploader,
			files:    p.files,
			report:   p.report,
			metrics:  p.metrics,
			logger:   p.logger.With(zap.Int("worker_id", i)),
		}
		g.Go(func() error {
			w.run(gctx, q)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Abort cancels a running pipeline. Workers stop starting new uploads and
// drain the queue; uploads already in flight run to completion. Run then
// returns context.Canceled.
func (p *Pipeline) Abort() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel == nil {
		return ErrNotRunning
	}
	p.logger.Warn("Aborting transfer pipeline")
	p.cancel()
	return nil
}

// IsRunning reports whether Run is in progress
func (p *Pipeline) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}
