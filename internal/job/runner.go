package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"dcmigrate/internal/metrics"
	"dcmigrate/internal/stage"

	"go.uber.org/zap"
)

// Kind names a class of job. At most one job of a kind runs at a time in the
// process, however many runners exist for it.
type Kind string

const (
	KindProvisionStack Kind = "provision-stack"
	KindFsMigration    Kind = "fs-migration"
	KindDbMigration    Kind = "db-migration"
)

// Status is the result class of one execution
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
	StatusAborted Status = "aborted"
)

// Outcome describes how a single execution ended
type Outcome struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Body is the work a runner executes
type Body func(ctx context.Context) error

var (
	flagsMu sync.Mutex
	flags   = make(map[Kind]*atomic.Bool)
)

func flagFor(kind Kind) *atomic.Bool {
	flagsMu.Lock()
	defer flagsMu.Unlock()

	f, ok := flags[kind]
	if !ok {
		f = &atomic.Bool{}
		flags[kind] = f
	}
	return f
}

// Runner executes a body under the process-wide guard for its kind
type Runner struct {
	kind    Kind
	body    Body
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewRunner creates a runner for kind
func NewRunner(kind Kind, body Body, metricsCollector *metrics.Collector, logger *zap.Logger) *Runner {
	return &Runner{
		kind:    kind,
		body:    body,
		metrics: metricsCollector,
		logger:  logger.With(zap.String("job", string(kind))),
	}
}

// Kind returns the job kind
func (r *Runner) Kind() Kind {
	return r.kind
}

// Run executes the body unless another job of the same kind is running, in
// which case it returns an Aborted outcome immediately. A body that fails
// because the migration is in the wrong stage yields a Failed outcome with a
// nil error; any other error is returned alongside the Failed outcome.
func (r *Runner) Run(ctx context.Context) (outcome Outcome, err error) {
	running := flagFor(r.kind)
	if !running.CompareAndSwap(false, true) {
		r.logger.Warn("Job already running, skipping execution")
		outcome = Outcome{Status: StatusAborted, Message: fmt.Sprintf("%s job already running", r.kind)}
		r.metrics.IncJobRun(string(r.kind), string(outcome.Status))
		return outcome, nil
	}
	defer running.Store(false)

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%s job panicked: %v", r.kind, p)
			outcome = Outcome{Status: StatusFailed, Message: err.Error()}
			r.logger.Error("Job panicked", zap.Any("panic", p), zap.Stack("stack"))
		}
		r.metrics.IncJobRun(string(r.kind), string(outcome.Status))
	}()

	r.logger.Debug("Job started")
	err = r.body(ctx)

	var stageErr *stage.InvalidStageError
	switch {
	case err == nil:
		r.logger.Debug("Job finished")
		return Outcome{Status: StatusSuccess}, nil

	case errors.As(err, &stageErr):
		r.logger.Info("Job not applicable in current stage", zap.Error(err))
		return Outcome{Status: StatusFailed, Message: err.Error()}, nil

	case errors.Is(err, context.Canceled):
		r.logger.Warn("Job cancelled")
		return Outcome{Status: StatusAborted, Message: err.Error()}, nil
	}

	r.logger.Error("Job failed", zap.Error(err))
	return Outcome{Status: StatusFailed, Message: err.Error()}, err
}
