package job

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type scheduled struct {
	runner   *Runner
	interval time.Duration
	trigger  chan struct{}
}

// Scheduler runs registered jobs on fixed intervals until its context ends
type Scheduler struct {
	logger *zap.Logger

	mu   sync.Mutex
	jobs map[Kind]*scheduled
}

// NewScheduler creates an empty scheduler
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		jobs:   make(map[Kind]*scheduled),
	}
}

// Register schedules runner every interval. Registering a kind twice
// replaces the earlier registration.
func (s *Scheduler) Register(runner *Runner, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[runner.Kind()] = &scheduled{
		runner:   runner,
		interval: interval,
		trigger:  make(chan struct{}, 1),
	}
}

// Trigger asks for an immediate execution of kind. It never blocks; a
// trigger already pending absorbs the request.
func (s *Scheduler) Trigger(kind Kind) bool {
	s.mu.Lock()
	job, ok := s.jobs[kind]
	s.mu.Unlock()
	if !ok {
		return false
	}

	select {
	case job.trigger <- struct{}{}:
	default:
	}
	return true
}

// Run starts every registered job and blocks until ctx is done and all
// executions have returned
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	jobs := make([]*scheduled, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, j := range jobs {
		wg.Add(1)
		go func(j *scheduled) {
			defer wg.Done()
			s.loop(ctx, j)
		}(j)
	}
	wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, j *scheduled) {
	logger := s.logger.With(zap.String("job", string(j.runner.Kind())))
	logger.Info("Job scheduled", zap.Duration("interval", j.interval))

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		s.execute(ctx, logger, j.runner)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-j.trigger:
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, logger *zap.Logger, runner *Runner) {
	if ctx.Err() != nil {
		return
	}
	outcome, err := runner.Run(ctx)
	if err != nil {
		logger.Error("Job execution failed fatally", zap.Error(err))
		return
	}
	logger.Debug("Job execution finished",
		zap.String("status", string(outcome.Status)),
		zap.String("message", outcome.Message),
	)
}
