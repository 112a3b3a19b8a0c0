package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Job is one independently scheduled reconciliation pass. Each Run is a
// single-threaded batch over the store; jobs never coordinate with each
// other — safety under overlap comes from every pass being idempotent.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives each job on its own fixed interval until the context is
// cancelled. The first pass of every job runs immediately at start.
type Scheduler struct {
	jobs   []Job
	logger *zap.Logger
}

func NewScheduler(jobs []Job, logger *zap.Logger) *Scheduler {
	return &Scheduler{jobs: jobs, logger: logger}
}

// Start blocks until ctx is cancelled and every in-flight pass has returned.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.runLoop(ctx, job)
		}(job)
	}
	wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, job Job) {
	s.logger.Info("job scheduled",
		zap.String("job", job.Name), zap.Duration("interval", job.Interval))

	s.runOnce(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, job)
		}
	}
}

// runOnce executes one pass. A pass that panics or errors is logged and
// dropped; the next tick is the retry mechanism.
func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", zap.String("job", job.Name), zap.Any("panic", r))
		}
	}()

	start := time.Now()
	if err := job.Run(ctx); err != nil {
		s.logger.Error("job run failed",
			zap.String("job", job.Name), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return
	}
	s.logger.Info("job run complete",
		zap.String("job", job.Name), zap.Duration("elapsed", time.Since(start)))
}
