package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/discoverly/edgeschema/internal/metrics"
	"github.com/discoverly/edgeschema/internal/schema"
)

// SweeperConfig controls the retry sweep cadence and retry cap.
type SweeperConfig struct {
	Interval   time.Duration
	MaxRetries int
}

// Sweeper periodically re-enqueues failed jobs that are still under the
// retry cap, enforcing per-job exponential backoff.
type Sweeper struct {
	jobs   schema.JobStore
	queue  schema.Queue
	clock  schema.Clock
	cfg    SweeperConfig
	logger *zap.Logger
}

// NewSweeper constructs a Sweeper.
func NewSweeper(jobs schema.JobStore, queue schema.Queue, clock schema.Clock, cfg SweeperConfig, logger *zap.Logger) *Sweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = schema.MaxRetries
	}
	metrics.Init()
	return &Sweeper{
		jobs:   jobs,
		queue:  queue,
		clock:  clock,
		cfg:    cfg,
		logger: logger,
	}
}

// Run blocks, sweeping on a fixed interval until the context finishes.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				s.logger.Error("retry sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one pass: every failed job under the retry cap whose backoff
// window has elapsed is reset to pending and re-enqueued. Jobs at the cap
// never reach this path again; that is the terminal-failure invariant.
func (s *Sweeper) Sweep(ctx context.Context) error {
	jobs, err := s.jobs.RetryableJobs(ctx, s.cfg.MaxRetries)
	if err != nil {
		return err
	}
	now := s.clock.Now()
	for _, job := range jobs {
		delay := backoffDelay(job.RetryCount)
		waited := now.Sub(job.UpdatedAt)
		if waited < delay {
			continue
		}
		lastError := job.ErrorText
		job.Status = schema.JobStatusPending
		job.ErrorText = ""
		job.UpdatedAt = now
		if err := s.jobs.UpdateJob(ctx, job); err != nil {
			s.logger.Error("reset job for retry failed", zap.String("job_id", job.ID), zap.Error(err))
			continue
		}
		if err := s.queue.Enqueue(ctx, job.ID); err != nil {
			s.logger.Error("re-enqueue job failed", zap.String("job_id", job.ID), zap.Error(err))
			// Revert so the next sweep sees the job again; a pending job
			// without a queue entry would never be processed.
			job.Status = schema.JobStatusFailed
			job.ErrorText = lastError
			if uerr := s.jobs.UpdateJob(ctx, job); uerr != nil {
				s.logger.Error("revert job after enqueue failure", zap.String("job_id", job.ID), zap.Error(uerr))
			}
			continue
		}
		metrics.ObserveRetryEnqueue()
		s.logger.Info("job re-enqueued for retry",
			zap.String("job_id", job.ID),
			zap.Int("retry_count", job.RetryCount),
			zap.Duration("waited", waited),
		)
	}
	return nil
}

// backoffDelay returns 2^retryCount seconds.
func backoffDelay(retryCount int) time.Duration {
	return time.Duration(1<<uint(retryCount)) * time.Second
}
