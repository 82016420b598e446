// Package pipeline implements the analysis job state machine: submission,
// processing, and the side effects of a completed analysis.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/discoverly/edgeschema/internal/metrics"
	"github.com/discoverly/edgeschema/internal/schema"
)

// Config controls Service behavior.
type Config struct {
	AnalyzerTimeout time.Duration
}

// Service owns every mutation of analysis jobs. Process is only ever invoked
// from the single drain worker; Submit may be called concurrently.
type Service struct {
	jobs     schema.JobStore
	domains  schema.DomainStore
	cache    schema.MetadataCache
	analyzer schema.Analyzer
	queue    schema.Queue
	idGen    schema.IDGenerator
	clock    schema.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Service.
func New(
	jobs schema.JobStore,
	domains schema.DomainStore,
	cache schema.MetadataCache,
	analyzer schema.Analyzer,
	queue schema.Queue,
	idGen schema.IDGenerator,
	clock schema.Clock,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.AnalyzerTimeout <= 0 {
		cfg.AnalyzerTimeout = 45 * time.Second
	}
	metrics.Init()
	return &Service{
		jobs:     jobs,
		domains:  domains,
		cache:    cache,
		analyzer: analyzer,
		queue:    queue,
		idGen:    idGen,
		clock:    clock,
		cfg:      cfg,
		logger:   logger,
	}
}

// Submit persists a new pending job and enqueues it for processing. When
// domainID is zero the URL's hostname must resolve to a registered domain;
// otherwise no job is created.
func (s *Service) Submit(ctx context.Context, pageURL string, htmlContent string, domainID int64) (schema.AnalysisJob, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || parsed.Host == "" {
		return schema.AnalysisJob{}, fmt.Errorf("invalid url %q", pageURL)
	}

	if domainID == 0 {
		domain, err := s.domains.GetByHostname(ctx, parsed.Hostname())
		if err != nil {
			return schema.AnalysisJob{}, fmt.Errorf("resolve domain for %s: %w", parsed.Hostname(), err)
		}
		domainID = domain.ID
	}

	id, err := s.idGen.NewID()
	if err != nil {
		return schema.AnalysisJob{}, fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := schema.AnalysisJob{
		ID:          id,
		DomainID:    domainID,
		URL:         pageURL,
		HTMLContent: htmlContent,
		Status:      schema.JobStatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return schema.AnalysisJob{}, fmt.Errorf("create job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		// The row exists but was never dispatched. Record the failure so the
		// retry sweep re-enqueues it; a pending job without a queue entry
		// would be stranded forever.
		job.Status = schema.JobStatusFailed
		job.ErrorText = fmt.Sprintf("enqueue: %v", err)
		job.UpdatedAt = s.clock.Now()
		if uerr := s.jobs.UpdateJob(ctx, job); uerr != nil {
			s.logger.Error("record enqueue failure",
				zap.String("job_id", job.ID),
				zap.Error(uerr),
			)
			return schema.AnalysisJob{}, fmt.Errorf("enqueue job: %w", err)
		}
		metrics.ObserveJob(string(schema.JobStatusFailed))
		s.logger.Warn("job enqueue failed, left for retry sweep",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return job, nil
	}
	s.logger.Info("job submitted",
		zap.String("job_id", job.ID),
		zap.String("url", pageURL),
		zap.Int64("domain_id", domainID),
	)
	return job, nil
}

// SubmitPage implements schema.Submitter for the in-process deployment.
func (s *Service) SubmitPage(ctx context.Context, pageURL string, htmlContent string) error {
	_, err := s.Submit(ctx, pageURL, htmlContent, 0)
	return err
}

// Process runs one job to a terminal state. A job that is not pending is a
// no-op, which makes double dispatch from the sweeper and direct enqueue
// safe. Analyzer failures are recorded on the job record and never returned;
// the error return only reports store I/O problems.
func (s *Service) Process(ctx context.Context, jobID string) error {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	if job.Status != schema.JobStatusPending {
		s.logger.Debug("skipping non-pending job",
			zap.String("job_id", jobID),
			zap.String("status", string(job.Status)),
		)
		return nil
	}

	job.Status = schema.JobStatusProcessing
	job.UpdatedAt = s.clock.Now()
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}

	start := s.clock.Now()

	if !s.analyzer.Configured() {
		return s.fail(ctx, job, start, fmt.Errorf("%w: %s", schema.ErrNotConfigured, s.analyzer.Name()))
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.AnalyzerTimeout)
	defer cancel()

	callStart := time.Now()
	result, err := s.analyzer.Generate(callCtx, job.HTMLContent, job.URL)
	metrics.ObserveAnalyzer(s.analyzer.Name(), time.Since(callStart))
	if err != nil {
		return s.fail(ctx, job, start, err)
	}

	job.Status = schema.JobStatusCompleted
	job.GeneratedSchema = result.Schema
	job.ErrorText = ""
	job.ProcessingMs = s.clock.Now().Sub(start).Milliseconds()
	job.UpdatedAt = s.clock.Now()
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	metrics.ObserveJob(string(schema.JobStatusCompleted))

	if err := s.domains.MarkAnalyzed(ctx, job.DomainID, s.clock.Now()); err != nil {
		s.logger.Error("update domain stats failed",
			zap.String("job_id", job.ID),
			zap.Int64("domain_id", job.DomainID),
			zap.Error(err),
		)
	}

	// Cache population is best-effort: a later edge miss resubmits the page.
	if err := s.cache.Put(ctx, job.URL, result.Schema); err != nil {
		s.logger.Warn("cache population failed",
			zap.String("job_id", job.ID),
			zap.String("url", job.URL),
			zap.Error(err),
		)
	}

	s.logger.Info("job completed",
		zap.String("job_id", job.ID),
		zap.String("url", job.URL),
		zap.Int64("processing_ms", job.ProcessingMs),
		zap.Float64("confidence", result.Confidence),
	)
	return nil
}

func (s *Service) fail(ctx context.Context, job schema.AnalysisJob, start time.Time, cause error) error {
	job.Status = schema.JobStatusFailed
	job.RetryCount++
	job.ErrorText = cause.Error()
	job.GeneratedSchema = nil
	job.ProcessingMs = s.clock.Now().Sub(start).Milliseconds()
	job.UpdatedAt = s.clock.Now()
	if err := s.jobs.UpdateJob(ctx, job); err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	metrics.ObserveJob(string(schema.JobStatusFailed))
	s.logger.Warn("job failed",
		zap.String("job_id", job.ID),
		zap.String("url", job.URL),
		zap.Int("retry_count", job.RetryCount),
		zap.Error(cause),
	)
	return nil
}

// Stats aggregates job outcomes for a domain.
func (s *Service) Stats(ctx context.Context, domainID int64) (schema.JobStats, error) {
	jobs, err := s.jobs.JobsByDomain(ctx, domainID)
	if err != nil {
		return schema.JobStats{}, fmt.Errorf("list jobs: %w", err)
	}
	var stats schema.JobStats
	var totalMs int64
	stats.Total = len(jobs)
	for _, job := range jobs {
		switch job.Status {
		case schema.JobStatusPending:
			stats.Pending++
		case schema.JobStatusProcessing:
			stats.Processing++
		case schema.JobStatusCompleted:
			stats.Completed++
			totalMs += job.ProcessingMs
		case schema.JobStatusFailed:
			stats.Failed++
		}
	}
	if stats.Completed > 0 {
		stats.AvgProcessingMs = totalMs / int64(stats.Completed)
	}
	return stats, nil
}
