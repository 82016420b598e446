package schema

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors shared across store implementations.
var (
	ErrJobNotFound    = errors.New("job not found")
	ErrDomainNotFound = errors.New("domain not found")
	ErrNotConfigured  = errors.New("analyzer provider not configured")
	ErrInvalidSchema  = errors.New("invalid Schema.org structure")
)

// JobStore persists analysis jobs.
type JobStore interface {
	CreateJob(ctx context.Context, job AnalysisJob) error
	GetJob(ctx context.Context, jobID string) (AnalysisJob, error)
	UpdateJob(ctx context.Context, job AnalysisJob) error
	JobsByDomain(ctx context.Context, domainID int64) ([]AnalysisJob, error)
	RecentJobs(ctx context.Context, domainID int64, limit int) ([]AnalysisJob, error)
	RetryableJobs(ctx context.Context, maxRetries int) ([]AnalysisJob, error)
}

// DomainStore resolves and updates domain aggregates.
type DomainStore interface {
	GetDomain(ctx context.Context, id int64) (Domain, error)
	GetByHostname(ctx context.Context, name string) (Domain, error)
	CreateDomain(ctx context.Context, domain Domain) (Domain, error)
	MarkAnalyzed(ctx context.Context, id int64, at time.Time) error
}

// MetadataCache is the edge key/value store mapping URLs to JSON-LD payloads.
type MetadataCache interface {
	Get(ctx context.Context, key string) (JSONLD, bool, error)
	Put(ctx context.Context, key string, doc JSONLD) error
}

// Analyzer generates Schema.org JSON-LD from page content.
type Analyzer interface {
	Generate(ctx context.Context, html string, pageURL string) (AnalysisResult, error)
	Configured() bool
	Name() string
}

// Queue provides enqueue/dequeue semantics for job IDs.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) error
	Dequeue(ctx context.Context) (string, error)
}

// Submitter accepts a page for background analysis.
type Submitter interface {
	SubmitPage(ctx context.Context, pageURL string, htmlContent string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
