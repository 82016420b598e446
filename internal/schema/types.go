// Package schema defines core types shared across subsystems.
package schema

import (
	"encoding/json"
	"time"
)

// JobStatus represents the lifecycle state of an analysis job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// MaxRetries is the policy cap on automatic retries per job.
const MaxRetries = 3

// JSONLD is a Schema.org JSON-LD document.
type JSONLD map[string]any

// Valid reports whether the document carries the minimum Schema.org shape:
// a non-empty @context and @type.
func (d JSONLD) Valid() bool {
	ctx, ok := d["@context"].(string)
	if !ok || ctx == "" {
		return false
	}
	typ, ok := d["@type"].(string)
	return ok && typ != ""
}

// Encode serializes the document for cache storage and HTML injection.
func (d JSONLD) Encode() ([]byte, error) {
	return json.Marshal(d)
}

// AnalysisJob represents the metadata persisted for each analysis request.
type AnalysisJob struct {
	ID              string    `json:"id"`
	DomainID        int64     `json:"domain_id"`
	URL             string    `json:"url"`
	HTMLContent     string    `json:"-"`
	Status          JobStatus `json:"status"`
	GeneratedSchema JSONLD    `json:"generated_schema,omitempty"`
	ErrorText       string    `json:"error_text,omitempty"`
	ProcessingMs    int64     `json:"processing_ms"`
	RetryCount      int       `json:"retry_count"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Retryable reports whether the sweeper may schedule this job again.
func (j AnalysisJob) Retryable() bool {
	return j.Status == JobStatusFailed && j.RetryCount < MaxRetries
}

// Domain is the aggregate owning analyzed pages, keyed by hostname.
type Domain struct {
	ID            int64      `json:"id"`
	Name          string     `json:"name"`
	PagesAnalyzed int        `json:"pages_analyzed"`
	LastAnalyzed  *time.Time `json:"last_analyzed,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// AnalysisResult is returned by an Analyzer implementation.
type AnalysisResult struct {
	Schema       JSONLD
	Confidence   float64
	ProcessingMs int64
}

// JobStats aggregates job outcomes for a domain, served by the API.
type JobStats struct {
	Total           int   `json:"total"`
	Pending         int   `json:"pending"`
	Processing      int   `json:"processing"`
	Completed       int   `json:"completed"`
	Failed          int   `json:"failed"`
	AvgProcessingMs int64 `json:"avg_processing_ms"`
}
