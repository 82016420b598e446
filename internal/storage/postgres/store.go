// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/discoverly/edgeschema/internal/schema"
)

// StoreConfig controls the Postgres connection pool.
type StoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store implements schema.JobStore and schema.DomainStore over Postgres.
type Store struct {
	pool dbConn
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for testing).
func NewStoreWithPool(pool dbConn) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const jobColumns = `id, domain_id, url, html_content, status, generated_schema, error_text, processing_ms, retry_count, created_at, updated_at`

// CreateJob inserts a new analysis job row.
func (s *Store) CreateJob(ctx context.Context, job schema.AnalysisJob) error {
	schemaJSON, err := marshalSchema(job.GeneratedSchema)
	if err != nil {
		return err
	}
	query := `
INSERT INTO analysis_jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`
	_, err = s.pool.Exec(ctx, query,
		job.ID,
		job.DomainID,
		job.URL,
		job.HTMLContent,
		string(job.Status),
		schemaJSON,
		job.ErrorText,
		job.ProcessingMs,
		job.RetryCount,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob fetches a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (schema.AnalysisJob, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE id = $1`
	job, err := scanJob(s.pool.QueryRow(ctx, query, jobID))
	if errors.Is(err, pgx.ErrNoRows) {
		return schema.AnalysisJob{}, schema.ErrJobNotFound
	}
	if err != nil {
		return schema.AnalysisJob{}, fmt.Errorf("select job: %w", err)
	}
	return job, nil
}

// UpdateJob replaces the mutable columns of an existing job row.
func (s *Store) UpdateJob(ctx context.Context, job schema.AnalysisJob) error {
	schemaJSON, err := marshalSchema(job.GeneratedSchema)
	if err != nil {
		return err
	}
	query := `
UPDATE analysis_jobs
SET status = $2,
    generated_schema = $3,
    error_text = $4,
    processing_ms = $5,
    retry_count = $6,
    updated_at = $7
WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query,
		job.ID,
		string(job.Status),
		schemaJSON,
		job.ErrorText,
		job.ProcessingMs,
		job.RetryCount,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return schema.ErrJobNotFound
	}
	return nil
}

// JobsByDomain returns all jobs belonging to a domain.
func (s *Store) JobsByDomain(ctx context.Context, domainID int64) ([]schema.AnalysisJob, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE domain_id = $1`
	return s.queryJobs(ctx, query, domainID)
}

// RecentJobs returns up to limit jobs for a domain, newest first.
func (s *Store) RecentJobs(ctx context.Context, domainID int64, limit int) ([]schema.AnalysisJob, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE domain_id = $1 ORDER BY created_at DESC LIMIT $2`
	return s.queryJobs(ctx, query, domainID, limit)
}

// RetryableJobs returns failed jobs still under the retry cap, oldest first.
func (s *Store) RetryableJobs(ctx context.Context, maxRetries int) ([]schema.AnalysisJob, error) {
	query := `SELECT ` + jobColumns + ` FROM analysis_jobs WHERE status = 'failed' AND retry_count < $1 ORDER BY updated_at ASC`
	return s.queryJobs(ctx, query, maxRetries)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]schema.AnalysisJob, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select jobs: %w", err)
	}
	defer rows.Close()
	var out []schema.AnalysisJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return out, nil
}

// GetDomain fetches a domain by ID.
func (s *Store) GetDomain(ctx context.Context, id int64) (schema.Domain, error) {
	query := `SELECT id, name, pages_analyzed, last_analyzed, created_at FROM domains WHERE id = $1`
	return s.scanDomain(s.pool.QueryRow(ctx, query, id))
}

// GetByHostname fetches a domain by its registered hostname.
func (s *Store) GetByHostname(ctx context.Context, name string) (schema.Domain, error) {
	query := `SELECT id, name, pages_analyzed, last_analyzed, created_at FROM domains WHERE name = lower($1)`
	return s.scanDomain(s.pool.QueryRow(ctx, query, name))
}

// CreateDomain registers a domain and returns the row with its assigned ID.
func (s *Store) CreateDomain(ctx context.Context, domain schema.Domain) (schema.Domain, error) {
	query := `
INSERT INTO domains (name, pages_analyzed, created_at)
VALUES (lower($1), $2, $3)
ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
RETURNING id, name, pages_analyzed, last_analyzed, created_at`
	return s.scanDomain(s.pool.QueryRow(ctx, query, domain.Name, domain.PagesAnalyzed, domain.CreatedAt))
}

// MarkAnalyzed increments the analyzed-page counter and stamps LastAnalyzed.
func (s *Store) MarkAnalyzed(ctx context.Context, id int64, at time.Time) error {
	query := `UPDATE domains SET pages_analyzed = pages_analyzed + 1, last_analyzed = $2 WHERE id = $1`
	tag, err := s.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("update domain: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return schema.ErrDomainNotFound
	}
	return nil
}

func (s *Store) scanDomain(row pgx.Row) (schema.Domain, error) {
	var d schema.Domain
	err := row.Scan(&d.ID, &d.Name, &d.PagesAnalyzed, &d.LastAnalyzed, &d.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return schema.Domain{}, schema.ErrDomainNotFound
	}
	if err != nil {
		return schema.Domain{}, fmt.Errorf("select domain: %w", err)
	}
	return d, nil
}

func scanJob(row pgx.Row) (schema.AnalysisJob, error) {
	var (
		job        schema.AnalysisJob
		status     string
		schemaJSON []byte
	)
	err := row.Scan(
		&job.ID,
		&job.DomainID,
		&job.URL,
		&job.HTMLContent,
		&status,
		&schemaJSON,
		&job.ErrorText,
		&job.ProcessingMs,
		&job.RetryCount,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return schema.AnalysisJob{}, err
	}
	job.Status = schema.JobStatus(status)
	if len(schemaJSON) > 0 {
		if err := json.Unmarshal(schemaJSON, &job.GeneratedSchema); err != nil {
			return schema.AnalysisJob{}, fmt.Errorf("decode generated schema: %w", err)
		}
	}
	return job, nil
}

func marshalSchema(doc schema.JSONLD) ([]byte, error) {
	if doc == nil {
		return nil, nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode generated schema: %w", err)
	}
	return data, nil
}
