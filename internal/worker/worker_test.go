package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/discoverly/edgeschema/internal/cache"
	"github.com/discoverly/edgeschema/internal/id/uuid"
	"github.com/discoverly/edgeschema/internal/pipeline"
	qmemory "github.com/discoverly/edgeschema/internal/queue/memory"
	"github.com/discoverly/edgeschema/internal/schema"
	"github.com/discoverly/edgeschema/internal/storage/memory"
)

type fakeAnalyzer struct {
	err error
}

func (f *fakeAnalyzer) Generate(context.Context, string, string) (schema.AnalysisResult, error) {
	if f.err != nil {
		return schema.AnalysisResult{}, f.err
	}
	return schema.AnalysisResult{
		Schema:     schema.JSONLD{"@context": "https://schema.org", "@type": "WebPage"},
		Confidence: 0.9,
	}, nil
}

func (f *fakeAnalyzer) Configured() bool { return true }

func (f *fakeAnalyzer) Name() string { return "fake" }

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type env struct {
	jobs     *memory.JobStore
	domains  *memory.DomainStore
	queue    *qmemory.Queue
	svc      *pipeline.Service
	analyzer *fakeAnalyzer
	clock    *fakeClock
}

func newEnv(t *testing.T) *env {
	t.Helper()
	jobs := memory.NewJobStore()
	domains := memory.NewDomainStore()
	queue := qmemory.NewQueue(16)
	t.Cleanup(queue.Close)

	_, err := domains.CreateDomain(context.Background(), schema.Domain{Name: "example.com"})
	require.NoError(t, err)

	analyzer := &fakeAnalyzer{}
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	svc := pipeline.New(jobs, domains, cache.NewMemory(), analyzer, queue,
		uuid.NewGenerator(), clock, pipeline.Config{}, nil)
	return &env{jobs: jobs, domains: domains, queue: queue, svc: svc, analyzer: analyzer, clock: clock}
}

func TestWorkerDrainsQueue(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w := New(e.queue, e.svc, nil)
	go w.Run(ctx)

	job, err := e.svc.Submit(ctx, "https://example.com/a", "<html><head></head></html>", 0)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		got, err := e.jobs.GetJob(ctx, job.ID)
		return err == nil && got.Status == schema.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerProcessesInSubmissionOrder(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ids []string
	for _, path := range []string{"/1", "/2", "/3"} {
		job, err := e.svc.Submit(ctx, "https://example.com"+path, "<html><head></head></html>", 0)
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	w := New(e.queue, e.svc, nil)
	go w.Run(ctx)

	require.Eventually(t, func() bool {
		for _, id := range ids {
			got, err := e.jobs.GetJob(ctx, id)
			if err != nil || got.Status != schema.JobStatusCompleted {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())

	w := New(e.queue, e.svc, nil)
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestSweepRetriesFailedJob(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()

	e.analyzer.err = errors.New("provider 500")
	job, err := e.svc.Submit(ctx, "https://example.com/a", "<html><head></head></html>", 0)
	require.NoError(t, err)

	id, err := e.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, e.svc.Process(ctx, id))

	got, err := e.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, schema.JobStatusFailed, got.Status)
	require.Equal(t, 1, got.RetryCount)

	s := NewSweeper(e.jobs, e.queue, e.clock, SweeperConfig{}, nil)

	// First retry waits 2^1 seconds. Before the window the sweep must not touch it.
	require.NoError(t, s.Sweep(ctx))
	require.Equal(t, 0, e.queue.Len())

	e.clock.Advance(3 * time.Second)
	require.NoError(t, s.Sweep(ctx))
	require.Equal(t, 1, e.queue.Len())

	got, err = e.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, schema.JobStatusPending, got.Status)
	require.Empty(t, got.ErrorText)
	require.Equal(t, 1, got.RetryCount, "sweep resets status, not the retry count")
}

func TestSweepStopsAtRetryCap(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()

	e.analyzer.err = errors.New("provider 500")
	job, err := e.svc.Submit(ctx, "https://example.com/a", "<html><head></head></html>", 0)
	require.NoError(t, err)

	s := NewSweeper(e.jobs, e.queue, e.clock, SweeperConfig{}, nil)

	// Drive the job through every permitted attempt.
	for attempt := 1; attempt <= schema.MaxRetries; attempt++ {
		id, err := e.queue.Dequeue(ctx)
		require.NoError(t, err)
		require.NoError(t, e.svc.Process(ctx, id))

		got, err := e.jobs.GetJob(ctx, job.ID)
		require.NoError(t, err)
		require.Equal(t, schema.JobStatusFailed, got.Status)
		require.Equal(t, attempt, got.RetryCount)

		e.clock.Advance(time.Duration(1<<uint(attempt))*time.Second + time.Second)
		require.NoError(t, s.Sweep(ctx))
	}

	// RetryCount is now at the cap; the final sweep must not have re-enqueued.
	require.Equal(t, 0, e.queue.Len())

	got, err := e.jobs.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, schema.JobStatusFailed, got.Status)
	require.Equal(t, schema.MaxRetries, got.RetryCount)

	// Sweeps long after the fact still leave the job terminal.
	e.clock.Advance(time.Hour)
	require.NoError(t, s.Sweep(ctx))
	require.Equal(t, 0, e.queue.Len())
}

type failingQueue struct{}

func (failingQueue) Enqueue(context.Context, string) error {
	return errors.New("queue full")
}

func (failingQueue) Dequeue(context.Context) (string, error) {
	return "", errors.New("queue empty")
}

func TestSweepRevertsJobWhenEnqueueFails(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()

	now := e.clock.Now()
	job := schema.AnalysisJob{
		ID: "j1", DomainID: 1, URL: "https://example.com/a",
		Status: schema.JobStatusFailed, RetryCount: 1, ErrorText: "provider 500",
		CreatedAt: now.Add(-time.Minute), UpdatedAt: now.Add(-time.Minute),
	}
	require.NoError(t, e.jobs.CreateJob(ctx, job))

	s := NewSweeper(e.jobs, failingQueue{}, e.clock, SweeperConfig{}, nil)
	require.NoError(t, s.Sweep(ctx))

	// The job must not be stranded pending with no queue entry.
	got, err := e.jobs.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, schema.JobStatusFailed, got.Status)
	require.Equal(t, "provider 500", got.ErrorText)

	// A later sweep with a working queue picks it up after the backoff.
	e.clock.Advance(3 * time.Second)
	s = NewSweeper(e.jobs, e.queue, e.clock, SweeperConfig{}, nil)
	require.NoError(t, s.Sweep(ctx))
	require.Equal(t, 1, e.queue.Len())

	got, err = e.jobs.GetJob(ctx, "j1")
	require.NoError(t, err)
	require.Equal(t, schema.JobStatusPending, got.Status)
}

func TestSweepHonorsBackoffPerJob(t *testing.T) {
	t.Parallel()

	e := newEnv(t)
	ctx := context.Background()

	now := e.clock.Now()
	fresh := schema.AnalysisJob{
		ID: "fresh", DomainID: 1, URL: "https://example.com/fresh",
		Status: schema.JobStatusFailed, RetryCount: 2,
		CreatedAt: now, UpdatedAt: now,
	}
	stale := schema.AnalysisJob{
		ID: "stale", DomainID: 1, URL: "https://example.com/stale",
		Status: schema.JobStatusFailed, RetryCount: 2,
		CreatedAt: now.Add(-time.Minute), UpdatedAt: now.Add(-time.Minute),
	}
	require.NoError(t, e.jobs.CreateJob(ctx, fresh))
	require.NoError(t, e.jobs.CreateJob(ctx, stale))

	s := NewSweeper(e.jobs, e.queue, e.clock, SweeperConfig{}, nil)
	require.NoError(t, s.Sweep(ctx))

	// Only the stale job is past its 2^2 second backoff window.
	require.Equal(t, 1, e.queue.Len())
	id, err := e.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, "stale", id)

	got, err := e.jobs.GetJob(ctx, "fresh")
	require.NoError(t, err)
	require.Equal(t, schema.JobStatusFailed, got.Status)
}
