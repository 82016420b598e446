// Package worker implements the single drain worker and the retry sweeper.
package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/discoverly/edgeschema/internal/pipeline"
	"github.com/discoverly/edgeschema/internal/schema"
)

// Worker consumes queue items and runs the analysis pipeline. Exactly one
// Worker runs per deployment; that global serialization is what keeps job
// mutations free of cross-goroutine races.
type Worker struct {
	queue    schema.Queue
	pipeline *pipeline.Service
	logger   *zap.Logger
}

// New constructs a Worker.
func New(queue schema.Queue, pipe *pipeline.Service, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:    queue,
		pipeline: pipe,
		logger:   logger,
	}
}

// Run blocks, draining the queue until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		jobID, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", jobID))
		if err := w.pipeline.Process(ctx, jobID); err != nil {
			w.logger.Error("process job failed", zap.String("job_id", jobID), zap.Error(err))
		}
	}
}
