// Package worker defines the workers that drain the submission queue and
// drive jobs through the folding pipeline.
package worker

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/okian/protofold/internal/domain/model"
	"github.com/okian/protofold/internal/pipeline"
	"github.com/okian/protofold/pkg/logger"
	"github.com/okian/protofold/pkg/metrics"
)

// Default worker configuration constants.
const (
	workerShutdownTimeout = 5 * time.Second
	poolShutdownTimeout   = 30 * time.Second
)

// Submission abstracts what workers read off the queue.
// Using the model.Submission type for consistency.
type Submission = model.Submission

// Runner drives one job through the pipeline stages. The record is mutated
// in place and carries the terminal status when Run returns.
type Runner interface {
	Run(ctx context.Context, record *model.JobRecord) pipeline.Result
}

// Publisher persists the record and artifacts after a run.
type Publisher interface {
	Put(ctx context.Context, record model.JobRecord) error
	SetArtifacts(ctx context.Context, jobID string, artifacts []model.RelaxedStructure) error
}

// Queue defines how workers receive submissions.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Submission
}

// Worker processes submissions end to end.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown gracefully stops the worker.
	// It lets an in-flight job reach its next stage boundary before stopping.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for processing submissions.
type InMemoryWorker struct {
	queue     Queue
	runner    Runner
	publisher Publisher
	name      string

	// jobContext derives the per-job context; the service wires a
	// cancellable one so Cancel(jobID) reaches the running worker.
	jobContext func(parent context.Context, jobID string) (context.Context, context.CancelFunc)

	// Shutdown control
	shutdown     chan struct{}
	shutdownOnce sync.Once
	done         chan struct{}

	// Logging
	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, runner Runner, publisher Publisher, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:      queue,
		runner:     runner,
		publisher:  publisher,
		name:       "worker", // default name
		jobContext: func(parent context.Context, _ string) (context.Context, context.CancelFunc) { return context.WithCancel(parent) },
		shutdown:   make(chan struct{}),
		done:       make(chan struct{}),
		logger:     logger.Get().Named("worker"),
	}

	// Apply all options
	for _, opt := range opts {
		opt(w)
	}

	// Set up logger with worker name if not already set
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer func() {
		close(w.done)
	}()

	subChan := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case sub, ok := <-subChan:
			if !ok {
				// Channel closed, worker should stop
				return
			}

			if err := w.processSubmission(ctx, sub); err != nil {
				w.logger.Error(ctx, "error processing submission",
					logger.String("jobID", sub.JobID),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	// Signal shutdown
	w.signalShutdown()

	// Wait for worker to finish or context to timeout
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processSubmission runs one job through the pipeline and publishes the
// outcome. The worker is the single writer of the record for the whole run.
func (w *InMemoryWorker) processSubmission(ctx context.Context, sub Submission) error {
	metrics.UpdateJobsInFlight(1)
	defer metrics.UpdateJobsInFlight(-1)

	jobCtx, cancel := w.jobContext(ctx, sub.JobID)
	defer cancel()

	result := w.runner.Run(jobCtx, sub.Record)

	// The record carries the terminal state; persist it first so a failed
	// artifact write still leaves the status visible.
	if err := w.publisher.Put(ctx, *sub.Record); err != nil {
		metrics.RecordWorkerError()
		return fmt.Errorf("publishing record for job %s: %w", sub.JobID, err)
	}
	if len(result.Artifacts) > 0 {
		if err := w.publisher.SetArtifacts(ctx, sub.JobID, result.Artifacts); err != nil {
			metrics.RecordWorkerError()
			return fmt.Errorf("publishing artifacts for job %s: %w", sub.JobID, err)
		}
	}

	if sub.Record.Status == model.StatusFailed {
		metrics.RecordWorkerError()
		w.logger.Warn(ctx, "job finished failed",
			logger.String("jobID", sub.JobID),
			logger.String("stage", string(sub.Record.FailingStage)),
			logger.String("kind", string(sub.Record.ErrorKind)),
		)
	}
	return nil
}

func (w *InMemoryWorker) signalShutdown() {
	w.shutdownOnce.Do(func() { close(w.shutdown) })
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker

	// Shutdown control
	closer interface{ Close() error }

	// Logging
	logger logger.Logger
}

// NewPool creates a new worker pool.
func NewPool(workerCount int, queue Queue, runner Runner, publisher Publisher, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = runtime.NumCPU()
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		logger:  logger.Get().Named("worker-pool"),
	}
	if c, ok := queue.(interface{ Close() error }); ok {
		pool.closer = c
	}

	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(queue, runner, publisher, workerOpts...)
	}

	metrics.UpdateWorkerActiveCount(workerCount)

	return pool
}

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, worker := range p.workers {
		go worker.Run(ctx)
	}
}

// Stop gracefully stops all workers.
func (p *Pool) Stop() {
	for _, worker := range p.workers {
		worker.signalShutdown()
	}
	for _, worker := range p.workers {
		select {
		case <-worker.done:
			// Worker finished
		case <-time.After(workerShutdownTimeout):
			// Worker timeout
		}
	}
	metrics.UpdateWorkerActiveCount(0)
}

// Shutdown gracefully shuts down the entire worker pool.
func (p *Pool) Shutdown(ctx context.Context) error {
	// First close the queue so no new submissions are admitted and the
	// dequeue channels drain out.
	if p.closer != nil {
		if err := p.closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	for _, worker := range p.workers {
		worker.signalShutdown()
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, worker := range p.workers {
		select {
		case <-worker.done:
		case <-shutdownCtx.Done():
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
		}
	}

	metrics.UpdateWorkerActiveCount(0)
	return nil
}
