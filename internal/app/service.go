// Package service wires the pipeline components together and exposes the
// submission, retrieval and cancellation operations.
package service

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/okian/protofold/internal/adapters/gpu"
	"github.com/okian/protofold/internal/adapters/index"
	jobqueue "github.com/okian/protofold/internal/adapters/mq/queue"
	workerpool "github.com/okian/protofold/internal/adapters/mq/worker"
	"github.com/okian/protofold/internal/adapters/registry"
	"github.com/okian/protofold/internal/adapters/scratch"
	"github.com/okian/protofold/internal/domain/dedupe"
	"github.com/okian/protofold/internal/domain/inference"
	"github.com/okian/protofold/internal/domain/model"
	"github.com/okian/protofold/internal/domain/msa"
	"github.com/okian/protofold/internal/domain/relax"
	"github.com/okian/protofold/internal/domain/search"
	"github.com/okian/protofold/internal/domain/types"
	"github.com/okian/protofold/internal/pipeline"
	"github.com/okian/protofold/pkg/logger"
	"github.com/okian/protofold/pkg/metrics"
)

// awaitPollInterval is how often Await re-reads the registry.
const awaitPollInterval = 50 * time.Millisecond

// Service implements the folding pipeline's submission surface.
type Service struct {
	mu sync.RWMutex

	// Core components
	store      registry.Store
	deduper    dedupe.Deduper
	queue      jobqueue.Queue
	budget     *gpu.Budget
	orch       *pipeline.Orchestrator
	workerPool *workerpool.Pool

	// Configuration
	workerCount  int
	queueSize    int
	dedupeSize   int
	indexDir     string
	scratchDir   string
	deviceBytes  uint64
	admitMaxWait time.Duration
	minCoverage  float64
	maxMSARows   int
	stageBudgets *pipeline.StageBudgets

	// Per-job cancellation handles, registered for the duration of a run.
	// Guarded separately: workers touch it while Stop holds s.mu.
	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	// State
	started bool
	ix      *index.Index

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithWorkerCount sets the number of worker goroutines.
func WithWorkerCount(count int) Option {
	return func(s *Service) {
		if count > 0 {
			s.workerCount = count
		}
	}
}

// WithQueueSize sets the maximum size of the submission queue.
func WithQueueSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.queueSize = size
		}
	}
}

// WithDedupeSize sets the size of the deduplication cache.
func WithDedupeSize(size int) Option {
	return func(s *Service) {
		if size > 0 {
			s.dedupeSize = size
		}
	}
}

// WithIndexDir sets the directory holding the sequence index.
func WithIndexDir(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.indexDir = dir
		}
	}
}

// WithScratchDir sets the root for per-job scratch workspaces.
func WithScratchDir(dir string) Option {
	return func(s *Service) {
		if dir != "" {
			s.scratchDir = dir
		}
	}
}

// WithGPUDeviceBytes sets the modeled GPU memory capacity.
func WithGPUDeviceBytes(bytes uint64) Option {
	return func(s *Service) {
		if bytes > 0 {
			s.deviceBytes = bytes
		}
	}
}

// WithAdmitMaxWait bounds how long GPU admission may block.
func WithAdmitMaxWait(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.admitMaxWait = d
		}
	}
}

// WithMSAPolicy sets the alignment coverage cutoff and row cap.
func WithMSAPolicy(minCoverage float64, maxRows int) Option {
	return func(s *Service) {
		if minCoverage > 0 && minCoverage <= 1 {
			s.minCoverage = minCoverage
		}
		if maxRows > 1 {
			s.maxMSARows = maxRows
		}
	}
}

// WithStageBudgets overrides the per-stage wall-clock limits.
func WithStageBudgets(b pipeline.StageBudgets) Option {
	return func(s *Service) {
		s.stageBudgets = &b
	}
}

// WithLogger sets a custom logger for the service.
func WithLogger(logger logger.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		workerCount:  runtime.NumCPU(),
		queueSize:    1024,
		dedupeSize:   50000,
		indexDir:     "index",
		scratchDir:   "scratch",
		deviceBytes:  16 << 30,
		admitMaxWait: 30 * time.Second,
		minCoverage:  0.5,
		maxMSARows:   256,
		cancels:      make(map[string]context.CancelFunc),
	}

	// Apply all options
	for _, opt := range opts {
		opt(s)
	}

	// The registry and deduper exist from construction so Result and
	// Cancel answer ErrJobNotFound instead of depending on Start ordering.
	s.store = registry.NewMemStore()
	s.deduper = dedupe.NewInMemoryDeduper(
		dedupe.WithMaxSize(s.dedupeSize),
	)

	return s
}

// Start opens the index and starts the service components.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}

	s.logger.Info(ctx, "starting folding service...")

	ix, err := index.Open(ctx, s.indexDir)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	s.ix = ix

	scratchMgr, err := scratch.NewManager(s.scratchDir)
	if err != nil {
		return fmt.Errorf("preparing scratch: %w", err)
	}

	s.queue = jobqueue.NewInMemoryQueue(
		jobqueue.WithCapacity(s.queueSize),
	)
	s.budget = gpu.NewBudget(s.deviceBytes, 1.0,
		gpu.WithMaxWait(s.admitMaxWait),
	)

	searcher := search.NewKmerEngine(s.ix)
	aligner := msa.NewBuilder(
		msa.WithMinCoverage(s.minCoverage),
		msa.WithMaxRows(s.maxMSARows),
	)
	relaxer := relax.NewEngine()
	factory := func(size int, jobBudget *gpu.Budget) *inference.Ensemble {
		return inference.NewEnsemble(inference.NewEnsembleMembers(size), jobBudget)
	}

	var orchOpts []pipeline.Option
	if s.stageBudgets != nil {
		orchOpts = append(orchOpts, pipeline.WithStageBudgets(*s.stageBudgets))
	}
	s.orch = pipeline.New(searcher, aligner, factory, relaxer, s.budget, scratchMgr, orchOpts...)

	s.workerPool = workerpool.NewPool(s.workerCount, s.queue, s.orch, s.store,
		workerpool.WithJobContext(s.jobContext),
	)
	s.workerPool.Start(ctx)

	s.started = true
	s.logger.Info(ctx, "folding service started",
		logger.Int("workers", s.workerCount),
		logger.Int("queueSize", s.queueSize),
		logger.Int("indexRecords", s.ix.Len()),
		logger.String("indexVersion", s.ix.Version()),
	)

	return nil
}

// Stop gracefully shuts down the service. In-flight jobs reach their next
// stage boundary before their workers exit.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}

	ctx := context.Background()
	s.logger.Info(ctx, "stopping folding service...")

	if s.workerPool != nil {
		_ = s.workerPool.Shutdown(ctx)
	}

	s.started = false
	s.logger.Info(ctx, "folding service stopped")
}

// Submit validates and enqueues one query. Resubmitting identical content
// returns the original job ID instead of creating a new job. Invalid input
// is rejected before any record is created.
func (s *Service) Submit(ctx context.Context, query model.Query, opts model.Options) (string, error) {
	if err := query.Validate(); err != nil {
		metrics.RecordJobRejected()
		return "", err
	}
	if err := opts.Validate(); err != nil {
		metrics.RecordJobRejected()
		return "", err
	}
	opts = opts.Clamped()

	s.mu.RLock()
	started := s.started
	s.mu.RUnlock()
	if !started {
		metrics.RecordJobRejected()
		return "", fmt.Errorf("%w: service not started", model.ErrResourceExhausted)
	}

	key := dedupe.Key(query, opts)
	jobID := uuid.NewString()
	if existing, dup := s.deduper.RecallOrRecord(ctx, key, jobID); dup {
		metrics.RecordJobDuplicate()
		s.logger.Debug(ctx, "duplicate submission",
			logger.String("jobID", existing),
			logger.String("queryID", query.ID),
		)
		return existing, nil
	}

	record := &model.JobRecord{
		JobID:       jobID,
		Query:       query,
		Options:     opts,
		Stage:       model.StageQueued,
		Status:      model.StatusRunning,
		SubmittedAt: time.Now(),
	}

	// Snapshot the queued record before handing the pointer to a worker;
	// from then on the worker is the single writer.
	if err := s.store.Put(ctx, *record); err != nil {
		s.deduper.Forget(ctx, key)
		return "", fmt.Errorf("registering job %s: %w", jobID, err)
	}

	if !s.queue.Enqueue(ctx, jobqueue.Submission{JobID: jobID, Record: record}) {
		s.deduper.Forget(ctx, key)
		cause := "submission queue full"
		if s.queue.IsClosed() {
			cause = jobqueue.ErrClosed.Error()
		}
		record.Status = model.StatusFailed
		record.ErrorKind = model.FailureResourceExhausted
		record.ErrorCause = cause
		record.FinishedAt = time.Now()
		_ = s.store.Put(ctx, *record)
		metrics.RecordJobRejected()
		return "", fmt.Errorf("%w: %s", model.ErrResourceExhausted, cause)
	}

	metrics.RecordJobSubmitted()
	s.logger.Info(ctx, "job submitted",
		logger.String("jobID", jobID),
		logger.String("queryID", query.ID),
		logger.Int("residues", query.Len()),
	)
	return jobID, nil
}

// Result returns the current record and any artifacts for jobID.
func (s *Service) Result(ctx context.Context, jobID string) (types.JobResult, error) {
	record, err := s.store.Get(ctx, jobID)
	if err != nil {
		return types.JobResult{}, err
	}
	artifacts, err := s.store.Artifacts(ctx, jobID)
	if err != nil {
		return types.JobResult{}, err
	}
	return types.JobResult{Record: record, Artifacts: artifacts}, nil
}

// Await blocks until the job reaches a terminal status or ctx is done.
func (s *Service) Await(ctx context.Context, jobID string) (types.JobResult, error) {
	ticker := time.NewTicker(awaitPollInterval)
	defer ticker.Stop()

	for {
		result, err := s.Result(ctx, jobID)
		if err != nil {
			return types.JobResult{}, err
		}
		if result.Record.Status.Terminal() {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Cancel requests cancellation of a running job. The job stops at its next
// stage boundary; already-terminal jobs are left untouched.
func (s *Service) Cancel(ctx context.Context, jobID string) error {
	if _, err := s.store.Get(ctx, jobID); err != nil {
		return err
	}

	s.cancelMu.Lock()
	cancel, running := s.cancels[jobID]
	s.cancelMu.Unlock()
	if running {
		cancel()
		s.logger.Info(ctx, "job cancellation requested", logger.String("jobID", jobID))
	}
	return nil
}

// List returns snapshots of all known job records.
func (s *Service) List(ctx context.Context) []model.JobRecord {
	return s.store.List(ctx)
}

// Stats returns service statistics for monitoring.
func (s *Service) Stats(ctx context.Context) map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := map[string]interface{}{
		"started":     s.started,
		"workerCount": s.workerCount,
		"queueSize":   s.queueSize,
		"dedupeSize":  s.dedupeSize,
	}
	if s.started {
		stats["queueLength"] = s.queue.Len(ctx)
		stats["totalJobs"] = s.store.Count(ctx)
		stats["indexRecords"] = s.ix.Len()
		stats["gpuInUseBytes"] = s.budget.InUse()
	}
	return stats
}

// jobContext derives a cancellable context for one run and registers the
// cancel handle so Cancel(jobID) can reach it.
func (s *Service) jobContext(parent context.Context, jobID string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	s.cancelMu.Lock()
	s.cancels[jobID] = cancel
	s.cancelMu.Unlock()

	return ctx, func() {
		s.cancelMu.Lock()
		delete(s.cancels, jobID)
		s.cancelMu.Unlock()
		cancel()
	}
}
