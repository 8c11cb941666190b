package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/protofold/internal/adapters/gpu"
	"github.com/okian/protofold/internal/adapters/scratch"
	"github.com/okian/protofold/internal/domain/inference"
	"github.com/okian/protofold/internal/domain/model"
	"github.com/okian/protofold/internal/domain/msa"
	"github.com/okian/protofold/internal/domain/ranking"
	"github.com/okian/protofold/internal/domain/search"
	"github.com/okian/protofold/pkg/logger"
	"github.com/okian/protofold/pkg/metrics"
)

// Searcher is the homology search contract the orchestrator drives. The
// spill writer is the job's scratch workspace, so intermediates are
// removed with it whichever way the job ends.
type Searcher interface {
	Search(ctx context.Context, query model.Query, maxHits int, sensitivity model.Sensitivity, spill search.SpillWriter) ([]model.SearchHit, error)
}

// Aligner builds the MSA/template bundle from raw hits.
type Aligner interface {
	Build(ctx context.Context, query model.Query, hits []model.SearchHit) (model.MSA, model.TemplateSet, msa.Report, error)
}

// Relaxer minimizes one selected candidate.
type Relaxer interface {
	Relax(ctx context.Context, candidate model.RankedCandidate, maxIterations int) (model.RelaxedStructure, error)
}

// EnsembleFactory builds the per-job ensemble: members admitted against
// the job's own slice of the GPU budget.
type EnsembleFactory func(size int, jobBudget *gpu.Budget) *inference.Ensemble

// StageBudgets are the per-stage wall-clock limits.
type StageBudgets struct {
	Search time.Duration
	Align  time.Duration
	Infer  time.Duration
	Relax  time.Duration
}

// Result is what a finished pipeline run hands back to the caller.
type Result struct {
	Artifacts []model.RelaxedStructure // ordered by rank, empty on Failed
}

// Orchestrator sequences the stages for one job, owns all JobRecord
// mutation, and enforces the retry and partial-failure policies.
type Orchestrator struct {
	searcher Searcher
	aligner  Aligner
	ensemble EnsembleFactory
	relaxer  Relaxer

	budget  *gpu.Budget
	scratch *scratch.Manager
	budgets StageBudgets

	logger logger.Logger
}

// Option applies a configuration option to the Orchestrator.
type Option func(*Orchestrator)

// WithStageBudgets overrides the per-stage wall-clock limits.
func WithStageBudgets(b StageBudgets) Option {
	return func(o *Orchestrator) {
		o.budgets = b
	}
}

// New creates an Orchestrator over the given stage implementations.
func New(searcher Searcher, aligner Aligner, ensemble EnsembleFactory, relaxer Relaxer, budget *gpu.Budget, scratchMgr *scratch.Manager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		searcher: searcher,
		aligner:  aligner,
		ensemble: ensemble,
		relaxer:  relaxer,
		budget:   budget,
		scratch:  scratchMgr,
		budgets: StageBudgets{
			Search: 5 * time.Minute,
			Align:  2 * time.Minute,
			Infer:  30 * time.Minute,
			Relax:  15 * time.Minute,
		},
		logger: logger.Named("orchestrator"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the full pipeline for one job, mutating job as the single
// writer. Cancellation of ctx is honored at stage boundaries only:
// in-flight stage work runs to completion so the index, scratch storage
// and GPU budget are never left inconsistent.
func (o *Orchestrator) Run(ctx context.Context, job *model.JobRecord) Result {
	job.Status = model.StatusRunning

	// Stages run under their own deadline, detached from the job's
	// cancellation, which is only checked between stages.
	work := context.WithoutCancel(ctx)

	ws, err := o.scratch.Acquire(work, job.JobID)
	if err != nil {
		o.fail(job, model.StageSearching, model.FailureResourceExhausted, err)
		return Result{}
	}
	defer ws.Release(work)

	// Searching, with one retry at reduced sensitivity on timeout.
	if o.boundary(ctx, job) {
		return Result{}
	}
	hits, ok := o.runSearch(work, job, ws)
	if !ok {
		return Result{}
	}

	// Aligning.
	if o.boundary(ctx, job) {
		return Result{}
	}
	alignment, templates, ok := o.runAlign(work, job, hits)
	if !ok {
		return Result{}
	}

	// The job occupies its GPU slice for the whole of Inferring and
	// Relaxing; the slice is the submission's declared memory fraction.
	jobBytes := uint64(float64(o.budget.Capacity()) * job.Options.GPUMemoryFraction)
	lease, err := o.budget.Acquire(work, jobBytes)
	if err != nil {
		o.fail(job, model.StageInferring, model.FailureResourceExhausted, err)
		return Result{}
	}
	defer lease.Release()

	// Inferring.
	if o.boundary(ctx, job) {
		return Result{}
	}
	predictions, ok := o.runInfer(work, job, alignment, templates, jobBytes)
	if !ok {
		return Result{}
	}

	// Ranking.
	if o.boundary(ctx, job) {
		return Result{}
	}
	selected, ok := o.runRank(work, job, predictions)
	if !ok {
		return Result{}
	}

	// Relaxing, tolerating per-candidate numerical instability.
	if o.boundary(ctx, job) {
		return Result{}
	}
	artifacts := o.runRelax(work, job, selected)

	o.advance(job, model.StageRelaxing)
	job.Stage = model.StageDone
	if len(artifacts) == len(selected) {
		o.finish(job, model.StatusCompleted)
	} else {
		o.finish(job, model.StatusPartiallyCompleted)
	}
	return Result{Artifacts: artifacts}
}

// runSearch executes the Searching stage, retrying exactly once at
// reduced sensitivity when the wall-clock budget is exceeded.
func (o *Orchestrator) runSearch(ctx context.Context, job *model.JobRecord, ws *scratch.Workspace) ([]model.SearchHit, bool) {
	o.enter(job, model.StageSearching)

	sensitivity := job.Options.Sensitivity
	hits, err := o.timedSearch(ctx, job, sensitivity, ws)
	if err != nil && errors.Is(err, model.ErrSearchTimeout) {
		reduced := sensitivity.Reduced()
		job.RecordRetry(model.StageSearching)
		metrics.RecordStageRetry(string(model.StageSearching))
		o.logger.Warn(ctx, "search timed out, retrying at reduced sensitivity",
			logger.String("job_id", job.JobID),
			logger.String("from", string(sensitivity)),
			logger.String("to", string(reduced)),
		)
		hits, err = o.timedSearch(ctx, job, reduced, ws)
	}
	if err != nil {
		kind := model.FailureSearchTimeout
		if errors.Is(err, model.ErrIndexUnavailable) {
			kind = model.FailureIndexUnavailable
		}
		o.fail(job, model.StageSearching, kind, err)
		return nil, false
	}

	job.HitsFound = len(hits)
	o.advance(job, model.StageSearching)
	return hits, true
}

func (o *Orchestrator) timedSearch(ctx context.Context, job *model.JobRecord, sensitivity model.Sensitivity, ws *scratch.Workspace) ([]model.SearchHit, error) {
	sctx, cancel := context.WithTimeout(ctx, o.budgets.Search)
	defer cancel()
	start := time.Now()
	hits, err := o.searcher.Search(sctx, job.Query, job.Options.MaxHits, sensitivity, ws)
	o.record(job, model.StageSearching, start)
	return hits, err
}

// runAlign executes the Aligning stage.
func (o *Orchestrator) runAlign(ctx context.Context, job *model.JobRecord, hits []model.SearchHit) (model.MSA, model.TemplateSet, bool) {
	o.enter(job, model.StageAligning)
	actx, cancel := context.WithTimeout(ctx, o.budgets.Align)
	defer cancel()

	start := time.Now()
	alignment, templates, report, err := o.aligner.Build(actx, job.Query, hits)
	o.record(job, model.StageAligning, start)
	if err != nil {
		o.fail(job, model.StageAligning, model.FailureInvalidInput, err)
		return model.MSA{}, model.TemplateSet{}, false
	}

	job.HitsDiscarded = report.Discarded()
	job.RowsSelected = report.RowsSelected
	job.LowEvidence = report.LowEvidence
	o.advance(job, model.StageAligning)
	return alignment, templates, true
}

// runInfer executes the Inferring stage within the job's GPU slice.
func (o *Orchestrator) runInfer(ctx context.Context, job *model.JobRecord, alignment model.MSA, templates model.TemplateSet, jobBytes uint64) ([]model.ModelPrediction, bool) {
	o.enter(job, model.StageInferring)
	ictx, cancel := context.WithTimeout(ctx, o.budgets.Infer)
	defer cancel()

	// Members are admitted against the job's own slice, so concurrent
	// members never exceed what the job was granted process-wide.
	jobBudget := gpu.NewBudget(jobBytes, 1.0, gpu.WithQuietMetrics())
	ens := o.ensemble(job.Options.EnsembleSize, jobBudget)

	start := time.Now()
	predictions, memberFailures, err := ens.Run(ictx, alignment, templates)
	o.record(job, model.StageInferring, start)

	for _, mf := range memberFailures {
		job.RecordFailure(model.StageInferring, model.FailureEnsembleMember, mf.MemberID, mf.Cause)
	}
	if err != nil {
		o.fail(job, model.StageInferring, model.FailureEnsembleTotal, err)
		return nil, false
	}

	o.advance(job, model.StageInferring)
	return predictions, true
}

// runRank executes the Ranking stage.
func (o *Orchestrator) runRank(ctx context.Context, job *model.JobRecord, predictions []model.ModelPrediction) ([]model.RankedCandidate, bool) {
	o.enter(job, model.StageRanking)

	start := time.Now()
	ranked := ranking.Rank(predictions)
	selected, err := ranking.Select(ranked, job.Options.TopK)
	o.record(job, model.StageRanking, start)
	if err != nil {
		o.fail(job, model.StageRanking, model.FailureInvalidInput, err)
		return nil, false
	}

	o.advance(job, model.StageRanking)
	return selected, true
}

// runRelax relaxes every selected candidate, absorbing per-candidate
// numerical instability. Failed candidates are recorded and excluded from
// the artifacts; remaining candidates still relax.
func (o *Orchestrator) runRelax(ctx context.Context, job *model.JobRecord, selected []model.RankedCandidate) []model.RelaxedStructure {
	o.enter(job, model.StageRelaxing)
	rctx, cancel := context.WithTimeout(ctx, o.budgets.Relax)
	defer cancel()

	start := time.Now()
	var artifacts []model.RelaxedStructure
	for _, cand := range selected {
		relaxed, err := o.relaxer.Relax(rctx, cand, job.Options.RelaxMaxIterations)
		if err != nil {
			job.RecordFailure(model.StageRelaxing, model.FailureNumericalInstability,
				cand.Prediction.MemberID, err.Error())
			o.logger.Warn(rctx, "candidate relaxation failed",
				logger.String("job_id", job.JobID),
				logger.String("candidate", cand.Prediction.MemberID),
				logger.Error(err),
			)
			continue
		}
		artifacts = append(artifacts, relaxed)
	}
	o.record(job, model.StageRelaxing, start)
	return artifacts
}

// boundary checks for cancellation between stages. Returns true when the
// job was cancelled and finalized.
func (o *Orchestrator) boundary(ctx context.Context, job *model.JobRecord) bool {
	if ctx.Err() == nil {
		return false
	}
	job.RecordFailure(job.Stage, model.FailureCancelled, "", model.ErrCancelled.Error())
	job.ErrorKind = model.FailureCancelled
	job.ErrorCause = model.ErrCancelled.Error()
	o.finish(job, model.StatusCancelled)
	return true
}

// enter moves the job into a stage through the transition function.
func (o *Orchestrator) enter(job *model.JobRecord, stage model.Stage) {
	job.Stage = stage
}

// advance validates the forward transition out of a completed stage.
func (o *Orchestrator) advance(job *model.JobRecord, from model.Stage) {
	next, err := Next(from, OutcomeAdvance)
	if err != nil {
		// Transition table bug, not a job condition.
		panic(fmt.Sprintf("pipeline: %v", err))
	}
	job.Stage = next
}

// record appends a stage timing entry and the stage duration metric.
func (o *Orchestrator) record(job *model.JobRecord, stage model.Stage, start time.Time) {
	elapsed := time.Since(start)
	job.Timings = append(job.Timings, model.StageTiming{
		Stage:    stage,
		Started:  start,
		Duration: elapsed,
	})
	metrics.RecordStageDuration(string(stage), elapsed.Seconds())
}

// fail finalizes the job as Failed with the failing stage and error kind.
// Failed jobs publish no artifacts.
func (o *Orchestrator) fail(job *model.JobRecord, stage model.Stage, kind model.FailureKind, err error) {
	job.FailingStage = stage
	job.ErrorKind = kind
	job.ErrorCause = err.Error()
	job.RecordFailure(stage, kind, "", err.Error())
	o.finish(job, model.StatusFailed)
	o.logger.Error(context.Background(), "job failed",
		logger.String("job_id", job.JobID),
		logger.String("stage", string(stage)),
		logger.String("kind", string(kind)),
		logger.Error(err),
	)
}

// finish stamps the terminal status.
func (o *Orchestrator) finish(job *model.JobRecord, status model.Status) {
	job.Status = status
	job.FinishedAt = time.Now()
	metrics.RecordJobTerminal(string(status))
}
