package inference

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/okian/protofold/internal/adapters/gpu"
	"github.com/okian/protofold/internal/domain/model"
	"github.com/okian/protofold/pkg/logger"
	"github.com/okian/protofold/pkg/metrics"
)

// MemberFailure records one absorbed member failure.
type MemberFailure struct {
	MemberID string
	Cause    string
}

// Ensemble executes a set of members against one MSA/template bundle.
type Ensemble struct {
	members []Predictor
	budget  *gpu.Budget
	logger  logger.Logger
}

// NewEnsemble creates an ensemble over the given members, admitted
// against budget. A nil budget disables admission (tests).
func NewEnsemble(members []Predictor, budget *gpu.Budget) *Ensemble {
	return &Ensemble{
		members: members,
		budget:  budget,
		logger:  logger.Named("ensemble"),
	}
}

// Run executes every member independently. Members run concurrently; the
// budget admission serializes them when their combined declared peak does
// not fit, which changes scheduling but never results. Per-member failures
// (including out-of-memory) are absorbed and reported; the ensemble
// succeeds if at least one member succeeds. All members failing is
// model.ErrEnsembleTotalFailure.
func (e *Ensemble) Run(ctx context.Context, m model.MSA, templates model.TemplateSet) ([]model.ModelPrediction, []MemberFailure, error) {
	if len(e.members) == 0 {
		return nil, nil, fmt.Errorf("%w: ensemble has no members", model.ErrInvalidInput)
	}

	var (
		mu          sync.Mutex
		predictions []model.ModelPrediction
		failures    []MemberFailure
		wg          sync.WaitGroup
	)

	for _, member := range e.members {
		wg.Add(1)
		go func(p Predictor) {
			defer wg.Done()

			pred, err := e.runMember(ctx, p, m, templates)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				metrics.RecordMemberFailure()
				failures = append(failures, MemberFailure{
					MemberID: p.MemberID(),
					Cause:    err.Error(),
				})
				e.logger.Warn(ctx, "ensemble member failed",
					logger.String("member", p.MemberID()),
					logger.Error(err),
				)
				return
			}
			predictions = append(predictions, pred)
		}(member)
	}
	wg.Wait()

	// Completion order is nondeterministic; results are not.
	sort.Slice(predictions, func(i, j int) bool {
		return predictions[i].MemberID < predictions[j].MemberID
	})
	sort.Slice(failures, func(i, j int) bool {
		return failures[i].MemberID < failures[j].MemberID
	})

	if len(predictions) == 0 {
		return nil, failures, fmt.Errorf("%w: %d members failed",
			model.ErrEnsembleTotalFailure, len(failures))
	}
	return predictions, failures, nil
}

// runMember admits the member against the budget, runs it, and releases
// the lease on every exit path.
func (e *Ensemble) runMember(ctx context.Context, p Predictor, m model.MSA, templates model.TemplateSet) (model.ModelPrediction, error) {
	if e.budget != nil {
		lease, err := e.budget.Acquire(ctx, p.PeakMemoryBytes(m.Columns(), m.Depth()))
		if err != nil {
			return model.ModelPrediction{}, fmt.Errorf("admitting member %s: %w", p.MemberID(), err)
		}
		defer lease.Release()
	}

	pred, err := p.Predict(ctx, m, templates)
	if err != nil {
		return model.ModelPrediction{}, fmt.Errorf("%w: member %s: %w",
			model.ErrEnsembleMemberFailed, p.MemberID(), err)
	}
	return pred, nil
}
