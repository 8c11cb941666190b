// Package pipeline drives a job through the prediction stages.
package pipeline

import (
	"fmt"

	"github.com/okian/protofold/internal/domain/model"
)

// Outcome is the result of one stage run, fed to the transition function.
type Outcome string

// Stage outcomes.
const (
	OutcomeAdvance Outcome = "advance" // stage succeeded, move forward
	OutcomeRetry   Outcome = "retry"   // stage re-enters under its retry policy
	OutcomeFatal   Outcome = "fatal"   // stage failed, job fails
	OutcomeCancel  Outcome = "cancel"  // cancellation observed at the boundary
)

// stageOrder is the strict sequential stage progression. No stage may be
// skipped; re-entry happens only through OutcomeRetry.
var stageOrder = []model.Stage{
	model.StageQueued,
	model.StageSearching,
	model.StageAligning,
	model.StageInferring,
	model.StageRanking,
	model.StageRelaxing,
	model.StageDone,
}

// Next is the pure transition function: given the current stage and the
// outcome of its run, it returns the next stage. Keeping it a pure
// function lets tests replay stage sequences deterministically.
func Next(current model.Stage, outcome Outcome) (model.Stage, error) {
	idx := -1
	for i, s := range stageOrder {
		if s == current {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", fmt.Errorf("unknown stage %q", current)
	}

	switch outcome {
	case OutcomeAdvance:
		if idx == len(stageOrder)-1 {
			return current, fmt.Errorf("no stage after %q", current)
		}
		return stageOrder[idx+1], nil
	case OutcomeRetry:
		return current, nil
	case OutcomeFatal, OutcomeCancel:
		return model.StageDone, nil
	default:
		return "", fmt.Errorf("unknown outcome %q", outcome)
	}
}
