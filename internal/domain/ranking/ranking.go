// Package ranking orders ensemble outputs and selects candidates for
// relaxation. Both operations are pure functions.
package ranking

import (
	"fmt"
	"sort"

	"github.com/okian/protofold/internal/domain/model"
)

// Rank orders predictions by descending global confidence, ties broken by
// ascending member ID. Ranks are 1-based and form a strict total order, so
// re-running over identical inputs yields identical output.
func Rank(predictions []model.ModelPrediction) []model.RankedCandidate {
	sorted := make([]model.ModelPrediction, len(predictions))
	copy(sorted, predictions)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Global != sorted[j].Global {
			return sorted[i].Global > sorted[j].Global
		}
		return sorted[i].MemberID < sorted[j].MemberID
	})

	ranked := make([]model.RankedCandidate, len(sorted))
	for i, p := range sorted {
		ranked[i] = model.RankedCandidate{
			Prediction: p,
			Rank:       i + 1,
			Score:      p.Global,
		}
	}
	return ranked
}

// Select returns the top-k candidates. k must be positive; fewer than k
// candidates is not an error, the whole list is returned.
func Select(ranked []model.RankedCandidate, k int) ([]model.RankedCandidate, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: top_k must be > 0, got %d", model.ErrInvalidInput, k)
	}
	if k >= len(ranked) {
		return ranked, nil
	}
	return ranked[:k], nil
}
