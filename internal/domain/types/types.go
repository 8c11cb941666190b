// Package types contains common view types used across the application
package types

import "github.com/okian/protofold/internal/domain/model"

// JobResult pairs a finished job record with its ranked artifacts. This is
// the shape returned to callers and serialized next to the structure files.
type JobResult struct {
	Record    model.JobRecord          `json:"record"`
	Artifacts []model.RelaxedStructure `json:"artifacts,omitempty"`
}

// ArtifactSummary is the per-structure line item reported after a run.
type ArtifactSummary struct {
	Rank        int     `json:"rank"`
	CandidateID string  `json:"candidate_id"`
	Global      float64 `json:"global_confidence"`
	Convergence string  `json:"convergence"`
	Iterations  int     `json:"iterations"`
	File        string  `json:"file,omitempty"`
}

// Summarize flattens a result into reportable line items.
func Summarize(r JobResult) []ArtifactSummary {
	out := make([]ArtifactSummary, 0, len(r.Artifacts))
	for _, a := range r.Artifacts {
		out = append(out, ArtifactSummary{
			Rank:        a.Rank,
			CandidateID: a.CandidateID,
			Global:      a.Global,
			Convergence: string(a.Convergence),
			Iterations:  a.Iterations,
		})
	}
	return out
}
