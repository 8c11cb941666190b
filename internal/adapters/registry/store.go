// Package registry defines the job registry: the read side of the result
// retrieval interface. Records are created at submission, updated by the
// worker as the job progresses, and retained until the caller retrieves
// results.
package registry

import (
	"context"

	"github.com/okian/protofold/internal/domain/model"
)

// Store provides access to job records and their artifacts.
type Store interface {
	// Put inserts or replaces the record snapshot for record.JobID.
	Put(ctx context.Context, record model.JobRecord) error

	// Get returns the latest record snapshot.
	// Returns ErrJobNotFound for unknown IDs.
	Get(ctx context.Context, jobID string) (model.JobRecord, error)

	// SetArtifacts stores the ordered artifacts of a finished job.
	SetArtifacts(ctx context.Context, jobID string, artifacts []model.RelaxedStructure) error

	// Artifacts returns the stored artifacts for a job, possibly empty.
	Artifacts(ctx context.Context, jobID string) ([]model.RelaxedStructure, error)

	// List returns snapshots of all known records.
	List(ctx context.Context) []model.JobRecord

	// Count returns the number of known jobs.
	Count(ctx context.Context) int
}
