package model

import "time"

// Stage identifies the pipeline stage a job is in.
type Stage string

// Pipeline stages in execution order.
const (
	StageQueued    Stage = "queued"
	StageSearching Stage = "searching"
	StageAligning  Stage = "aligning"
	StageInferring Stage = "inferring"
	StageRanking   Stage = "ranking"
	StageRelaxing  Stage = "relaxing"
	StageDone      Stage = "done"
)

// Status is the terminal status of a job.
type Status string

// Job terminal and in-flight statuses.
const (
	StatusRunning            Status = "running"
	StatusCompleted          Status = "completed"
	StatusPartiallyCompleted Status = "partially_completed"
	StatusFailed             Status = "failed"
	StatusCancelled          Status = "cancelled"
)

// Terminal reports whether the status is a terminal state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartiallyCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// FailureKind classifies recorded failures for reporting.
type FailureKind string

// Failure kinds surfaced in the job record.
const (
	FailureInvalidInput         FailureKind = "invalid_input"
	FailureIndexUnavailable     FailureKind = "index_unavailable"
	FailureSearchTimeout        FailureKind = "search_timeout"
	FailureEnsembleMember       FailureKind = "ensemble_member_failure"
	FailureEnsembleTotal        FailureKind = "ensemble_total_failure"
	FailureNumericalInstability FailureKind = "numerical_instability"
	FailureResourceExhausted    FailureKind = "resource_exhausted"
	FailureCancelled            FailureKind = "cancelled"
)

// FailureRecord captures one absorbed or fatal failure. Absorbed failures
// (per-member, per-candidate) stay metadata; fatal ones set the job status.
type FailureRecord struct {
	Stage   Stage       `json:"stage"`
	Kind    FailureKind `json:"kind"`
	Subject string      `json:"subject,omitempty"` // member or candidate ID
	Cause   string      `json:"cause"`
}

// StageTiming records wall-clock duration of one completed stage run.
type StageTiming struct {
	Stage    Stage         `json:"stage"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
}

// JobRecord is the process-wide state for one pipeline run. Created at
// submission, mutated only by the orchestrator, retained until the caller
// retrieves results.
type JobRecord struct {
	JobID   string  `json:"job_id"`
	Query   Query   `json:"query"`
	Options Options `json:"options"`

	Stage    Stage           `json:"stage"`
	Status   Status          `json:"status"`
	Timings  []StageTiming   `json:"timings"`
	Failures []FailureRecord `json:"failures,omitempty"`

	// Retries counts re-entries per stage under the defined retry policy.
	Retries map[Stage]int `json:"retries,omitempty"`

	// LowEvidence is set when the MSA contains only the query row, so
	// downstream confidence must be interpreted accordingly.
	LowEvidence bool `json:"low_evidence"`

	// Search and alignment accounting. Nothing is dropped without a trace.
	HitsFound     int `json:"hits_found"`
	HitsDiscarded int `json:"hits_discarded"`
	RowsSelected  int `json:"rows_selected"`

	FailingStage Stage       `json:"failing_stage,omitempty"`
	ErrorKind    FailureKind `json:"error_kind,omitempty"`
	ErrorCause   string      `json:"error_cause,omitempty"`

	SubmittedAt time.Time `json:"submitted_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

// RecordFailure appends an absorbed failure without changing the status.
func (j *JobRecord) RecordFailure(stage Stage, kind FailureKind, subject, cause string) {
	j.Failures = append(j.Failures, FailureRecord{
		Stage:   stage,
		Kind:    kind,
		Subject: subject,
		Cause:   cause,
	})
}

// RecordRetry increments the retry counter for a stage.
func (j *JobRecord) RecordRetry(stage Stage) {
	if j.Retries == nil {
		j.Retries = make(map[Stage]int)
	}
	j.Retries[stage]++
}

// Submission is the unit flowing through the job queue. The record is
// exclusively owned by this job; the worker that dequeues it becomes the
// single writer for the run.
type Submission struct {
	JobID  string
	Record *JobRecord
}

// FailuresOfKind returns the recorded failures matching kind.
func (j *JobRecord) FailuresOfKind(kind FailureKind) []FailureRecord {
	var out []FailureRecord
	for _, f := range j.Failures {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}
