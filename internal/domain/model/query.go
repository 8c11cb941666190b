// Package model contains domain models passed between pipeline stages.
package model

import (
	"fmt"
	"strings"
)

// residueAlphabet is the set of accepted residue symbols: the twenty
// standard amino acids plus X for unknown residues.
const residueAlphabet = "ACDEFGHIKLMNPQRSTVWYX"

// Query is a single amino-acid sequence submitted for structure
// prediction. Immutable once accepted by the orchestrator.
type Query struct {
	ID       string // stable identifier, unique per job
	Sequence string // residue symbols, uppercase, no gaps
}

// Len returns the number of residues in the query.
func (q Query) Len() int {
	return len(q.Sequence)
}

// Validate checks the query against the residue alphabet.
// Spaces and lowercase symbols are rejected rather than normalized.
func (q Query) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("%w: query id must not be empty", ErrInvalidInput)
	}
	if q.Sequence == "" {
		return fmt.Errorf("%w: query sequence must not be empty", ErrInvalidInput)
	}
	for i, r := range q.Sequence {
		if !strings.ContainsRune(residueAlphabet, r) {
			return fmt.Errorf("%w: invalid residue %q at position %d", ErrInvalidInput, r, i)
		}
	}
	return nil
}

// Sensitivity selects the speed/recall trade-off of the homology search.
// Levels are discrete, not continuous.
type Sensitivity string

// Recognized sensitivity levels.
const (
	SensitivityFast     Sensitivity = "fast"
	SensitivityBalanced Sensitivity = "balanced"
	SensitivityThorough Sensitivity = "thorough"
)

// Valid reports whether s is a recognized sensitivity level.
func (s Sensitivity) Valid() bool {
	switch s {
	case SensitivityFast, SensitivityBalanced, SensitivityThorough:
		return true
	}
	return false
}

// Reduced returns the next-faster sensitivity level, used when a timed-out
// search is retried. Fast has no faster level and maps to itself.
func (s Sensitivity) Reduced() Sensitivity {
	switch s {
	case SensitivityThorough:
		return SensitivityBalanced
	case SensitivityBalanced:
		return SensitivityFast
	default:
		return SensitivityFast
	}
}

// Options is the per-job configuration bundle accepted at submission.
type Options struct {
	MaxHits            int         `json:"max_hits"`
	Sensitivity        Sensitivity `json:"sensitivity"`
	EnsembleSize       int         `json:"ensemble_size"`
	TopK               int         `json:"top_k"`
	RelaxMaxIterations int         `json:"relax_max_iterations"`
	GPUMemoryFraction  float64     `json:"gpu_memory_fraction"`
}

// maxEnsembleSize caps the number of ensemble members per job.
const maxEnsembleSize = 8

// Validate rejects malformed option bundles before any stage starts.
func (o Options) Validate() error {
	if o.MaxHits <= 0 {
		return fmt.Errorf("%w: max_hits must be > 0, got %d", ErrInvalidInput, o.MaxHits)
	}
	if !o.Sensitivity.Valid() {
		return fmt.Errorf("%w: unknown sensitivity %q", ErrInvalidInput, o.Sensitivity)
	}
	if o.EnsembleSize <= 0 {
		return fmt.Errorf("%w: ensemble_size must be > 0, got %d", ErrInvalidInput, o.EnsembleSize)
	}
	if o.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be > 0, got %d", ErrInvalidInput, o.TopK)
	}
	if o.RelaxMaxIterations <= 0 {
		return fmt.Errorf("%w: relax_max_iterations must be > 0, got %d", ErrInvalidInput, o.RelaxMaxIterations)
	}
	if o.GPUMemoryFraction <= 0 || o.GPUMemoryFraction > 1 {
		return fmt.Errorf("%w: gpu_memory_fraction must be in (0,1], got %v", ErrInvalidInput, o.GPUMemoryFraction)
	}
	return nil
}

// Clamped returns a copy with the ensemble size capped at the supported
// maximum. Oversized requests are clamped, not rejected.
func (o Options) Clamped() Options {
	if o.EnsembleSize > maxEnsembleSize {
		o.EnsembleSize = maxEnsembleSize
	}
	return o
}
