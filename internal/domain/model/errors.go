package model

import "errors"

// Sentinel kinds for pipeline errors. Stage code wraps these with context;
// callers classify with errors.Is.
var (
	ErrInvalidInput         = errors.New("invalid input")
	ErrIndexUnavailable     = errors.New("sequence index unavailable")
	ErrSearchTimeout        = errors.New("search exceeded wall-clock budget")
	ErrEnsembleMemberFailed = errors.New("ensemble member failed")
	ErrEnsembleTotalFailure = errors.New("all ensemble members failed")
	ErrNumericalInstability = errors.New("numerical instability during relaxation")
	ErrResourceExhausted    = errors.New("gpu memory budget exhausted")
	ErrCancelled            = errors.New("job cancelled")
)
