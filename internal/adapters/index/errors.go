package index

import "errors"

// Sentinel kinds for index errors.
var (
	// ErrVersionMismatch means the on-disk index was built for a different
	// engine version. This is fatal at startup, not per job.
	ErrVersionMismatch = errors.New("index version mismatch")
)
