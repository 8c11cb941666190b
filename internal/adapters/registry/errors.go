package registry

import "errors"

// Sentinel kinds for registry errors.
var (
	ErrJobNotFound = errors.New("job not found")
)
