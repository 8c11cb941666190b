// Package worker defines the workers that drain the submission queue and
// drive jobs through the folding pipeline.
package worker

import (
	"context"

	"github.com/okian/protofold/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithJobContext sets the function used to derive the per-job context.
// The service uses this to register a cancel handle per job ID.
func WithJobContext(fn func(parent context.Context, jobID string) (context.Context, context.CancelFunc)) Option {
	return func(w *InMemoryWorker) {
		if fn != nil {
			w.jobContext = fn
		}
	}
}
