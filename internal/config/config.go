// Package config defines pipeline configuration structures and loading hooks.
//
// Conventions:
// - Defaults come from New; file and environment layers override them.
// - External errors must be wrapped via this package's error helpers.
package config

import "runtime"

// Config contains process configuration for the batch task.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// MetricsAddr configures the optional Prometheus exposition address,
	// e.g. ":9090". Empty disables the endpoint.
	MetricsAddr string `koanf:"metrics_addr"`

	// IndexDir is the filesystem location of the pre-built sequence index.
	IndexDir string `koanf:"index_dir"`

	// ScratchDir is the root under which per-job scratch workspaces live.
	ScratchDir string `koanf:"scratch_dir"`

	// OutputDir receives final artifacts and job records.
	OutputDir string `koanf:"output_dir"`

	// QueueSize bounds the in-memory submission queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of pipeline workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize bounds the duplicate-submission cache.
	DedupeSize int `koanf:"dedupe_size"`

	// GPUDeviceBytes is the total memory of the GPU device; the admitted
	// budget is GPUMemoryFraction of this value.
	GPUDeviceBytes uint64 `koanf:"gpu_device_bytes"`

	// GPUAdmitMaxWaitMS bounds how long a job waits for GPU admission
	// before it fails with resource exhaustion.
	GPUAdmitMaxWaitMS int `koanf:"gpu_admit_max_wait_ms"`

	// Stage wall-clock budgets in milliseconds.
	SearchTimeoutMS int `koanf:"search_timeout_ms"`
	AlignTimeoutMS  int `koanf:"align_timeout_ms"`
	InferTimeoutMS  int `koanf:"infer_timeout_ms"`
	RelaxTimeoutMS  int `koanf:"relax_timeout_ms"`

	// MSA build policy.
	MinCoverage float64 `koanf:"min_coverage"`
	MaxMSARows  int     `koanf:"max_msa_rows"`

	// Per-job defaults, overridable at submission.
	MaxHits            int     `koanf:"max_hits"`
	Sensitivity        string  `koanf:"sensitivity"`
	EnsembleSize       int     `koanf:"ensemble_size"`
	TopK               int     `koanf:"top_k"`
	RelaxMaxIterations int     `koanf:"relax_max_iterations"`
	GPUMemoryFraction  float64 `koanf:"gpu_memory_fraction"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		MetricsAddr:        "",
		IndexDir:           "/data/index",
		ScratchDir:         "/tmp/protofold",
		OutputDir:          "out",
		QueueSize:          1024,
		WorkerCount:        runtime.NumCPU(),
		DedupeSize:         10_000,
		GPUDeviceBytes:     16 << 30,
		GPUAdmitMaxWaitMS:  600_000,
		SearchTimeoutMS:    300_000,
		AlignTimeoutMS:     120_000,
		InferTimeoutMS:     1_800_000,
		RelaxTimeoutMS:     900_000,
		MinCoverage:        0.5,
		MaxMSARows:         256,
		MaxHits:            64,
		Sensitivity:        "balanced",
		EnsembleSize:       5,
		TopK:               1,
		RelaxMaxIterations: 2000,
		GPUMemoryFraction:  0.9,
	}
}
