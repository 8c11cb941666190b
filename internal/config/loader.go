package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if PROTOFOLD_CONFIG is set
//  3. env (prefix PROTOFOLD_)
func Load(ctx context.Context) (*Config, error) {
	base := New()

	k := koanf.New(".")

	if path := os.Getenv("PROTOFOLD_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
		}
	}

	// Environment variables: PROTOFOLD_INDEX_DIR, PROTOFOLD_MAX_HITS, ...
	// Keys keep their underscores to match the koanf tags on the struct.
	envProvider := env.Provider("PROTOFOLD_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "protofold_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate rejects configurations that cannot start the task at all.
// Per-job options are validated again at submission.
func (c *Config) validate() error {
	if c.IndexDir == "" {
		return fmt.Errorf("%w: index_dir must not be empty", ErrInvalidConfig)
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("%w: worker_count must be > 0", ErrInvalidConfig)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("%w: queue_size must be > 0", ErrInvalidConfig)
	}
	if c.GPUMemoryFraction <= 0 || c.GPUMemoryFraction > 1 {
		return fmt.Errorf("%w: gpu_memory_fraction must be in (0,1]", ErrInvalidConfig)
	}
	return nil
}
