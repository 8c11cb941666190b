// Package scratch manages per-job scratch workspaces. Each workspace is
// exclusively owned by the job that acquired it and is removed on release,
// on both success and failure paths.
package scratch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/okian/protofold/pkg/logger"
)

// Manager hands out job-scoped scratch directories under a common root.
type Manager struct {
	root   string
	logger logger.Logger
}

// NewManager creates a scratch manager rooted at dir, creating it if needed.
func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating scratch root: %w", err)
	}
	return &Manager{root: root, logger: logger.Named("scratch")}, nil
}

// Workspace is one job's scratch directory. Release removes it.
type Workspace struct {
	jobID   string
	dir     string
	manager *Manager
}

// Acquire creates a workspace for jobID. Callers must defer Release.
func (m *Manager) Acquire(ctx context.Context, jobID string) (*Workspace, error) {
	dir, err := os.MkdirTemp(m.root, jobID+"-*")
	if err != nil {
		return nil, fmt.Errorf("acquiring scratch for job %s: %w", jobID, err)
	}
	m.logger.Debug(ctx, "scratch acquired",
		logger.String("job_id", jobID),
		logger.String("dir", dir),
	)
	return &Workspace{jobID: jobID, dir: dir, manager: m}, nil
}

// Dir returns the workspace directory path.
func (w *Workspace) Dir() string {
	return w.dir
}

// Path joins elem onto the workspace directory.
func (w *Workspace) Path(elem ...string) string {
	return filepath.Join(append([]string{w.dir}, elem...)...)
}

// WriteSpill writes a named intermediate file into the workspace. Spills
// are debugging aids, not outputs; they vanish with the workspace on
// Release.
func (w *Workspace) WriteSpill(name string, data []byte) error {
	if w.dir == "" {
		return fmt.Errorf("workspace for job %s already released", w.jobID)
	}
	return os.WriteFile(w.Path(name), data, 0o644)
}

// Release removes the workspace and everything in it. Safe to call more
// than once.
func (w *Workspace) Release(ctx context.Context) {
	if w.dir == "" {
		return
	}
	if err := os.RemoveAll(w.dir); err != nil {
		w.manager.logger.Warn(ctx, "scratch release failed",
			logger.String("job_id", w.jobID),
			logger.Error(err),
		)
		return
	}
	w.manager.logger.Debug(ctx, "scratch released", logger.String("job_id", w.jobID))
	w.dir = ""
}
