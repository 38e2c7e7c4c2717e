package repositories

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"narraweave/internal/config"
	"narraweave/internal/models"
)

const projectLockName = "iteration.lock"

// ProjectLock is an exclusive advisory lock on a project directory. It is
// held across processes, so two CLI invocations never write the same
// project at once.
type ProjectLock struct {
	fl *flock.Flock
}

// LockProject takes the project lock without waiting. A lock held by anyone
// else yields models.ErrIterationInProgress.
func LockProject(root string) (*ProjectLock, error) {
	dir := filepath.Join(root, config.DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", dir, err)
	}
	fl := flock.New(filepath.Join(dir, projectLockName))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock project %s: %w", root, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", models.ErrIterationInProgress, root)
	}
	return &ProjectLock{fl: fl}, nil
}

func (l *ProjectLock) Path() string { return l.fl.Path() }

// Unlock releases the lock. It is safe to call more than once.
func (l *ProjectLock) Unlock() error {
	if l == nil || l.fl == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock project: %w", err)
	}
	return nil
}
