package repositories

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narraweave/internal/config"
	"narraweave/internal/models"
)

func TestLockProject_SecondHolderIsRejected(t *testing.T) {
	root := t.TempDir()

	first, err := LockProject(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, config.DirName, projectLockName), first.Path())

	second, err := LockProject(root)
	assert.Nil(t, second)
	assert.ErrorIs(t, err, models.ErrIterationInProgress)

	require.NoError(t, first.Unlock())
	require.NoError(t, first.Unlock())

	third, err := LockProject(root)
	require.NoError(t, err)
	require.NoError(t, third.Unlock())
}

func TestLockProject_ProjectsAreIndependent(t *testing.T) {
	a, err := LockProject(t.TempDir())
	require.NoError(t, err)
	defer a.Unlock()

	b, err := LockProject(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, b.Unlock())
}
