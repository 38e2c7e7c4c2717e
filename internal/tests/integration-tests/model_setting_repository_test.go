package integration_tests

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narraweave/internal/repositories"
)

func TestModelSettingRepository_MarkUsedIncrements(t *testing.T) {
	repo := repositories.NewModelSettingRepository(openTestDB(t))

	_, err := repo.Upsert("openai|large", "openai", true)
	require.NoError(t, err)

	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	_, err = repo.MarkUsed("openai|large", "openai", first)
	require.NoError(t, err)
	setting, err := repo.MarkUsed("openai|large", "openai", second)
	require.NoError(t, err)

	require.NotNil(t, setting)
	assert.Equal(t, 2, setting.Iterations)
	assert.True(t, setting.Enabled)
	require.NotNil(t, setting.LastUsedAt)
	assert.True(t, second.Equal(*setting.LastUsedAt))
}

func TestModelSettingRepository_MarkUsedCreatesMissingSetting(t *testing.T) {
	repo := repositories.NewModelSettingRepository(openTestDB(t))

	setting, err := repo.MarkUsed("openai|custom", "openai", time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, setting)
	assert.Equal(t, 1, setting.Iterations)
	assert.True(t, setting.Enabled)

	_, err = repo.MarkUsed("", "openai", time.Now())
	assert.Error(t, err)
}
