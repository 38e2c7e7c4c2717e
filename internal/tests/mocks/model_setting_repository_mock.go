package mocks

import (
	"time"

	"narraweave/internal/models"
)

// ModelSettingRepositoryMock keeps settings in memory unless a func
// overrides the call.
type ModelSettingRepositoryMock struct {
	ListFunc               func() ([]models.ModelSetting, error)
	SetProviderEnabledFunc func(provider string, enabled bool) error
	Settings               map[string]models.ModelSetting
}

func (m *ModelSettingRepositoryMock) store() map[string]models.ModelSetting {
	if m.Settings == nil {
		m.Settings = make(map[string]models.ModelSetting)
	}
	return m.Settings
}

func (m *ModelSettingRepositoryMock) List() ([]models.ModelSetting, error) {
	if m.ListFunc != nil {
		return m.ListFunc()
	}
	out := make([]models.ModelSetting, 0, len(m.Settings))
	for _, s := range m.Settings {
		out = append(out, s)
	}
	return out, nil
}

func (m *ModelSettingRepositoryMock) ListByProvider(provider string) ([]models.ModelSetting, error) {
	var out []models.ModelSetting
	for _, s := range m.Settings {
		if s.Provider == provider {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *ModelSettingRepositoryMock) GetByKey(modelKey string) (*models.ModelSetting, error) {
	s, ok := m.Settings[modelKey]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *ModelSettingRepositoryMock) Upsert(modelKey, provider string, enabled bool) (*models.ModelSetting, error) {
	s, ok := m.store()[modelKey]
	if !ok {
		s = models.ModelSetting{ModelKey: modelKey, Provider: provider}
	}
	s.Enabled = enabled
	m.store()[modelKey] = s
	return &s, nil
}

func (m *ModelSettingRepositoryMock) MarkUsed(modelKey, provider string, at time.Time) (*models.ModelSetting, error) {
	s, ok := m.store()[modelKey]
	if !ok {
		s = models.ModelSetting{ModelKey: modelKey, Provider: provider, Enabled: true}
	}
	s.Iterations++
	s.LastUsedAt = &at
	m.store()[modelKey] = s
	return &s, nil
}

func (m *ModelSettingRepositoryMock) SetProviderEnabled(provider string, enabled bool) error {
	if m.SetProviderEnabledFunc != nil {
		return m.SetProviderEnabledFunc(provider, enabled)
	}
	for k, s := range m.store() {
		if s.Provider == provider {
			s.Enabled = enabled
			m.Settings[k] = s
		}
	}
	return nil
}
