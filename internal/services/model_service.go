package services

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"narraweave/internal/assets"
	"narraweave/internal/models"
	"narraweave/internal/repositories"
)

type ModelConfigService interface {
	Load() error
	ListModelGroups() ([]models.LLMModelGroup, error)
	SetModelEnabled(modelKey string, enabled bool) (*models.LLMModel, error)
	SetProviderEnabled(provider string, enabled bool) ([]models.LLMModel, error)
	GetModel(modelKey string) (*models.LLMModel, error)
	Resolve(provider, model string) (*models.LLMModel, error)
	MarkUsed(model *models.LLMModel) error
}

type modelConfigService struct {
	repo    repositories.ModelSettingRepository
	catalog []byte

	mu            sync.RWMutex
	providerOrder []string
	providerNames map[string]string
	models        map[string]*catalogModel
	settings      map[string]bool
	usage         map[string]models.ModelSetting
}

type catalogModel struct {
	Key         string
	ProviderID  string
	Provider    string
	DisplayName string
	APIName     string
	Default     bool
}

type rawModelFile struct {
	Providers []rawProvider `json:"providers"`
}

type rawProvider struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	Models      []rawModel `json:"models"`
}

type rawModel struct {
	DisplayName string `json:"displayName"`
	APIName     string `json:"apiName"`
	Default     bool   `json:"default,omitempty"`
}

// NewModelConfigService serves the embedded model catalog.
func NewModelConfigService(repo repositories.ModelSettingRepository) ModelConfigService {
	return NewModelConfigServiceWithCatalog(repo, assets.ModelsData)
}

func NewModelConfigServiceWithCatalog(repo repositories.ModelSettingRepository, catalog []byte) ModelConfigService {
	return &modelConfigService{
		repo:          repo,
		catalog:       catalog,
		models:        make(map[string]*catalogModel),
		settings:      make(map[string]bool),
		usage:         make(map[string]models.ModelSetting),
		providerNames: make(map[string]string),
	}
}

// Load parses the catalog and seeds a stored setting for every model that
// has none yet.
func (s *modelConfigService) Load() error {
	var parsed rawModelFile
	if err := json.Unmarshal(s.catalog, &parsed); err != nil {
		return fmt.Errorf("parse models asset: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.providerOrder = make([]string, 0, len(parsed.Providers))
	for _, provider := range parsed.Providers {
		providerID := strings.TrimSpace(provider.ID)
		if providerID == "" {
			continue
		}
		providerName := strings.TrimSpace(provider.DisplayName)
		s.providerNames[providerID] = providerName
		s.providerOrder = append(s.providerOrder, providerID)
		for _, mdl := range provider.Models {
			apiName := strings.TrimSpace(mdl.APIName)
			if apiName == "" {
				continue
			}
			key := modelKey(providerID, apiName)
			s.models[key] = &catalogModel{
				Key:         key,
				ProviderID:  providerID,
				Provider:    providerName,
				DisplayName: strings.TrimSpace(mdl.DisplayName),
				APIName:     apiName,
				Default:     mdl.Default,
			}
		}
	}

	existing, err := s.repo.List()
	if err != nil {
		return fmt.Errorf("load model settings: %w", err)
	}
	for _, setting := range existing {
		s.settings[setting.ModelKey] = setting.Enabled
		s.usage[setting.ModelKey] = setting
	}
	for key, def := range s.models {
		if _, ok := s.settings[key]; !ok {
			if _, err := s.repo.Upsert(key, def.ProviderID, true); err != nil {
				return fmt.Errorf("seed model setting for %s: %w", key, err)
			}
			s.settings[key] = true
		}
	}
	return nil
}

func (s *modelConfigService) ListModelGroups() ([]models.LLMModelGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]models.LLMModelGroup, 0, len(s.providerOrder))
	for _, providerID := range s.providerOrder {
		groups = append(groups, models.LLMModelGroup{
			ProviderID:   providerID,
			ProviderName: s.providerName(providerID),
			Models:       s.providerModels(providerID),
		})
	}
	return groups, nil
}

func (s *modelConfigService) SetModelEnabled(key string, enabled bool) (*models.LLMModel, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("model key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	catalog, ok := s.models[key]
	if !ok {
		return nil, fmt.Errorf("model %s not found", key)
	}
	if _, err := s.repo.Upsert(key, catalog.ProviderID, enabled); err != nil {
		return nil, err
	}
	s.settings[key] = enabled
	model := s.toLLMModel(catalog)
	return &model, nil
}

func (s *modelConfigService) SetProviderEnabled(provider string, enabled bool) ([]models.LLMModel, error) {
	provider = strings.TrimSpace(provider)
	if provider == "" {
		return nil, fmt.Errorf("provider is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.providerNames[provider]; !ok {
		return nil, fmt.Errorf("provider %s not found", provider)
	}
	if err := s.repo.SetProviderEnabled(provider, enabled); err != nil {
		return nil, err
	}
	for _, mdl := range s.models {
		if mdl.ProviderID == provider {
			s.settings[mdl.Key] = enabled
		}
	}
	return s.providerModels(provider), nil
}

func (s *modelConfigService) GetModel(key string) (*models.LLMModel, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("model key is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	catalog, ok := s.models[key]
	if !ok {
		return nil, fmt.Errorf("model %s not found", key)
	}
	model := s.toLLMModel(catalog)
	return &model, nil
}

// Resolve picks the model an iteration runs with. An empty model selects the
// provider's default (or first enabled) catalog entry. A catalog model that
// has been disabled is refused. A model absent from the catalog is passed
// through as a custom entry.
func (s *modelConfigService) Resolve(provider, model string) (*models.LLMModel, error) {
	provider = strings.TrimSpace(provider)
	model = strings.TrimSpace(model)
	if provider == "" {
		return nil, fmt.Errorf("provider is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if model != "" {
		if catalog, ok := s.models[modelKey(provider, model)]; ok {
			resolved := s.toLLMModel(catalog)
			if !resolved.Enabled {
				return nil, fmt.Errorf("model %s is disabled", resolved.DisplayName)
			}
			return &resolved, nil
		}
		return &models.LLMModel{
			Key:          modelKey(provider, model),
			DisplayName:  model,
			APIName:      model,
			ProviderID:   provider,
			ProviderName: s.providerName(provider),
			Enabled:      true,
			Custom:       true,
		}, nil
	}

	var fallback *models.LLMModel
	for _, m := range s.providerModels(provider) {
		if !m.Enabled {
			continue
		}
		m := m
		if m.Default {
			return &m, nil
		}
		if fallback == nil {
			fallback = &m
		}
	}
	if fallback == nil {
		return nil, fmt.Errorf("no enabled model for provider %s", provider)
	}
	return fallback, nil
}

// MarkUsed records that an iteration is about to run with model.
func (s *modelConfigService) MarkUsed(model *models.LLMModel) error {
	if model == nil || strings.TrimSpace(model.Key) == "" {
		return fmt.Errorf("model is required")
	}
	setting, err := s.repo.MarkUsed(model.Key, model.ProviderID, time.Now().UTC())
	if err != nil {
		return err
	}
	if setting == nil {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.usage[model.Key] = *setting
	if _, ok := s.settings[model.Key]; !ok {
		s.settings[model.Key] = setting.Enabled
	}
	model.Iterations = setting.Iterations
	model.LastUsedAt = setting.LastUsedAt
	return nil
}

// providerModels must be called with s.mu held.
func (s *modelConfigService) providerModels(providerID string) []models.LLMModel {
	var out []models.LLMModel
	for _, mdl := range s.models {
		if mdl.ProviderID == providerID {
			out = append(out, s.toLLMModel(mdl))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].DisplayName) < strings.ToLower(out[j].DisplayName)
	})
	return out
}

func (s *modelConfigService) providerName(providerID string) string {
	if name, ok := s.providerNames[providerID]; ok && strings.TrimSpace(name) != "" {
		return name
	}
	return providerID
}

func (s *modelConfigService) toLLMModel(mdl *catalogModel) models.LLMModel {
	return models.LLMModel{
		Key:          mdl.Key,
		DisplayName:  mdl.DisplayName,
		APIName:      mdl.APIName,
		ProviderID:   mdl.ProviderID,
		ProviderName: mdl.Provider,
		Default:      mdl.Default,
		Enabled:      s.settings[mdl.Key],
		Iterations:   s.usage[mdl.Key].Iterations,
		LastUsedAt:   s.usage[mdl.Key].LastUsedAt,
	}
}

func modelKey(providerID, apiName string) string {
	return strings.TrimSpace(providerID) + "|" + strings.TrimSpace(apiName)
}
