package services

import (
	"fmt"
	"strings"

	"narraweave/internal/models"
	"narraweave/internal/repositories"
)

// HistoryService persists one record per iteration, whatever its outcome.
type HistoryService struct {
	repo repositories.IterationRepository
}

func NewHistoryService(repo repositories.IterationRepository) *HistoryService {
	return &HistoryService{repo: repo}
}

func (h *HistoryService) Record(result *models.IterationResult) error {
	if result == nil {
		return fmt.Errorf("result is required")
	}
	names := make([]string, len(result.ChangedArtifacts))
	for i, n := range result.ChangedArtifacts {
		names[i] = string(n)
	}
	rec := &models.IterationRecord{
		IterationID:      result.ID,
		ProjectRoot:      result.Project,
		Feedback:         result.Feedback,
		Outcome:          string(result.Outcome),
		Strategy:         string(result.Strategy),
		ChangedArtifacts: strings.Join(names, ","),
		Summary:          result.Summary,
		Error:            result.Error,
		CommitHash:       result.CommitHash,
		CreatedAt:        result.StartedAt,
	}
	if result.Intent != nil {
		rec.TargetType = string(result.Intent.TargetType)
		rec.Confidence = result.Intent.Confidence
	}
	if err := h.repo.Save(rec); err != nil {
		return fmt.Errorf("failed to save iteration %s: %w", result.ID, err)
	}
	return nil
}

func (h *HistoryService) List(projectRoot string, limit int) ([]models.IterationRecord, error) {
	return h.repo.ListByProject(projectRoot, limit)
}
