package mocks

import (
	"narraweave/internal/models"
)

type IterationRepositoryMock struct {
	SaveFunc             func(record *models.IterationRecord) error
	GetByIterationIDFunc func(iterationID string) (*models.IterationRecord, error)
	ListByProjectFunc    func(projectRoot string, limit int) ([]models.IterationRecord, error)
	DeleteByProjectFunc  func(projectRoot string) error
	Saved                []models.IterationRecord
}

func (m *IterationRepositoryMock) Save(record *models.IterationRecord) error {
	m.Saved = append(m.Saved, *record)
	if m.SaveFunc != nil {
		return m.SaveFunc(record)
	}
	return nil
}

func (m *IterationRepositoryMock) GetByIterationID(iterationID string) (*models.IterationRecord, error) {
	if m.GetByIterationIDFunc != nil {
		return m.GetByIterationIDFunc(iterationID)
	}
	return nil, nil
}

func (m *IterationRepositoryMock) ListByProject(projectRoot string, limit int) ([]models.IterationRecord, error) {
	if m.ListByProjectFunc != nil {
		return m.ListByProjectFunc(projectRoot, limit)
	}
	return []models.IterationRecord{}, nil
}

func (m *IterationRepositoryMock) DeleteByProject(projectRoot string) error {
	if m.DeleteByProjectFunc != nil {
		return m.DeleteByProjectFunc(projectRoot)
	}
	return nil
}
