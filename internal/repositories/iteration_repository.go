package repositories

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"narraweave/internal/models"
)

type IterationRepository interface {
	Save(record *models.IterationRecord) error
	GetByIterationID(iterationID string) (*models.IterationRecord, error)
	ListByProject(projectRoot string, limit int) ([]models.IterationRecord, error)
	DeleteByProject(projectRoot string) error
}

type iterationRepository struct {
	db *gorm.DB
}

func NewIterationRepository(db *gorm.DB) IterationRepository {
	return &iterationRepository{db: db}
}

// Save inserts the record or updates the row with the same iteration id.
func (r *iterationRepository) Save(record *models.IterationRecord) error {
	if record == nil {
		return fmt.Errorf("record is required")
	}
	if record.IterationID == "" {
		return fmt.Errorf("iteration id is required")
	}
	if record.ProjectRoot == "" {
		return fmt.Errorf("project root is required")
	}
	if record.ID != 0 {
		return r.db.Save(record).Error
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "iteration_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"outcome", "strategy", "target_type", "confidence", "changed_artifacts",
			"summary", "error", "commit_hash", "updated_at",
		}),
	}).Create(record).Error
}

func (r *iterationRepository) GetByIterationID(iterationID string) (*models.IterationRecord, error) {
	var rec models.IterationRecord
	res := r.db.Where("iteration_id = ?", iterationID).Take(&rec)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, res.Error
	}
	return &rec, nil
}

// ListByProject returns the newest records first. limit <= 0 means all.
func (r *iterationRepository) ListByProject(projectRoot string, limit int) ([]models.IterationRecord, error) {
	var records []models.IterationRecord
	q := r.db.Where("project_root = ?", projectRoot).Order("created_at desc, id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (r *iterationRepository) DeleteByProject(projectRoot string) error {
	return r.db.Where("project_root = ?", projectRoot).Delete(&models.IterationRecord{}).Error
}
