package services

import (
	"narraweave/internal/repositories"

	"gorm.io/gorm"
)

// DbServices aggregates the services backed by the database.
type DbServices struct {
	History *HistoryService
	Models  ModelConfigService
}

// NewDbServices constructs the service container using repositories backed by db.
func NewDbServices(db *gorm.DB) *DbServices {
	iterationRepo := repositories.NewIterationRepository(db)
	modelSettingRepo := repositories.NewModelSettingRepository(db)

	return &DbServices{
		History: NewHistoryService(iterationRepo),
		Models:  NewModelConfigService(modelSettingRepo),
	}
}
