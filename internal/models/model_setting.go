package models

import "time"

// ModelSetting is the stored state of one catalog model: whether iterations
// may run with it, and how often one has.
type ModelSetting struct {
	ID         uint       `gorm:"primaryKey"`
	Provider   string     `gorm:"size:50;not null;index:idx_model_provider"`
	ModelKey   string     `gorm:"size:255;not null;uniqueIndex"`
	Enabled    bool       `gorm:"not null;default:true"`
	Iterations int        `gorm:"not null;default:0"`
	LastUsedAt *time.Time `gorm:"index"`
	CreatedAt  time.Time  `gorm:"not null"`
	UpdatedAt  time.Time  `gorm:"not null"`
}
