package models

import "time"

// IterationRecord is the persisted history entry of one iteration.
type IterationRecord struct {
	ID               uint      `gorm:"primaryKey"`
	IterationID      string    `gorm:"size:36;not null;uniqueIndex"`
	ProjectRoot      string    `gorm:"size:1024;not null;index:idx_iteration_project_created"`
	Feedback         string    `gorm:"type:text"`
	Outcome          string    `gorm:"size:32;not null"`
	Strategy         string    `gorm:"size:32"`
	TargetType       string    `gorm:"size:64"`
	Confidence       float64   `gorm:"not null;default:0"`
	ChangedArtifacts string    `gorm:"type:text"` // comma separated artifact names
	Summary          string    `gorm:"type:text"`
	Error            string    `gorm:"type:text"`
	CommitHash       string    `gorm:"size:64"`
	CreatedAt        time.Time `gorm:"index:idx_iteration_project_created"`
	UpdatedAt        time.Time
}
