package models

import (
	"time"

	"gorm.io/gorm"
)

// Severity of a user-facing notification
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityError   Severity = "error"
)

// Notification is a terminal sequence outcome shown to the owning user
type Notification struct {
	gorm.Model
	UserID     uint       `gorm:"not null;index" json:"user_id"`
	SequenceID uint       `gorm:"index" json:"sequence_id"`
	Title      string     `gorm:"not null" json:"title"`
	Message    string     `json:"message"`
	Severity   Severity   `gorm:"type:varchar(16);default:'info'" json:"severity"`
	ReadAt     *time.Time `json:"read_at"`
}
