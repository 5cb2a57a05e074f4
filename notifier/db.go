// Package notifier delivers terminal sequence notifications to users.
package notifier

import (
	"context"

	"gorm.io/gorm"

	"outreach/automation"
	"outreach/models"
)

// DBNotifier persists notifications so the user can list them later
type DBNotifier struct {
	db *gorm.DB
}

func NewDBNotifier(db *gorm.DB) *DBNotifier {
	return &DBNotifier{db: db}
}

func (n *DBNotifier) Notify(ctx context.Context, userID uint, note automation.Notification) error {
	return n.db.WithContext(ctx).Create(&models.Notification{
		UserID:     userID,
		SequenceID: note.SequenceID,
		Title:      note.Title,
		Message:    note.Message,
		Severity:   note.Severity,
	}).Error
}
