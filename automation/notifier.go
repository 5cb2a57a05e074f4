package automation

import (
	"context"

	"outreach/models"
)

// Notification tells a user about a terminal sequence transition
type Notification struct {
	SequenceID uint
	Title      string
	Message    string
	Severity   models.Severity
}

// Notifier delivers notifications. Delivery failures never affect the sequence.
type Notifier interface {
	Notify(ctx context.Context, userID uint, n Notification) error
}

// NotifierFunc adapts a function to Notifier
type NotifierFunc func(ctx context.Context, userID uint, n Notification) error

func (f NotifierFunc) Notify(ctx context.Context, userID uint, n Notification) error {
	return f(ctx, userID, n)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, uint, Notification) error { return nil }
