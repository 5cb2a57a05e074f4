package automation

import (
	"context"
	"time"

	"outreach/models"
)

// SequenceStore is the persistence the processor needs
type SequenceStore interface {
	// FindDueActive returns active sequences whose next execution time is at or before now
	FindDueActive(ctx context.Context, now time.Time) ([]*models.Sequence, error)
	// SaveExecution writes steps, index, times, logs and status in one atomic update.
	// A sequence paused since it was loaded stays paused. Deleted rows yield ErrSequenceGone.
	SaveExecution(ctx context.Context, seq *models.Sequence) error
}

// Recorder observes processor outcomes
type Recorder interface {
	ObserveStep(stepType models.StepType, outcome Outcome, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveStep(models.StepType, Outcome, time.Duration) {}
