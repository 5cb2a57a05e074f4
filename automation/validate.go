package automation

import (
	"errors"
	"fmt"
	"time"

	"outreach/models"
)

// ValidateSettings rejects settings the processor could not honour
func ValidateSettings(settings models.SequenceSettings, fallback *time.Location) error {
	if settings.MaxRetries < 0 {
		return configError("max_retries", errors.New("must not be negative"))
	}
	if settings.RetryDelayMinutes <= 0 {
		return configError("retry_delay_minutes", errors.New("must be positive"))
	}
	_, err := NewWorkingWindow(settings, fallback)
	return err
}

// ValidateSequence checks a sequence before it may become active
func ValidateSequence(seq *models.Sequence, fallback *time.Location) error {
	if len(seq.Steps) == 0 {
		return configError("steps", ErrNoSteps)
	}
	for i, step := range seq.Steps {
		if !step.Type.Valid() {
			return configError(fmt.Sprintf("steps[%d].type", i), fmt.Errorf("%w %q", ErrInvalidStepType, step.Type))
		}
		if step.DelayDays < 0 {
			return configError(fmt.Sprintf("steps[%d].delay_days", i), errors.New("must not be negative"))
		}
	}
	return ValidateSettings(seq.Settings, fallback)
}

// PlanSteps stamps scheduled dates from base and resets every step for a fresh run
func PlanSteps(steps []models.Step, base time.Time) {
	for i := range steps {
		steps[i].ScheduledDate = base.Add(time.Duration(steps[i].DelayDays) * 24 * time.Hour)
		steps[i].CompletedDate = nil
		steps[i].Error = ""
		if i == 0 {
			steps[i].Status = models.StepStatusPending
		} else {
			steps[i].Status = models.StepStatusScheduled
		}
	}
}
