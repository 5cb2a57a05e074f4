package automation

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach/models"
)

var weekdays = []string{"monday", "tuesday", "wednesday", "thursday", "friday"}

func officeHours() models.SequenceSettings {
	return models.SequenceSettings{
		MaxRetries:        3,
		RetryDelayMinutes: 60,
		WorkingHours:      models.WorkingHours{Start: "09:00", End: "17:00"},
		WorkingDays:       weekdays,
	}
}

// 2026-10-12 is a Monday
func at(day, hour, minute int) time.Time {
	return time.Date(2026, time.October, day, hour, minute, 0, 0, time.UTC)
}

func TestWorkingWindowContains(t *testing.T) {
	w, err := NewWorkingWindow(officeHours(), time.UTC)
	require.NoError(t, err)

	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"monday morning", at(12, 10, 0), true},
		{"start is inclusive", at(12, 9, 0), true},
		{"last minute", at(12, 16, 59), true},
		{"end is exclusive", at(12, 17, 0), false},
		{"before start", at(12, 8, 59), false},
		{"saturday", at(10, 10, 0), false},
		{"sunday", at(11, 12, 0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, w.Contains(tt.t))
		})
	}
}

func TestWorkingWindowNext(t *testing.T) {
	w, err := NewWorkingWindow(officeHours(), time.UTC)
	require.NoError(t, err)

	tests := []struct {
		name string
		from time.Time
		want time.Time
	}{
		{"inside stays", at(12, 11, 30), at(12, 11, 30)},
		{"early morning same day", at(12, 7, 0), at(12, 9, 0)},
		{"evening rolls to next day", at(12, 18, 0), at(13, 9, 0)},
		{"at end rolls to next day", at(12, 17, 0), at(13, 9, 0)},
		{"saturday rolls to monday", at(10, 10, 0), at(12, 9, 0)},
		{"friday evening rolls to monday", at(16, 20, 0), at(19, 9, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := w.Next(tt.from)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
			assert.False(t, got.Before(tt.from))
		})
	}
}

func TestWorkingWindowTimezone(t *testing.T) {
	settings := officeHours()
	settings.Timezone = "America/New_York"

	w, err := NewWorkingWindow(settings, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "America/New_York", w.Location().String())

	// 14:00 UTC is 10:00 EDT
	assert.True(t, w.Contains(at(12, 14, 0)))
	// 22:00 UTC is 18:00 EDT
	assert.False(t, w.Contains(at(12, 22, 0)))
	assert.True(t, at(13, 13, 0).Equal(w.Next(at(12, 22, 0))))
}

func TestWorkingWindowFallbackLocation(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	w, err := NewWorkingWindow(officeHours(), berlin)
	require.NoError(t, err)

	// 07:30 UTC is 09:30 CEST
	assert.True(t, w.Contains(at(12, 7, 30)))
}

func TestNewWorkingWindowRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.SequenceSettings)
		is     error
		field  string
	}{
		{"start equals end", func(s *models.SequenceSettings) { s.WorkingHours.End = "09:00" }, ErrInvalidWorkingHours, "working_hours"},
		{"start after end", func(s *models.SequenceSettings) { s.WorkingHours.Start = "18:00" }, ErrInvalidWorkingHours, "working_hours"},
		{"no days", func(s *models.SequenceSettings) { s.WorkingDays = nil }, ErrNoWorkingDays, "working_days"},
		{"bad day", func(s *models.SequenceSettings) { s.WorkingDays = []string{"someday"} }, nil, "working_days"},
		{"bad clock", func(s *models.SequenceSettings) { s.WorkingHours.Start = "9am" }, nil, "working_hours.start"},
		{"bad timezone", func(s *models.SequenceSettings) { s.Timezone = "Mars/Olympus" }, nil, "timezone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := officeHours()
			tt.mutate(&settings)

			_, err := NewWorkingWindow(settings, time.UTC)
			require.Error(t, err)

			var cfgErr *ConfigError
			require.True(t, errors.As(err, &cfgErr))
			assert.Equal(t, tt.field, cfgErr.Field)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestValidateSequence(t *testing.T) {
	seq := &models.Sequence{Settings: officeHours()}
	assert.ErrorIs(t, ValidateSequence(seq, time.UTC), ErrNoSteps)

	seq.Steps = []models.Step{{Type: "poke"}}
	assert.ErrorIs(t, ValidateSequence(seq, time.UTC), ErrInvalidStepType)

	seq.Steps = []models.Step{{Type: models.StepTypeConnection}}
	assert.NoError(t, ValidateSequence(seq, time.UTC))

	seq.Settings.RetryDelayMinutes = 0
	assert.Error(t, ValidateSequence(seq, time.UTC))

	seq.Settings.RetryDelayMinutes = 5
	seq.Settings.MaxRetries = -1
	assert.Error(t, ValidateSequence(seq, time.UTC))
}

func TestPlanSteps(t *testing.T) {
	base := at(12, 8, 0)
	steps := []models.Step{
		{Type: models.StepTypeConnection, DelayDays: 0, Status: models.StepStatusFailed, Error: "old"},
		{Type: models.StepTypeMessage, DelayDays: 2},
		{Type: models.StepTypeMessage, DelayDays: 5},
	}
	PlanSteps(steps, base)

	assert.Equal(t, models.StepStatusPending, steps[0].Status)
	assert.Empty(t, steps[0].Error)
	assert.Equal(t, models.StepStatusScheduled, steps[1].Status)
	assert.Equal(t, models.StepStatusScheduled, steps[2].Status)
	assert.True(t, base.Equal(steps[0].ScheduledDate))
	assert.True(t, base.Add(48*time.Hour).Equal(steps[1].ScheduledDate))
	assert.True(t, base.Add(120*time.Hour).Equal(steps[2].ScheduledDate))
}
