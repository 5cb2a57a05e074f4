package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"outreach/automation"
	"outreach/models"
	"outreach/repository"
	"outreach/utils"
)

var created = time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC)

type fixture struct {
	db       *gorm.DB
	svc      *SequenceService
	limiter  *automation.RateLimiter
	user     *models.User
	prospect *models.Prospect
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "svc.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, models.Migrate(db))

	user := &models.User{Email: "owner@example.com", PasswordHash: "x"}
	require.NoError(t, db.Create(user).Error)
	prospect := &models.Prospect{UserID: user.ID, ProfileURL: "https://example.com/in/ada", FirstName: "Ada", LastName: "Lovelace"}
	require.NoError(t, db.Create(prospect).Error)

	limiter := automation.NewRateLimiter()
	svc := NewSequenceService(repository.NewSequenceRepository(db), limiter, Defaults{
		MaxRetries:        3,
		RetryDelayMinutes: 60,
		WorkingHoursStart: "09:00",
		WorkingHoursEnd:   "17:00",
		WorkingDays:       []string{"monday", "tuesday", "wednesday", "thursday", "friday"},
		Location:          time.UTC,
	})
	svc.SetClock(func() time.Time { return created })

	return &fixture{db: db, svc: svc, limiter: limiter, user: user, prospect: prospect}
}

func (f *fixture) create(t *testing.T) *models.Sequence {
	t.Helper()
	seq, err := f.svc.Create(context.Background(), f.user.ID, CreateSequenceInput{
		ProspectID: f.prospect.ID,
		Steps: []StepInput{
			{Type: models.StepTypeConnection, Template: "Hi {{first_name}}"},
			{Type: models.StepTypeMessage, Template: "Following up", DelayDays: 2},
			{Type: models.StepTypeMessage, Template: "Last note", DelayDays: 5},
		},
	})
	require.NoError(t, err)
	return seq
}

func TestCreateAppliesDefaultsAndSchedule(t *testing.T) {
	f := newFixture(t)
	seq := f.create(t)

	assert.NotZero(t, seq.ID)
	assert.Equal(t, models.SequenceStatusDraft, seq.Status)
	assert.Equal(t, "Sequence for Ada Lovelace", seq.Name)
	assert.Equal(t, 3, seq.Settings.MaxRetries)
	assert.Equal(t, "09:00", seq.Settings.WorkingHours.Start)
	assert.Len(t, seq.Settings.WorkingDays, 5)
	assert.Nil(t, seq.NextExecutionTime)

	require.Len(t, seq.Steps, 3)
	assert.Equal(t, models.StepStatusPending, seq.Steps[0].Status)
	assert.Equal(t, models.StepStatusScheduled, seq.Steps[1].Status)
	assert.True(t, created.Add(48*time.Hour).Equal(seq.Steps[1].ScheduledDate))
	assert.True(t, created.Add(120*time.Hour).Equal(seq.Steps[2].ScheduledDate))
}

func TestCreateRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stranger := &models.Prospect{UserID: f.user.ID + 100, ProfileURL: "https://example.com/in/bob"}
	require.NoError(t, f.db.Create(stranger).Error)
	optedOut := &models.Prospect{UserID: f.user.ID, ProfileURL: "https://example.com/in/eve", IsDoNotContact: true}
	require.NoError(t, f.db.Create(optedOut).Error)

	oneStep := []StepInput{{Type: models.StepTypeConnection}}
	tests := []struct {
		name  string
		input CreateSequenceInput
		is    error
	}{
		{"no steps", CreateSequenceInput{ProspectID: f.prospect.ID}, ErrValidation},
		{"unknown step type", CreateSequenceInput{ProspectID: f.prospect.ID, Steps: []StepInput{{Type: "poke"}}}, ErrValidation},
		{"negative delay", CreateSequenceInput{ProspectID: f.prospect.ID, Steps: []StepInput{{Type: models.StepTypeMessage, DelayDays: -1}}}, ErrValidation},
		{"bad clock", CreateSequenceInput{ProspectID: f.prospect.ID, Steps: oneStep,
			Settings: &SettingsInput{WorkingHoursStart: utils.Pointer("9am")}}, ErrValidation},
		{"inverted working hours", CreateSequenceInput{ProspectID: f.prospect.ID, Steps: oneStep,
			Settings: &SettingsInput{WorkingHoursStart: utils.Pointer("18:00")}}, automation.ErrInvalidWorkingHours},
		{"someone else's prospect", CreateSequenceInput{ProspectID: stranger.ID, Steps: oneStep}, ErrProspectNotFound},
		{"do-not-contact prospect", CreateSequenceInput{ProspectID: optedOut.ID, Steps: oneStep}, ErrProspectOptedOut},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Create(ctx, f.user.ID, tt.input)
			assert.ErrorIs(t, err, tt.is)
		})
	}
}

func TestCreateInvalidWorkingHoursIsConfigError(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), f.user.ID, CreateSequenceInput{
		ProspectID: f.prospect.ID,
		Steps:      []StepInput{{Type: models.StepTypeConnection}},
		Settings:   &SettingsInput{WorkingHoursStart: utils.Pointer("17:00"), WorkingHoursEnd: utils.Pointer("09:00")},
	})

	var cfgErr *automation.ConfigError
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "working_hours", cfgErr.Field)
}

func TestStartSchedulesFirstStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.create(t)

	started, err := f.svc.Start(ctx, f.user.ID, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SequenceStatusActive, started.Status)
	require.NotNil(t, started.NextExecutionTime)
	assert.True(t, started.Steps[0].ScheduledDate.Equal(*started.NextExecutionTime))

	stored, err := f.svc.Get(ctx, f.user.ID, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SequenceStatusActive, stored.Status)

	_, err = f.svc.Start(ctx, f.user.ID, seq.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestPauseAndResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.create(t)

	_, err := f.svc.Pause(ctx, f.user.ID, seq.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition, "draft cannot be paused")
	_, err = f.svc.Resume(ctx, f.user.ID, seq.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition, "draft cannot be resumed")

	_, err = f.svc.Start(ctx, f.user.ID, seq.ID)
	require.NoError(t, err)

	paused, err := f.svc.Pause(ctx, f.user.ID, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SequenceStatusPaused, paused.Status)

	again, err := f.svc.Pause(ctx, f.user.ID, seq.ID)
	require.NoError(t, err, "pausing twice is a no-op")
	assert.Equal(t, models.SequenceStatusPaused, again.Status)

	resumed, err := f.svc.Resume(ctx, f.user.ID, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SequenceStatusActive, resumed.Status)
	require.NotNil(t, resumed.NextExecutionTime)

	_, err = f.svc.Resume(ctx, f.user.ID, seq.ID)
	assert.NoError(t, err, "resuming an active sequence is a no-op")
}

func TestPauseAndResumeAreIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := repository.NewSequenceRepository(f.db)
	seq := f.create(t)
	_, err := f.svc.Start(ctx, f.user.ID, seq.ID)
	require.NoError(t, err)

	// give the sequence some engine progress
	due, err := repo.FindDueActive(ctx, created)
	require.NoError(t, err)
	require.Len(t, due, 1)
	due[0].Steps[0].Status = models.StepStatusCompleted
	due[0].CurrentStepIndex = 1
	next := due[0].Steps[1].ScheduledDate
	due[0].NextExecutionTime = &next
	due[0].AppendLog(models.ExecutionLog{Time: created, Outcome: models.LogOutcomeSuccess, Message: "sent"})
	require.NoError(t, repo.SaveExecution(ctx, due[0]))

	_, err = f.svc.Pause(ctx, f.user.ID, seq.ID)
	require.NoError(t, err)
	before, err := f.svc.Get(ctx, f.user.ID, seq.ID)
	require.NoError(t, err)

	_, err = f.svc.Pause(ctx, f.user.ID, seq.ID)
	require.NoError(t, err)
	after, err := f.svc.Get(ctx, f.user.ID, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SequenceStatusPaused, after.Status)
	assert.Equal(t, before.CurrentStepIndex, after.CurrentStepIndex)
	require.NotNil(t, after.NextExecutionTime)
	assert.True(t, before.NextExecutionTime.Equal(*after.NextExecutionTime))
	assert.Equal(t, before.ExecutionLogs, after.ExecutionLogs)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt), "second pause writes nothing")

	_, err = f.svc.Resume(ctx, f.user.ID, seq.ID)
	require.NoError(t, err)
	before, err = f.svc.Get(ctx, f.user.ID, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SequenceStatusActive, before.Status)
	assert.Equal(t, 1, before.CurrentStepIndex)
	require.NotNil(t, before.NextExecutionTime)
	assert.True(t, next.Equal(*before.NextExecutionTime), "resume keeps the pending schedule")

	_, err = f.svc.Resume(ctx, f.user.ID, seq.ID)
	require.NoError(t, err)
	after, err = f.svc.Get(ctx, f.user.ID, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SequenceStatusActive, after.Status)
	assert.Equal(t, before.CurrentStepIndex, after.CurrentStepIndex)
	assert.True(t, before.NextExecutionTime.Equal(*after.NextExecutionTime))
	assert.Equal(t, before.ExecutionLogs, after.ExecutionLogs)
	assert.Equal(t, before.Steps, after.Steps)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt), "second resume writes nothing")
}

func TestTemplateEditSurvivesInFlightRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	repo := repository.NewSequenceRepository(f.db)
	seq := f.create(t)
	_, err := f.svc.Start(ctx, f.user.ID, seq.ID)
	require.NoError(t, err)

	due, err := repo.FindDueActive(ctx, created)
	require.NoError(t, err)
	require.Len(t, due, 1)
	inFlight := due[0]

	_, err = f.svc.Pause(ctx, f.user.ID, seq.ID)
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, f.user.ID, seq.ID, UpdateSequenceInput{
		Steps: []StepTemplateInput{{Index: 1, Template: "new"}},
	})
	require.NoError(t, err)

	inFlight.Steps[0].Status = models.StepStatusCompleted
	inFlight.CurrentStepIndex = 1
	require.NoError(t, repo.SaveExecution(ctx, inFlight))

	stored, err := f.svc.Get(ctx, f.user.ID, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SequenceStatusPaused, stored.Status)
	assert.Equal(t, models.StepStatusCompleted, stored.Steps[0].Status)
	assert.Equal(t, 1, stored.CurrentStepIndex)
	assert.Equal(t, "new", stored.Steps[1].Template)
	assert.Equal(t, "Last note", stored.Steps[2].Template)
}

func TestTerminalSequencesRejectControl(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.create(t)
	require.NoError(t, f.db.Model(&models.Sequence{}).Where("id = ?", seq.ID).
		Update("status", models.SequenceStatusCompleted).Error)

	_, err := f.svc.Pause(ctx, f.user.ID, seq.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = f.svc.Resume(ctx, f.user.ID, seq.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
	_, err = f.svc.Start(ctx, f.user.ID, seq.ID)
	assert.ErrorIs(t, err, models.ErrInvalidTransition)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.create(t)

	updated, err := f.svc.Update(ctx, f.user.ID, seq.ID, UpdateSequenceInput{
		Name:     utils.Pointer("Warm intro"),
		Settings: &SettingsInput{MaxRetries: utils.Pointer(5), Timezone: utils.Pointer("Europe/Berlin")},
		Steps:    []StepTemplateInput{{Index: 1, Template: "New follow up"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Warm intro", updated.Name)
	assert.Equal(t, 5, updated.Settings.MaxRetries)
	assert.Equal(t, "09:00", updated.Settings.WorkingHours.Start, "untouched settings survive")

	stored, err := f.svc.Get(ctx, f.user.ID, seq.ID)
	require.NoError(t, err)
	assert.Equal(t, "New follow up", stored.Steps[1].Template)
	assert.Equal(t, "Europe/Berlin", stored.Settings.Timezone)

	_, err = f.svc.Update(ctx, f.user.ID, seq.ID, UpdateSequenceInput{Steps: []StepTemplateInput{{Index: 9}}})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.Start(ctx, f.user.ID, seq.ID)
	require.NoError(t, err)
	_, err = f.svc.Update(ctx, f.user.ID, seq.ID, UpdateSequenceInput{Name: utils.Pointer("nope")})
	assert.ErrorIs(t, err, ErrSequenceLocked)
}

func TestUpdateCompletedStepIsLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.create(t)

	seq.Steps[0].Status = models.StepStatusCompleted
	require.NoError(t, f.db.Model(seq).Select("steps").Updates(seq).Error)

	_, err := f.svc.Update(ctx, f.user.ID, seq.ID, UpdateSequenceInput{Steps: []StepTemplateInput{{Index: 0, Template: "rewrite history"}}})
	assert.ErrorIs(t, err, ErrSequenceLocked)
}

func TestDeleteEvictsRetrySession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	seq := f.create(t)
	f.limiter.CanRetry(automation.SequenceSessionID(seq.ID), 3)
	require.Equal(t, 1, f.limiter.Len())

	require.NoError(t, f.svc.Delete(ctx, f.user.ID, seq.ID))
	assert.Zero(t, f.limiter.Len())

	_, err := f.svc.Get(ctx, f.user.ID, seq.ID)
	assert.ErrorIs(t, err, ErrSequenceNotFound)
	assert.ErrorIs(t, f.svc.Delete(ctx, f.user.ID, seq.ID), ErrSequenceNotFound)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.create(t)
	f.create(t)
	_, err := f.svc.Start(ctx, f.user.ID, first.ID)
	require.NoError(t, err)

	all, total, err := f.svc.List(ctx, f.user.ID, ListSequencesInput{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, all, 2)

	active, total, err := f.svc.List(ctx, f.user.ID, ListSequencesInput{Status: "active"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, first.ID, active[0].ID)

	_, _, err = f.svc.List(ctx, f.user.ID, ListSequencesInput{Status: "archived"})
	assert.ErrorIs(t, err, ErrValidation)
}
