package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"outreach/automation"
	"outreach/config"
	"outreach/models"
	"outreach/repository"
	"outreach/utils"
)

var (
	ErrSequenceNotFound  = errors.New("sequence not found")
	ErrProspectNotFound  = errors.New("prospect not found")
	ErrProspectOptedOut  = errors.New("prospect is marked do-not-contact")
	ErrSequenceLocked    = errors.New("sequence cannot be modified in its current status")
	ErrValidation        = errors.New("validation failed")
	errConcurrentUpdates = errors.New("sequence kept changing, try again")
)

// SequenceRepository is the persistence used by SequenceService
type SequenceRepository interface {
	Create(ctx context.Context, seq *models.Sequence) error
	Get(ctx context.Context, userID, id uint) (*models.Sequence, error)
	UpdateGuarded(ctx context.Context, seq *models.Sequence, from models.SequenceStatus, columns ...string) error
	Delete(ctx context.Context, userID, id uint) error
	List(ctx context.Context, filter repository.SequenceFilter) ([]models.Sequence, int64, error)
	FindProspect(ctx context.Context, userID, prospectID uint) (*models.Prospect, error)
}

type StepInput struct {
	Type      models.StepType `json:"type" validate:"required,steptype"`
	Template  string          `json:"template" validate:"max=5000"`
	DelayDays int             `json:"delay_days" validate:"gte=0,lte=365"`
}

type SettingsInput struct {
	MaxRetries        *int     `json:"max_retries" validate:"omitempty,gte=0,lte=20"`
	RetryDelayMinutes *int     `json:"retry_delay_minutes" validate:"omitempty,gt=0"`
	WorkingHoursStart *string  `json:"working_hours_start" validate:"omitempty,clock"`
	WorkingHoursEnd   *string  `json:"working_hours_end" validate:"omitempty,clock"`
	WorkingDays       []string `json:"working_days" validate:"omitempty,min=1,dive,weekday"`
	Timezone          *string  `json:"timezone" validate:"omitempty,timezone"`
}

type CreateSequenceInput struct {
	ProspectID uint           `json:"prospect_id" validate:"required"`
	Name       string         `json:"name" validate:"max=200"`
	Steps      []StepInput    `json:"steps" validate:"required,min=1,max=50,dive"`
	Settings   *SettingsInput `json:"settings"`
}

type StepTemplateInput struct {
	Index    int    `json:"index" validate:"gte=0"`
	Template string `json:"template" validate:"max=5000"`
}

type UpdateSequenceInput struct {
	Name     *string             `json:"name" validate:"omitempty,max=200"`
	Settings *SettingsInput      `json:"settings"`
	Steps    []StepTemplateInput `json:"steps" validate:"omitempty,dive"`
}

type ListSequencesInput struct {
	ProspectID uint
	Status     string
	Limit      int
	Offset     int
}

// Defaults are applied to settings a caller leaves out
type Defaults struct {
	MaxRetries        int
	RetryDelayMinutes int
	WorkingHoursStart string
	WorkingHoursEnd   string
	WorkingDays       []string
	Location          *time.Location
}

func DefaultsFromConfig(cfg config.AutomationConfig) Defaults {
	return Defaults{
		MaxRetries:        cfg.DefaultMaxRetries,
		RetryDelayMinutes: cfg.DefaultRetryDelay,
		WorkingHoursStart: cfg.WorkingHoursStart,
		WorkingHoursEnd:   cfg.WorkingHoursEnd,
		WorkingDays:       cfg.WorkingDays,
		Location:          cfg.Location(),
	}
}

func (d Defaults) settings() models.SequenceSettings {
	days := make([]string, len(d.WorkingDays))
	copy(days, d.WorkingDays)
	return models.SequenceSettings{
		MaxRetries:        d.MaxRetries,
		RetryDelayMinutes: d.RetryDelayMinutes,
		WorkingHours:      models.WorkingHours{Start: d.WorkingHoursStart, End: d.WorkingHoursEnd},
		WorkingDays:       days,
	}
}

// SequenceService owns the user-facing lifecycle of sequences: create,
// start, pause, resume, update and delete. The engine owns everything else.
type SequenceService struct {
	repo     SequenceRepository
	limiter  *automation.RateLimiter
	defaults Defaults
	now      func() time.Time
	logger   *logrus.Entry
}

func NewSequenceService(repo SequenceRepository, limiter *automation.RateLimiter, defaults Defaults) *SequenceService {
	if defaults.Location == nil {
		defaults.Location = time.UTC
	}
	return &SequenceService{
		repo:     repo,
		limiter:  limiter,
		defaults: defaults,
		now:      time.Now,
		logger:   utils.Component("sequence_service"),
	}
}

// SetClock replaces time.Now, for tests
func (s *SequenceService) SetClock(now func() time.Time) {
	s.now = now
}

func validate(input interface{}) error {
	if err := utils.ValidateStruct(input); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func applySettings(base models.SequenceSettings, in *SettingsInput) models.SequenceSettings {
	if in == nil {
		return base
	}
	if in.MaxRetries != nil {
		base.MaxRetries = *in.MaxRetries
	}
	if in.RetryDelayMinutes != nil {
		base.RetryDelayMinutes = *in.RetryDelayMinutes
	}
	if in.WorkingHoursStart != nil {
		base.WorkingHours.Start = *in.WorkingHoursStart
	}
	if in.WorkingHoursEnd != nil {
		base.WorkingHours.End = *in.WorkingHoursEnd
	}
	if len(in.WorkingDays) > 0 {
		base.WorkingDays = in.WorkingDays
	}
	if in.Timezone != nil {
		base.Timezone = *in.Timezone
	}
	return base
}

// Create stores a new draft sequence for one of the user's prospects
func (s *SequenceService) Create(ctx context.Context, userID uint, input CreateSequenceInput) (*models.Sequence, error) {
	if err := validate(input); err != nil {
		return nil, err
	}

	prospect, err := s.repo.FindProspect(ctx, userID, input.ProspectID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrProspectNotFound
	}
	if err != nil {
		return nil, err
	}
	if prospect.IsDoNotContact {
		return nil, ErrProspectOptedOut
	}

	steps := make([]models.Step, len(input.Steps))
	for i, in := range input.Steps {
		steps[i] = models.Step{Type: in.Type, Template: in.Template, DelayDays: in.DelayDays}
	}
	automation.PlanSteps(steps, s.now())

	name := input.Name
	if name == "" {
		name = fmt.Sprintf("Sequence for %s", prospect.FullName())
	}

	seq := &models.Sequence{
		UserID:     userID,
		ProspectID: prospect.ID,
		Name:       name,
		Status:     models.SequenceStatusDraft,
		Steps:      steps,
		Settings:   applySettings(s.defaults.settings(), input.Settings),
	}
	if err := automation.ValidateSequence(seq, s.defaults.Location); err != nil {
		return nil, err
	}

	if err := s.repo.Create(ctx, seq); err != nil {
		return nil, fmt.Errorf("create sequence: %w", err)
	}
	seq.Prospect = prospect

	s.logger.WithFields(logrus.Fields{
		"sequence_id": seq.ID,
		"user_id":     userID,
		"steps":       len(steps),
	}).Info("Sequence created")
	return seq, nil
}

func (s *SequenceService) Get(ctx context.Context, userID, id uint) (*models.Sequence, error) {
	seq, err := s.repo.Get(ctx, userID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSequenceNotFound
	}
	return seq, err
}

func (s *SequenceService) List(ctx context.Context, userID uint, input ListSequencesInput) ([]models.Sequence, int64, error) {
	filter := repository.SequenceFilter{
		UserID:     userID,
		ProspectID: input.ProspectID,
		Limit:      input.Limit,
		Offset:     input.Offset,
	}
	if input.Status != "" {
		status, err := models.ParseSequenceStatus(input.Status)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrValidation, err)
		}
		filter.Status = status
	}
	return s.repo.List(ctx, filter)
}

// mutate loads the sequence, applies change and writes columns guarded by the
// status it was loaded with. A concurrent status change reloads and retries.
func (s *SequenceService) mutate(ctx context.Context, userID, id uint, change func(seq *models.Sequence) (bool, error), columns ...string) (*models.Sequence, error) {
	for attempt := 0; attempt < 3; attempt++ {
		seq, err := s.Get(ctx, userID, id)
		if err != nil {
			return nil, err
		}

		loaded := seq.Status
		write, err := change(seq)
		if err != nil {
			return nil, err
		}
		if !write {
			return seq, nil
		}

		err = s.repo.UpdateGuarded(ctx, seq, loaded, columns...)
		if errors.Is(err, repository.ErrStale) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return seq, nil
	}
	return nil, errConcurrentUpdates
}

// Start moves a draft sequence into the polling loop
func (s *SequenceService) Start(ctx context.Context, userID, id uint) (*models.Sequence, error) {
	seq, err := s.mutate(ctx, userID, id, func(seq *models.Sequence) (bool, error) {
		if seq.Status != models.SequenceStatusDraft {
			return false, fmt.Errorf("%w: only draft sequences can be started, this one is %s",
				models.ErrInvalidTransition, seq.Status)
		}
		if err := automation.ValidateSequence(seq, s.defaults.Location); err != nil {
			return false, err
		}
		if err := seq.TransitionTo(models.SequenceStatusActive); err != nil {
			return false, err
		}
		if seq.CurrentStep() != nil {
			next := seq.CurrentStep().ScheduledDate
			seq.NextExecutionTime = &next
		}
		return true, nil
	}, "status", "next_execution_time")
	if err != nil {
		return nil, err
	}
	s.logEvent("sequence_started", seq)
	return seq, nil
}

// Pause takes an active sequence out of the polling loop. Pausing a paused sequence is a no-op.
func (s *SequenceService) Pause(ctx context.Context, userID, id uint) (*models.Sequence, error) {
	seq, err := s.mutate(ctx, userID, id, func(seq *models.Sequence) (bool, error) {
		if seq.Status == models.SequenceStatusPaused {
			return false, nil
		}
		return true, seq.TransitionTo(models.SequenceStatusPaused)
	}, "status")
	if err != nil {
		return nil, err
	}
	s.logEvent("sequence_paused", seq)
	return seq, nil
}

// Resume returns a paused sequence to the polling loop. Resuming an active sequence is a no-op.
func (s *SequenceService) Resume(ctx context.Context, userID, id uint) (*models.Sequence, error) {
	seq, err := s.mutate(ctx, userID, id, func(seq *models.Sequence) (bool, error) {
		if seq.Status == models.SequenceStatusActive {
			return false, nil
		}
		if seq.Status != models.SequenceStatusPaused {
			return false, fmt.Errorf("%w: only paused sequences can be resumed, this one is %s",
				models.ErrInvalidTransition, seq.Status)
		}
		if err := automation.ValidateSettings(seq.Settings, s.defaults.Location); err != nil {
			return false, err
		}
		if err := seq.TransitionTo(models.SequenceStatusActive); err != nil {
			return false, err
		}
		if seq.NextExecutionTime == nil && seq.CurrentStep() != nil {
			next := seq.CurrentStep().ScheduledDate
			seq.NextExecutionTime = &next
		}
		return true, nil
	}, "status", "next_execution_time")
	if err != nil {
		return nil, err
	}
	s.logEvent("sequence_resumed", seq)
	return seq, nil
}

// Update edits a draft or paused sequence. Step structure is fixed; only
// templates of steps that have not completed may change.
func (s *SequenceService) Update(ctx context.Context, userID, id uint, input UpdateSequenceInput) (*models.Sequence, error) {
	if err := validate(input); err != nil {
		return nil, err
	}

	return s.mutate(ctx, userID, id, func(seq *models.Sequence) (bool, error) {
		if seq.Status != models.SequenceStatusDraft && seq.Status != models.SequenceStatusPaused {
			return false, fmt.Errorf("%w: %s", ErrSequenceLocked, seq.Status)
		}

		if input.Name != nil {
			seq.Name = *input.Name
		}

		for _, in := range input.Steps {
			if in.Index >= len(seq.Steps) {
				return false, fmt.Errorf("%w: step index %d out of range", ErrValidation, in.Index)
			}
			if seq.Steps[in.Index].Status == models.StepStatusCompleted {
				return false, fmt.Errorf("%w: step %d already completed", ErrSequenceLocked, in.Index)
			}
			seq.Steps[in.Index].Template = in.Template
		}

		seq.Settings = applySettings(seq.Settings, input.Settings)
		if err := automation.ValidateSettings(seq.Settings, s.defaults.Location); err != nil {
			return false, err
		}
		return true, nil
	}, "name", "settings", "steps")
}

// Delete removes a sequence in any status and forgets its retry session
func (s *SequenceService) Delete(ctx context.Context, userID, id uint) error {
	err := s.repo.Delete(ctx, userID, id)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrSequenceNotFound
	}
	if err != nil {
		return err
	}
	if s.limiter != nil {
		s.limiter.Evict(automation.SequenceSessionID(id))
	}
	s.logger.WithFields(logrus.Fields{"sequence_id": id, "user_id": userID}).Info("Sequence deleted")
	return nil
}

func (s *SequenceService) logEvent(event string, seq *models.Sequence) {
	utils.LogEvent(event, map[string]interface{}{
		"sequence_id": seq.ID,
		"user_id":     seq.UserID,
		"status":      seq.Status,
	})
}
