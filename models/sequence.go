package models

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// ErrInvalidTransition is returned when a status change is not allowed by the sequence state machine
var ErrInvalidTransition = errors.New("invalid sequence status transition")

// SequenceStatus is the lifecycle state of a sequence
type SequenceStatus string

const (
	SequenceStatusDraft     SequenceStatus = "draft"
	SequenceStatusActive    SequenceStatus = "active"
	SequenceStatusPaused    SequenceStatus = "paused"
	SequenceStatusCompleted SequenceStatus = "completed"
	SequenceStatusFailed    SequenceStatus = "failed"
)

// sequenceTransitions lists every allowed from -> to move.
// active -> active covers step advancement, retry and working-hours deferral.
var sequenceTransitions = map[SequenceStatus][]SequenceStatus{
	SequenceStatusDraft:  {SequenceStatusActive},
	SequenceStatusActive: {SequenceStatusActive, SequenceStatusPaused, SequenceStatusCompleted, SequenceStatusFailed},
	SequenceStatusPaused: {SequenceStatusActive},
}

// Valid reports whether s is one of the known sequence statuses
func (s SequenceStatus) Valid() bool {
	switch s {
	case SequenceStatusDraft, SequenceStatusActive, SequenceStatusPaused,
		SequenceStatusCompleted, SequenceStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition can leave s
func (s SequenceStatus) Terminal() bool {
	return s == SequenceStatusCompleted || s == SequenceStatusFailed
}

// CanTransitionTo reports whether the state machine allows s -> next
func (s SequenceStatus) CanTransitionTo(next SequenceStatus) bool {
	for _, allowed := range sequenceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseSequenceStatus converts a raw string into a SequenceStatus
func ParseSequenceStatus(raw string) (SequenceStatus, error) {
	s := SequenceStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown sequence status %q", raw)
	}
	return s, nil
}

// StepStatus records the outcome of one step, independent of the parent sequence
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusScheduled StepStatus = "scheduled"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// Valid reports whether s is one of the known step statuses
func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusPending, StepStatusScheduled, StepStatusCompleted, StepStatusFailed:
		return true
	}
	return false
}

// StepType is the kind of action a step performs on the external surface
type StepType string

const (
	StepTypeConnection  StepType = "connection"
	StepTypeMessage     StepType = "message"
	StepTypeProfileView StepType = "profile_view"
)

// Valid reports whether t is a step type the executor understands
func (t StepType) Valid() bool {
	switch t {
	case StepTypeConnection, StepTypeMessage, StepTypeProfileView:
		return true
	}
	return false
}

// LogOutcome classifies an execution log entry
type LogOutcome string

const (
	LogOutcomeSuccess       LogOutcome = "success"
	LogOutcomeFailed        LogOutcome = "failed"
	LogOutcomeQuotaExceeded LogOutcome = "quota_exceeded"
)

// Sequence is one planned outreach flow for exactly one (user, prospect) pair
type Sequence struct {
	gorm.Model
	UserID     uint `gorm:"not null;index" json:"user_id"`
	ProspectID uint `gorm:"not null;index" json:"prospect_id"`

	Name   string         `json:"name"`
	Status SequenceStatus `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`

	// Steps keep their position; the slice length never changes after creation
	Steps            []Step `gorm:"type:jsonb;serializer:json" json:"steps"`
	CurrentStepIndex int    `gorm:"not null;default:0" json:"current_step_index"`

	NextExecutionTime *time.Time `gorm:"index" json:"next_execution_time"`
	LastExecutionTime *time.Time `json:"last_execution_time"`

	// Append-only audit trail
	ExecutionLogs []ExecutionLog   `gorm:"type:jsonb;serializer:json" json:"execution_logs"`
	Settings      SequenceSettings `gorm:"type:jsonb;serializer:json" json:"settings"`

	// Relations
	Prospect *Prospect `gorm:"foreignKey:ProspectID" json:"prospect,omitempty"`
}

// Step is one atomic action within a sequence
type Step struct {
	Type          StepType   `json:"type"`
	Template      string     `json:"template"`
	DelayDays     int        `json:"delay_days"`
	Status        StepStatus `json:"status"`
	ScheduledDate time.Time  `json:"scheduled_date"`
	CompletedDate *time.Time `json:"completed_date,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// ExecutionLog is one audit entry appended by the engine
type ExecutionLog struct {
	Time      time.Time  `json:"time"`
	StepIndex int        `json:"step_index"`
	StepType  StepType   `json:"step_type"`
	Outcome   LogOutcome `json:"outcome"`
	Message   string     `json:"message"`
}

// WorkingHours is a daily HH:MM window, start inclusive and end exclusive
type WorkingHours struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// SequenceSettings controls retry and working-window policy for a sequence
type SequenceSettings struct {
	MaxRetries        int          `json:"max_retries"`
	RetryDelayMinutes int          `json:"retry_delay_minutes"`
	WorkingHours      WorkingHours `json:"working_hours"`
	WorkingDays       []string     `json:"working_days"`
	// Timezone is an IANA name; empty means the engine default
	Timezone string `json:"timezone,omitempty"`
}

// TransitionTo moves the sequence to next when the state machine allows it
func (s *Sequence) TransitionTo(next SequenceStatus) error {
	if !s.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}
	s.Status = next
	return nil
}

// CurrentStep returns the step at CurrentStepIndex, or nil once every step has run
func (s *Sequence) CurrentStep() *Step {
	if s.CurrentStepIndex < 0 || s.CurrentStepIndex >= len(s.Steps) {
		return nil
	}
	return &s.Steps[s.CurrentStepIndex]
}

// AppendLog adds an audit entry; existing entries are never touched
func (s *Sequence) AppendLog(entry ExecutionLog) {
	s.ExecutionLogs = append(s.ExecutionLogs, entry)
}
