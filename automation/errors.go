// Package automation implements the sequence scheduling and execution-control engine.
package automation

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidWorkingHours = errors.New("working hours start must be before end")
	ErrNoWorkingDays       = errors.New("at least one working day is required")
	ErrNoSteps             = errors.New("sequence has no steps")
	ErrInvalidStepType     = errors.New("unknown step type")
	ErrSequenceGone        = errors.New("sequence no longer exists")
	ErrMissingTarget       = errors.New("prospect has no profile reference")
	ErrActionTimeout       = errors.New("action timed out")
)

// ConfigError is a sequence configuration problem detected before execution
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configError(field string, err error) error {
	return &ConfigError{Field: field, Err: err}
}
