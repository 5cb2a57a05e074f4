package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"outreach/models"
	"outreach/utils"
)

// Outcome summarises what one Process call did to a sequence
type Outcome string

const (
	OutcomeSkipped        Outcome = "skipped"
	OutcomeDeferred       Outcome = "deferred"
	OutcomeQuotaExceeded  Outcome = "quota_exceeded"
	OutcomeAdvanced       Outcome = "advanced"
	OutcomeCompleted      Outcome = "completed"
	OutcomeRetryScheduled Outcome = "retry_scheduled"
	OutcomeFailed         Outcome = "failed"
)

// Processor advances a single sequence by at most one step per call
type Processor struct {
	store       SequenceStore
	limiter     *RateLimiter
	executor    ActionExecutor
	credentials CredentialSource
	notifier    Notifier
	recorder    Recorder
	location    *time.Location
	now         func() time.Time
	logger      *logrus.Entry
}

// ProcessorOption configures the Processor.
type ProcessorOption func(*Processor)

func WithNotifier(n Notifier) ProcessorOption {
	return func(p *Processor) {
		if n != nil {
			p.notifier = n
		}
	}
}

func WithRecorder(r Recorder) ProcessorOption {
	return func(p *Processor) {
		if r != nil {
			p.recorder = r
		}
	}
}

// WithLocation sets the timezone for sequences that do not name one
func WithLocation(loc *time.Location) ProcessorOption {
	return func(p *Processor) {
		if loc != nil {
			p.location = loc
		}
	}
}

func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		p.now = now
	}
}

func NewProcessor(store SequenceStore, limiter *RateLimiter, executor ActionExecutor, credentials CredentialSource, opts ...ProcessorOption) *Processor {
	p := &Processor{
		store:       store,
		limiter:     limiter,
		executor:    executor,
		credentials: credentials,
		notifier:    nopNotifier{},
		recorder:    nopRecorder{},
		location:    time.UTC,
		now:         time.Now,
		logger:      utils.Component("processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Store exposes the sequence store the processor writes to
func (p *Processor) Store() SequenceStore {
	return p.store
}

// Process evaluates one due sequence. It never executes more than one step.
func (p *Processor) Process(ctx context.Context, seq *models.Sequence) (Outcome, error) {
	if seq.Status != models.SequenceStatusActive {
		return OutcomeSkipped, nil
	}

	log := p.logger.WithFields(logrus.Fields{
		"sequence_id": seq.ID,
		"user_id":     seq.UserID,
	})
	now := p.now()

	window, err := NewWorkingWindow(seq.Settings, p.location)
	if err != nil {
		log.WithError(err).Error("Active sequence has invalid settings")
		seq.AppendLog(models.ExecutionLog{
			Time:      now,
			StepIndex: seq.CurrentStepIndex,
			Outcome:   models.LogOutcomeFailed,
			Message:   err.Error(),
		})
		return p.fail(ctx, seq, now, fmt.Sprintf("invalid settings: %v", err))
	}

	for seq.CurrentStepIndex < len(seq.Steps) && seq.Steps[seq.CurrentStepIndex].Status == models.StepStatusCompleted {
		seq.CurrentStepIndex++
	}
	step := seq.CurrentStep()
	if step == nil {
		return p.complete(ctx, seq)
	}

	if !window.Contains(now) {
		next := window.Next(now)
		seq.NextExecutionTime = &next
		if err := p.store.SaveExecution(ctx, seq); err != nil {
			return OutcomeDeferred, fmt.Errorf("save deferral: %w", err)
		}
		log.WithField("next_execution_time", next).Debug("Outside working hours, deferred")
		p.recorder.ObserveStep(step.Type, OutcomeDeferred, 0)
		return OutcomeDeferred, nil
	}

	allowed, err := p.limiter.CheckAndConsume(ctx, AccountSessionID(seq.UserID))
	if err != nil || !allowed {
		message := "daily action quota reached"
		if err != nil {
			log.WithError(err).Warn("Quota check failed, treating as exhausted")
			message = fmt.Sprintf("quota check failed: %v", err)
		}
		// one quota entry per step per day; later polls only count the denial
		if !quotaLoggedToday(seq, now, window.Location()) {
			seq.AppendLog(models.ExecutionLog{
				Time:      now,
				StepIndex: seq.CurrentStepIndex,
				StepType:  step.Type,
				Outcome:   models.LogOutcomeQuotaExceeded,
				Message:   message,
			})
			if err := p.store.SaveExecution(ctx, seq); err != nil {
				return OutcomeQuotaExceeded, fmt.Errorf("save quota log: %w", err)
			}
		}
		p.recorder.ObserveStep(step.Type, OutcomeQuotaExceeded, 0)
		return OutcomeQuotaExceeded, nil
	}

	started := p.now()
	execErr := p.execute(ctx, seq, step)
	finished := p.now()
	duration := finished.Sub(started)
	seq.LastExecutionTime = &finished

	if execErr == nil {
		outcome, err := p.advance(ctx, seq, step, finished)
		p.recorder.ObserveStep(step.Type, outcome, duration)
		return outcome, err
	}

	log.WithError(execErr).WithField("step_index", seq.CurrentStepIndex).Warn("Step execution failed")
	step.Error = execErr.Error()
	seq.AppendLog(models.ExecutionLog{
		Time:      finished,
		StepIndex: seq.CurrentStepIndex,
		StepType:  step.Type,
		Outcome:   models.LogOutcomeFailed,
		Message:   execErr.Error(),
	})

	sessionID := SequenceSessionID(seq.ID)
	if p.limiter.CanRetry(sessionID, seq.Settings.MaxRetries) {
		step.Status = models.StepStatusPending
		retryAt := window.Next(finished.Add(time.Duration(seq.Settings.RetryDelayMinutes) * time.Minute))
		seq.NextExecutionTime = &retryAt
		if err := p.store.SaveExecution(ctx, seq); err != nil {
			return OutcomeRetryScheduled, fmt.Errorf("save retry: %w", err)
		}
		p.recorder.ObserveStep(step.Type, OutcomeRetryScheduled, duration)
		return OutcomeRetryScheduled, nil
	}

	step.Status = models.StepStatusFailed
	p.limiter.ResetRetries(sessionID)
	outcome, err := p.fail(ctx, seq, finished, fmt.Sprintf("step %d (%s) failed: %v", seq.CurrentStepIndex+1, step.Type, execErr))
	p.recorder.ObserveStep(step.Type, outcome, duration)
	return outcome, err
}

func quotaLoggedToday(seq *models.Sequence, now time.Time, loc *time.Location) bool {
	if len(seq.ExecutionLogs) == 0 {
		return false
	}
	last := seq.ExecutionLogs[len(seq.ExecutionLogs)-1]
	if last.Outcome != models.LogOutcomeQuotaExceeded || last.StepIndex != seq.CurrentStepIndex {
		return false
	}
	ly, lm, ld := last.Time.In(loc).Date()
	ny, nm, nd := now.In(loc).Date()
	return ly == ny && lm == nm && ld == nd
}

// execute runs one action inside a fresh execution context and always closes it
func (p *Processor) execute(ctx context.Context, seq *models.Sequence, step *models.Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()

	if seq.Prospect == nil || seq.Prospect.ProfileURL == "" {
		return ErrMissingTarget
	}

	creds, err := p.credentials.Credentials(ctx, seq.UserID)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}

	ec, err := p.executor.Open(ctx, creds)
	if err != nil {
		return fmt.Errorf("open execution context: %w", err)
	}
	defer func() {
		if cerr := p.executor.Close(context.WithoutCancel(ctx), ec); cerr != nil {
			p.logger.WithError(cerr).WithField("context_id", ec.ID).Warn("Failed to close execution context")
		}
	}()

	return p.executor.Execute(ctx, ec, Action{
		Type:    step.Type,
		Target:  seq.Prospect.ProfileURL,
		Content: step.Template,
	})
}

func (p *Processor) advance(ctx context.Context, seq *models.Sequence, step *models.Step, finished time.Time) (Outcome, error) {
	step.Status = models.StepStatusCompleted
	step.CompletedDate = &finished
	step.Error = ""
	p.limiter.ResetRetries(SequenceSessionID(seq.ID))
	seq.AppendLog(models.ExecutionLog{
		Time:      finished,
		StepIndex: seq.CurrentStepIndex,
		StepType:  step.Type,
		Outcome:   models.LogOutcomeSuccess,
		Message:   fmt.Sprintf("%s step completed", step.Type),
	})

	seq.CurrentStepIndex++
	next := seq.CurrentStep()
	if next == nil {
		return p.complete(ctx, seq)
	}

	next.Status = models.StepStatusPending
	scheduled := next.ScheduledDate
	seq.NextExecutionTime = &scheduled
	if err := p.store.SaveExecution(ctx, seq); err != nil {
		return OutcomeAdvanced, fmt.Errorf("save advance: %w", err)
	}
	return OutcomeAdvanced, nil
}

func (p *Processor) complete(ctx context.Context, seq *models.Sequence) (Outcome, error) {
	if err := seq.TransitionTo(models.SequenceStatusCompleted); err != nil {
		return OutcomeSkipped, err
	}
	seq.NextExecutionTime = nil
	if err := p.store.SaveExecution(ctx, seq); err != nil {
		return OutcomeCompleted, fmt.Errorf("save completion: %w", err)
	}
	p.limiter.Evict(SequenceSessionID(seq.ID))
	p.notify(ctx, seq, Notification{
		SequenceID: seq.ID,
		Title:      "Sequence completed",
		Message:    fmt.Sprintf("Sequence %q finished all %d steps", seq.Name, len(seq.Steps)),
		Severity:   models.SeveritySuccess,
	})
	return OutcomeCompleted, nil
}

func (p *Processor) fail(ctx context.Context, seq *models.Sequence, now time.Time, reason string) (Outcome, error) {
	if err := seq.TransitionTo(models.SequenceStatusFailed); err != nil {
		return OutcomeSkipped, err
	}
	seq.NextExecutionTime = nil
	if seq.LastExecutionTime == nil {
		seq.LastExecutionTime = &now
	}
	if err := p.store.SaveExecution(ctx, seq); err != nil {
		return OutcomeFailed, fmt.Errorf("save failure: %w", err)
	}
	p.limiter.Evict(SequenceSessionID(seq.ID))
	p.notify(ctx, seq, Notification{
		SequenceID: seq.ID,
		Title:      "Sequence failed",
		Message:    fmt.Sprintf("Sequence %q stopped: %s", seq.Name, reason),
		Severity:   models.SeverityError,
	})
	return OutcomeFailed, nil
}

func (p *Processor) notify(ctx context.Context, seq *models.Sequence, n Notification) {
	if err := p.notifier.Notify(ctx, seq.UserID, n); err != nil {
		p.logger.WithError(err).WithField("sequence_id", seq.ID).Warn("Failed to deliver notification")
	}
}
