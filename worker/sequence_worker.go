package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"outreach/automation"
	"outreach/models"
	"outreach/utils"
)

var ErrCycleInProgress = errors.New("a scheduling cycle is already running")

// Stats is a snapshot of the worker counters
type Stats struct {
	Running            bool                         `json:"running"`
	CyclesRun          int64                        `json:"cycles_run"`
	CyclesSkipped      int64                        `json:"cycles_skipped"`
	SequencesProcessed int64                        `json:"sequences_processed"`
	SequenceErrors     int64                        `json:"sequence_errors"`
	Outcomes           map[automation.Outcome]int64 `json:"outcomes"`
	LastCycleStart     time.Time                    `json:"last_cycle_start"`
	LastCycleDuration  time.Duration                `json:"last_cycle_duration"`
	PollInterval       time.Duration                `json:"poll_interval"`
}

// CycleReport describes one completed cycle
type CycleReport struct {
	Started   time.Time                    `json:"started"`
	Duration  time.Duration                `json:"duration"`
	Due       int                          `json:"due"`
	Processed int                          `json:"processed"`
	Errors    int                          `json:"errors"`
	Outcomes  map[automation.Outcome]int64 `json:"outcomes"`
}

// CycleObserver receives every finished cycle
type CycleObserver interface {
	ObserveCycle(report CycleReport)
}

// SequenceWorker polls for due sequences and hands them to the processor one at a time
type SequenceWorker struct {
	store     automation.SequenceStore
	processor *automation.Processor
	interval  time.Duration
	observer  CycleObserver
	now       func() time.Time
	logger    *logrus.Entry

	mu           sync.Mutex
	isProcessing bool
	running      bool
	stats        Stats
	baseCtx      context.Context
	wg           sync.WaitGroup
}

func NewSequenceWorker(processor *automation.Processor, interval time.Duration) *SequenceWorker {
	return &SequenceWorker{
		store:     processor.Store(),
		processor: processor,
		interval:  interval,
		now:       time.Now,
		logger:    utils.Component("sequence_worker"),
		baseCtx:   context.Background(),
		stats:     Stats{Outcomes: make(map[automation.Outcome]int64)},
	}
}

func (w *SequenceWorker) SetObserver(o CycleObserver) {
	w.observer = o
}

// SetClock replaces time.Now, for tests
func (w *SequenceWorker) SetClock(now func() time.Time) {
	w.now = now
}

// Start runs a cycle every poll interval until ctx is cancelled, then waits
// for the in-flight cycle to finish.
func (w *SequenceWorker) Start(ctx context.Context) {
	w.mu.Lock()
	w.running = true
	w.baseCtx = ctx
	w.mu.Unlock()

	w.logger.WithField("interval", w.interval).Info("Sequence worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Sequence worker shutting down, waiting for in-flight cycle")
			w.wg.Wait()
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			w.logger.Info("Sequence worker stopped")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *SequenceWorker) tick(ctx context.Context) {
	if err := w.launch(ctx); errors.Is(err, ErrCycleInProgress) {
		w.logger.Debug("Previous cycle still running, skipping tick")
	}
}

// TriggerCycle starts a cycle in the background unless one is running
func (w *SequenceWorker) TriggerCycle() error {
	w.mu.Lock()
	ctx := w.baseCtx
	w.mu.Unlock()
	return w.launch(ctx)
}

func (w *SequenceWorker) launch(ctx context.Context) error {
	if !w.acquire() {
		return ErrCycleInProgress
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.release()
		w.cycle(ctx)
	}()
	return nil
}

// RunCycle runs one cycle synchronously
func (w *SequenceWorker) RunCycle(ctx context.Context) (CycleReport, error) {
	if !w.acquire() {
		return CycleReport{}, ErrCycleInProgress
	}
	defer w.release()
	return w.cycle(ctx), nil
}

func (w *SequenceWorker) acquire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.isProcessing {
		w.stats.CyclesSkipped++
		return false
	}
	w.isProcessing = true
	return true
}

func (w *SequenceWorker) release() {
	w.mu.Lock()
	w.isProcessing = false
	w.mu.Unlock()
}

// Stats returns a copy of the counters
func (w *SequenceWorker) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := w.stats
	s.Running = w.running
	s.PollInterval = w.interval
	s.Outcomes = make(map[automation.Outcome]int64, len(w.stats.Outcomes))
	for k, v := range w.stats.Outcomes {
		s.Outcomes[k] = v
	}
	return s
}

// cycle processes every due sequence sequentially. Cancellation stops new
// sequences from starting; the one already in progress runs to completion.
func (w *SequenceWorker) cycle(ctx context.Context) CycleReport {
	report := CycleReport{
		Started:  w.now(),
		Outcomes: make(map[automation.Outcome]int64),
	}

	due, err := w.store.FindDueActive(ctx, report.Started)
	if err != nil {
		utils.LogError("sequence_poll", err, map[string]interface{}{"component": "sequence_worker"})
		report.Errors++
	}
	report.Due = len(due)

	work := context.WithoutCancel(ctx)
	for _, seq := range due {
		if ctx.Err() != nil {
			w.logger.WithField("remaining", report.Due-report.Processed).Info("Cycle interrupted by shutdown")
			break
		}
		outcome, err := w.processOne(work, seq)
		report.Processed++
		report.Outcomes[outcome]++
		if err != nil {
			report.Errors++
		}
	}
	report.Duration = w.now().Sub(report.Started)

	w.mu.Lock()
	w.stats.CyclesRun++
	w.stats.SequencesProcessed += int64(report.Processed)
	w.stats.SequenceErrors += int64(report.Errors)
	w.stats.LastCycleStart = report.Started
	w.stats.LastCycleDuration = report.Duration
	for k, v := range report.Outcomes {
		w.stats.Outcomes[k] += v
	}
	w.mu.Unlock()

	if w.observer != nil {
		w.observer.ObserveCycle(report)
	}
	if report.Due > 0 {
		w.logger.WithFields(logrus.Fields{
			"due":       report.Due,
			"processed": report.Processed,
			"errors":    report.Errors,
			"duration":  report.Duration,
		}).Info("Scheduling cycle finished")
	}
	return report
}

// processOne isolates a single sequence: errors and panics are logged and never stop the cycle
func (w *SequenceWorker) processOne(ctx context.Context, seq *models.Sequence) (outcome automation.Outcome, err error) {
	fields := map[string]interface{}{}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing sequence: %v", r)
			outcome = automation.OutcomeSkipped
			utils.LogError("sequence_panic", err, fields)
		}
	}()

	fields["sequence_id"] = seq.ID
	fields["user_id"] = seq.UserID
	fields["step_index"] = seq.CurrentStepIndex

	outcome, err = w.processor.Process(ctx, seq)
	switch {
	case errors.Is(err, automation.ErrSequenceGone):
		w.logger.WithFields(fields).Info("Sequence deleted while processing")
		return outcome, nil
	case err != nil:
		utils.LogError("sequence_processing", err, fields)
	}
	return outcome, err
}
