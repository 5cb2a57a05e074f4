package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"outreach/automation"
	"outreach/utils"
)

// Fanout delivers each notification to every target in the background.
// Notify never blocks on delivery and never returns a delivery error.
type Fanout struct {
	targets []automation.Notifier
	timeout time.Duration
	wg      sync.WaitGroup
	logger  *logrus.Entry
}

func NewFanout(timeout time.Duration, targets ...automation.Notifier) *Fanout {
	return &Fanout{
		targets: targets,
		timeout: timeout,
		logger:  utils.Component("notifier"),
	}
}

func (f *Fanout) Notify(ctx context.Context, userID uint, note automation.Notification) error {
	base := context.WithoutCancel(ctx)
	for _, target := range f.targets {
		f.wg.Add(1)
		go func(target automation.Notifier) {
			defer f.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					f.logger.WithField("panic", r).Error("Notifier panicked")
				}
			}()

			ctx, cancel := context.WithTimeout(base, f.timeout)
			defer cancel()
			if err := target.Notify(ctx, userID, note); err != nil {
				f.logger.WithError(err).WithFields(logrus.Fields{
					"user_id":     userID,
					"sequence_id": note.SequenceID,
					"notifier":    fmt.Sprintf("%T", target),
				}).Warn("Notification delivery failed")
			}
		}(target)
	}
	return nil
}

// Wait blocks until every in-flight delivery returned
func (f *Fanout) Wait() {
	f.wg.Wait()
}
