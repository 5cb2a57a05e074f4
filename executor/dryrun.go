package executor

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"outreach/automation"
	"outreach/utils"
)

// DryRunExecutor logs every action and reports success without touching any external surface
type DryRunExecutor struct {
	logger   *logrus.Entry
	executed atomic.Int64
}

func NewDryRunExecutor() *DryRunExecutor {
	return &DryRunExecutor{logger: utils.Component("dryrun_executor")}
}

func (d *DryRunExecutor) Open(_ context.Context, creds automation.Credentials) (*automation.ExecutionContext, error) {
	ec := &automation.ExecutionContext{ID: uuid.NewString(), UserID: creds.UserID}
	d.logger.WithFields(logrus.Fields{"context_id": ec.ID, "user_id": creds.UserID}).Debug("Opened dry-run context")
	return ec, nil
}

func (d *DryRunExecutor) Execute(_ context.Context, ec *automation.ExecutionContext, action automation.Action) error {
	d.executed.Add(1)
	d.logger.WithFields(logrus.Fields{
		"context_id": ec.ID,
		"step_type":  action.Type,
		"target":     action.Target,
	}).Info("Dry-run action")
	return nil
}

func (d *DryRunExecutor) Close(context.Context, *automation.ExecutionContext) error {
	return nil
}

// Executed counts actions seen since start
func (d *DryRunExecutor) Executed() int64 {
	return d.executed.Load()
}
