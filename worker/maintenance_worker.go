package worker

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"outreach/automation"
	"outreach/models"
	"outreach/utils"
)

// MaintenanceWorker trims idle limiter sessions and old read notifications
type MaintenanceWorker struct {
	db        *gorm.DB
	limiter   *automation.RateLimiter
	interval  time.Duration
	retention time.Duration
	logger    *logrus.Entry
}

func NewMaintenanceWorker(db *gorm.DB, limiter *automation.RateLimiter, interval, retention time.Duration) *MaintenanceWorker {
	return &MaintenanceWorker{
		db:        db,
		limiter:   limiter,
		interval:  interval,
		retention: retention,
		logger:    utils.Component("maintenance_worker"),
	}
}

func (mw *MaintenanceWorker) Start(ctx context.Context) {
	mw.logger.Info("Maintenance worker started")
	ticker := time.NewTicker(mw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			mw.RunOnce(ctx)
		case <-ctx.Done():
			mw.logger.Info("Maintenance worker stopped")
			return
		}
	}
}

// RunOnce performs a single sweep
func (mw *MaintenanceWorker) RunOnce(ctx context.Context) {
	evicted := mw.limiter.EvictIdle()

	var pruned int64
	if mw.db != nil && mw.retention > 0 {
		cutoff := time.Now().Add(-mw.retention)
		res := mw.db.WithContext(ctx).Unscoped().
			Where("read_at IS NOT NULL AND read_at < ?", cutoff).
			Delete(&models.Notification{})
		if res.Error != nil {
			mw.logger.WithError(res.Error).Warn("Failed to prune notifications")
		}
		pruned = res.RowsAffected
	}

	if evicted > 0 || pruned > 0 {
		mw.logger.WithFields(logrus.Fields{
			"sessions_evicted":     evicted,
			"notifications_pruned": pruned,
		}).Info("Maintenance sweep finished")
	}
}
