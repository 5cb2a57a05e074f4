package controller

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"

	"outreach/automation"
	"outreach/models"
	"outreach/utils"
	"outreach/worker"
)

// StatusCounter groups a user's sequences by status
type StatusCounter interface {
	CountByStatus(ctx context.Context, userID uint) (map[models.SequenceStatus]int64, error)
}

type AutomationController struct {
	worker   *worker.SequenceWorker
	limiter  *automation.RateLimiter
	counters StatusCounter
}

func NewAutomationController(w *worker.SequenceWorker, limiter *automation.RateLimiter, counters StatusCounter) *AutomationController {
	return &AutomationController{worker: w, limiter: limiter, counters: counters}
}

// GetStatus reports the worker counters next to the caller's sequence totals
func (ac *AutomationController) GetStatus(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	counts, err := ac.counters.CountByStatus(c.UserContext(), user.ID)
	if err != nil {
		utils.LogError("automation_status", err, map[string]interface{}{"user_id": user.ID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load sequence counts", nil)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"worker":          ac.worker.Stats(),
		"active_sessions": ac.limiter.Len(),
		"sequences":       counts,
	}))
}

// TriggerRun starts a scheduling cycle now instead of waiting for the next tick
func (ac *AutomationController) TriggerRun(c *fiber.Ctx) error {
	if err := ac.worker.TriggerCycle(); err != nil {
		if errors.Is(err, worker.ErrCycleInProgress) {
			return utils.ErrorResponse(c, fiber.StatusConflict, "A scheduling cycle is already running", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to start cycle", err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"success": true,
		"message": "Scheduling cycle started",
	})
}

// GetQuota returns today's action count for the caller's account
func (ac *AutomationController) GetQuota(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	sessionID := automation.AccountSessionID(user.ID)

	actions, err := ac.limiter.ActionsToday(c.UserContext(), sessionID)
	if err != nil {
		utils.LogError("automation_quota", err, map[string]interface{}{"user_id": user.ID})
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to load quota", nil)
	}
	session, _ := ac.limiter.Snapshot(sessionID)
	limit := ac.limiter.MaxActionsPerDay()
	remaining := limit - actions
	if remaining < 0 {
		remaining = 0
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"actions_today":       actions,
		"max_actions_per_day": limit,
		"remaining":           remaining,
		"last_action_time":    session.LastActionTime,
	}))
}
