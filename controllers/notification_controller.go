package controller

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"outreach/models"
	"outreach/utils"
)

type NotificationController struct {
	DB *gorm.DB
}

func NewNotificationController(db *gorm.DB) *NotificationController {
	return &NotificationController{DB: db}
}

// GetNotifications lists the newest notifications first; ?unread=true filters read ones out
func (nc *NotificationController) GetNotifications(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	query := nc.DB.WithContext(c.UserContext()).Where("user_id = ?", user.ID)
	if c.QueryBool("unread") {
		query = query.Where("read_at IS NULL")
	}

	var notifications []models.Notification
	if err := query.Order("created_at DESC").Limit(limit).Find(&notifications).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch notifications", err)
	}

	var unread int64
	if err := nc.DB.WithContext(c.UserContext()).Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", user.ID).
		Count(&unread).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count notifications", err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    notifications,
		"meta":    fiber.Map{"unread": unread},
	})
}

func (nc *NotificationController) MarkRead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)
	id := utils.ParseUint(c.Params("id"))
	if id == 0 {
		return utils.ErrorResponse(c, fiber.StatusBadRequest, "Invalid notification ID", nil)
	}

	result := nc.DB.WithContext(c.UserContext()).Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", id, user.ID).
		Update("read_at", time.Now())
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update notification", result.Error)
	}
	if result.RowsAffected == 0 {
		var count int64
		nc.DB.WithContext(c.UserContext()).Model(&models.Notification{}).
			Where("id = ? AND user_id = ?", id, user.ID).Count(&count)
		if count == 0 {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Notification not found", nil)
		}
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (nc *NotificationController) MarkAllRead(c *fiber.Ctx) error {
	user := c.Locals("user").(*models.User)

	result := nc.DB.WithContext(c.UserContext()).Model(&models.Notification{}).
		Where("user_id = ? AND read_at IS NULL", user.ID).
		Update("read_at", time.Now())
	if result.Error != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to update notifications", result.Error)
	}
	return c.JSON(utils.SuccessResponse(fiber.Map{"updated": result.RowsAffected}))
}
