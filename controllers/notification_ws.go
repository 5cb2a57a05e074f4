package controller

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"outreach/notifier"
	"outreach/utils"
)

// RequireUpgrade rejects plain HTTP requests on websocket routes
func RequireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// NotificationStream pushes sequence notifications to the connected user until the socket closes
func NotificationStream(hub *notifier.Hub) fiber.Handler {
	logger := utils.Component("notification_ws")

	return websocket.New(func(c *websocket.Conn) {
		userID, ok := c.Locals("userID").(uint)
		if !ok {
			_ = c.Close()
			return
		}

		unregister := hub.Register(userID, c)
		defer unregister()
		logger.WithField("user_id", userID).Debug("Websocket client connected")

		// Inbound frames are ignored; reading detects the disconnect
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				break
			}
		}
		logger.WithField("user_id", userID).Debug("Websocket client disconnected")
	})
}
