package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"gorm.io/gorm"

	controller "outreach/controllers"
	"outreach/middleware"
	"outreach/utils"
)

// Dependencies are the controllers and handlers the router mounts
type Dependencies struct {
	DB             *gorm.DB
	JWTSecret      string
	APIRateLimit   int
	LimiterStorage fiber.Storage

	Auth          *controller.AuthController
	Prospects     *controller.ProspectController
	Sequences     *controller.SequenceController
	Automation    *controller.AutomationController
	Notifications *controller.NotificationController
	Stream        fiber.Handler
	Metrics       http.Handler
}

var requestLog = logger.Config{
	Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
}

func SetupAuthRoutes(app *fiber.App, deps Dependencies) {
	auth := app.Group("/auth", logger.New(requestLog))

	// Public auth endpoints (no authentication required)
	auth.Post("/register", deps.Auth.Register)
	auth.Post("/login", deps.Auth.Login)

	// Protected auth endpoints (require valid JWT)
	protectedAuth := auth.Group("", middleware.Protected(deps.JWTSecret, deps.DB))
	protectedAuth.Post("/logout", deps.Auth.Logout)
	protectedAuth.Get("/me", deps.Auth.GetCurrentUser)
	protectedAuth.Put("/account", deps.Auth.SetAccountCredentials)
	protectedAuth.Patch("/preferences", deps.Auth.UpdatePreferences)
}

func SetupAPIRoutes(app *fiber.App, deps Dependencies) {
	// API group with versioning and protection
	api := app.Group("/api/v1",
		middleware.Protected(deps.JWTSecret, deps.DB),
		middleware.APIRateLimiter(deps.APIRateLimit, deps.LimiterStorage),
		logger.New(requestLog),
	)

	// Prospect routes
	prospect := api.Group("/prospects")
	prospect.Post("/", deps.Prospects.CreateProspect)
	prospect.Get("/", deps.Prospects.GetProspects)
	prospect.Get("/:id", deps.Prospects.GetProspect)
	prospect.Patch("/:id", deps.Prospects.UpdateProspect)
	prospect.Delete("/:id", deps.Prospects.DeleteProspect)

	// Sequence routes
	sequence := api.Group("/sequences")
	sequence.Post("/", deps.Sequences.CreateSequence)
	sequence.Get("/", deps.Sequences.GetSequences)
	sequence.Get("/:id", deps.Sequences.GetSequence)
	sequence.Patch("/:id", deps.Sequences.UpdateSequence)
	sequence.Delete("/:id", deps.Sequences.DeleteSequence)
	sequence.Post("/:id/start", deps.Sequences.StartSequence)
	sequence.Post("/:id/pause", deps.Sequences.PauseSequence)
	sequence.Post("/:id/resume", deps.Sequences.ResumeSequence)

	// Automation engine routes
	automation := api.Group("/automation")
	automation.Get("/status", deps.Automation.GetStatus)
	automation.Post("/run", deps.Automation.TriggerRun)
	automation.Get("/quota", deps.Automation.GetQuota)

	// Notification routes
	notification := api.Group("/notifications")
	notification.Get("/", deps.Notifications.GetNotifications)
	notification.Post("/read-all", deps.Notifications.MarkAllRead)
	notification.Post("/:id/read", deps.Notifications.MarkRead)

	// WebSocket route for live notifications; browsers pass the token as ?token=
	app.Get("/ws/notifications",
		controller.RequireUpgrade,
		middleware.Protected(deps.JWTSecret, deps.DB),
		deps.Stream,
	)
}

func SetupRoutes(app *fiber.App, deps Dependencies) {
	// Setup health check endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		sqlDB, err := deps.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.UserContext())
		}
		if err != nil {
			return utils.ErrorResponse(c, fiber.StatusServiceUnavailable, "Database unavailable", nil)
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	if deps.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(deps.Metrics))
	}

	// Setup auth routes
	SetupAuthRoutes(app, deps)

	// Setup API routes
	SetupAPIRoutes(app, deps)

	// Setup 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "Not Found",
			"message": "The requested resource was not found",
		})
	})
}
