package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fasthttp"

	"outreach/automation"
	"outreach/config"
	controller "outreach/controllers"
	"outreach/executor"
	"outreach/metrics"
	"outreach/middleware"
	"outreach/notifier"
	"outreach/repository"
	"outreach/routes"
	"outreach/services"
	"outreach/utils"
	"outreach/worker"
)

const notifyTimeout = 10 * time.Second

func main() {
	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	cfg := config.AppConfig

	utils.InitLogger(cfg.LogLevel, cfg.Environment)
	log := utils.Component("main")

	if err := utils.InitSentry(cfg.SentryDSN, cfg.Environment); err != nil {
		log.WithError(err).Warn("Sentry disabled")
	}
	defer utils.FlushSentry()

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	db := config.DB

	location := cfg.Automation.Location()
	limiterOpts := []automation.RateLimiterOption{
		automation.WithMaxActionsPerDay(cfg.Automation.MaxActionsPerDay),
		automation.WithDayLocation(location),
	}

	var redisClient *redis.Client
	var limiterStorage fiber.Storage
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancelPing()
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		limiterOpts = append(limiterOpts, automation.WithQuotaStore(automation.NewRedisQuotaStore(redisClient)))
		limiterStorage = middleware.NewRedisStorage(redisClient)
		log.WithField("address", cfg.Redis.Address).Info("Redis quota store enabled")
	}

	limiter := automation.NewRateLimiter(limiterOpts...)
	sequences := repository.NewSequenceRepository(db)
	credentials := repository.NewCredentialRepository(db, cfg.EncryptionKey)

	var actions automation.ActionExecutor
	switch cfg.Executor.Mode {
	case "http":
		actions = executor.NewHTTPExecutor(cfg.Executor.URL, cfg.Executor.Token, &fasthttp.Client{
			Name:         "outreach",
			ReadTimeout:  cfg.Automation.ActionTimeout,
			WriteTimeout: cfg.Automation.ActionTimeout,
		})
	default:
		actions = executor.NewDryRunExecutor()
	}
	actions = automation.WithTimeout(actions, cfg.Automation.ActionTimeout)
	log.WithField("mode", cfg.Executor.Mode).Info("Action executor ready")

	hub := notifier.NewHub()
	targets := []automation.Notifier{notifier.NewDBNotifier(db), hub}
	if cfg.SMTP.Host != "" {
		targets = append(targets, notifier.NewEmailNotifier(db, notifier.NewSMTPDialer(cfg.SMTP), cfg.SMTP.FromEmail, cfg.SMTP.FromName))
	}
	fanout := notifier.NewFanout(notifyTimeout, targets...)

	engineMetrics := metrics.New()
	processor := automation.NewProcessor(sequences, limiter, actions, credentials,
		automation.WithNotifier(fanout),
		automation.WithRecorder(engineMetrics),
		automation.WithLocation(location),
	)

	sequenceWorker := worker.NewSequenceWorker(processor, cfg.Automation.PollInterval)
	sequenceWorker.SetObserver(engineMetrics)
	maintenanceWorker := worker.NewMaintenanceWorker(db, limiter, cfg.Automation.MaintenanceInterval, cfg.Automation.NotificationRetention)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		sequenceWorker.Start(ctx)
	}()
	go func() {
		defer workers.Done()
		maintenanceWorker.Start(ctx)
	}()

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "outreach",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})
	app.Use(recover.New())
	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		ExposedHeaders:   []string{"Content-Length"},
		MaxAge:           3600,
	}))

	sequenceService := services.NewSequenceService(sequences, limiter, services.DefaultsFromConfig(cfg.Automation))

	// Setup routes
	routes.SetupRoutes(app, routes.Dependencies{
		DB:             db,
		JWTSecret:      cfg.JWTSecret,
		APIRateLimit:   cfg.APIRateLimit,
		LimiterStorage: limiterStorage,
		Auth:           controller.NewAuthController(db, cfg.JWTSecret, cfg.JWTAccessTTL, credentials),
		Prospects:      controller.NewProspectController(db),
		Sequences:      controller.NewSequenceController(sequenceService),
		Automation:     controller.NewAutomationController(sequenceWorker, limiter, sequences),
		Notifications:  controller.NewNotificationController(db),
		Stream:         controller.NotificationStream(hub),
		Metrics:        engineMetrics.Handler(),
	})

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.ServerPort).Info("Server starting")
		serverErr <- app.Listen(":" + cfg.ServerPort)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Shutting down")
	case err := <-serverErr:
		if err != nil {
			log.WithError(err).Error("Server stopped unexpectedly")
		}
	}

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.WithError(err).Warn("HTTP server shutdown incomplete")
	}

	// Workers finish the sequence in flight before returning
	cancel()
	workers.Wait()
	fanout.Wait()
	limiter.Reset()

	if redisClient != nil {
		_ = redisClient.Close()
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info("Shutdown complete")
}
