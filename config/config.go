package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"outreach/models"
)

var (
	DB        *gorm.DB
	AppConfig Config
)

type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type SMTPConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"-"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
}

// AutomationConfig drives the sequence scheduling engine
type AutomationConfig struct {
	PollInterval      time.Duration `json:"poll_interval"`
	MaxActionsPerDay  int           `json:"max_actions_per_day"`
	ActionTimeout     time.Duration `json:"action_timeout"`
	Timezone          string        `json:"timezone"`
	DefaultMaxRetries int           `json:"default_max_retries"`
	DefaultRetryDelay int           `json:"default_retry_delay_minutes"`
	WorkingHoursStart string        `json:"working_hours_start"`
	WorkingHoursEnd   string        `json:"working_hours_end"`
	WorkingDays       []string      `json:"working_days"`

	MaintenanceInterval   time.Duration `json:"maintenance_interval"`
	NotificationRetention time.Duration `json:"notification_retention"`
}

// ExecutorConfig selects the action executor backend
type ExecutorConfig struct {
	Mode  string `json:"mode"` // dryrun, http
	URL   string `json:"url"`
	Token string `json:"-"`
}

type Config struct {
	Environment    string           `json:"environment"`
	LogLevel       string           `json:"log_level"`
	SentryDSN      string           `json:"-"`
	EncryptionKey  string           `json:"-"`
	JWTSecret      string           `json:"-"`
	JWTAccessTTL   time.Duration    `json:"jwt_access_ttl"`
	ServerPort     string           `json:"server_port"`
	DBHost         string           `json:"db_host"`
	DBPort         string           `json:"db_port"`
	DBUser         string           `json:"db_user"`
	DBPassword     string           `json:"-"`
	DBName         string           `json:"db_name"`
	DBSSLMode      string           `json:"db_ssl_mode"`
	DBMaxIdleConns int              `json:"db_max_idle_conns"`
	DBMaxOpenConns int              `json:"db_max_open_conns"`
	APIRateLimit   int              `json:"api_rate_limit"`
	CORSOrigins    []string         `json:"cors_origins"`
	Redis          RedisConfig      `json:"redis"`
	SMTP           SMTPConfig       `json:"smtp"`
	Automation     AutomationConfig `json:"automation"`
	Executor       ExecutorConfig   `json:"executor"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()
}

// LoadConfig reads the environment into AppConfig and validates it
func LoadConfig() error {
	cfg, err := FromEnv()
	if err != nil {
		return err
	}
	AppConfig = cfg
	logConfig()
	return nil
}

// FromEnv builds a Config from the current environment without touching AppConfig
func FromEnv() (Config, error) {
	cfg := Config{
		Environment:    getEnv("ENVIRONMENT", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		SentryDSN:      getEnv("SENTRY_DSN", ""),
		EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		JWTAccessTTL:   getEnvAsDuration("JWT_ACCESS_TTL", 24*time.Hour),
		ServerPort:     getEnv("SERVER_PORT", "5000"),
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "outreach"),
		DBSSLMode:      getEnv("DB_SSL_MODE", "disable"),
		DBMaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBMaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 100),
		APIRateLimit:   getEnvAsInt("API_RATE_LIMIT", 60),
		CORSOrigins:    getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		Redis: RedisConfig{
			Enabled:  getEnvAsBool("REDIS_ENABLED", false),
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		SMTP: SMTPConfig{
			Host:      getEnv("SMTP_HOST", ""),
			Port:      getEnvAsInt("SMTP_PORT", 587),
			Username:  getEnv("SMTP_USERNAME", ""),
			Password:  getEnv("SMTP_PASSWORD", ""),
			FromEmail: getEnv("FROM_EMAIL", ""),
			FromName:  getEnv("FROM_NAME", "Outreach"),
		},
		Automation: AutomationConfig{
			PollInterval:      getEnvAsDuration("AUTOMATION_POLL_INTERVAL", 60*time.Second),
			MaxActionsPerDay:  getEnvAsInt("AUTOMATION_MAX_ACTIONS_PER_DAY", 100),
			ActionTimeout:     getEnvAsDuration("AUTOMATION_ACTION_TIMEOUT", 90*time.Second),
			Timezone:          getEnv("AUTOMATION_TIMEZONE", "UTC"),
			DefaultMaxRetries: getEnvAsInt("AUTOMATION_DEFAULT_MAX_RETRIES", 3),
			DefaultRetryDelay: getEnvAsInt("AUTOMATION_DEFAULT_RETRY_DELAY_MINUTES", 60),
			WorkingHoursStart: getEnv("AUTOMATION_WORKING_HOURS_START", "09:00"),
			WorkingHoursEnd:   getEnv("AUTOMATION_WORKING_HOURS_END", "17:00"),
			WorkingDays: getEnvAsList("AUTOMATION_WORKING_DAYS",
				[]string{"monday", "tuesday", "wednesday", "thursday", "friday"}),
			MaintenanceInterval:   getEnvAsDuration("MAINTENANCE_INTERVAL", time.Hour),
			NotificationRetention: getEnvAsDuration("NOTIFICATION_RETENTION", 30*24*time.Hour),
		},
		Executor: ExecutorConfig{
			Mode:  getEnv("EXECUTOR_MODE", "dryrun"),
			URL:   getEnv("EXECUTOR_URL", ""),
			Token: getEnv("EXECUTOR_TOKEN", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks required settings and value ranges
func (c Config) Validate() error {
	if c.DBPassword == "" {
		return fmt.Errorf("DB_PASSWORD is required")
	}
	if c.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.Automation.PollInterval <= 0 {
		return fmt.Errorf("AUTOMATION_POLL_INTERVAL must be positive")
	}
	if c.Automation.MaxActionsPerDay <= 0 {
		return fmt.Errorf("AUTOMATION_MAX_ACTIONS_PER_DAY must be positive")
	}
	if c.Automation.ActionTimeout <= 0 {
		return fmt.Errorf("AUTOMATION_ACTION_TIMEOUT must be positive")
	}
	if c.Automation.MaintenanceInterval <= 0 {
		return fmt.Errorf("MAINTENANCE_INTERVAL must be positive")
	}
	if c.APIRateLimit <= 0 {
		return fmt.Errorf("API_RATE_LIMIT must be positive")
	}
	if c.Automation.DefaultMaxRetries < 0 {
		return fmt.Errorf("AUTOMATION_DEFAULT_MAX_RETRIES must not be negative")
	}
	if c.Automation.DefaultRetryDelay <= 0 {
		return fmt.Errorf("AUTOMATION_DEFAULT_RETRY_DELAY_MINUTES must be positive")
	}
	if _, err := time.LoadLocation(c.Automation.Timezone); err != nil {
		return fmt.Errorf("AUTOMATION_TIMEZONE %q is invalid: %w", c.Automation.Timezone, err)
	}
	switch c.Executor.Mode {
	case "dryrun":
	case "http":
		if c.Executor.URL == "" {
			return fmt.Errorf("EXECUTOR_URL is required when EXECUTOR_MODE=http")
		}
	default:
		return fmt.Errorf("EXECUTOR_MODE %q is not supported", c.Executor.Mode)
	}
	return nil
}

// Location returns the engine timezone; Validate guarantees it loads
func (c AutomationConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DSN builds the postgres connection string
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost,
		c.DBPort,
		c.DBUser,
		c.DBPassword,
		c.DBName,
		c.DBSSLMode,
	)
}

func ConnectDB() error {
	log := logrus.WithField("component", "database")
	dsn := AppConfig.DSN()
	log.WithField("dsn", maskPassword(dsn)).Info("Attempting to connect to database")

	var err error
	DB, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get DB instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(AppConfig.DBMaxIdleConns)
	sqlDB.SetMaxOpenConns(AppConfig.DBMaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetConnMaxIdleTime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	log.Info("Successfully connected to the database")
	if err := models.Migrate(DB); err != nil {
		return fmt.Errorf("database migration failed: %w", err)
	}
	log.Info("Database migration completed")
	return nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var values []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return values
}

func maskPassword(dsn string) string {
	const passwordMarker = "password="
	startIdx := strings.Index(dsn, passwordMarker)
	if startIdx == -1 {
		return dsn
	}

	startIdx += len(passwordMarker)
	endIdx := strings.IndexAny(dsn[startIdx:], " ")
	if endIdx == -1 {
		return dsn[:startIdx] + "*****"
	}
	return dsn[:startIdx] + "*****" + dsn[startIdx+endIdx:]
}

func logConfig() {
	logrus.WithFields(logrus.Fields{
		"environment":         AppConfig.Environment,
		"server_port":         AppConfig.ServerPort,
		"database":            fmt.Sprintf("%s@%s:%s/%s", AppConfig.DBUser, AppConfig.DBHost, AppConfig.DBPort, AppConfig.DBName),
		"redis_enabled":       AppConfig.Redis.Enabled,
		"poll_interval":       AppConfig.Automation.PollInterval.String(),
		"max_actions_per_day": AppConfig.Automation.MaxActionsPerDay,
		"timezone":            AppConfig.Automation.Timezone,
		"executor_mode":       AppConfig.Executor.Mode,
	}).Info("Loaded configuration")
}
