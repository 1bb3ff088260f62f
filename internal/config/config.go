package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds application configuration
type Config struct {
	Port      string
	DBConn    string
	LogLevel  string
	JWTSecret string

	RunMigrations bool

	// Scheduler and forecast policy
	ConfirmationToleranceDays int
	LowBalanceFloor           decimal.Decimal
	BaselineWindowDays        int
	MaxCatchUp                int
	ForecastCacheTTL          time.Duration
	AutoGenerateSchedule      string
	AlertLookaheadDays        int

	// HTTP rate limiting
	RateLimitRPS   float64
	RateLimitBurst int

	// Alert e-mail
	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string
}

// NewConfig loads configuration from environment variables, reading a .env
// file first when one is present
func NewConfig() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		DBConn:    getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=bank sslmode=disable"),
		LogLevel:  getEnv("LOG_LEVEL", "INFO"),
		JWTSecret: getEnv("JWT_SECRET", "secret"),

		AutoGenerateSchedule: getEnv("AUTO_GENERATE_SCHEDULE", "0 5 * * *"),

		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SenderEmail:  getEnv("SENDER_EMAIL", "noreply@cashflow.local"),
	}

	var err error
	if cfg.RunMigrations, err = getEnvBool("RUN_MIGRATIONS", true); err != nil {
		return nil, err
	}
	if cfg.ConfirmationToleranceDays, err = getEnvInt("CONFIRMATION_TOLERANCE_DAYS", 3); err != nil {
		return nil, err
	}
	if cfg.BaselineWindowDays, err = getEnvInt("BASELINE_WINDOW_DAYS", 90); err != nil {
		return nil, err
	}
	if cfg.MaxCatchUp, err = getEnvInt("MAX_CATCH_UP", 1000); err != nil {
		return nil, err
	}
	if cfg.AlertLookaheadDays, err = getEnvInt("ALERT_LOOKAHEAD_DAYS", 14); err != nil {
		return nil, err
	}
	if cfg.RateLimitBurst, err = getEnvInt("RATE_LIMIT_BURST", 20); err != nil {
		return nil, err
	}

	floor := getEnv("LOW_BALANCE_FLOOR", "0")
	if cfg.LowBalanceFloor, err = decimal.NewFromString(floor); err != nil {
		return nil, fmt.Errorf("LOW_BALANCE_FLOOR %q is not a number: %w", floor, err)
	}

	ttl := getEnv("FORECAST_CACHE_TTL", "5m")
	if cfg.ForecastCacheTTL, err = time.ParseDuration(ttl); err != nil {
		return nil, fmt.Errorf("FORECAST_CACHE_TTL %q is not a duration: %w", ttl, err)
	}

	rps := getEnv("RATE_LIMIT_RPS", "10")
	if cfg.RateLimitRPS, err = strconv.ParseFloat(rps, 64); err != nil {
		return nil, fmt.Errorf("RATE_LIMIT_RPS %q is not a number: %w", rps, err)
	}

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.ConfirmationToleranceDays < 0 {
		return nil, fmt.Errorf("CONFIRMATION_TOLERANCE_DAYS must not be negative")
	}
	if cfg.MaxCatchUp <= 0 {
		return nil, fmt.Errorf("MAX_CATCH_UP must be positive")
	}

	return cfg, nil
}

// Default returns the configuration used when no environment is set
func Default() *Config {
	return &Config{
		Port:                      "8080",
		LogLevel:                  "INFO",
		RunMigrations:             true,
		ConfirmationToleranceDays: 3,
		LowBalanceFloor:           decimal.Zero,
		BaselineWindowDays:        90,
		MaxCatchUp:                1000,
		ForecastCacheTTL:          5 * time.Minute,
		AutoGenerateSchedule:      "0 5 * * *",
		AlertLookaheadDays:        14,
		RateLimitRPS:              10,
		RateLimitBurst:            20,
		SMTPPort:                  "587",
	}
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not an integer: %w", key, value, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s %q is not a boolean: %w", key, value, err)
	}
	return b, nil
}
