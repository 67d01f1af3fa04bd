package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds application configuration
type Config struct {
	Port            string
	DBConn          string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	LogLevel        string
	JWTSecret       string
	EncryptionKey   string
	CardPrefix      string
	CardExpiryYears int
	SweepSchedule   string
	SMTPHost        string
	SMTPPort        string
	SMTPUsername    string
	SMTPPassword    string
	SenderEmail     string
}

// NewConfig loads configuration from environment variables
func NewConfig() (*Config, error) {
	cfg := &Config{
		Port:          getEnv("PORT", "8080"),
		DBConn:        getEnv("DB_CONN", "host=localhost port=5432 user=test password=test dbname=bank sslmode=disable"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:     getEnv("JWT_SECRET", "secret"),
		EncryptionKey: getEnv("ENCRYPTION_KEY", ""),
		CardPrefix:    getEnv("CARD_PREFIX", "4000"),
		SweepSchedule: getEnv("SWEEP_SCHEDULE", "0 3 * * *"),
		SMTPHost:      getEnv("SMTP_HOST", ""),
		SMTPPort:      getEnv("SMTP_PORT", "587"),
		SMTPUsername:  getEnv("SMTP_USERNAME", ""),
		SMTPPassword:  getEnv("SMTP_PASSWORD", ""),
		SenderEmail:   getEnv("SENDER_EMAIL", "noreply@card-service.local"),
	}

	var err error
	cfg.RedisDB, err = strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("REDIS_DB must be an integer: %w", err)
	}
	cfg.CardExpiryYears, err = strconv.Atoi(getEnv("CARD_EXPIRY_YEARS", "5"))
	if err != nil {
		return nil, fmt.Errorf("CARD_EXPIRY_YEARS must be an integer: %w", err)
	}
	if cfg.CardExpiryYears < 1 {
		return nil, fmt.Errorf("CARD_EXPIRY_YEARS must be positive, got %d", cfg.CardExpiryYears)
	}

	if cfg.DBConn == "" {
		return nil, fmt.Errorf("DB_CONN is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}

	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
