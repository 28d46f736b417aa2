// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"

	"cafepos/internal/logger"
)

// Settings is a snapshot of everything main.go needs to wire the server.
type Settings struct {
	Environment       string
	ServerAddress     string
	DatabasePath      string
	CatalogSeedPath   string
	AllowedOrigin     string
	TimeZone          string
	RequireAuth       bool
	JWTSecret         string
	JWTIssuer         string
	RedisURL          string
	ReconcileInterval time.Duration
	LowStockThreshold int
	CheckoutRate      float64
}

const (
	defaultDatabasePath      = "./data/cafepos.db"
	defaultTimeZone          = "Asia/Jakarta"
	defaultReconcileInterval = 60 * time.Second
	defaultLowStockThreshold = 5
	defaultCheckoutRate      = 5.0
)

//
// --- Utility Helpers ---
//

// Environment returns ENVIRONMENT, defaulting to dev.
func Environment() string {
	env := strings.TrimSpace(os.Getenv("ENVIRONMENT"))
	if env == "" {
		env = "dev"
	}
	return strings.ToLower(env)
}

// GetEnvBasedSetting reads <BASE>_<ENV>, e.g. DATABASE_PATH_DEV.
func GetEnvBasedSetting(base string) string {
	return os.Getenv(fmt.Sprintf("%s_%s", base, strings.ToUpper(Environment())))
}

// LogCurrentEnvironment logs which environment is running
func LogCurrentEnvironment() {
	if Environment() == "dev" {
		logger.LogInfo("Running in development environment")
	} else {
		logger.LogInfo("Running in %s environment", Environment())
	}
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && v
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		logger.LogWarn("Invalid %s: %q, using default %d", key, raw, fallback)
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || f <= 0 {
		logger.LogWarn("Invalid %s: %q, using default %v", key, raw, fallback)
		return fallback
	}
	return f
}

//
// --- Loaders ---
//

// LoadEnv reads .env file
func LoadEnv() {
	wd, err := os.Getwd()
	if err != nil {
		log.Printf("Could not determine working directory: %v", err)
	}

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("No .env file found in %s. Using system environment variables.", wd)
	} else {
		log.Printf("Loaded environment variables from .env file in %s", wd)
	}
}

// LoggerConfig returns a logger.Config struct populated from environment
func LoggerConfig() logger.Config {
	logDir := GetEnvBasedSetting("LOGS_DIRECTORY")
	if logDir == "" {
		logDir = "./logs"
	}

	logFormat := GetEnvBasedSetting("LOG_FILE_FORMAT")
	if logFormat == "" {
		logFormat = "server_%s.log"
	}

	return logger.Config{
		LogsDirectory: logDir,
		LogFileFormat: logFormat,
		TimeZone:      envOr("TIME_ZONE", defaultTimeZone),
		Level:         envOr("LOG_LEVEL", "INFO"),
	}
}

// Load builds a Settings snapshot from the environment.
func Load() (*Settings, error) {
	s := &Settings{
		Environment:       Environment(),
		ServerAddress:     envOr("SERVER_HOST", "127.0.0.1") + ":" + envOr("SERVER_PORT", "5051"),
		DatabasePath:      GetEnvBasedSetting("DATABASE_PATH"),
		CatalogSeedPath:   GetEnvBasedSetting("CATALOG_SEED_PATH"),
		AllowedOrigin:     GetEnvBasedSetting("ALLOWED_ORIGIN"),
		TimeZone:          envOr("TIME_ZONE", defaultTimeZone),
		RequireAuth:       envBool("REQUIRE_AUTH"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		JWTIssuer:         os.Getenv("JWT_ISSUER"),
		RedisURL:          os.Getenv("REDIS_URL"),
		ReconcileInterval: time.Duration(envInt("RECONCILE_INTERVAL_SECONDS", int(defaultReconcileInterval/time.Second))) * time.Second,
		LowStockThreshold: envInt("LOW_STOCK_THRESHOLD", defaultLowStockThreshold),
		CheckoutRate:      envFloat("CHECKOUT_RATE_PER_SECOND", defaultCheckoutRate),
	}

	if s.DatabasePath == "" {
		s.DatabasePath = defaultDatabasePath
	}
	if dir := filepath.Dir(s.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0775); err != nil {
			return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
		}
	}

	if s.AllowedOrigin == "" {
		s.AllowedOrigin = "*"
		logger.LogWarn("ALLOWED_ORIGIN not set, using '*' (allow all origins)")
	}

	if _, err := time.LoadLocation(s.TimeZone); err != nil {
		return nil, fmt.Errorf("invalid TIME_ZONE %q: %w", s.TimeZone, err)
	}

	if s.RequireAuth && s.JWTSecret == "" {
		return nil, fmt.Errorf("REQUIRE_AUTH is set but JWT_SECRET is missing")
	}
	if s.JWTSecret == "" {
		logger.LogWarn("JWT_SECRET is not set; operator tokens will not be verified and sales are anonymous")
	}

	return s, nil
}

// Location returns the configured time zone, falling back to UTC.
func (s *Settings) Location() *time.Location {
	loc, err := time.LoadLocation(s.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}
