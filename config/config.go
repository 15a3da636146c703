package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	PageSize       int
	MaxRetries     int
	RetryBaseDelay time.Duration
	RateLimitMs    int

	FuzzyThreshold float64
	MinSizeSqft    float64

	LogLevel   string
	LogFormat  string
	FluentHost string
	FluentPort int
	FluentTag  string

	MetricsAddr  string
	SnapshotPath string
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() *Config {
	return &Config{
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "market"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "market123"),
		PostgresDB:       getEnv("POSTGRES_DB", "market_db"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		PageSize:       getEnvInt("PAGE_SIZE", 1000),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay: time.Duration(getEnvInt("RETRY_BASE_DELAY_MS", 1000)) * time.Millisecond,
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 0),

		FuzzyThreshold: getEnvFloat("FUZZY_THRESHOLD", 90),
		MinSizeSqft:    getEnvFloat("MIN_SIZE_SQFT", 1076),

		LogLevel:   getEnv("LOG_LEVEL", "info"),
		LogFormat:  getEnv("LOG_FORMAT", "text"),
		FluentHost: getEnv("FLUENT_HOST", ""),
		FluentPort: getEnvInt("FLUENT_PORT", 24224),
		FluentTag:  getEnv("FLUENT_TAG", "market-engine"),

		MetricsAddr:  getEnv("METRICS_ADDR", ""),
		SnapshotPath: getEnv("SNAPSHOT_PATH", ""),
	}
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}
