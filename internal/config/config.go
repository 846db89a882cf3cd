package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ServerHost string
	ServerPort string

	RedisURL string

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Collaboration tuning
	SaveDebounce   time.Duration
	PresenceTTL    time.Duration
	SessionTimeout time.Duration

	// Observability
	JaegerEndpoint string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "collabd"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		ServerHost: getEnv("SERVER_HOST", "localhost"),
		ServerPort: getEnv("SERVER_PORT", "8080"),

		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", "minioadmin"),
		MinioBucket:    getEnv("MINIO_BUCKET", "collabd-assets"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		SaveDebounce:   getEnvMillis("COLLAB_SAVE_DEBOUNCE_MS", 850),
		PresenceTTL:    getEnvMillis("COLLAB_PRESENCE_TTL_MS", 120_000),
		SessionTimeout: getEnvMillis("COLLAB_SESSION_TIMEOUT_MS", 300_000),

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}

	if cfg.SaveDebounce <= 0 {
		return nil, fmt.Errorf("COLLAB_SAVE_DEBOUNCE_MS must be positive")
	}

	return cfg, nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func getEnvMillis(key string, defaultValue int) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return time.Duration(defaultValue) * time.Millisecond
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return time.Duration(defaultValue) * time.Millisecond
	}
	return time.Duration(parsed) * time.Millisecond
}
