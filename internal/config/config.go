package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	DatabaseURL        string
	DBMaxConns         int
	JWTSecret          string
	EncryptionKey      string
	DefaultTimezone    string
	CORSAllowedOrigins []string

	// Notification hub
	HeartbeatInterval time.Duration
	SendBufferSize    int

	// Rate limiting (Redis-backed; disabled when RedisAddr is empty)
	RedisAddr          string
	RedisPassword      string
	RedisTLS           bool
	RateLimitPerWindow int
	RateLimitWindow    time.Duration

	// Prescription documents (S3; inline storage when DocumentBucket is empty)
	DocumentBucket      string
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// Load reads configuration from environment variables. Outside production a
// local .env file is merged first when present.
func Load() *Config {
	if !strings.EqualFold(os.Getenv("ENV"), "production") {
		_ = godotenv.Load()
	}
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		DBMaxConns:         getEnvAsInt("DB_MAX_CONNS", 10),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		EncryptionKey:      getEnv("ENCRYPTION_KEY", ""),
		DefaultTimezone:    getEnv("CLINIC_TIMEZONE", "Asia/Kolkata"),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),

		HeartbeatInterval: getEnvAsDuration("WS_HEARTBEAT_INTERVAL", 30*time.Second),
		SendBufferSize:    getEnvAsInt("WS_SEND_BUFFER", 32),

		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),
		RateLimitPerWindow: getEnvAsInt("RATE_LIMIT_PER_WINDOW", 100),
		RateLimitWindow:    getEnvAsDuration("RATE_LIMIT_WINDOW", 15*time.Minute),

		DocumentBucket:      getEnv("DOCUMENT_BUCKET", ""),
		AWSRegion:           getEnv("AWS_REGION", "ap-south-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
