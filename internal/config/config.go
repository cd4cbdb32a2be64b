// Package config loads application configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Completion service
	OpenAIAPIKey   string
	OpenAIBaseURL  string
	OpenAIModel    string
	SummarizeModel string
	GeminiAPIKey   string
	GeminiModel    string
	// ModelTimeout bounds a single chat turn's completion budget.
	ModelTimeout time.Duration

	// Executor (external booking service)
	ExecutorBaseURL string
	ExecutorTimeout time.Duration

	// Request signing for widget-originated calls
	WidgetSigningSecret string

	// Guard thresholds. Heuristics, deliberately tunable per deployment.
	GuardMaxMessageChars int
	GuardRepeatLimit     int
	GuardBlockScore      float64

	// Availability search
	BookingHorizonDays int
	MaxSlotsPerDay     int

	// Conversation compression
	CompressAfterTurns int
	CompressKeepTurns  int

	// Plan quota fallbacks when a clinic has no explicit plan limits.
	DefaultPerSessionLimit int
	DefaultPerDayLimit     int

	// HTTP rate limiting (per IP)
	RateLimitPerSecond float64
	RateLimitBurst     int

	CORSAllowedOrigins []string

	// SendGrid owner notifications
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		DatabaseURL:   getEnv("DATABASE_URL", ""),
		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:  getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		SummarizeModel: getEnv("SUMMARIZE_MODEL", "gpt-4o-mini"),
		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
		ModelTimeout:   getEnvAsDuration("MODEL_TIMEOUT", 55*time.Second),

		ExecutorBaseURL: getEnv("EXECUTOR_BASE_URL", ""),
		ExecutorTimeout: getEnvAsDuration("EXECUTOR_TIMEOUT", 15*time.Second),

		WidgetSigningSecret: getEnv("WIDGET_SIGNING_SECRET", ""),

		GuardMaxMessageChars: getEnvAsInt("GUARD_MAX_MESSAGE_CHARS", 500),
		GuardRepeatLimit:     getEnvAsInt("GUARD_REPEAT_LIMIT", 3),
		GuardBlockScore:      getEnvAsFloat("GUARD_BLOCK_SCORE", 0.7),

		BookingHorizonDays: getEnvAsInt("BOOKING_HORIZON_DAYS", 14),
		MaxSlotsPerDay:     getEnvAsInt("MAX_SLOTS_PER_DAY", 3),

		CompressAfterTurns: getEnvAsInt("COMPRESS_AFTER_TURNS", 10),
		CompressKeepTurns:  getEnvAsInt("COMPRESS_KEEP_TURNS", 4),

		DefaultPerSessionLimit: getEnvAsInt("DEFAULT_PER_SESSION_LIMIT", 30),
		DefaultPerDayLimit:     getEnvAsInt("DEFAULT_PER_DAY_LIMIT", 300),

		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 2),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 10),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Clinvoy"),
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
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
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
