package infra

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv         string
	Port           string
	DatabaseURL    string
	StoragePath    string
	AllowedOrigins []string

	GeminiAPIKey     string
	GeminiBaseURL    string
	GeminiTextModel  string
	GeminiImageModel string
	GeminiVideoModel string

	PollInterval    time.Duration
	MaxPollAttempts int
	SceneCooldown   time.Duration
	QuotaBackoff    []time.Duration

	EventRetention  time.Duration
	CleanupInterval time.Duration

	StreamPollInterval time.Duration
	StreamKeepalive    time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. DATABASE_URL is optional: without it the service
// runs on the in-memory store, which suits local development and tests.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:         getEnv("APP_ENV", "development"),
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		StoragePath:    getEnv("STORAGE_PATH", "./data"),
		AllowedOrigins: splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),

		GeminiAPIKey:     os.Getenv("GEMINI_API_KEY"),
		GeminiBaseURL:    getEnv("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com/v1beta"),
		GeminiTextModel:  getEnv("GEMINI_TEXT_MODEL", "gemini-3-pro-preview"),
		GeminiImageModel: getEnv("GEMINI_IMAGE_MODEL", "gemini-3-pro-image-preview"),
		GeminiVideoModel: getEnv("GEMINI_VIDEO_MODEL", "veo-3.1-generate-preview"),

		PollInterval:    time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 10)),
		MaxPollAttempts: getEnvInt("MAX_POLL_ATTEMPTS", 60),
		SceneCooldown:   time.Second * time.Duration(getEnvInt("SCENE_COOLDOWN_SECONDS", 10)),

		EventRetention:  time.Hour * time.Duration(getEnvInt("EVENT_RETENTION_HOURS", 24)),
		CleanupInterval: time.Minute * time.Duration(getEnvInt("CLEANUP_INTERVAL_MINUTES", 60)),

		StreamPollInterval: time.Millisecond * time.Duration(getEnvInt("STREAM_POLL_INTERVAL_MS", 500)),
		StreamKeepalive:    time.Second * time.Duration(getEnvInt("STREAM_KEEPALIVE_SECONDS", 15)),

		HTTPReadTimeout: time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		// Write timeout defaults to 0: a server-wide deadline would sever
		// long-lived event streams.
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
	}

	base := time.Second * time.Duration(getEnvInt("QUOTA_RETRY_BASE_SECONDS", 60))
	attempts := getEnvInt("QUOTA_RETRY_ATTEMPTS", 3)
	for i := 0; i < attempts; i++ {
		cfg.QuotaBackoff = append(cfg.QuotaBackoff, base<<i)
	}

	return cfg, nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
