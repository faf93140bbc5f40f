package app

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const DefaultBackendBaseURL = "http://localhost:5000/api"

type Config struct {
	HTTPAddr            string
	LogLevel            string
	LogFormat           string
	UserAgent           string
	BackendBaseURL      string
	BackendTimeout      time.Duration
	BackendMaxInFlight  int
	SuggestDebounce     time.Duration
	SuggestMinChars     int
	SuggestDiscardStale bool
	SessionIdleTTL      time.Duration
	RateLimitRPS        float64
	RateLimitBurst      int
	WSEventsPerSecond   float64
	AllowedOrigins      []string
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:            getEnv("HTTP_ADDR", ":8080"),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:           strings.ToLower(getEnv("LOG_FORMAT", "text")),
		UserAgent:           getEnv("BACKEND_USER_AGENT", "movie-recommender-panel/1.0"),
		BackendBaseURL:      normalizeBaseURL(getEnv("BACKEND_BASE_URL", DefaultBackendBaseURL)),
		BackendTimeout:      time.Duration(getEnvInt("BACKEND_TIMEOUT_SECONDS", 15)) * time.Second,
		BackendMaxInFlight:  getEnvInt("BACKEND_MAX_INFLIGHT", 32),
		SuggestDebounce:     time.Duration(getEnvInt("SUGGEST_DEBOUNCE_MS", 300)) * time.Millisecond,
		SuggestMinChars:     getEnvInt("SUGGEST_MIN_CHARS", 2),
		SuggestDiscardStale: getEnvBool("SUGGEST_DISCARD_STALE", false),
		SessionIdleTTL:      time.Duration(getEnvInt("SESSION_IDLE_MINUTES", 30)) * time.Minute,
		RateLimitRPS:        float64(getEnvInt("RATE_LIMIT_RPS", 50)),
		RateLimitBurst:      getEnvInt("RATE_LIMIT_BURST", 100),
		WSEventsPerSecond:   float64(getEnvInt("WS_EVENTS_PER_SECOND", 30)),
		AllowedOrigins:      parseCSV(os.Getenv("ALLOWED_ORIGINS")),
	}
}

// LoadDotEnv seeds the process environment from .env files. Variables that
// are already set win; missing files are not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	return out
}

// normalizeBaseURL adds a scheme when missing and strips trailing slashes so
// endpoint paths can be appended directly.
func normalizeBaseURL(raw string) string {
	value := strings.TrimSpace(raw)
	if value == "" {
		return DefaultBackendBaseURL
	}
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		value = "http://" + value
	}
	return strings.TrimRight(value, "/")
}
