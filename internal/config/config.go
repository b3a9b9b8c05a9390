package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const (
	FeedModeMock = "mock"
	FeedModeHTTP = "http"
)

type Config struct {
	LogLevel        slog.Level
	HTTPAddr        string        `validate:"required"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`

	FeedMode        string        `validate:"oneof=mock http"`
	FeedURL         string        `validate:"omitempty,url"`
	FeedFixture     string
	RefreshInterval time.Duration `validate:"gt=0"`
	PerturbDelta    float64       `validate:"gte=0,lte=1"`

	TileURL         string   `validate:"required"`
	TileAttribution string
	TileSubdomains  []string
	FitPadding      int `validate:"gte=0"`
	ViewportWidth   int `validate:"gt=0"`
	ViewportHeight  int `validate:"gt=0"`
	MinZoom         int `validate:"gte=0,lte=22"`
	MaxZoom         int `validate:"gtefield=MinZoom,lte=22"`

	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	CORSOrigins    []string
	MetricsEnabled bool

	// RateLimit is requests per RateLimitWindow per client IP; 0 disables.
	RateLimit          int           `validate:"gte=0"`
	RateLimitWindow    time.Duration `validate:"gt=0"`
	RateLimitWhitelist []string
}

func Load() (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{
		LogLevel:        getLogLevelEnv("LOG_LEVEL", slog.LevelInfo),
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		ReadTimeout:     getDurationEnv("READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDurationEnv("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		FeedMode:        strings.ToLower(getEnv("FEED_MODE", FeedModeMock)),
		FeedURL:         getEnv("FEED_URL", ""),
		FeedFixture:     getEnv("FEED_FIXTURE", ""),
		RefreshInterval: getDurationEnv("REFRESH_INTERVAL", 30*time.Second),
		PerturbDelta:    getFloatEnv("PERTURB_DELTA", 0.0005),

		TileURL:         getEnv("TILE_URL", "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png"),
		TileAttribution: getEnv("TILE_ATTRIBUTION", `&copy; <a href="https://www.openstreetmap.org/copyright">OpenStreetMap</a> contributors`),
		TileSubdomains:  getCSVEnvDefault("TILE_SUBDOMAINS", []string{"a", "b", "c"}),
		FitPadding:      getIntEnv("FIT_PADDING", 50),
		ViewportWidth:   getIntEnv("VIEWPORT_WIDTH", 1024),
		ViewportHeight:  getIntEnv("VIEWPORT_HEIGHT", 600),
		MinZoom:         getIntEnv("MIN_ZOOM", 0),
		MaxZoom:         getIntEnv("MAX_ZOOM", 18),

		RedisEnabled:  getBoolEnv("REDIS_ENABLED", false),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),
		CacheTTL:      getDurationEnv("CACHE_TTL", 5*time.Minute),

		CORSOrigins:    getCSVEnvDefault("CORS_ORIGINS", []string{"*"}),
		MetricsEnabled: getBoolEnv("METRICS_ENABLED", true),

		RateLimit:          getIntEnv("RATE_LIMIT", 120),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitWhitelist: getCSVEnvDefault("RATE_LIMIT_WHITELIST", []string{"127.0.0.1", "::1"}),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.FeedMode == FeedModeHTTP && cfg.FeedURL == "" {
		return nil, fmt.Errorf("FEED_URL environment variable is required when FEED_MODE=http")
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getBoolEnv(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func getLogLevelEnv(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}

	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return defaultVal
	}
}

func getCSVEnvDefault(key string, defaultVal []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultVal
	}

	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			result = append(result, t)
		}
	}
	return result
}
