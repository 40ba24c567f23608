package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for the application.
type Config struct {
	// Catalog (Ghost) Config
	CatalogURL        string
	CatalogContentKey string
	CatalogAdminKey   string
	CatalogBudget     int
	CatalogAttempts   int
	CatalogRPS        float64
	CatalogTimeout    time.Duration

	// Cache Config
	RecipeTTL   time.Duration
	NegativeTTL time.Duration
	SearchTTL   time.Duration
	StaleAfter  time.Duration
	RedisAddr   string

	DatabasePath string
	LogMode      string
	// UserID is the acting user for the command line tool.
	UserID string

	// Telegram Config
	TelegramBotToken       string
	TelegramWebhookURL     string
	TelegramAllowedUserIDs []int64
}

// NewFromEnv creates a new Config object from environment variables.
func NewFromEnv() (*Config, error) {
	catalogURL := os.Getenv("CATALOG_URL")
	if catalogURL == "" {
		return nil, fmt.Errorf("CATALOG_URL environment variable not set")
	}

	contentKey := os.Getenv("CATALOG_CONTENT_KEY")
	if contentKey == "" {
		return nil, fmt.Errorf("CATALOG_CONTENT_KEY environment variable not set")
	}

	cfg := &Config{
		CatalogURL:         strings.TrimRight(catalogURL, "/"),
		CatalogContentKey:  contentKey,
		CatalogAdminKey:    os.Getenv("CATALOG_ADMIN_KEY"),
		RedisAddr:          strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		DatabasePath:       envOr("DATABASE_PATH", "data/mealplanner.db"),
		LogMode:            envOr("LOG_MODE", "dev"),
		UserID:             envOr("MEAL_PLANNER_USER", "local"),
		TelegramBotToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramWebhookURL: os.Getenv("TELEGRAM_WEBHOOK_URL"),
	}

	var err error
	if cfg.CatalogBudget, err = intEnv("CATALOG_DAILY_BUDGET", 150); err != nil {
		return nil, err
	}
	if cfg.CatalogAttempts, err = intEnv("CATALOG_MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.CatalogRPS, err = floatEnv("CATALOG_RPS", 2); err != nil {
		return nil, err
	}
	if cfg.CatalogTimeout, err = durationEnv("CATALOG_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.RecipeTTL, err = durationEnv("RECIPE_CACHE_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.NegativeTTL, err = durationEnv("RECIPE_NEGATIVE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.SearchTTL, err = durationEnv("SEARCH_CACHE_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.StaleAfter, err = durationEnv("RECIPE_STALE_AFTER", 7*24*time.Hour); err != nil {
		return nil, err
	}

	// Comma separated list, e.g. "123,456"
	if raw := strings.TrimSpace(os.Getenv("TELEGRAM_ALLOWED_USER_IDS")); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("TELEGRAM_ALLOWED_USER_IDS contains invalid id %q", part)
			}
			cfg.TelegramAllowedUserIDs = append(cfg.TelegramAllowedUserIDs, id)
		}
	}

	return cfg, nil
}

func envOr(name, def string) string {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		return v
	}
	return def
}

func intEnv(name string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil || i < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer, got %q", name, v)
	}
	return i, nil
}

func floatEnv(name string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("%s must be a non-negative number, got %q", name, v)
	}
	return f, nil
}

func durationEnv(name string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s must be a non-negative duration, got %q", name, v)
	}
	return d, nil
}
