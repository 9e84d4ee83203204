package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	// Core
	BotToken      string `env:"BOT_TOKEN,required,notEmpty"`
	GeminiAPIKey  string `env:"GEMINI_API_KEY"`
	GeminiBaseURL string `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta"`

	// Storage
	StorageBackend string        `env:"STORAGE_BACKEND" envDefault:"sqlite"`
	SQLitePath     string        `env:"SQLITE_PATH" envDefault:"./data/evochat.db"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	StorageSlot    string        `env:"STORAGE_SLOT" envDefault:"evochat_pro_v9_stable"`
	StoreIdleTTL   time.Duration `env:"STORE_IDLE_TTL" envDefault:"30m"`

	// Admin
	AdminIDs []int64 `env:"ADMIN_IDS" envSeparator:","`

	// Generation
	DefaultVoice   string  `env:"DEFAULT_VOICE" envDefault:"Kore"`
	Temperature    float64 `env:"TEMPERATURE" envDefault:"0.7"`
	ThinkingBudget int     `env:"THINKING_BUDGET" envDefault:"16384"`

	// Pricing (USD per 1M tokens), usage report only
	PricePromptPerMTok     decimal.Decimal `env:"PRICE_PROMPT_PER_MTOK" envDefault:"0.50"`
	PriceCompletionPerMTok decimal.Decimal `env:"PRICE_COMPLETION_PER_MTOK" envDefault:"3.00"`

	// Bot behavior
	RateLimitPerMinute int           `env:"RATE_LIMIT_PER_MINUTE" envDefault:"12"`
	RenderInterval     time.Duration `env:"RENDER_INTERVAL" envDefault:"1s"`
	DropPendingUpdates bool          `env:"BOT_DROP_PENDING_UPDATES" envDefault:"false"`

	// Server
	Port int `env:"PORT" envDefault:"3000"`

	// Logging
	LogLevel          string `env:"LOG_LEVEL" envDefault:"info"`
	LogTelegramChatID int64  `env:"LOG_TELEGRAM_CHAT_ID"`
	LogTopicError     int    `env:"LOG_TOPIC_ERROR"`
	LogTopicEvents    int    `env:"LOG_TOPIC_EVENTS"`
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageBackend {
	case "sqlite", "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres storage backend")
		}
	case "redis":
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the redis storage backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
	if c.RateLimitPerMinute <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be positive")
	}
	return nil
}

func (c *Config) IsAdmin(telegramID int64) bool {
	for _, id := range c.AdminIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

// SlotFor returns the durable storage slot holding a chat's snapshot.
func (c *Config) SlotFor(chatID int64) string {
	return fmt.Sprintf("%s:%d", c.StorageSlot, chatID)
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
