package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	evochat "github.com/set-night/evochat"
	"github.com/set-night/evochat/internal/api"
	"github.com/set-night/evochat/internal/config"
	"github.com/set-night/evochat/internal/handler"
	"github.com/set-night/evochat/internal/middleware"
	"github.com/set-night/evochat/internal/repository"
	"github.com/set-night/evochat/internal/service"
	"github.com/set-night/evochat/internal/telegram"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	// Setup context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Open conversation storage
	migrationsFS, err := fs.Sub(evochat.MigrationsFS, "migrations")
	if err != nil {
		slog.Error("failed to load embedded migrations", "error", err)
		os.Exit(1)
	}
	snapshots, err := repository.Open(ctx, cfg, migrationsFS)
	if err != nil {
		slog.Error("failed to open storage", "backend", cfg.StorageBackend, "error", err)
		os.Exit(1)
	}
	defer snapshots.Close()

	// Initialize services
	if cfg.GeminiAPIKey == "" {
		slog.Warn("GEMINI_API_KEY is not set, chats must provide their own key with /key")
	}
	gemini := service.NewGeminiService(cfg.GeminiAPIKey, cfg.GeminiBaseURL, service.RequestOptions{
		Temperature:    cfg.Temperature,
		ThinkingBudget: cfg.ThinkingBudget,
	})
	chat := service.NewChatService(gemini, func(apiKey string) service.Generator {
		return gemini.WithAPIKey(apiKey)
	})
	cache := service.NewStoreCache(snapshots, cfg.SlotFor, cfg.StoreIdleTTL, service.ConversationOptions{
		Voice: cfg.DefaultVoice,
	})
	limiter := middleware.NewRateLimiter(cfg.RateLimitPerMinute)

	// Handler pointer for use in default handler closure
	var h *handler.Handler
	var errLogger *telegram.ErrorLogger

	// Create bot
	opts := []bot.Option{
		bot.WithMiddlewares(
			middleware.Recover(func(err error, chatID int64) {
				errLogger.LogError(err, "handler", chatID)
			}),
			middleware.Logging(),
			limiter.Middleware(),
			middleware.ChatLoader(cache),
		),
		bot.WithDefaultHandler(func(ctx context.Context, b *bot.Bot, update *models.Update) {
			if h == nil {
				return
			}
			h.Default(ctx, b, update)
		}),
	}
	b, err := bot.New(cfg.BotToken, opts...)
	if err != nil {
		slog.Error("failed to create bot", "error", err)
		os.Exit(1)
	}

	// Get bot info
	me, err := b.GetMe(ctx)
	if err != nil {
		slog.Error("failed to get bot info", "error", err)
		os.Exit(1)
	}
	slog.Info("bot info retrieved", "id", me.ID, "username", me.Username)

	if cfg.DropPendingUpdates {
		if _, err := b.DeleteWebhook(ctx, &bot.DeleteWebhookParams{DropPendingUpdates: true}); err != nil {
			slog.Warn("failed to drop pending updates", "error", err)
		}
	}

	// Initialize telegram logger
	errLogger = telegram.NewErrorLogger(b, cfg)

	// Initialize handler
	h = handler.New(handler.Deps{
		Bot:         b,
		Cfg:         cfg,
		Cache:       cache,
		Chat:        chat,
		Snapshots:   snapshots,
		ErrLogger:   errLogger,
		BotUsername: me.Username,
	})
	h.Register()

	// Evict idle conversations and forget idle rate limit buckets
	go cache.Run(ctx, config.StoreEvictPeriod)
	go func() {
		ticker := time.NewTicker(config.StoreEvictPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Prune(cfg.StoreIdleTTL)
			}
		}
	}()

	// Start operations server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.NewRouter(snapshots, cache),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("starting operations server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("operations server failed", "error", err)
		}
	}()

	// Start bot
	slog.Info("starting bot", "username", me.Username, "id", me.ID, "storage", cfg.StorageBackend)
	errLogger.LogLifecycle("started", me.Username)
	b.Start(ctx)

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	cache.StopAll()
	if err := chat.Wait(shutdownCtx); err != nil {
		slog.Warn("replies still running at shutdown", "error", err)
	}
	if err := cache.Close(shutdownCtx); err != nil {
		slog.Error("failed to flush conversations", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to stop operations server", "error", err)
	}

	slog.Info("bot stopped gracefully")
}
