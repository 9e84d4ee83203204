package handler

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/evochat/internal/config"
	"github.com/set-night/evochat/internal/middleware"
	"github.com/set-night/evochat/internal/service"
	tg "github.com/set-night/evochat/internal/telegram"
)

const commandsText = "📋 *Commands:*\n" +
	"/new — Start a new session\n" +
	"/sessions — Browse sessions\n" +
	"/settings — Mode, voice and audio\n" +
	"/mode — Switch chat mode\n" +
	"/audio — Toggle spoken replies\n" +
	"/stop — Stop the current reply\n" +
	"/usage — Token usage of this session\n" +
	"/key — Use your own API key\n\n" +
	"Send text, photos, videos, audio or voice notes. Edit a message to regenerate the reply."

func (h *Handler) handleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	chatID := update.Message.Chat.ID
	h.reply(ctx, b, chatID, fmt.Sprintf("👋 %s\n\n%s", config.WelcomeText, commandsText))
}

func (h *Handler) handleHelp(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	h.reply(ctx, b, update.Message.Chat.ID, commandsText)
}

func (h *Handler) handleNew(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	store := middleware.GetStore(ctx)
	if store == nil {
		return
	}

	store.CreateSession()
	h.reply(ctx, b, update.Message.Chat.ID, "🆕 New session started.\n\n"+config.WelcomeText)
}

func (h *Handler) handleStop(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	store := middleware.GetStore(ctx)
	if store == nil {
		return
	}

	if store.Stop() {
		h.reply(ctx, b, update.Message.Chat.ID, "⏹ Stopping...")
		return
	}
	h.reply(ctx, b, update.Message.Chat.ID, "Nothing to stop.")
}

func (h *Handler) handleKey(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	store := middleware.GetStore(ctx)
	if store == nil {
		return
	}
	chatID := update.Message.Chat.ID

	// never leave a key visible in the chat history
	b.DeleteMessage(ctx, &bot.DeleteMessageParams{ChatID: chatID, MessageID: update.Message.ID})

	arg := commandArg(update.Message.Text)
	switch {
	case arg == "":
		state := "using the shared key"
		if store.APIKey() != "" {
			state = "using your own key"
		}
		h.reply(ctx, b, chatID, fmt.Sprintf("🔑 This chat is %s.\n\nSend /key <api-key> to set a key or /key clear to remove it.", state))
	case strings.EqualFold(arg, "clear"):
		store.SetAPIKey("")
		h.reply(ctx, b, chatID, "🔑 Your key was removed. The shared key is used again.")
	default:
		store.SetAPIKey(arg)
		store.SetKeyPrompt(false)
		h.reply(ctx, b, chatID, "🔑 Key saved for this chat. It is kept in memory only and is lost on restart.\n\n"+resetNote(h.cfg.StoreIdleTTL))
	}
}

func (h *Handler) handleUsage(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	store := middleware.GetStore(ctx)
	if store == nil {
		return
	}
	chatID := update.Message.Chat.ID

	sess, err := store.ActiveSession()
	if err != nil {
		slog.Error("active session", "error", err)
		h.reply(ctx, b, chatID, "❌ No active session.")
		return
	}

	r := service.SessionUsage(sess, h.pricing)
	h.reply(ctx, b, chatID, fmt.Sprintf(
		"📊 *Usage: %s*\n\n"+
			"Replies: %d\n"+
			"Prompt tokens: %d\n"+
			"Completion tokens: %d\n"+
			"Total tokens: %d\n"+
			"Estimated cost: $%s",
		tg.EscapeMarkdown(sess.Title), r.Replies, r.PromptTokens, r.CompletionTokens, r.TotalTokens, r.Cost.StringFixed(4),
	))
}

func (h *Handler) handleStat(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	if !h.cfg.IsAdmin(update.Message.From.ID) {
		return
	}
	chatID := update.Message.Chat.ID

	stored, err := h.snapshots.Count(ctx)
	if err != nil {
		slog.Error("count snapshots", "error", err)
		h.reply(ctx, b, chatID, "❌ Failed to read statistics.")
		return
	}

	h.reply(ctx, b, chatID, fmt.Sprintf(
		"📊 *Statistics*\n\n"+
			"Stored chats: %d\n"+
			"Loaded chats: %d\n"+
			"Storage: %s\n"+
			"Uptime: %s\n"+
			"Bot: @%s",
		stored, h.cache.Len(), h.cfg.StorageBackend, time.Since(h.startedAt).Truncate(time.Second), tg.EscapeMarkdown(h.botUsername),
	))
}
