package handler

import (
	"context"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/evochat/internal/config"
	"github.com/set-night/evochat/internal/service"
	"github.com/set-night/evochat/internal/telegram"
)

// SnapshotCounter reports how many chats have durable state.
type SnapshotCounter interface {
	Count(ctx context.Context) (int, error)
}

// Handler holds all dependencies needed by command and callback handlers.
type Handler struct {
	bot         *bot.Bot
	cfg         *config.Config
	cache       *service.StoreCache
	chat        *service.ChatService
	snapshots   SnapshotCounter
	pricing     service.Pricing
	errLogger   *telegram.ErrorLogger
	botUsername string
	startedAt   time.Time
}

// Deps contains all dependencies required to construct a Handler.
type Deps struct {
	Bot         *bot.Bot
	Cfg         *config.Config
	Cache       *service.StoreCache
	Chat        *service.ChatService
	Snapshots   SnapshotCounter
	ErrLogger   *telegram.ErrorLogger
	BotUsername string
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	return &Handler{
		bot:       deps.Bot,
		cfg:       deps.Cfg,
		cache:     deps.Cache,
		chat:      deps.Chat,
		snapshots: deps.Snapshots,
		pricing: service.Pricing{
			Prompt:     deps.Cfg.PricePromptPerMTok,
			Completion: deps.Cfg.PriceCompletionPerMTok,
		},
		errLogger:   deps.ErrLogger,
		botUsername: deps.BotUsername,
		startedAt:   time.Now(),
	}
}

func (h *Handler) reply(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeMarkdownV1,
	})
	if err != nil {
		// retry without formatting
		b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: text})
	}
}

// callbackTarget returns the chat and message a callback was pressed on and
// acknowledges the callback.
func callbackTarget(ctx context.Context, b *bot.Bot, update *models.Update, notice string) (int64, int, bool) {
	if update.CallbackQuery == nil {
		return 0, 0, false
	}
	b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: update.CallbackQuery.ID,
		Text:            notice,
	})
	msg := update.CallbackQuery.Message.Message
	if msg == nil {
		return 0, 0, false
	}
	return msg.Chat.ID, msg.ID, true
}

// commandArg returns the text after the command word.
func commandArg(text string) string {
	for i, r := range text {
		if r == ' ' || r == '\n' {
			return strings.TrimSpace(text[i+1:])
		}
	}
	return ""
}
