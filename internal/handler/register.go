package handler

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Register registers all command and callback handlers on the bot instance.
// Plain messages, media and edits go through Default.
func (h *Handler) Register() {
	// Commands
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, h.handleStart)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypePrefix, h.handleHelp)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/new", bot.MatchTypePrefix, h.handleNew)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/end", bot.MatchTypePrefix, h.handleNew)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/sessions", bot.MatchTypePrefix, h.handleSessions)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/settings", bot.MatchTypePrefix, h.handleSettings)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/mode", bot.MatchTypePrefix, h.handleMode)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/audio", bot.MatchTypePrefix, h.handleAudio)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/key", bot.MatchTypePrefix, h.handleKey)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/usage", bot.MatchTypePrefix, h.handleUsage)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/stop", bot.MatchTypePrefix, h.handleStop)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/stat", bot.MatchTypePrefix, h.handleStat)

	// Settings callbacks
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "mode:", bot.MatchTypePrefix, h.handleModeSelect)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "voice:", bot.MatchTypePrefix, h.handleVoiceSelect)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "audio_toggle", bot.MatchTypeExact, h.handleAudioToggle)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "continue_standard", bot.MatchTypeExact, h.handleContinueStandard)

	// Sessions callbacks
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "new_session", bot.MatchTypeExact, h.handleNewSession)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "switch:", bot.MatchTypePrefix, h.handleSwitchSession)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "delete:", bot.MatchTypePrefix, h.handleDeleteSession)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "sessions:", bot.MatchTypePrefix, h.handleSessionsPage)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "noop", bot.MatchTypeExact, h.handleNoop)

	// Voice callbacks
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "draft:", bot.MatchTypePrefix, h.handleDraft)
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "tts:", bot.MatchTypePrefix, h.handleSpeakCallback)
}

// handleNoop is a no-op callback handler used for pagination indicators and other
// non-interactive inline buttons. It simply acknowledges the callback query.
func (h *Handler) handleNoop(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery != nil {
		b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
			CallbackQueryID: update.CallbackQuery.ID,
		})
	}
}
