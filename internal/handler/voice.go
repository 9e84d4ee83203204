package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/evochat/internal/domain"
	"github.com/set-night/evochat/internal/middleware"
	"github.com/set-night/evochat/internal/service"
	tg "github.com/set-night/evochat/internal/telegram"
)

// handleVoice transcribes a voice note into the chat's draft and offers to
// send it.
func (h *Handler) handleVoice(ctx context.Context, b *bot.Bot, update *models.Update) {
	store := middleware.GetStore(ctx)
	if store == nil {
		return
	}
	m := update.Message
	chatID := m.Chat.ID

	clip, err := tg.DownloadFile(ctx, b, m.Voice.FileID)
	if err != nil {
		slog.Warn("download voice", "error", err, "chat_id", chatID)
		h.reply(ctx, b, chatID, "❌ Could not download the voice message.")
		return
	}

	stopTyping := tg.StartTyping(ctx, b, chatID, models.ChatActionTyping)
	text, err := h.chat.Transcribe(ctx, store, clip, orDefault(m.Voice.MimeType, "audio/ogg"))
	stopTyping()
	if err != nil {
		slog.Error("transcribe voice", "error", err, "chat_id", chatID)
		h.reply(ctx, b, chatID, "❌ Could not transcribe the voice message.")
		return
	}
	if strings.TrimSpace(text) == "" {
		h.reply(ctx, b, chatID, "🎙 No speech recognized.")
		return
	}

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          chatID,
		Text:            "🎙 " + text,
		ReplyParameters: replyParams(m.ID),
		ReplyMarkup: tg.InlineKeyboard(tg.ButtonRow(
			tg.InlineButton("📨 Send", "draft:send"),
			tg.InlineButton("✖️ Discard", "draft:discard"),
		)),
	})
}

func (h *Handler) handleDraft(ctx context.Context, b *bot.Bot, update *models.Update) {
	store := middleware.GetStore(ctx)
	if store == nil || update.CallbackQuery == nil {
		return
	}
	action := strings.TrimPrefix(update.CallbackQuery.Data, "draft:")

	chatID, messageID, ok := callbackTarget(ctx, b, update, "")
	if !ok {
		return
	}

	draft := store.TakeDraft()
	// drop the buttons, the draft is consumed either way
	b.EditMessageReplyMarkup(ctx, &bot.EditMessageReplyMarkupParams{ChatID: chatID, MessageID: messageID})

	if action != "send" {
		return
	}
	if draft == "" {
		h.reply(ctx, b, chatID, "Draft is empty. Record a new voice message.")
		return
	}
	h.submit(ctx, b, chatID, store, draft, nil, messageID)
}

// handleSpeakCallback reads a reply aloud on request.
func (h *Handler) handleSpeakCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	store := middleware.GetStore(ctx)
	if store == nil || update.CallbackQuery == nil {
		return
	}
	messageID := strings.TrimPrefix(update.CallbackQuery.Data, "tts:")

	chatID, replyTo, ok := callbackTarget(ctx, b, update, "🔊 Synthesizing...")
	if !ok {
		return
	}

	sessionID, _, found := store.FindMessage(messageID)
	if !found {
		h.reply(ctx, b, chatID, "❌ This message is no longer available.")
		return
	}
	h.speak(ctx, b, chatID, store, sessionID, messageID, replyTo)
}

func (h *Handler) speak(ctx context.Context, b *bot.Bot, chatID int64, store *service.ConversationStore, sessionID, messageID string, replyTo int) {
	stopTyping := tg.StartTyping(ctx, b, chatID, models.ChatActionUploadVoice)
	wav, err := h.chat.Speak(ctx, store, sessionID, messageID)
	stopTyping()
	if err != nil {
		text, keyPrompt := service.ErrorText(err)
		if errors.Is(err, domain.ErrSpeechDataMissing) {
			text = "No audio was returned for this message."
		} else {
			slog.Error("speak reply", "error", err, "chat_id", chatID)
		}
		h.reply(ctx, b, chatID, "❌ "+text)
		if keyPrompt {
			store.SetKeyPrompt(true)
			h.sendKeyPrompt(ctx, b, chatID)
		}
		return
	}

	title := fmt.Sprintf("Reply (%s)", store.Voice())
	if err := tg.SendAudioBytes(ctx, b, chatID, wav, "reply.wav", title, replyTo); err != nil {
		slog.Error("send speech", "error", err, "chat_id", chatID)
	}
}
