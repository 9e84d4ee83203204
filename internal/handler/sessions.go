package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/evochat/internal/config"
	"github.com/set-night/evochat/internal/domain"
	"github.com/set-night/evochat/internal/middleware"
	"github.com/set-night/evochat/internal/service"
	tg "github.com/set-night/evochat/internal/telegram"
)

func (h *Handler) handleSessions(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	store := middleware.GetStore(ctx)
	if store == nil {
		return
	}
	h.sendSessionsPage(ctx, b, update.Message.Chat.ID, store, 0, false, 0)
}

// sessionsPage renders one page of the session list, most recently updated
// first.
func sessionsPage(store *service.ConversationStore, page int) (string, *models.InlineKeyboardMarkup) {
	sessions := store.Sessions()
	activeID := store.ActiveID()

	totalPages := (len(sessions) + config.SessionsPerPage - 1) / config.SessionsPerPage
	if totalPages == 0 {
		totalPages = 1
	}
	if page >= totalPages {
		page = totalPages - 1
	}
	if page < 0 {
		page = 0
	}

	start := page * config.SessionsPerPage
	end := min(start+config.SessionsPerPage, len(sessions))

	var rows [][]models.InlineKeyboardButton
	for _, s := range sessions[start:end] {
		rows = append(rows, tg.ButtonRow(
			tg.InlineButton(tg.RenderSessionTitle(s, s.ID == activeID), "switch:"+s.ID),
		))
	}

	rows = append(rows, tg.ButtonRow(
		tg.InlineButton("➕ New", "new_session"),
		tg.InlineButton("🗑 Delete current", "delete:"+activeID),
	))
	if pageRow := tg.PaginationRow(page, totalPages, "sessions"); pageRow != nil {
		rows = append(rows, pageRow)
	}

	text := fmt.Sprintf("📂 *Sessions* (%d)\n\nTap a session to continue it.", len(sessions))
	return text, tg.InlineKeyboard(rows...)
}

func (h *Handler) sendSessionsPage(ctx context.Context, b *bot.Bot, chatID int64, store *service.ConversationStore, page int, edit bool, messageID int) {
	text, keyboard := sessionsPage(store, page)

	if edit && messageID != 0 {
		if err := tg.EditMessage(ctx, b, chatID, messageID, text, keyboard); err != nil {
			slog.Error("edit sessions page", "error", err, "chat_id", chatID)
		}
		return
	}
	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   models.ParseModeMarkdownV1,
		ReplyMarkup: keyboard,
	})
}

func (h *Handler) handleSessionsPage(ctx context.Context, b *bot.Bot, update *models.Update) {
	chatID, messageID, ok := callbackTarget(ctx, b, update, "")
	if !ok {
		return
	}
	store := middleware.GetStore(ctx)
	if store == nil {
		return
	}

	page, err := strconv.Atoi(strings.TrimPrefix(update.CallbackQuery.Data, "sessions:"))
	if err != nil {
		return
	}
	h.sendSessionsPage(ctx, b, chatID, store, page, true, messageID)
}

func (h *Handler) handleNewSession(ctx context.Context, b *bot.Bot, update *models.Update) {
	chatID, messageID, ok := callbackTarget(ctx, b, update, "🆕 New session started")
	if !ok {
		return
	}
	store := middleware.GetStore(ctx)
	if store == nil {
		return
	}

	store.CreateSession()
	h.sendSessionsPage(ctx, b, chatID, store, 0, true, messageID)
}

func (h *Handler) handleSwitchSession(ctx context.Context, b *bot.Bot, update *models.Update) {
	store := middleware.GetStore(ctx)
	if store == nil || update.CallbackQuery == nil {
		return
	}

	id := strings.TrimPrefix(update.CallbackQuery.Data, "switch:")
	notice := "Switched"
	if err := store.SwitchSession(id); err != nil {
		notice = "Session no longer exists"
	}

	chatID, messageID, ok := callbackTarget(ctx, b, update, notice)
	if !ok {
		return
	}
	h.sendSessionsPage(ctx, b, chatID, store, 0, true, messageID)

	if sess, err := store.ActiveSession(); err == nil && sess.ID == id {
		h.sendLastReply(ctx, b, chatID, sess)
	}
}

// sendLastReply shows the latest assistant message of a session the user
// switched to.
func (h *Handler) sendLastReply(ctx context.Context, b *bot.Bot, chatID int64, sess domain.ChatSession) {
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		m := sess.Messages[i]
		if m.Role != domain.RoleAssistant || m.IsStreaming {
			continue
		}
		text := fmt.Sprintf("💬 *%s*\n\n%s", tg.EscapeMarkdown(sess.Title), tg.RenderMessage(m, domain.Grounding{}))
		if _, err := tg.SendLongMessage(ctx, b, chatID, text, 0, nil); err != nil {
			slog.Error("send last reply", "error", err, "chat_id", chatID)
		}
		return
	}
}

func (h *Handler) handleDeleteSession(ctx context.Context, b *bot.Bot, update *models.Update) {
	store := middleware.GetStore(ctx)
	if store == nil || update.CallbackQuery == nil {
		return
	}

	id := strings.TrimPrefix(update.CallbackQuery.Data, "delete:")
	notice := "🗑 Session deleted"
	err := store.DeleteSession(id)
	switch {
	case errors.Is(err, domain.ErrSessionBusy):
		notice = "⏳ Wait for the reply to finish or /stop it first"
	case err != nil:
		notice = "Session no longer exists"
	}

	chatID, messageID, ok := callbackTarget(ctx, b, update, notice)
	if !ok {
		return
	}
	h.sendSessionsPage(ctx, b, chatID, store, 0, true, messageID)
}
