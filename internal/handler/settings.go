package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/evochat/internal/config"
	"github.com/set-night/evochat/internal/domain"
	"github.com/set-night/evochat/internal/middleware"
	"github.com/set-night/evochat/internal/service"
	tg "github.com/set-night/evochat/internal/telegram"
)

var modeLabels = map[domain.ChatMode]string{
	domain.ModeStandard: "💬 Standard",
	domain.ModeThinking: "🧠 Thinking",
	domain.ModeFast:     "⚡ Fast",
	domain.ModeCreative: "🎨 Creative",
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// resetNote tells the user that chat settings live only while the chat is
// active.
func resetNote(idleTTL time.Duration) string {
	return fmt.Sprintf("Settings and your /key reset after %s of inactivity.", idleTTL)
}

func settingsView(store *service.ConversationStore, idleTTL time.Duration) (string, *models.InlineKeyboardMarkup) {
	mode := store.Mode()
	voice := store.Voice()
	audioOn := store.AudioEnabled()

	text := fmt.Sprintf(
		"⚙️ *Settings*\n\n"+
			"Mode: %s\n"+
			"Voice: %s\n"+
			"Spoken replies: %s\n\n"+
			"_%s_",
		modeLabels[mode], voice, onOff(audioOn), resetNote(idleTTL),
	)

	var rows [][]models.InlineKeyboardButton
	var modeRow []models.InlineKeyboardButton
	for i, m := range domain.Modes {
		modeRow = append(modeRow, tg.InlineButton(tg.Checked(modeLabels[m], m == mode), "mode:"+string(m)))
		if i%2 == 1 {
			rows = append(rows, modeRow)
			modeRow = nil
		}
	}
	if modeRow != nil {
		rows = append(rows, modeRow)
	}

	var voiceRow []models.InlineKeyboardButton
	for i, v := range config.Voices {
		voiceRow = append(voiceRow, tg.InlineButton(tg.Checked(v, v == voice), "voice:"+v))
		if i%3 == 2 {
			rows = append(rows, voiceRow)
			voiceRow = nil
		}
	}
	if voiceRow != nil {
		rows = append(rows, voiceRow)
	}

	rows = append(rows, tg.ButtonRow(
		tg.InlineButton(tg.Checked("🔊 Spoken replies", audioOn), "audio_toggle"),
	))
	return text, tg.InlineKeyboard(rows...)
}

func (h *Handler) handleSettings(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	store := middleware.GetStore(ctx)
	if store == nil {
		return
	}

	text, keyboard := settingsView(store, h.cfg.StoreIdleTTL)
	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      update.Message.Chat.ID,
		Text:        text,
		ParseMode:   models.ParseModeMarkdownV1,
		ReplyMarkup: keyboard,
	})
}

func (h *Handler) refreshSettings(ctx context.Context, b *bot.Bot, update *models.Update, store *service.ConversationStore, notice string) {
	chatID, messageID, ok := callbackTarget(ctx, b, update, notice)
	if !ok {
		return
	}
	text, keyboard := settingsView(store, h.cfg.StoreIdleTTL)
	tg.EditMessage(ctx, b, chatID, messageID, text, keyboard)
}

func (h *Handler) handleModeSelect(ctx context.Context, b *bot.Bot, update *models.Update) {
	store := middleware.GetStore(ctx)
	if store == nil || update.CallbackQuery == nil {
		return
	}

	mode, ok := domain.ParseMode(strings.TrimPrefix(update.CallbackQuery.Data, "mode:"))
	if !ok {
		h.handleNoop(ctx, b, update)
		return
	}
	store.SetMode(mode)
	h.refreshSettings(ctx, b, update, store, modeLabels[mode])
}

func (h *Handler) handleVoiceSelect(ctx context.Context, b *bot.Bot, update *models.Update) {
	store := middleware.GetStore(ctx)
	if store == nil || update.CallbackQuery == nil {
		return
	}

	voice := strings.TrimPrefix(update.CallbackQuery.Data, "voice:")
	known := false
	for _, v := range config.Voices {
		if v == voice {
			known = true
			break
		}
	}
	if !known {
		h.handleNoop(ctx, b, update)
		return
	}
	store.SetVoice(voice)
	h.refreshSettings(ctx, b, update, store, "🔊 "+voice)
}

func (h *Handler) handleAudioToggle(ctx context.Context, b *bot.Bot, update *models.Update) {
	store := middleware.GetStore(ctx)
	if store == nil {
		return
	}
	store.SetAudioEnabled(!store.AudioEnabled())
	h.refreshSettings(ctx, b, update, store, "Spoken replies "+onOff(store.AudioEnabled()))
}

func (h *Handler) handleMode(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	store := middleware.GetStore(ctx)
	if store == nil {
		return
	}
	chatID := update.Message.Chat.ID

	arg := commandArg(update.Message.Text)
	if arg == "" {
		h.reply(ctx, b, chatID, fmt.Sprintf("Current mode: %s\n\nUse /mode standard|thinking|fast|creative or /settings.", modeLabels[store.Mode()]))
		return
	}

	mode, ok := domain.ParseMode(arg)
	if !ok {
		h.reply(ctx, b, chatID, "❌ Unknown mode. Choose one of: standard, thinking, fast, creative.")
		return
	}
	store.SetMode(mode)
	h.reply(ctx, b, chatID, "Mode: "+modeLabels[mode])
}

func (h *Handler) handleAudio(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	store := middleware.GetStore(ctx)
	if store == nil {
		return
	}

	store.SetAudioEnabled(!store.AudioEnabled())
	h.reply(ctx, b, update.Message.Chat.ID, "🔊 Spoken replies "+onOff(store.AudioEnabled())+".")
}

// handleContinueStandard dismisses the credential prompt and falls back to
// standard mode.
func (h *Handler) handleContinueStandard(ctx context.Context, b *bot.Bot, update *models.Update) {
	store := middleware.GetStore(ctx)
	if store == nil {
		return
	}
	store.SetKeyPrompt(false)
	store.SetMode(domain.ModeStandard)

	chatID, messageID, ok := callbackTarget(ctx, b, update, "")
	if !ok {
		return
	}
	tg.EditMessage(ctx, b, chatID, messageID, "Switched to "+modeLabels[domain.ModeStandard]+" mode.", nil)
}
