package handler

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/evochat/internal/audio"
	"github.com/set-night/evochat/internal/config"
	"github.com/set-night/evochat/internal/domain"
	"github.com/set-night/evochat/internal/middleware"
	"github.com/set-night/evochat/internal/service"
	tg "github.com/set-night/evochat/internal/telegram"
)

// deliverTimeout bounds the final render of a reply, which still runs when
// the update context is gone.
const deliverTimeout = 15 * time.Second

// Default routes updates that no registered handler matched: plain text,
// media, voice notes and edits of earlier messages.
func (h *Handler) Default(ctx context.Context, b *bot.Bot, update *models.Update) {
	switch {
	case update.EditedMessage != nil:
		h.handleEdit(ctx, b, update)
	case update.Message != nil:
		m := update.Message
		switch {
		case m.Voice != nil:
			h.handleVoice(ctx, b, update)
		case len(m.Photo) > 0 || m.Document != nil || m.Video != nil || m.Audio != nil || m.Animation != nil:
			h.handleMedia(ctx, b, update)
		case m.Text != "" && !strings.HasPrefix(m.Text, "/"):
			h.handleText(ctx, b, update)
		}
	case update.CallbackQuery != nil:
		h.handleNoop(ctx, b, update)
	}
}

func (h *Handler) handleText(ctx context.Context, b *bot.Bot, update *models.Update) {
	store := middleware.GetStore(ctx)
	if store == nil {
		return
	}
	m := update.Message
	h.submit(ctx, b, m.Chat.ID, store, m.Text, nil, m.ID)
}

func (h *Handler) handleMedia(ctx context.Context, b *bot.Bot, update *models.Update) {
	store := middleware.GetStore(ctx)
	if store == nil {
		return
	}
	m := update.Message
	chatID := m.Chat.ID

	fileID, mimeType := mediaOf(m)
	data, err := tg.DownloadFile(ctx, b, fileID)
	if err != nil {
		slog.Warn("download attachment", "error", err, "chat_id", chatID)
		h.reply(ctx, b, chatID, "❌ Could not download the file. Files up to 20 MB are supported.")
		return
	}

	att := domain.NewAttachment(mimeType, audio.EncodeBase64(data), fileID)
	h.submit(ctx, b, chatID, store, m.Caption, []domain.Attachment{att}, m.ID)
}

// mediaOf returns the file and MIME type of a message's media. Photos use
// their largest size.
func mediaOf(m *models.Message) (string, string) {
	switch {
	case len(m.Photo) > 0:
		return m.Photo[len(m.Photo)-1].FileID, "image/jpeg"
	case m.Video != nil:
		return m.Video.FileID, orDefault(m.Video.MimeType, "video/mp4")
	case m.Animation != nil:
		return m.Animation.FileID, orDefault(m.Animation.MimeType, "video/mp4")
	case m.Audio != nil:
		return m.Audio.FileID, orDefault(m.Audio.MimeType, "audio/mpeg")
	case m.Document != nil:
		return m.Document.FileID, orDefault(m.Document.MimeType, "application/octet-stream")
	}
	return "", ""
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func (h *Handler) handleEdit(ctx context.Context, b *bot.Bot, update *models.Update) {
	store := middleware.GetStore(ctx)
	if store == nil {
		return
	}
	m := update.EditedMessage

	// only messages of the active session can be edited
	ref, ok := store.MessageByRef(m.ID)
	if !ok {
		return
	}
	content := m.Text
	if content == "" {
		content = m.Caption
	}

	p, err := h.chat.Edit(store, ref.ID, content)
	if err != nil {
		h.rejected(ctx, b, m.Chat.ID, err)
		return
	}
	h.run(ctx, b, m.Chat.ID, store, p, m.ID)
}

func (h *Handler) submit(ctx context.Context, b *bot.Bot, chatID int64, store *service.ConversationStore, text string, atts []domain.Attachment, replyTo int) {
	p, err := h.chat.Send(store, text, atts, replyTo)
	if err != nil {
		h.rejected(ctx, b, chatID, err)
		return
	}
	h.run(ctx, b, chatID, store, p, replyTo)
}

func (h *Handler) rejected(ctx context.Context, b *bot.Bot, chatID int64, err error) {
	switch {
	case errors.Is(err, domain.ErrEmptyInput):
	case errors.Is(err, domain.ErrSessionBusy):
		h.reply(ctx, b, chatID, "⏳ Please wait for the current reply to finish, or /stop it.")
	default:
		slog.Error("accept message", "error", err, "chat_id", chatID)
		h.reply(ctx, b, chatID, "❌ "+config.GenericErrorText)
	}
}

// run executes an accepted request and renders the reply.
func (h *Handler) run(ctx context.Context, b *bot.Bot, chatID int64, store *service.ConversationStore, p *service.Pending, replyTo int) {
	if p.Mode == domain.ModeCreative {
		h.runImage(ctx, b, chatID, store, p, replyTo)
		return
	}

	var live *tg.LiveMessage
	placeholder, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          chatID,
		Text:            config.GeneratingText,
		ReplyParameters: replyParams(replyTo),
	})
	if err != nil {
		slog.Error("send placeholder", "error", err, "chat_id", chatID)
	} else {
		live = tg.NewLiveMessage(b, chatID, placeholder.ID, h.cfg.RenderInterval)
	}

	unsubscribe := store.Subscribe(func(ev service.Event) {
		if live == nil || ev.MessageID != p.AssistantID || !ev.Message.IsStreaming {
			return
		}
		if err := live.Update(ctx, tg.RenderMessage(ev.Message, ev.Grounding)); err != nil {
			slog.Debug("render partial reply", "error", err, "chat_id", chatID)
		}
	})
	stopTyping := tg.StartTyping(ctx, b, chatID, models.ChatActionTyping)
	err = h.chat.Execute(ctx, store, p)
	stopTyping()
	unsubscribe()
	h.logFailure(err, chatID)

	msg, ok := store.Message(p.SessionID, p.AssistantID)
	if !ok {
		return
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliverTimeout)
	defer cancel()

	text := tg.RenderMessage(msg, store.Grounding(p.AssistantID))
	markup := replyKeyboard(msg)
	if live != nil {
		err = live.Finish(dctx, text, markup)
	} else {
		_, err = tg.SendLongMessage(dctx, b, chatID, text, replyTo, markup)
	}
	if err != nil {
		slog.Error("deliver reply", "error", err, "chat_id", chatID)
	}

	h.afterReply(dctx, b, chatID, store, p, msg, replyTo)
}

func (h *Handler) runImage(ctx context.Context, b *bot.Bot, chatID int64, store *service.ConversationStore, p *service.Pending, replyTo int) {
	status, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          chatID,
		Text:            "🎨 Generating image...",
		ReplyParameters: replyParams(replyTo),
	})
	if err != nil {
		slog.Error("send placeholder", "error", err, "chat_id", chatID)
	}

	stopTyping := tg.StartTyping(ctx, b, chatID, models.ChatActionUploadPhoto)
	err = h.chat.Execute(ctx, store, p)
	stopTyping()
	h.logFailure(err, chatID)

	msg, ok := store.Message(p.SessionID, p.AssistantID)
	if !ok {
		return
	}

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deliverTimeout)
	defer cancel()

	if photo, ext, ok := imageBytes(msg.GeneratedImageURL); ok {
		if _, err := tg.SendPhotoBytes(dctx, b, chatID, photo, "image."+ext, msg.Content, replyTo, nil); err != nil {
			slog.Error("send image", "error", err, "chat_id", chatID)
			h.reply(dctx, b, chatID, "❌ "+config.GenericErrorText)
		}
		if status != nil {
			b.DeleteMessage(dctx, &bot.DeleteMessageParams{ChatID: chatID, MessageID: status.ID})
		}
	} else {
		text := tg.RenderMessage(msg, domain.Grounding{})
		if status != nil {
			err = tg.EditMessage(dctx, b, chatID, status.ID, text, nil)
		} else {
			_, err = tg.SendLongMessage(dctx, b, chatID, text, replyTo, nil)
		}
		if err != nil {
			slog.Error("deliver reply", "error", err, "chat_id", chatID)
		}
	}

	h.afterReply(dctx, b, chatID, store, p, msg, replyTo)
}

// imageBytes decodes a generated image data URL.
func imageBytes(dataURL string) ([]byte, string, bool) {
	mimeType, data, ok := service.ParseDataURL(dataURL)
	if !ok {
		return nil, "", false
	}
	raw := audio.DecodeBase64(data)
	if len(raw) == 0 {
		return nil, "", false
	}
	ext := strings.TrimPrefix(mimeType, "image/")
	if ext == "" || ext == mimeType {
		ext = "png"
	}
	return raw, ext, true
}

// afterReply raises the credential prompt and speaks the reply when spoken
// replies are on.
func (h *Handler) afterReply(ctx context.Context, b *bot.Bot, chatID int64, store *service.ConversationStore, p *service.Pending, msg domain.Message, replyTo int) {
	if store.KeyPrompt() {
		h.sendKeyPrompt(ctx, b, chatID)
		return
	}
	if store.AudioEnabled() && speakable(msg) {
		h.speak(ctx, b, chatID, store, p.SessionID, p.AssistantID, replyTo)
	}
}

func (h *Handler) sendKeyPrompt(ctx context.Context, b *bot.Bot, chatID int64) {
	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      "🔑 *" + config.KeyPromptTitle + "*\n\n" + tg.EscapeMarkdown(config.KeyPromptText),
		ParseMode: models.ParseModeMarkdownV1,
		ReplyMarkup: tg.InlineKeyboard(
			tg.ButtonRow(tg.InlineButton("Continue with Standard Mode", "continue_standard")),
		),
	})
}

func (h *Handler) logFailure(err error, chatID int64) {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, domain.ErrKeyPermission) {
		return
	}
	h.errLogger.LogError(err, "generate", chatID)
}

// speakable reports whether a reply has text worth reading aloud.
func speakable(m domain.Message) bool {
	if m.Role != domain.RoleAssistant || m.IsStreaming || m.GeneratedImageURL != "" {
		return false
	}
	switch strings.TrimSpace(m.Content) {
	case "", config.GenericErrorText, config.PermissionDeniedText, config.StoppedText, config.EmptyReplyText:
		return false
	}
	return true
}

func replyKeyboard(m domain.Message) models.ReplyMarkup {
	if !speakable(m) {
		return nil
	}
	return tg.InlineKeyboard(tg.ButtonRow(tg.InlineButton("🔊 Listen", "tts:"+m.ID)))
}

func replyParams(messageID int) *models.ReplyParameters {
	if messageID == 0 {
		return nil
	}
	return &models.ReplyParameters{MessageID: messageID}
}
