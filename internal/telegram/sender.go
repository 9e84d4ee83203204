package telegram

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/evochat/internal/config"
	"golang.org/x/time/rate"
)

const MaxMessageLen = config.MaxTelegramMessageLen

// Messenger is the subset of the Bot API used to deliver replies.
type Messenger interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
}

// SendLongMessage sends a potentially long message, splitting it into parts
// if needed. The markup is attached to the last part. Falls back to plain
// text if Markdown parsing fails. Returns the sent messages.
func SendLongMessage(ctx context.Context, b Messenger, chatID int64, text string, replyToID int, markup models.ReplyMarkup) ([]*models.Message, error) {
	parts := SplitMessage(FixMarkdown(text), MaxMessageLen)

	sent := make([]*models.Message, 0, len(parts))
	for i, part := range parts {
		params := &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      part,
			ParseMode: models.ParseModeMarkdownV1,
		}
		if i == 0 && replyToID != 0 {
			params.ReplyParameters = &models.ReplyParameters{MessageID: replyToID}
		}
		if i == len(parts)-1 && markup != nil {
			params.ReplyMarkup = markup
		}

		msg, err := b.SendMessage(ctx, params)
		if err != nil {
			slog.Warn("markdown send failed, falling back to plain text", "error", err)
			params.ParseMode = ""
			msg, err = b.SendMessage(ctx, params)
			if err != nil {
				return sent, fmt.Errorf("send message: %w", err)
			}
		}
		sent = append(sent, msg)
	}

	return sent, nil
}

// EditMessage replaces the text of a message, falling back to plain text if
// Markdown parsing fails. Unchanged content is not an error.
func EditMessage(ctx context.Context, b Messenger, chatID int64, messageID int, text string, markup models.ReplyMarkup) error {
	params := &bot.EditMessageTextParams{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ParseMode:   models.ParseModeMarkdownV1,
		ReplyMarkup: markup,
	}
	_, err := b.EditMessageText(ctx, params)
	if err != nil && !isNotModified(err) {
		params.ParseMode = ""
		_, err = b.EditMessageText(ctx, params)
	}
	if err != nil && !isNotModified(err) {
		return fmt.Errorf("edit message: %w", err)
	}
	return nil
}

func isNotModified(err error) bool {
	return strings.Contains(err.Error(), "message is not modified")
}

// LiveMessage is a Telegram message that follows a streaming reply. Interim
// updates are throttled; the final update is always delivered and may spill
// into additional messages when the text outgrows one message.
type LiveMessage struct {
	mu        sync.Mutex
	b         Messenger
	chatID    int64
	messageID int
	limiter   *rate.Limiter
	last      string
}

func NewLiveMessage(b Messenger, chatID int64, messageID int, interval time.Duration) *LiveMessage {
	return &LiveMessage{
		b:         b,
		chatID:    chatID,
		messageID: messageID,
		limiter:   rate.NewLimiter(rate.Every(interval), 1),
	}
}

func (l *LiveMessage) MessageID() int {
	return l.messageID
}

// Update renders text. Interim updates arriving faster than the interval are
// dropped.
func (l *LiveMessage) Update(ctx context.Context, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if text == l.last || !l.limiter.Allow() {
		return nil
	}
	l.last = text
	return EditMessage(ctx, l.b, l.chatID, l.messageID, Truncate(FixMarkdown(text), MaxMessageLen), nil)
}

// Finish renders the final text with markup attached to the last message.
// Blank text is replaced with the empty-reply notice so the generating
// indicator never survives a finished reply.
func (l *LiveMessage) Finish(ctx context.Context, text string, markup models.ReplyMarkup) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		text = config.EmptyReplyText
	}

	parts := SplitMessage(FixMarkdown(text), MaxMessageLen)
	first := markup
	if len(parts) > 1 {
		first = nil
	}
	if err := EditMessage(ctx, l.b, l.chatID, l.messageID, parts[0], first); err != nil {
		return err
	}
	l.last = text

	if len(parts) > 1 {
		rest := strings.Join(parts[1:], "\n")
		if _, err := SendLongMessage(ctx, l.b, l.chatID, rest, 0, markup); err != nil {
			return err
		}
	}
	return nil
}

// StartTyping sends the "typing..." action every 4 seconds until the returned
// cancel function is called.
func StartTyping(ctx context.Context, b *bot.Bot, chatID int64, action models.ChatAction) context.CancelFunc {
	ctx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(4 * time.Second)
		defer ticker.Stop()
		b.SendChatAction(ctx, &bot.SendChatActionParams{ChatID: chatID, Action: action})
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.SendChatAction(ctx, &bot.SendChatActionParams{ChatID: chatID, Action: action})
			}
		}
	}()
	return cancel
}

// SendPhotoBytes uploads an image.
func SendPhotoBytes(ctx context.Context, b *bot.Bot, chatID int64, data []byte, filename, caption string, replyToID int, markup models.ReplyMarkup) (*models.Message, error) {
	params := &bot.SendPhotoParams{
		ChatID:    chatID,
		Photo:     &models.InputFileUpload{Filename: filename, Data: bytes.NewReader(data)},
		Caption:   caption,
		ParseMode: models.ParseModeMarkdownV1,
	}
	if replyToID != 0 {
		params.ReplyParameters = &models.ReplyParameters{MessageID: replyToID}
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}
	msg, err := b.SendPhoto(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("send photo: %w", err)
	}
	return msg, nil
}

// SendAudioBytes uploads a playable audio file.
func SendAudioBytes(ctx context.Context, b *bot.Bot, chatID int64, data []byte, filename, title string, replyToID int) error {
	params := &bot.SendAudioParams{
		ChatID: chatID,
		Audio:  &models.InputFileUpload{Filename: filename, Data: bytes.NewReader(data)},
		Title:  title,
	}
	if replyToID != 0 {
		params.ReplyParameters = &models.ReplyParameters{MessageID: replyToID}
	}
	if _, err := b.SendAudio(ctx, params); err != nil {
		return fmt.Errorf("send audio: %w", err)
	}
	return nil
}
