package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-telegram/bot"
	"github.com/set-night/evochat/internal/config"
)

// ErrorLogger forwards events to topics of a Telegram log chat.
type ErrorLogger struct {
	bot *bot.Bot
	cfg *config.Config
}

func NewErrorLogger(b *bot.Bot, cfg *config.Config) *ErrorLogger {
	return &ErrorLogger{bot: b, cfg: cfg}
}

type LogType string

const (
	LogTypeError     LogType = "error"
	LogTypeLifecycle LogType = "lifecycle"
)

func (l *ErrorLogger) Log(logType LogType, message string) {
	if l == nil || l.cfg.LogTelegramChatID == 0 {
		return
	}

	topicID := l.topicID(logType)
	if topicID == 0 {
		return
	}

	if len([]rune(message)) > MaxMessageLen {
		message = string([]rune(message)[:MaxMessageLen-20]) + "\n\n... (truncated)"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := l.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:          l.cfg.LogTelegramChatID,
		Text:            message,
		ParseMode:       "Markdown",
		MessageThreadID: topicID,
	})
	if err != nil {
		slog.Error("failed to send telegram log", "type", logType, "error", err)
	}
}

func (l *ErrorLogger) LogError(err error, where string, chatID int64) {
	msg := fmt.Sprintf("❌ *Error*\n\n*Context:* %s\n*Chat:* `%d`\n*Error:* `%s`\n*Time:* %s",
		where, chatID, err.Error(), time.Now().Format("2006-01-02 15:04:05"))
	l.Log(LogTypeError, msg)
}

func (l *ErrorLogger) LogLifecycle(event, username string) {
	msg := fmt.Sprintf("🤖 *%s*\n\n*Bot:* @%s\n*Time:* %s",
		event, username, time.Now().Format("2006-01-02 15:04:05"))
	l.Log(LogTypeLifecycle, msg)
}

func (l *ErrorLogger) topicID(logType LogType) int {
	switch logType {
	case LogTypeError:
		return l.cfg.LogTopicError
	case LogTypeLifecycle:
		return l.cfg.LogTopicEvents
	default:
		return 0
	}
}
