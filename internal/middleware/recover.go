package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Recover returns middleware that recovers from panics. onPanic, when set,
// receives the panic as an error.
func Recover(onPanic func(err error, chatID int64)) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			defer func() {
				if r := recover(); r != nil {
					o := OriginOf(update)
					slog.Error("panic recovered in handler",
						"panic", r,
						"chat_id", o.ChatID,
						"stack", string(debug.Stack()),
					)
					if onPanic != nil {
						onPanic(fmt.Errorf("panic: %v", r), o.ChatID)
					}
				}
			}()
			next(ctx, b, update)
		}
	}
}
