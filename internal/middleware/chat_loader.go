package middleware

import (
	"context"
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/evochat/internal/service"
)

type ctxKey string

const StoreKey ctxKey = "store"

// GetStore extracts the chat's conversation store from context.
func GetStore(ctx context.Context) *service.ConversationStore {
	s, ok := ctx.Value(StoreKey).(*service.ConversationStore)
	if !ok {
		return nil
	}
	return s
}

// WithStore returns a context carrying store.
func WithStore(ctx context.Context, store *service.ConversationStore) context.Context {
	return context.WithValue(ctx, StoreKey, store)
}

// ChatLoader returns middleware that loads the chat's conversation store
// into context. Updates whose store cannot be loaded are answered with an
// error and dropped.
func ChatLoader(cache *service.StoreCache) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			o := OriginOf(update)
			if o.ChatID == 0 {
				next(ctx, b, update)
				return
			}

			store, err := cache.Get(ctx, o.ChatID)
			if err != nil {
				slog.Error("load conversation", "error", err, "chat_id", o.ChatID)
				if update.CallbackQuery != nil {
					b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
						CallbackQueryID: update.CallbackQuery.ID,
					})
				}
				b.SendMessage(ctx, &bot.SendMessageParams{
					ChatID: o.ChatID,
					Text:   "❌ Conversation storage is unavailable. Please try again later.",
				})
				return
			}

			next(WithStore(ctx, store), b, update)
		}
	}
}
