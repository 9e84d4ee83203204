package middleware

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/evochat/internal/metrics"
	"golang.org/x/time/rate"
)

type chatLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter enforces a per-chat limit on inbound messages.
type RateLimiter struct {
	mu     sync.Mutex
	chats  map[int64]*chatLimiter
	perMin int
	now    func() time.Time
}

func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		chats:  make(map[int64]*chatLimiter),
		perMin: perMinute,
		now:    time.Now,
	}
}

// Allow reports whether a chat may send another message now.
func (r *RateLimiter) Allow(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.chats[chatID]
	if !ok {
		c = &chatLimiter{limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(r.perMin)), r.perMin)}
		r.chats[chatID] = c
	}
	c.lastSeen = r.now()
	return c.limiter.AllowN(c.lastSeen, 1)
}

// Prune drops limiters of chats idle longer than idle.
func (r *RateLimiter) Prune(idle time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, c := range r.chats {
		if r.now().Sub(c.lastSeen) > idle {
			delete(r.chats, id)
		}
	}
}

// Middleware rejects messages beyond the limit. Callbacks are not limited.
func (r *RateLimiter) Middleware() bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			if update.Message == nil && update.EditedMessage == nil {
				next(ctx, b, update)
				return
			}

			o := OriginOf(update)
			if !r.Allow(o.ChatID) {
				metrics.RateLimitHits.Inc()
				slog.Debug("rate limited", "chat_id", o.ChatID, "limit", r.perMin)
				b.SendMessage(ctx, &bot.SendMessageParams{
					ChatID: o.ChatID,
					Text:   "⏳ Too many requests. Please wait a moment.",
				})
				return
			}

			next(ctx, b, update)
		}
	}
}
