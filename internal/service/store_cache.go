package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/set-night/evochat/internal/metrics"
)

type cacheEntry struct {
	store    *ConversationStore
	lastUsed time.Time
}

// StoreCache keeps the conversation stores of recently active chats in
// memory. Idle stores are flushed and evicted after ttl.
type StoreCache struct {
	mu        sync.Mutex
	entries   map[int64]*cacheEntry
	ttl       time.Duration
	snapshots SnapshotStore
	slotFor   func(chatID int64) string
	opts      ConversationOptions
	now       func() time.Time
}

func NewStoreCache(snapshots SnapshotStore, slotFor func(int64) string, ttl time.Duration, opts ConversationOptions) *StoreCache {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &StoreCache{
		entries:   make(map[int64]*cacheEntry),
		ttl:       ttl,
		snapshots: snapshots,
		slotFor:   slotFor,
		opts:      opts,
		now:       now,
	}
}

// Get returns the chat's store, loading it from its slot on first use.
func (c *StoreCache) Get(ctx context.Context, chatID int64) (*ConversationStore, error) {
	c.mu.Lock()
	if e, ok := c.entries[chatID]; ok {
		e.lastUsed = c.now()
		c.mu.Unlock()
		return e.store, nil
	}
	c.mu.Unlock()

	store, err := LoadConversation(ctx, c.snapshots, c.slotFor(chatID), c.opts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// another update of the same chat may have loaded it meanwhile
	if e, ok := c.entries[chatID]; ok {
		e.lastUsed = c.now()
		return e.store, nil
	}
	c.entries[chatID] = &cacheEntry{store: store, lastUsed: c.now()}
	metrics.LoadedChats.Set(float64(len(c.entries)))
	return store, nil
}

// Len returns the number of loaded chats.
func (c *StoreCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Evict flushes and drops stores idle longer than ttl. Stores with a request
// in flight are kept.
func (c *StoreCache) Evict(ctx context.Context) int {
	c.mu.Lock()
	var idle []*ConversationStore
	for id, e := range c.entries {
		if c.now().Sub(e.lastUsed) <= c.ttl || e.store.Busy() {
			continue
		}
		idle = append(idle, e.store)
		delete(c.entries, id)
	}
	metrics.LoadedChats.Set(float64(len(c.entries)))
	c.mu.Unlock()

	for _, s := range idle {
		if err := s.Flush(ctx); err != nil {
			slog.Error("flush evicted conversation", "slot", s.Slot(), "error", err)
		}
	}
	return len(idle)
}

// Run evicts idle stores every period until ctx is done.
func (c *StoreCache) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Evict(ctx); n > 0 {
				slog.Debug("evicted idle conversations", "count", n)
			}
		}
	}
}

func (c *StoreCache) stores() []*ConversationStore {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*ConversationStore, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e.store)
	}
	return out
}

// StopAll cancels the in-flight requests of every loaded chat.
func (c *StoreCache) StopAll() {
	for _, s := range c.stores() {
		s.Stop()
	}
}

// Close flushes all stores.
func (c *StoreCache) Close(ctx context.Context) error {
	var errs []error
	for _, s := range c.stores() {
		if err := s.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
