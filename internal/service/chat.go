package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/set-night/evochat/internal/audio"
	"github.com/set-night/evochat/internal/config"
	"github.com/set-night/evochat/internal/domain"
	"github.com/set-night/evochat/internal/metrics"
)

// ChatService dispatches accepted requests to the model and folds the
// results back into the conversation store.
type ChatService struct {
	gen  Generator
	bind func(apiKey string) Generator
	wg   sync.WaitGroup
}

// NewChatService creates the controller. bind, when set, returns a
// generator using a chat's own API key.
func NewChatService(gen Generator, bind func(apiKey string) Generator) *ChatService {
	return &ChatService{gen: gen, bind: bind}
}

func (c *ChatService) generator(store *ConversationStore) Generator {
	if key := store.APIKey(); key != "" && c.bind != nil {
		return c.bind(key)
	}
	return c.gen
}

// Send accepts a user message in the chat's selected mode.
func (c *ChatService) Send(store *ConversationStore, text string, attachments []domain.Attachment, refID int) (*Pending, error) {
	return store.BeginSend(text, attachments, store.Mode(), refID)
}

// Edit accepts an edit of a user message. Regeneration runs in standard mode.
func (c *ChatService) Edit(store *ConversationStore, messageID, content string) (*Pending, error) {
	return store.BeginEdit(messageID, content)
}

// Execute runs an accepted request to completion. The outcome, including
// failures, is always written to the store before Execute returns; the
// returned error is informational.
func (c *ChatService) Execute(ctx context.Context, store *ConversationStore, p *Pending) error {
	c.wg.Add(1)
	defer c.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, config.RequestTimeout)
	defer cancel()
	untrack := store.Track(p.SessionID, cancel)
	defer untrack()

	start := time.Now()
	gen := c.generator(store)

	var err error
	if p.Mode == domain.ModeCreative {
		err = c.runImage(ctx, gen, store, p)
	} else {
		err = c.runChat(ctx, gen, store, p)
	}

	metrics.RequestDuration.WithLabelValues(string(p.Mode)).Observe(time.Since(start).Seconds())
	metrics.Requests.WithLabelValues(string(p.Mode), outcome(err)).Inc()
	return err
}

func (c *ChatService) runChat(ctx context.Context, gen Generator, store *ConversationStore, p *Pending) error {
	events, err := gen.StreamChat(ctx, p.History, p.Mode)
	if err == nil {
		var agg Aggregator
		err = agg.Run(ctx, events, func(s Snapshot) {
			if uerr := store.ApplySnapshot(p.SessionID, p.AssistantID, s); uerr != nil {
				slog.Error("apply snapshot", "error", uerr, "session_id", p.SessionID, "message_id", p.AssistantID)
			}
		})
	}
	return c.finish(store, p, err)
}

func (c *ChatService) runImage(ctx context.Context, gen Generator, store *ConversationStore, p *Pending) error {
	url, err := gen.GenerateImage(ctx, p.Text, p.Attachments)
	if err != nil {
		return c.finish(store, p, err)
	}
	if err := store.SetGeneratedImage(p.SessionID, p.AssistantID, url, config.ImageCompleteText); err != nil {
		return fmt.Errorf("store image: %w", err)
	}
	return nil
}

// finish settles the placeholder of p according to err.
func (c *ChatService) finish(store *ConversationStore, p *Pending, err error) error {
	var serr error
	switch {
	case err == nil:
		serr = store.Complete(p.SessionID, p.AssistantID)
	case errors.Is(err, context.Canceled):
		serr = store.Stopped(p.SessionID, p.AssistantID)
	case errors.Is(err, domain.ErrKeyPermission):
		slog.Warn("model permission denied", "error", err, "mode", p.Mode, "session_id", p.SessionID)
		serr = store.Fail(p.SessionID, p.AssistantID, config.PermissionDeniedText, true)
	default:
		slog.Error("generation failed", "error", err, "mode", p.Mode, "session_id", p.SessionID)
		serr = store.Fail(p.SessionID, p.AssistantID, config.GenericErrorText, false)
	}
	if serr != nil {
		slog.Error("settle reply", "error", serr, "session_id", p.SessionID, "message_id", p.AssistantID)
	}
	return err
}

// Speak synthesizes a message and returns it as a WAV file. Synthesized
// audio is cached on the message.
func (c *ChatService) Speak(ctx context.Context, store *ConversationStore, sessionID, messageID string) ([]byte, error) {
	msg, ok := store.Message(sessionID, messageID)
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	if msg.Content == "" {
		return nil, domain.ErrEmptyInput
	}

	data := msg.AudioData
	fresh := data == ""
	if fresh {
		start := time.Now()
		var err error
		data, err = c.generator(store).TextToSpeech(ctx, msg.Content, store.Voice())
		metrics.RequestDuration.WithLabelValues("speech").Observe(time.Since(start).Seconds())
		metrics.Requests.WithLabelValues("speech", outcome(err)).Inc()
		if err != nil {
			return nil, fmt.Errorf("text to speech: %w", err)
		}
	}

	pcm := audio.DecodeBase64(data)
	buf := audio.DecodePCM(pcm, config.SpeechSampleRate, config.SpeechChannels)
	if buf.Frames() == 0 {
		return nil, domain.ErrSpeechDataMissing
	}
	if fresh {
		if err := store.SetAudioData(sessionID, messageID, data); err != nil {
			slog.Error("cache speech", "error", err, "message_id", messageID)
		}
	}
	return audio.EncodeWAV(buf), nil
}

// Transcribe converts a recorded clip to text and keeps it as the chat's
// draft. An empty transcription leaves the draft untouched.
func (c *ChatService) Transcribe(ctx context.Context, store *ConversationStore, clip []byte, mimeType string) (string, error) {
	start := time.Now()
	text, err := c.generator(store).Transcribe(ctx, audio.EncodeBase64(clip), mimeType)
	metrics.RequestDuration.WithLabelValues("transcription").Observe(time.Since(start).Seconds())
	metrics.Requests.WithLabelValues("transcription", outcome(err)).Inc()
	if err != nil {
		return "", fmt.Errorf("transcribe: %w", err)
	}
	if text != "" {
		store.SetDraft(text)
	}
	return text, nil
}

// Wait blocks until every running Execute has returned or ctx is done.
func (c *ChatService) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ErrorText maps an error to the text shown to the user and whether the
// credential prompt should be raised.
func ErrorText(err error) (string, bool) {
	if errors.Is(err, domain.ErrKeyPermission) {
		return config.PermissionDeniedText, true
	}
	return config.GenericErrorText, false
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, domain.ErrKeyPermission):
		return "permission"
	case errors.Is(err, domain.ErrRateLimited):
		return "rate_limited"
	default:
		return "error"
	}
}
