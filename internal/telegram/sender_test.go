package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/set-night/evochat/internal/config"
	"github.com/set-night/evochat/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeMessenger struct {
	mu      sync.Mutex
	sent    []*bot.SendMessageParams
	edits   []*bot.EditMessageTextParams
	failMD  bool
	editErr error
	nextID  int
}

func (f *fakeMessenger) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMD && p.ParseMode != "" {
		return nil, errors.New("Bad Request: can't parse entities")
	}
	f.nextID++
	f.sent = append(f.sent, p)
	return &models.Message{ID: f.nextID, Text: p.Text}, nil
}

func (f *fakeMessenger) EditMessageText(_ context.Context, p *bot.EditMessageTextParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.editErr != nil {
		return nil, f.editErr
	}
	f.edits = append(f.edits, p)
	return &models.Message{ID: p.MessageID, Text: p.Text}, nil
}

func TestSendLongMessage_SplitsAndAttachesMarkup(t *testing.T) {
	f := &fakeMessenger{}
	markup := InlineKeyboard(ButtonRow(InlineButton("🔊", "tts:1")))
	text := strings.Repeat("word ", 2000)

	sent, err := SendLongMessage(context.Background(), f, 1, text, 7, markup)
	require.NoError(t, err)
	require.Len(t, sent, 3)

	require.Equal(t, 7, f.sent[0].ReplyParameters.MessageID)
	require.Nil(t, f.sent[1].ReplyParameters)
	require.Nil(t, f.sent[0].ReplyMarkup)
	require.Equal(t, markup, f.sent[2].ReplyMarkup)
}

func TestSendLongMessage_PlainTextFallback(t *testing.T) {
	f := &fakeMessenger{failMD: true}

	sent, err := SendLongMessage(context.Background(), f, 1, "a_b", 0, nil)
	require.NoError(t, err)
	require.Len(t, sent, 1)
	require.Equal(t, models.ParseMode(""), f.sent[0].ParseMode)
}

func TestEditMessage_NotModifiedIsIgnored(t *testing.T) {
	f := &fakeMessenger{editErr: errors.New("Bad Request: message is not modified")}
	require.NoError(t, EditMessage(context.Background(), f, 1, 2, "same", nil))

	f.editErr = errors.New("Bad Request: message to edit not found")
	require.Error(t, EditMessage(context.Background(), f, 1, 2, "gone", nil))
}

func TestLiveMessage_ThrottlesInterimUpdates(t *testing.T) {
	f := &fakeMessenger{}
	live := NewLiveMessage(f, 1, 10, time.Hour)
	ctx := context.Background()

	require.NoError(t, live.Update(ctx, "H"))
	require.NoError(t, live.Update(ctx, "He"))
	require.NoError(t, live.Update(ctx, "Hel"))
	require.Len(t, f.edits, 1)
	require.Equal(t, "H", f.edits[0].Text)

	markup := InlineKeyboard(ButtonRow(InlineButton("🔊", "tts:1")))
	require.NoError(t, live.Finish(ctx, "Hello", markup))
	require.Len(t, f.edits, 2)
	require.Equal(t, "Hello", f.edits[1].Text)
	require.Equal(t, markup, f.edits[1].ReplyMarkup)
	require.Equal(t, 10, live.MessageID())
}

func TestLiveMessage_FinishSpillsLongText(t *testing.T) {
	f := &fakeMessenger{}
	live := NewLiveMessage(f, 1, 10, time.Millisecond)
	markup := InlineKeyboard(ButtonRow(InlineButton("🔊", "tts:1")))

	require.NoError(t, live.Finish(context.Background(), strings.Repeat("line\n", 1500), markup))
	require.Len(t, f.edits, 1)
	require.Nil(t, f.edits[0].ReplyMarkup)
	require.NotEmpty(t, f.sent)
	require.Equal(t, markup, f.sent[len(f.sent)-1].ReplyMarkup)
}

func TestPaginationRow(t *testing.T) {
	require.Nil(t, PaginationRow(0, 1, "sessions"))

	row := PaginationRow(1, 3, "sessions")
	require.Len(t, row, 3)
	require.Equal(t, "sessions:0", row[0].CallbackData)
	require.Equal(t, "2/3", row[1].Text)
	require.Equal(t, "sessions:2", row[2].CallbackData)
}

func TestLiveMessage_FinishReplacesBlankReply(t *testing.T) {
	f := &fakeMessenger{}
	live := NewLiveMessage(f, 1, 10, time.Second)

	text := RenderMessage(domain.Message{Role: domain.RoleAssistant}, domain.Grounding{})
	require.NoError(t, live.Finish(context.Background(), text, nil))
	require.NoError(t, live.Finish(context.Background(), "  ", nil))

	require.Len(t, f.edits, 2)
	for _, e := range f.edits {
		require.Equal(t, config.EmptyReplyText, e.Text)
		require.NotContains(t, e.Text, config.GeneratingText)
	}
}
