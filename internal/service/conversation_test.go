package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/set-night/evochat/internal/config"
	"github.com/set-night/evochat/internal/domain"
	"github.com/stretchr/testify/require"
)

type fakeSnapshots struct {
	mu      sync.Mutex
	slots   map[string][]byte
	saves   int
	saveErr error
	loadErr error
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{slots: make(map[string][]byte)}
}

func (f *fakeSnapshots) Load(_ context.Context, slot string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	data, ok := f.slots[slot]
	if !ok {
		return nil, domain.ErrSnapshotNotFound
	}
	return data, nil
}

func (f *fakeSnapshots) Save(_ context.Context, slot string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saves++
	f.slots[slot] = append([]byte(nil), data...)
	return nil
}

func (f *fakeSnapshots) stored(t *testing.T, slot string) []domain.ChatSession {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.ChatSession
	require.NoError(t, json.Unmarshal(f.slots[slot], &out))
	return out
}

func (f *fakeSnapshots) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func testOptions() ConversationOptions {
	var n int
	var mu sync.Mutex
	clock := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	return ConversationOptions{
		Voice: "Kore",
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		},
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("id-%d", n)
		},
	}
}

func newTestStore(t *testing.T) (*ConversationStore, *fakeSnapshots) {
	t.Helper()
	snaps := newFakeSnapshots()
	s, err := LoadConversation(context.Background(), snaps, "test:1", testOptions())
	require.NoError(t, err)
	return s, snaps
}

func TestLoadConversation_FreshSessionHasWelcome(t *testing.T) {
	s, snaps := newTestStore(t)

	sessions := s.Sessions()
	require.Len(t, sessions, 1)
	require.Len(t, sessions[0].Messages, 1)

	welcome := sessions[0].Messages[0]
	require.Equal(t, domain.RoleAssistant, welcome.Role)
	require.Equal(t, config.WelcomeText, welcome.Content)
	require.Equal(t, config.WelcomeIDPrefix+sessions[0].ID, welcome.ID)
	require.Equal(t, sessions[0].ID, s.ActiveID())

	require.Len(t, snaps.stored(t, "test:1"), 1)
}

func TestLoadConversation_UnparsableFallsBack(t *testing.T) {
	for name, data := range map[string]string{
		"garbage": "{not json",
		"empty":   "[]",
		"object":  `{"id":"x"}`,
	} {
		t.Run(name, func(t *testing.T) {
			snaps := newFakeSnapshots()
			snaps.slots["test:1"] = []byte(data)

			s, err := LoadConversation(context.Background(), snaps, "test:1", testOptions())
			require.NoError(t, err)
			require.Len(t, s.Sessions(), 1)
			require.Equal(t, config.WelcomeText, s.Sessions()[0].Messages[0].Content)
		})
	}
}

func TestLoadConversation_BackendError(t *testing.T) {
	snaps := newFakeSnapshots()
	snaps.loadErr = errors.New("connection refused")

	_, err := LoadConversation(context.Background(), snaps, "test:1", testOptions())
	require.Error(t, err)
}

func TestLoadConversation_RestoresAndRepairs(t *testing.T) {
	snaps := newFakeSnapshots()
	snaps.slots["test:1"] = []byte(`[
		{"id":"s2","title":"Second","updatedAt":20,"messages":[
			{"id":"u1","role":"user","content":"hi","timestamp":"2025-01-01T00:00:00Z"},
			{"id":"a1","role":"assistant","content":"","timestamp":"2025-01-01T00:00:00Z","isStreaming":true}
		]},
		{"id":"s1","title":"","updatedAt":10,"messages":[]}
	]`)

	s, err := LoadConversation(context.Background(), snaps, "test:1", testOptions())
	require.NoError(t, err)
	require.Equal(t, "s2", s.ActiveID())
	require.False(t, s.Generating())

	sessions := s.Sessions()
	require.Len(t, sessions, 2)
	require.Equal(t, config.StoppedText, sessions[0].Messages[1].Content)
	require.Len(t, sessions[1].Messages, 1)
	require.Equal(t, config.DefaultTitle, sessions[1].Title)

	// a repaired store accepts new sends
	_, err = s.BeginSend("again", nil, domain.ModeStandard, 0)
	require.NoError(t, err)
}

func TestCreateSession_PrependsAndActivates(t *testing.T) {
	s, snaps := newTestStore(t)
	first := s.ActiveID()

	created := s.CreateSession()
	require.Equal(t, created.ID, s.ActiveID())
	require.NotEqual(t, first, created.ID)

	stored := snaps.stored(t, "test:1")
	require.Len(t, stored, 2)
	require.Equal(t, created.ID, stored[0].ID)
	for _, sess := range stored {
		require.NotEmpty(t, sess.Messages)
	}
}

func TestSessions_OrderedByUpdatedAt(t *testing.T) {
	s, _ := newTestStore(t)
	first := s.ActiveID()
	second := s.CreateSession().ID

	require.NoError(t, s.SwitchSession(first))
	_, err := s.BeginSend("bump", nil, domain.ModeStandard, 0)
	require.NoError(t, err)

	sessions := s.Sessions()
	require.Equal(t, first, sessions[0].ID)
	require.Equal(t, second, sessions[1].ID)
}

func TestBeginSend_AppendsPlaceholderAndTitle(t *testing.T) {
	s, snaps := newTestStore(t)

	p, err := s.BeginSend("What is the capital of France and why?", nil, domain.ModeThinking, 42)
	require.NoError(t, err)

	sess, err := s.ActiveSession()
	require.NoError(t, err)
	require.Len(t, sess.Messages, 3)
	require.Equal(t, "What is the capital of France ", sess.Title)

	user := sess.Messages[1]
	require.Equal(t, domain.RoleUser, user.Role)
	require.Equal(t, 42, user.RefID)

	assistant := sess.Messages[2]
	require.Equal(t, p.AssistantID, assistant.ID)
	require.True(t, assistant.IsStreaming)
	require.Empty(t, assistant.Content)
	require.Equal(t, domain.ModeThinking, assistant.Mode)

	require.Len(t, p.History, 2)
	require.Equal(t, user.ID, p.History[1].ID)
	require.True(t, s.Generating())

	stored := snaps.stored(t, "test:1")
	require.Len(t, stored[0].Messages, 3)
}

func TestComplete_BlankReplyGetsNotice(t *testing.T) {
	s, snaps := newTestStore(t)

	p, err := s.BeginSend("q", nil, domain.ModeStandard, 0)
	require.NoError(t, err)
	require.NoError(t, s.SetContent(p.SessionID, p.AssistantID, " \n"))
	require.NoError(t, s.Complete(p.SessionID, p.AssistantID))

	msg, _ := s.Message(p.SessionID, p.AssistantID)
	require.Equal(t, config.EmptyReplyText, msg.Content)
	require.Equal(t, config.EmptyReplyText, snaps.stored(t, "test:1")[0].Messages[2].Content)
}

func TestBeginSend_TitleOnlyFromFirstMessage(t *testing.T) {
	s, _ := newTestStore(t)

	p, err := s.BeginSend("first", nil, domain.ModeStandard, 0)
	require.NoError(t, err)
	require.NoError(t, s.Complete(p.SessionID, p.AssistantID))

	_, err = s.BeginSend("second", nil, domain.ModeStandard, 0)
	require.NoError(t, err)

	sess, _ := s.ActiveSession()
	require.Equal(t, "first", sess.Title)
}

func TestBeginSend_AttachmentOnlyTitle(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.BeginSend("", []domain.Attachment{domain.NewAttachment("image/png", "AA", "f")}, domain.ModeStandard, 0)
	require.NoError(t, err)

	sess, _ := s.ActiveSession()
	require.Equal(t, config.FallbackTitle, sess.Title)
}

func TestBeginSend_RejectsEmptyAndBusy(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.BeginSend("  ", nil, domain.ModeStandard, 0)
	require.ErrorIs(t, err, domain.ErrEmptyInput)

	_, err = s.BeginSend("one", nil, domain.ModeStandard, 0)
	require.NoError(t, err)

	_, err = s.BeginSend("two", nil, domain.ModeStandard, 0)
	require.ErrorIs(t, err, domain.ErrSessionBusy)

	sess, _ := s.ActiveSession()
	require.Len(t, sess.Messages, 3)
}

func TestBusyIsPerSession(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.BeginSend("one", nil, domain.ModeStandard, 0)
	require.NoError(t, err)

	s.CreateSession()
	_, err = s.BeginSend("other session", nil, domain.ModeStandard, 0)
	require.NoError(t, err)
}

func TestCompleteAndFail_ReturnToIdle(t *testing.T) {
	s, _ := newTestStore(t)

	p, err := s.BeginSend("q", nil, domain.ModeStandard, 0)
	require.NoError(t, err)
	require.NoError(t, s.Fail(p.SessionID, p.AssistantID, config.GenericErrorText, false))

	msg, ok := s.Message(p.SessionID, p.AssistantID)
	require.True(t, ok)
	require.False(t, msg.IsStreaming)
	require.Equal(t, config.GenericErrorText, msg.Content)
	require.False(t, s.KeyPrompt())
	require.False(t, s.Busy())

	p, err = s.BeginSend("q2", nil, domain.ModeThinking, 0)
	require.NoError(t, err)
	require.NoError(t, s.Fail(p.SessionID, p.AssistantID, config.PermissionDeniedText, true))
	require.True(t, s.KeyPrompt())
}

func TestBeginEdit_TruncatesAndRegenerates(t *testing.T) {
	s, snaps := newTestStore(t)

	p1, err := s.BeginSend("first question", nil, domain.ModeStandard, 1)
	require.NoError(t, err)
	require.NoError(t, s.SetContent(p1.SessionID, p1.AssistantID, "first answer"))
	s.MergeGrounding(p1.AssistantID, domain.Grounding{URLs: []string{"https://a"}})
	require.NoError(t, s.Complete(p1.SessionID, p1.AssistantID))

	p2, err := s.BeginSend("second question", nil, domain.ModeThinking, 2)
	require.NoError(t, err)
	require.NoError(t, s.Complete(p2.SessionID, p2.AssistantID))

	p, err := s.BeginEdit(p1.UserID, "edited question")
	require.NoError(t, err)
	require.Equal(t, domain.ModeStandard, p.Mode)

	sess, _ := s.ActiveSession()
	require.Len(t, sess.Messages, 3)
	require.Equal(t, "edited question", sess.Messages[1].Content)
	require.Equal(t, p1.UserID, sess.Messages[1].ID)
	require.Equal(t, p.AssistantID, sess.Messages[2].ID)
	require.True(t, sess.Messages[2].IsStreaming)
	require.Equal(t, domain.ModeStandard, sess.Messages[2].Mode)
	require.Equal(t, "edited question", sess.Title)

	require.Len(t, p.History, 2)
	require.Equal(t, "edited question", p.History[1].Content)
	require.Empty(t, s.Grounding(p1.AssistantID).URLs)

	_, _, ok := s.FindMessage(p2.UserID)
	require.False(t, ok)

	require.Len(t, snaps.stored(t, "test:1")[0].Messages, 3)
}

func TestBeginEdit_Errors(t *testing.T) {
	s, _ := newTestStore(t)

	p, err := s.BeginSend("q", nil, domain.ModeStandard, 0)
	require.NoError(t, err)

	_, err = s.BeginEdit(p.UserID, "x")
	require.ErrorIs(t, err, domain.ErrSessionBusy)

	require.NoError(t, s.Complete(p.SessionID, p.AssistantID))

	_, err = s.BeginEdit("missing", "x")
	require.ErrorIs(t, err, domain.ErrMessageNotFound)

	_, err = s.BeginEdit(p.AssistantID, "x")
	require.ErrorIs(t, err, domain.ErrNotEditable)

	_, err = s.BeginEdit(p.UserID, " ")
	require.ErrorIs(t, err, domain.ErrEmptyInput)
}

func TestApplySnapshot_MergesGrounding(t *testing.T) {
	s, _ := newTestStore(t)
	p, err := s.BeginSend("q", nil, domain.ModeStandard, 0)
	require.NoError(t, err)

	require.NoError(t, s.ApplySnapshot(p.SessionID, p.AssistantID, Snapshot{
		Content:   "Hel",
		Grounding: domain.Grounding{URLs: []string{"A", "B"}},
	}))
	require.NoError(t, s.ApplySnapshot(p.SessionID, p.AssistantID, Snapshot{
		Content:   "Hello",
		Grounding: domain.Grounding{URLs: []string{"B", "C"}, Queries: []string{"q"}},
		Usage:     &domain.Usage{TotalTokens: 7},
	}))

	msg, _ := s.Message(p.SessionID, p.AssistantID)
	require.Equal(t, "Hello", msg.Content)
	require.True(t, msg.IsStreaming)
	require.Equal(t, 7, msg.Usage.TotalTokens)
	require.Equal(t, []string{"A", "B", "C"}, s.Grounding(p.AssistantID).URLs)
	require.Equal(t, []string{"q"}, s.Grounding(p.AssistantID).Queries)
}

func TestSubscribe_ReceivesMutations(t *testing.T) {
	s, _ := newTestStore(t)

	var events []Event
	unsubscribe := s.Subscribe(func(ev Event) {
		// listeners run outside the lock and may read the store
		_ = s.Generating()
		events = append(events, ev)
	})

	p, err := s.BeginSend("q", nil, domain.ModeStandard, 0)
	require.NoError(t, err)
	require.NoError(t, s.SetContent(p.SessionID, p.AssistantID, "partial"))
	require.NoError(t, s.Complete(p.SessionID, p.AssistantID))

	require.Len(t, events, 3)
	require.True(t, events[0].Generating)
	require.Equal(t, "partial", events[1].Message.Content)
	require.False(t, events[2].Generating)

	unsubscribe()
	_, err = s.BeginSend("q2", nil, domain.ModeStandard, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)
}

func TestPersistence_EveryMutation(t *testing.T) {
	s, snaps := newTestStore(t)
	before := snaps.saveCount()

	p, err := s.BeginSend("q", nil, domain.ModeStandard, 0)
	require.NoError(t, err)
	require.NoError(t, s.SetContent(p.SessionID, p.AssistantID, "a"))
	require.NoError(t, s.Complete(p.SessionID, p.AssistantID))

	require.Equal(t, before+3, snaps.saveCount())
}

func TestPersistence_FailureKeepsMemoryState(t *testing.T) {
	s, snaps := newTestStore(t)
	snaps.saveErr = errors.New("disk full")

	p, err := s.BeginSend("q", nil, domain.ModeStandard, 0)
	require.NoError(t, err)

	_, ok := s.Message(p.SessionID, p.AssistantID)
	require.True(t, ok)
	require.Error(t, s.Flush(context.Background()))
}

func TestDeleteSession(t *testing.T) {
	s, snaps := newTestStore(t)
	first := s.ActiveID()
	second := s.CreateSession().ID

	require.NoError(t, s.DeleteSession(second))
	require.Equal(t, first, s.ActiveID())
	require.Len(t, s.Sessions(), 1)

	require.NoError(t, s.DeleteSession(first))
	require.Len(t, s.Sessions(), 1)
	require.NotEqual(t, first, s.ActiveID())
	require.Len(t, snaps.stored(t, "test:1"), 1)

	require.ErrorIs(t, s.DeleteSession("nope"), domain.ErrSessionNotFound)

	_, err := s.BeginSend("q", nil, domain.ModeStandard, 0)
	require.NoError(t, err)
	require.ErrorIs(t, s.DeleteSession(s.ActiveID()), domain.ErrSessionBusy)
}

func TestRederiveTitle(t *testing.T) {
	s, _ := newTestStore(t)
	id := s.ActiveID()

	title, err := s.RederiveTitle(id)
	require.NoError(t, err)
	require.Equal(t, config.DefaultTitle, title)

	_, err = s.BeginSend(strings.Repeat("é", 40), nil, domain.ModeStandard, 0)
	require.NoError(t, err)
	title, err = s.RederiveTitle(id)
	require.NoError(t, err)
	require.Equal(t, strings.Repeat("é", 30), title)
}

func TestMessageByRef(t *testing.T) {
	s, _ := newTestStore(t)
	p, err := s.BeginSend("q", nil, domain.ModeStandard, 77)
	require.NoError(t, err)

	msg, ok := s.MessageByRef(77)
	require.True(t, ok)
	require.Equal(t, p.UserID, msg.ID)

	_, ok = s.MessageByRef(0)
	require.False(t, ok)
}

func TestStopCancelsTracked(t *testing.T) {
	s, _ := newTestStore(t)
	require.False(t, s.Stop())

	ctx, cancel := context.WithCancel(context.Background())
	untrack := s.Track("sess", cancel)
	require.True(t, s.Stop())
	require.ErrorIs(t, ctx.Err(), context.Canceled)

	untrack()
	require.False(t, s.Stop())
}

func TestFlagsAndDraft(t *testing.T) {
	s, _ := newTestStore(t)

	require.Equal(t, domain.ModeStandard, s.Mode())
	s.SetMode(domain.ModeCreative)
	require.Equal(t, domain.ModeCreative, s.Mode())

	require.False(t, s.AudioEnabled())
	s.SetAudioEnabled(true)
	require.True(t, s.AudioEnabled())

	require.Equal(t, "Kore", s.Voice())
	s.SetVoice("Puck")
	require.Equal(t, "Puck", s.Voice())

	s.SetDraft("hello")
	require.Equal(t, "hello", s.Draft())
	require.Equal(t, "hello", s.TakeDraft())
	require.Empty(t, s.Draft())

	s.SetAPIKey("k")
	require.Equal(t, "k", s.APIKey())
}
