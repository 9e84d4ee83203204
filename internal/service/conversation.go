package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/set-night/evochat/internal/config"
	"github.com/set-night/evochat/internal/domain"
	"github.com/set-night/evochat/internal/metrics"
)

const persistTimeout = 5 * time.Second

// SnapshotStore is a durable slot holding the serialized session list.
type SnapshotStore interface {
	Load(ctx context.Context, slot string) ([]byte, error)
	Save(ctx context.Context, slot string, data []byte) error
}

// Event describes a mutation of one message. Listeners receive copies.
type Event struct {
	SessionID  string
	MessageID  string
	Message    domain.Message
	Grounding  domain.Grounding
	Generating bool
}

// Pending is a request accepted by the store and awaiting a response.
type Pending struct {
	SessionID   string
	AssistantID string
	UserID      string
	History     []domain.Message
	Mode        domain.ChatMode
	Text        string
	Attachments []domain.Attachment
}

type ConversationOptions struct {
	Voice string
	Now   func() time.Time
	NewID func() string
}

// ConversationStore owns the application state of one chat: its sessions,
// the active session, per-session dispatch state and UI flags. Every
// mutation of the session list is written to the snapshot slot.
type ConversationStore struct {
	mu        sync.Mutex
	slot      string
	snapshots SnapshotStore
	now       func() time.Time
	newID     func() string

	sessions  []*domain.ChatSession
	activeID  string
	states    map[string]domain.SessionState
	grounding map[string]domain.Grounding
	inflight  map[string]context.CancelFunc

	keyPrompt    bool
	audioEnabled bool
	mode         domain.ChatMode
	voice        string
	draft        string
	apiKey       string

	listeners    map[int]func(Event)
	nextListener int
}

func newConversationStore(snapshots SnapshotStore, slot string, opts ConversationOptions) *ConversationStore {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	if opts.Voice == "" {
		opts.Voice = config.Voices[0]
	}
	return &ConversationStore{
		slot:      slot,
		snapshots: snapshots,
		now:       opts.Now,
		newID:     opts.NewID,
		states:    make(map[string]domain.SessionState),
		grounding: make(map[string]domain.Grounding),
		inflight:  make(map[string]context.CancelFunc),
		mode:      domain.ModeStandard,
		voice:     opts.Voice,
		listeners: make(map[int]func(Event)),
	}
}

// LoadConversation rehydrates a chat's state from its slot. An absent,
// unparsable or empty snapshot yields a fresh session.
func LoadConversation(ctx context.Context, snapshots SnapshotStore, slot string, opts ConversationOptions) (*ConversationStore, error) {
	s := newConversationStore(snapshots, slot, opts)

	data, err := snapshots.Load(ctx, slot)
	if err != nil && !errors.Is(err, domain.ErrSnapshotNotFound) {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var sessions []domain.ChatSession
	if err == nil {
		if uerr := json.Unmarshal(data, &sessions); uerr != nil {
			slog.Warn("discarding unparsable snapshot", "slot", slot, "error", uerr)
			sessions = nil
		}
	}

	if len(sessions) == 0 {
		s.CreateSession()
		return s, nil
	}

	for i := range sessions {
		sess := sessions[i]
		s.repair(&sess)
		s.sessions = append(s.sessions, &sess)
	}
	s.activeID = s.sessions[0].ID
	return s, nil
}

// repair restores the invariants of a session read from storage.
func (s *ConversationStore) repair(sess *domain.ChatSession) {
	if sess.ID == "" {
		sess.ID = s.newID()
	}
	if len(sess.Messages) == 0 {
		sess.Messages = []domain.Message{s.welcome(sess.ID)}
	}
	for i := range sess.Messages {
		m := &sess.Messages[i]
		if m.IsStreaming {
			m.IsStreaming = false
			if m.Content == "" {
				m.Content = config.StoppedText
			}
		}
	}
	if sess.Title == "" {
		sess.Title = config.DefaultTitle
	}
}

func (s *ConversationStore) welcome(sessionID string) domain.Message {
	return domain.Message{
		ID:        config.WelcomeIDPrefix + sessionID,
		Role:      domain.RoleAssistant,
		Content:   config.WelcomeText,
		Timestamp: s.now(),
		Mode:      domain.ModeStandard,
	}
}

// Slot returns the durable slot name of this store.
func (s *ConversationStore) Slot() string {
	return s.slot
}

// CreateSession prepends a new session holding the welcome message and makes
// it active.
func (s *ConversationStore) CreateSession() domain.ChatSession {
	s.mu.Lock()
	id := s.newID()
	sess := &domain.ChatSession{
		ID:       id,
		Title:    config.DefaultTitle,
		Messages: []domain.Message{s.welcome(id)},
	}
	sess.Touch(s.now())
	s.sessions = append([]*domain.ChatSession{sess}, s.sessions...)
	s.activeID = id
	s.persistLocked(context.Background())
	out := sess.Clone()
	s.mu.Unlock()
	return out
}

// Sessions returns copies of all sessions, most recently updated first.
func (s *ConversationStore) Sessions() []domain.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ChatSession, len(s.sessions))
	for i, sess := range s.sessions {
		out[i] = sess.Clone()
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt > out[j].UpdatedAt
	})
	return out
}

// ActiveSession returns a copy of the active session.
func (s *ConversationStore) ActiveSession() (domain.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.findLocked(s.activeID)
	if sess == nil {
		return domain.ChatSession{}, domain.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

func (s *ConversationStore) ActiveID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

func (s *ConversationStore) SwitchSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findLocked(id) == nil {
		return domain.ErrSessionNotFound
	}
	s.activeID = id
	return nil
}

// DeleteSession removes a session. A session with a request in flight cannot
// be deleted. When the last session goes, a fresh one replaces it.
func (s *ConversationStore) DeleteSession(id string) error {
	s.mu.Lock()
	idx := -1
	for i, sess := range s.sessions {
		if sess.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	if s.states[id] == domain.SessionAwaiting {
		s.mu.Unlock()
		return domain.ErrSessionBusy
	}

	for _, m := range s.sessions[idx].Messages {
		delete(s.grounding, m.ID)
	}
	delete(s.states, id)
	s.sessions = append(s.sessions[:idx], s.sessions[idx+1:]...)

	if len(s.sessions) == 0 {
		s.mu.Unlock()
		s.CreateSession()
		return nil
	}
	if s.activeID == id {
		s.activeID = s.sessions[0].ID
	}
	s.persistLocked(context.Background())
	s.mu.Unlock()
	return nil
}

// BeginSend appends the user message and an in-flight assistant placeholder
// to the active session and marks it awaiting.
func (s *ConversationStore) BeginSend(text string, attachments []domain.Attachment, mode domain.ChatMode, refID int) (*Pending, error) {
	if strings.TrimSpace(text) == "" && len(attachments) == 0 {
		return nil, domain.ErrEmptyInput
	}

	s.mu.Lock()
	sess := s.findLocked(s.activeID)
	if sess == nil {
		s.mu.Unlock()
		return nil, domain.ErrSessionNotFound
	}
	if s.states[sess.ID] == domain.SessionAwaiting {
		s.mu.Unlock()
		return nil, domain.ErrSessionBusy
	}

	now := s.now()
	user := domain.Message{
		ID:          s.newID(),
		Role:        domain.RoleUser,
		Content:     text,
		Timestamp:   now,
		Attachments: attachments,
		RefID:       refID,
	}
	assistant := s.placeholder(mode, now)

	history := cloneMessages(sess.Messages)
	history = append(history, user.Clone())

	if len(sess.Messages) <= 1 {
		sess.Title = deriveTitle(text)
	}
	sess.Messages = append(sess.Messages, user, assistant)
	sess.Touch(now)
	s.states[sess.ID] = domain.SessionAwaiting
	s.persistLocked(context.Background())

	p := &Pending{
		SessionID:   sess.ID,
		AssistantID: assistant.ID,
		UserID:      user.ID,
		History:     history,
		Mode:        mode,
		Text:        text,
		Attachments: attachments,
	}
	ev := s.eventLocked(sess.ID, assistant.ID)
	s.mu.Unlock()

	s.notify(ev)
	return p, nil
}

// BeginEdit replaces the content of a user message in the active session,
// drops every message after it and appends a fresh assistant placeholder.
func (s *ConversationStore) BeginEdit(messageID, content string) (*Pending, error) {
	if strings.TrimSpace(content) == "" {
		return nil, domain.ErrEmptyInput
	}

	s.mu.Lock()
	sess := s.findLocked(s.activeID)
	if sess == nil {
		s.mu.Unlock()
		return nil, domain.ErrSessionNotFound
	}
	idx := sess.IndexOf(messageID)
	if idx == -1 {
		s.mu.Unlock()
		return nil, domain.ErrMessageNotFound
	}
	if sess.Messages[idx].Role != domain.RoleUser {
		s.mu.Unlock()
		return nil, domain.ErrNotEditable
	}
	if s.states[sess.ID] == domain.SessionAwaiting {
		s.mu.Unlock()
		return nil, domain.ErrSessionBusy
	}

	now := s.now()
	edited := sess.Messages[idx].Clone()
	edited.Content = content
	edited.Timestamp = now

	for _, m := range sess.Messages[idx:] {
		delete(s.grounding, m.ID)
	}

	history := cloneMessages(sess.Messages[:idx])
	history = append(history, edited.Clone())

	assistant := s.placeholder(domain.ModeStandard, now)
	msgs := cloneMessages(sess.Messages[:idx])
	sess.Messages = append(msgs, edited, assistant)
	s.rederiveTitleLocked(sess)
	sess.Touch(now)
	s.states[sess.ID] = domain.SessionAwaiting
	s.persistLocked(context.Background())

	p := &Pending{
		SessionID:   sess.ID,
		AssistantID: assistant.ID,
		UserID:      edited.ID,
		History:     history,
		Mode:        domain.ModeStandard,
		Text:        content,
		Attachments: edited.Attachments,
	}
	ev := s.eventLocked(sess.ID, assistant.ID)
	s.mu.Unlock()

	s.notify(ev)
	return p, nil
}

func (s *ConversationStore) placeholder(mode domain.ChatMode, now time.Time) domain.Message {
	return domain.Message{
		ID:          s.newID(),
		Role:        domain.RoleAssistant,
		Timestamp:   now,
		IsStreaming: true,
		Mode:        mode,
	}
}

// UpdateMessage applies fn to a message and persists the result.
func (s *ConversationStore) UpdateMessage(sessionID, messageID string, fn func(*domain.Message)) error {
	s.mu.Lock()
	sess := s.findLocked(sessionID)
	if sess == nil {
		s.mu.Unlock()
		return domain.ErrSessionNotFound
	}
	idx := sess.IndexOf(messageID)
	if idx == -1 {
		s.mu.Unlock()
		return domain.ErrMessageNotFound
	}

	fn(&sess.Messages[idx])
	if !sess.InFlight() {
		s.states[sessionID] = domain.SessionIdle
	}
	s.persistLocked(context.Background())
	ev := s.eventLocked(sessionID, messageID)
	s.mu.Unlock()

	s.notify(ev)
	return nil
}

// ApplySnapshot publishes the aggregated state of a streaming reply.
func (s *ConversationStore) ApplySnapshot(sessionID, messageID string, snap Snapshot) error {
	s.mu.Lock()
	if len(snap.Grounding.URLs) > 0 || len(snap.Grounding.Queries) > 0 {
		g := s.grounding[messageID]
		g.URLs = mergeOrdered(g.URLs, snap.Grounding.URLs...)
		g.Queries = mergeOrdered(g.Queries, snap.Grounding.Queries...)
		s.grounding[messageID] = g
	}
	s.mu.Unlock()

	return s.UpdateMessage(sessionID, messageID, func(m *domain.Message) {
		m.Content = snap.Content
		if snap.Usage != nil {
			u := *snap.Usage
			m.Usage = &u
		}
	})
}

func (s *ConversationStore) SetContent(sessionID, messageID, content string) error {
	return s.UpdateMessage(sessionID, messageID, func(m *domain.Message) {
		m.Content = content
	})
}

func (s *ConversationStore) SetUsage(sessionID, messageID string, u domain.Usage) error {
	return s.UpdateMessage(sessionID, messageID, func(m *domain.Message) {
		m.Usage = &u
	})
}

// SetGeneratedImage completes a creative-mode reply with its image.
func (s *ConversationStore) SetGeneratedImage(sessionID, messageID, imageURL, content string) error {
	return s.UpdateMessage(sessionID, messageID, func(m *domain.Message) {
		m.GeneratedImageURL = imageURL
		m.Content = content
		m.IsStreaming = false
	})
}

// SetAudioData caches synthesized speech on a message.
func (s *ConversationStore) SetAudioData(sessionID, messageID, data string) error {
	return s.UpdateMessage(sessionID, messageID, func(m *domain.Message) {
		m.AudioData = data
	})
}

// MergeGrounding unions citation URLs and queries into a message's grounding.
func (s *ConversationStore) MergeGrounding(messageID string, g domain.Grounding) {
	s.mu.Lock()
	cur := s.grounding[messageID]
	cur.URLs = mergeOrdered(cur.URLs, g.URLs...)
	cur.Queries = mergeOrdered(cur.Queries, g.Queries...)
	s.grounding[messageID] = cur
	s.mu.Unlock()
}

// Complete clears the in-flight flag of a reply. A reply that finished
// without visible text gets the empty-reply notice.
func (s *ConversationStore) Complete(sessionID, messageID string) error {
	return s.UpdateMessage(sessionID, messageID, func(m *domain.Message) {
		if strings.TrimSpace(m.Content) == "" && m.GeneratedImageURL == "" {
			m.Content = config.EmptyReplyText
		}
		m.IsStreaming = false
	})
}

// Fail replaces a reply's content with a user-facing error text. When
// keyPrompt is set the credential prompt is raised.
func (s *ConversationStore) Fail(sessionID, messageID, text string, keyPrompt bool) error {
	if keyPrompt {
		s.SetKeyPrompt(true)
	}
	return s.UpdateMessage(sessionID, messageID, func(m *domain.Message) {
		m.Content = text
		m.IsStreaming = false
	})
}

// Stopped ends a cancelled reply, keeping whatever text arrived.
func (s *ConversationStore) Stopped(sessionID, messageID string) error {
	return s.UpdateMessage(sessionID, messageID, func(m *domain.Message) {
		if m.Content == "" {
			m.Content = config.StoppedText
		}
		m.IsStreaming = false
	})
}

// Message returns a copy of one message.
func (s *ConversationStore) Message(sessionID, messageID string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.findLocked(sessionID)
	if sess == nil {
		return domain.Message{}, false
	}
	idx := sess.IndexOf(messageID)
	if idx == -1 {
		return domain.Message{}, false
	}
	return sess.Messages[idx].Clone(), true
}

// FindMessage looks a message up across all sessions.
func (s *ConversationStore) FindMessage(messageID string) (string, domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sess := range s.sessions {
		if idx := sess.IndexOf(messageID); idx != -1 {
			return sess.ID, sess.Messages[idx].Clone(), true
		}
	}
	return "", domain.Message{}, false
}

// MessageByRef finds the active session's user message rendered as refID.
func (s *ConversationStore) MessageByRef(refID int) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.findLocked(s.activeID)
	if sess == nil || refID == 0 {
		return domain.Message{}, false
	}
	for _, m := range sess.Messages {
		if m.RefID == refID && m.Role == domain.RoleUser {
			return m.Clone(), true
		}
	}
	return domain.Message{}, false
}

func (s *ConversationStore) Grounding(messageID string) domain.Grounding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneGrounding(s.grounding[messageID])
}

// RederiveTitle recomputes a session title from its first user message.
func (s *ConversationStore) RederiveTitle(sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.findLocked(sessionID)
	if sess == nil {
		return "", domain.ErrSessionNotFound
	}
	s.rederiveTitleLocked(sess)
	s.persistLocked(context.Background())
	return sess.Title, nil
}

func (s *ConversationStore) rederiveTitleLocked(sess *domain.ChatSession) {
	for _, m := range sess.Messages {
		if m.Role == domain.RoleUser {
			sess.Title = deriveTitle(m.Content)
			return
		}
	}
}

// Generating reports whether the active session has a reply in flight.
func (s *ConversationStore) Generating() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.findLocked(s.activeID)
	return sess != nil && sess.InFlight()
}

// Busy reports whether any session is awaiting a response.
func (s *ConversationStore) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.states {
		if st == domain.SessionAwaiting {
			return true
		}
	}
	return false
}

// Track registers the cancel function of a session's in-flight request.
// The returned func unregisters it.
func (s *ConversationStore) Track(sessionID string, cancel context.CancelFunc) func() {
	s.mu.Lock()
	s.inflight[sessionID] = cancel
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.inflight, sessionID)
		s.mu.Unlock()
	}
}

// Stop cancels every in-flight request of the chat and reports whether
// there was one.
func (s *ConversationStore) Stop() bool {
	s.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.inflight))
	for _, c := range s.inflight {
		cancels = append(cancels, c)
	}
	s.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	return len(cancels) > 0
}

func (s *ConversationStore) KeyPrompt() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keyPrompt
}

func (s *ConversationStore) SetKeyPrompt(v bool) {
	s.mu.Lock()
	s.keyPrompt = v
	s.mu.Unlock()
}

func (s *ConversationStore) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioEnabled
}

func (s *ConversationStore) SetAudioEnabled(v bool) {
	s.mu.Lock()
	s.audioEnabled = v
	s.mu.Unlock()
}

func (s *ConversationStore) Mode() domain.ChatMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *ConversationStore) SetMode(m domain.ChatMode) {
	s.mu.Lock()
	s.mode = m
	s.mu.Unlock()
}

func (s *ConversationStore) Voice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

func (s *ConversationStore) SetVoice(v string) {
	s.mu.Lock()
	s.voice = v
	s.mu.Unlock()
}

func (s *ConversationStore) SetDraft(text string) {
	s.mu.Lock()
	s.draft = text
	s.mu.Unlock()
}

func (s *ConversationStore) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// TakeDraft returns the pending draft and clears it.
func (s *ConversationStore) TakeDraft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.draft
	s.draft = ""
	return d
}

func (s *ConversationStore) APIKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiKey
}

func (s *ConversationStore) SetAPIKey(key string) {
	s.mu.Lock()
	s.apiKey = key
	s.mu.Unlock()
}

// Subscribe registers a listener called after every message mutation,
// outside the store lock.
func (s *ConversationStore) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Flush writes the current state to the slot.
func (s *ConversationStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(ctx)
}

func (s *ConversationStore) findLocked(id string) *domain.ChatSession {
	for _, sess := range s.sessions {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

func (s *ConversationStore) eventLocked(sessionID, messageID string) Event {
	ev := Event{SessionID: sessionID, MessageID: messageID}
	if sess := s.findLocked(sessionID); sess != nil {
		if idx := sess.IndexOf(messageID); idx != -1 {
			ev.Message = sess.Messages[idx].Clone()
		}
		ev.Generating = sess.InFlight()
	}
	ev.Grounding = cloneGrounding(s.grounding[messageID])
	return ev
}

func (s *ConversationStore) notify(ev Event) {
	s.mu.Lock()
	fns := make([]func(Event), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// persistLocked writes the snapshot; failures are logged and the in-memory
// state stands.
func (s *ConversationStore) persistLocked(ctx context.Context) {
	if err := s.saveLocked(ctx); err != nil {
		slog.Error("persist conversation", "slot", s.slot, "error", err)
	}
}

func (s *ConversationStore) saveLocked(ctx context.Context) error {
	if len(s.sessions) == 0 {
		return nil
	}

	snapshot := make([]*domain.ChatSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if len(sess.Messages) == 0 {
			continue
		}
		snapshot = append(snapshot, sess)
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		metrics.SnapshotWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := s.snapshots.Save(ctx, s.slot, data); err != nil {
		metrics.SnapshotWrites.WithLabelValues("error").Inc()
		return fmt.Errorf("save snapshot: %w", err)
	}
	metrics.SnapshotWrites.WithLabelValues("ok").Inc()
	return nil
}

func deriveTitle(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return config.FallbackTitle
	}
	if utf8.RuneCountInString(text) > config.TitleMaxRunes {
		return string([]rune(text)[:config.TitleMaxRunes])
	}
	return text
}

func cloneMessages(msgs []domain.Message) []domain.Message {
	out := make([]domain.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

func cloneGrounding(g domain.Grounding) domain.Grounding {
	return domain.Grounding{
		URLs:    append([]string(nil), g.URLs...),
		Queries: append([]string(nil), g.Queries...),
	}
}
