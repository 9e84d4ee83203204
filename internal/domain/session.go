package domain

import "time"

type ChatSession struct {
	ID        string    `json:"id"`
	Messages  []Message `json:"messages"`
	Title     string    `json:"title"`
	UpdatedAt int64     `json:"updatedAt"` // unix milliseconds
}

// Clone returns a deep copy of the session.
func (s *ChatSession) Clone() ChatSession {
	out := *s
	out.Messages = make([]Message, len(s.Messages))
	for i, m := range s.Messages {
		out.Messages[i] = m.Clone()
	}
	return out
}

// Touch sets UpdatedAt to t.
func (s *ChatSession) Touch(t time.Time) {
	s.UpdatedAt = t.UnixMilli()
}

// IndexOf returns the position of the message with the given id, or -1.
func (s *ChatSession) IndexOf(messageID string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == messageID {
			return i
		}
	}
	return -1
}

// InFlight reports whether any message in the session is still streaming.
func (s *ChatSession) InFlight() bool {
	for i := range s.Messages {
		if s.Messages[i].IsStreaming {
			return true
		}
	}
	return false
}

// SessionState tracks whether a session may dispatch a new request.
type SessionState int

const (
	SessionIdle SessionState = iota
	SessionAwaiting
)
