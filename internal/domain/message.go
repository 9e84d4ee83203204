package domain

import (
	"strings"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type ChatMode string

const (
	ModeStandard ChatMode = "standard"
	ModeThinking ChatMode = "thinking"
	ModeFast     ChatMode = "fast"
	ModeCreative ChatMode = "creative"
)

// Modes lists the selectable chat modes in display order.
var Modes = []ChatMode{ModeStandard, ModeThinking, ModeFast, ModeCreative}

// ParseMode returns the mode named s and whether it is known.
func ParseMode(s string) (ChatMode, bool) {
	m := ChatMode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Modes {
		if m == known {
			return m, true
		}
	}
	return ModeStandard, false
}

type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentVideo AttachmentType = "video"
	AttachmentAudio AttachmentType = "audio"
)

// AttachmentTypeFor derives the coarse attachment type from a MIME type.
// Anything that is not an image or video is treated as audio.
func AttachmentTypeFor(mimeType string) AttachmentType {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return AttachmentImage
	case strings.HasPrefix(mimeType, "video/"):
		return AttachmentVideo
	default:
		return AttachmentAudio
	}
}

type Attachment struct {
	MimeType string         `json:"mimeType"`
	Data     string         `json:"data"` // base64
	URL      string         `json:"url"`  // preview reference
	Type     AttachmentType `json:"type"`
}

// NewAttachment builds an attachment from an already encoded payload.
func NewAttachment(mimeType, data, previewURL string) Attachment {
	return Attachment{
		MimeType: mimeType,
		Data:     data,
		URL:      previewURL,
		Type:     AttachmentTypeFor(mimeType),
	}
}

// Usage holds token counts reported by the provider for one reply.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

type Message struct {
	ID                string       `json:"id"`
	Role              Role         `json:"role"`
	Content           string       `json:"content"`
	Timestamp         time.Time    `json:"timestamp"`
	IsStreaming       bool         `json:"isStreaming,omitempty"`
	Attachments       []Attachment `json:"attachments,omitempty"`
	GeneratedImageURL string       `json:"generatedImageUrl,omitempty"`
	AudioData         string       `json:"audioData,omitempty"`
	Mode              ChatMode     `json:"mode,omitempty"`
	RefID             int          `json:"refId,omitempty"`
	Usage             *Usage       `json:"usage,omitempty"`
}

// Clone returns a copy that shares no slices with m.
func (m Message) Clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Usage != nil {
		u := *m.Usage
		m.Usage = &u
	}
	return m
}

// Grounding collects the web sources and search queries behind one reply.
type Grounding struct {
	URLs    []string
	Queries []string
}
