package service

import (
	"encoding/json"

	"github.com/set-night/evochat/internal/config"
	"github.com/set-night/evochat/internal/domain"
)

// Wire types of the generateContent API.

type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
	Thought    bool        `json:"thought,omitempty"`
}

// MarshalJSON emits exactly one member per part. Text parts always carry the
// text field, even when empty.
func (p Part) MarshalJSON() ([]byte, error) {
	if p.InlineData != nil {
		return json.Marshal(struct {
			InlineData *InlineData `json:"inlineData"`
		}{p.InlineData})
	}
	return json.Marshal(struct {
		Text    string `json:"text"`
		Thought bool   `json:"thought,omitempty"`
	}{p.Text, p.Thought})
}

type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

type Tool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
}

type ThinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type ImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type PrebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type VoiceConfig struct {
	PrebuiltVoiceConfig PrebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type SpeechConfig struct {
	VoiceConfig VoiceConfig `json:"voiceConfig"`
}

type GenerationConfig struct {
	Temperature        *float64        `json:"temperature,omitempty"`
	ThinkingConfig     *ThinkingConfig `json:"thinkingConfig,omitempty"`
	ResponseModalities []string        `json:"responseModalities,omitempty"`
	SpeechConfig       *SpeechConfig   `json:"speechConfig,omitempty"`
	ImageConfig        *ImageConfig    `json:"imageConfig,omitempty"`
}

type GenerateRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	Tools             []Tool            `json:"tools,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

type GroundingChunk struct {
	Web *struct {
		URI   string `json:"uri"`
		Title string `json:"title"`
	} `json:"web,omitempty"`
	Maps *struct {
		URI   string `json:"uri"`
		Title string `json:"title"`
	} `json:"maps,omitempty"`
}

type GroundingMetadata struct {
	GroundingChunks  []GroundingChunk `json:"groundingChunks"`
	WebSearchQueries []string         `json:"webSearchQueries"`
	SearchEntryPoint *struct {
		RenderedContent string `json:"renderedContent"`
	} `json:"searchEntryPoint,omitempty"`
}

type Candidate struct {
	Content           *Content           `json:"content,omitempty"`
	FinishReason      string             `json:"finishReason,omitempty"`
	GroundingMetadata *GroundingMetadata `json:"groundingMetadata,omitempty"`
}

type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type GenerateResponse struct {
	Candidates    []Candidate    `json:"candidates"`
	UsageMetadata *UsageMetadata `json:"usageMetadata,omitempty"`
}

// Text concatenates the visible text parts of the first candidate.
func (r *GenerateResponse) Text() string {
	if len(r.Candidates) == 0 || r.Candidates[0].Content == nil {
		return ""
	}
	var text string
	for _, p := range r.Candidates[0].Content.Parts {
		if p.Thought {
			continue
		}
		text += p.Text
	}
	return text
}

// Citations returns the source URLs of the first candidate's grounding metadata.
func (r *GenerateResponse) Citations() []string {
	if len(r.Candidates) == 0 || r.Candidates[0].GroundingMetadata == nil {
		return nil
	}
	var urls []string
	for _, c := range r.Candidates[0].GroundingMetadata.GroundingChunks {
		switch {
		case c.Web != nil && c.Web.URI != "":
			urls = append(urls, c.Web.URI)
		case c.Maps != nil && c.Maps.URI != "":
			urls = append(urls, c.Maps.URI)
		}
	}
	return urls
}

// RequestOptions carries the tunables of a chat request.
type RequestOptions struct {
	Temperature    float64
	ThinkingBudget int
}

// DefaultRequestOptions returns the options used when none are configured.
func DefaultRequestOptions() RequestOptions {
	return RequestOptions{Temperature: 0.7, ThinkingBudget: 16384}
}

// ModelFor selects the backend model for a chat mode.
func ModelFor(mode domain.ChatMode) string {
	if mode == domain.ModeThinking {
		return config.ModelThinking
	}
	return config.ModelStandard
}

func roleFor(r domain.Role) string {
	if r == domain.RoleUser {
		return "user"
	}
	return "model"
}

func attachmentPart(a domain.Attachment) Part {
	return Part{InlineData: &InlineData{MimeType: a.MimeType, Data: a.Data}}
}

// FormatHistory maps messages to role-tagged contents. Attachment payloads are
// passed through as they were stored.
func FormatHistory(history []domain.Message) []Content {
	contents := make([]Content, 0, len(history))
	for _, m := range history {
		parts := make([]Part, 0, 1+len(m.Attachments))
		parts = append(parts, Part{Text: m.Content})
		for _, a := range m.Attachments {
			parts = append(parts, attachmentPart(a))
		}
		contents = append(contents, Content{Role: roleFor(m.Role), Parts: parts})
	}
	return contents
}

// ChatRequest builds a streaming chat request for the given mode. Web search
// grounding is always enabled.
func ChatRequest(history []domain.Message, mode domain.ChatMode, opts RequestOptions) (string, *GenerateRequest) {
	temp := opts.Temperature
	gen := &GenerationConfig{Temperature: &temp}
	if mode == domain.ModeThinking {
		gen.ThinkingConfig = &ThinkingConfig{ThinkingBudget: opts.ThinkingBudget}
	}

	return ModelFor(mode), &GenerateRequest{
		Contents: FormatHistory(history),
		SystemInstruction: &Content{
			Parts: []Part{{Text: config.SystemInstruction}},
		},
		Tools:            []Tool{{GoogleSearch: &struct{}{}}},
		GenerationConfig: gen,
	}
}

// ImageRequest builds an image generation request. Only image attachments are
// forwarded.
func ImageRequest(prompt string, attachments []domain.Attachment) (string, *GenerateRequest) {
	parts := []Part{{Text: prompt}}
	for _, a := range attachments {
		if a.Type == domain.AttachmentImage {
			parts = append(parts, attachmentPart(a))
		}
	}
	return config.ModelImage, &GenerateRequest{
		Contents: []Content{{Parts: parts}},
		GenerationConfig: &GenerationConfig{
			ImageConfig: &ImageConfig{AspectRatio: config.ImageAspectRatio},
		},
	}
}

// SpeechRequest builds an audio-only synthesis request.
func SpeechRequest(text, voice string) (string, *GenerateRequest) {
	return config.ModelSpeech, &GenerateRequest{
		Contents: []Content{{Parts: []Part{{Text: text}}}},
		GenerationConfig: &GenerationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: &SpeechConfig{
				VoiceConfig: VoiceConfig{PrebuiltVoiceConfig: PrebuiltVoiceConfig{VoiceName: voice}},
			},
		},
	}
}

// TranscriptionRequest builds a request transcribing a recorded clip.
func TranscriptionRequest(audioBase64, mimeType string) (string, *GenerateRequest) {
	return config.ModelTranscribe, &GenerateRequest{
		Contents: []Content{{Parts: []Part{
			{InlineData: &InlineData{MimeType: mimeType, Data: audioBase64}},
			{Text: config.TranscribeInstruction},
		}}},
	}
}
