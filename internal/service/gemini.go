package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/set-night/evochat/internal/domain"
)

// Generator is the remote model boundary used by the chat controller.
type Generator interface {
	StreamChat(ctx context.Context, history []domain.Message, mode domain.ChatMode) (<-chan StreamEvent, error)
	GenerateImage(ctx context.Context, prompt string, attachments []domain.Attachment) (string, error)
	TextToSpeech(ctx context.Context, text, voice string) (string, error)
	Transcribe(ctx context.Context, audioBase64, mimeType string) (string, error)
}

// APIError is a failure reported by the provider.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
	kind       error
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("gemini %d %s: %s", e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("gemini %d: %s", e.StatusCode, e.Message)
}

// Unwrap exposes the distinguished condition, if any.
func (e *APIError) Unwrap() error {
	return e.kind
}

type apiErrorBody struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

func (b *apiErrorBody) toAPIError(httpStatus int) *APIError {
	code := b.Code
	if code == 0 {
		code = httpStatus
	}
	return &APIError{StatusCode: code, Status: b.Status, Message: b.Message}
}

// classifyError tags provider errors with the condition the UI reacts to.
// Detection is by markers in the error text, as the provider does not
// guarantee stable codes across models.
func classifyError(e *APIError) error {
	text := strings.ToLower(e.Error())
	switch {
	case e.StatusCode == http.StatusForbidden || e.Status == "PERMISSION_DENIED" ||
		strings.Contains(text, "403") || strings.Contains(text, "permission denied"):
		e.kind = domain.ErrKeyPermission
	case e.StatusCode == http.StatusTooManyRequests || strings.Contains(text, "quota"):
		e.kind = domain.ErrRateLimited
	}
	return e
}

type GeminiService struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	opts       RequestOptions
}

func NewGeminiService(apiKey, baseURL string, opts RequestOptions) *GeminiService {
	return &GeminiService{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		opts:       opts,
	}
}

// WithAPIKey returns a copy of the service bound to another credential.
func (s *GeminiService) WithAPIKey(apiKey string) *GeminiService {
	cp := *s
	cp.apiKey = apiKey
	return &cp
}

// WithHTTPClient replaces the HTTP client. Request deadlines come from the
// caller's context, so the client should not set its own timeout.
func (s *GeminiService) WithHTTPClient(c *http.Client) *GeminiService {
	s.httpClient = c
	return s
}

func (s *GeminiService) post(ctx context.Context, model, method string, query string, body *GenerateRequest) (*http.Response, error) {
	if s.apiKey == "" {
		return nil, domain.ErrKeyMissing
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:%s", s.baseURL, model, method)
	if query != "" {
		url += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", method, err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, readAPIError(resp)
	}
	return resp, nil
}

func readAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var envelope struct {
		Error *apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		return classifyError(envelope.Error.toAPIError(resp.StatusCode))
	}
	return classifyError(&APIError{
		StatusCode: resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
	})
}

func (s *GeminiService) generate(ctx context.Context, model string, body *GenerateRequest) (*GenerateResponse, error) {
	resp, err := s.post(ctx, model, "generateContent", "", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out GenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return &out, nil
}

// StreamChat starts a streaming chat completion. Errors before the stream
// opens are returned directly; later failures arrive as the terminal event.
func (s *GeminiService) StreamChat(ctx context.Context, history []domain.Message, mode domain.ChatMode) (<-chan StreamEvent, error) {
	model, body := ChatRequest(history, mode, s.opts)

	resp, err := s.post(ctx, model, "streamGenerateContent", "alt=sse", body)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent)
	go pumpStream(ctx, resp.Body, events)
	return events, nil
}

// GenerateImage returns the generated image as a data URL.
func (s *GeminiService) GenerateImage(ctx context.Context, prompt string, attachments []domain.Attachment) (string, error) {
	model, body := ImageRequest(prompt, attachments)

	resp, err := s.generate(ctx, model, body)
	if err != nil {
		return "", err
	}
	return imageFrom(resp)
}

func imageFrom(resp *GenerateResponse) (string, error) {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", domain.ErrEmptyImageResponse
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.InlineData != nil && p.InlineData.Data != "" {
			mime := p.InlineData.MimeType
			if mime == "" {
				mime = "image/png"
			}
			return "data:" + mime + ";base64," + p.InlineData.Data, nil
		}
	}
	return "", domain.ErrNoImageData
}

// TextToSpeech returns base64 encoded 16-bit PCM at config.SpeechSampleRate.
func (s *GeminiService) TextToSpeech(ctx context.Context, text, voice string) (string, error) {
	model, body := SpeechRequest(text, voice)

	resp, err := s.generate(ctx, model, body)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", domain.ErrSpeechDataMissing
	}
	part := resp.Candidates[0].Content.Parts[0]
	if part.InlineData == nil || part.InlineData.Data == "" {
		return "", domain.ErrSpeechDataMissing
	}
	return part.InlineData.Data, nil
}

// Transcribe returns the text of a recorded clip, or "" when the model
// returned none.
func (s *GeminiService) Transcribe(ctx context.Context, audioBase64, mimeType string) (string, error) {
	model, body := TranscriptionRequest(audioBase64, mimeType)

	resp, err := s.generate(ctx, model, body)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// ParseDataURL splits a data URL into its MIME type and base64 payload.
func ParseDataURL(u string) (mimeType, data string, ok bool) {
	rest, found := strings.CutPrefix(u, "data:")
	if !found {
		return "", "", false
	}
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	mimeType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return "", "", false
	}
	return mimeType, payload, true
}
