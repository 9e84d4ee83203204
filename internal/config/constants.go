package config

import "time"

const (
	// Models
	ModelStandard   = "gemini-3-flash-preview"
	ModelThinking   = "gemini-3-pro-preview"
	ModelImage      = "gemini-2.5-flash-image"
	ModelSpeech     = "gemini-2.5-flash-preview-tts"
	ModelTranscribe = "gemini-3-flash-preview"

	// Image generation
	ImageAspectRatio = "1:1"

	// Speech output is 16-bit PCM
	SpeechSampleRate = 24000
	SpeechChannels   = 1

	// AI request timeout
	RequestTimeout = 3 * time.Minute

	// Session titles
	TitleMaxRunes    = 30
	DefaultTitle     = "New Session"
	FallbackTitle    = "Conversation"
	WelcomeIDPrefix  = "welcome-"
	SessionsPerPage  = 5
	StoreEvictPeriod = time.Minute

	// Telegram limits
	MaxTelegramMessageLen = 4096
	MaxAttachmentBytes    = 20 << 20
)

// User-facing texts.
const (
	WelcomeText           = "EvoChat is ready. How can I assist you today?"
	PermissionDeniedText  = "Permission denied. The selected model requires a project key with active billing enabled. Please use Standard mode or update your API key."
	GenericErrorText      = "An error occurred during synthesis. Please try again."
	ImageCompleteText     = "Image generation complete."
	StoppedText           = "Generation stopped."
	EmptyReplyText        = "No response was returned. Please rephrase and try again."
	GeneratingText        = "⏳ Generating..."
	TranscribeInstruction = "Accurately transcribe the audio content."
	KeyPromptTitle        = "Authorized Key Required"
	KeyPromptText         = "To use advanced reasoning (Thinking mode), a paid project API key is required. Standard chat is always available.\n\nSend /key <api-key> to use your own project key."
)

// Voices offered in settings.
var Voices = []string{"Kore", "Puck", "Charon", "Fenrir", "Aoede", "Zephyr"}

// SystemInstruction is sent with every chat request.
const SystemInstruction = `You are EvoChat, a conversational AI assistant designed to feel clean, natural, and intuitive.
Your responses must be easy to read, visually structured, and comfortable for long conversations.

Tone: clear, neutral, supportive, trustworthy. Be friendly but professional. Avoid unnecessary apologies.

Layout:
- Use short paragraphs (1-3 lines).
- Prefer bullet points over long walls of text.
- Do not repeat the user's question.
- Do not use excessive bolding.
- Keep responses readable on mobile screens.

Multimodal:
- Images: describe only what is visible. Use "Based on the image..."
- Files: summarize the purpose and offer clear next actions.
- Voice: keep responses concise and natural for audio playback.

Honesty: if a fact is unavailable, say so. Do not hallucinate.`
