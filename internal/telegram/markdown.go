package telegram

import (
	"strings"
	"unicode/utf8"
)

const fence = "```"

// SplitMessage splits text into chunks of at most maxLen runes, preferring
// newline boundaries. A code block cut in two is closed at the end of one
// chunk and reopened at the start of the next.
func SplitMessage(text string, maxLen int) []string {
	if utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}

	// room for the fence that may close or reopen a chunk
	limit := maxLen - len(fence) - 1
	if limit < 1 {
		limit = maxLen
	}

	var parts []string
	reopen := false
	for len(text) > 0 {
		if reopen {
			text = fence + "\n" + text
		}
		runes := []rune(text)
		if len(runes) <= maxLen {
			parts = append(parts, text)
			break
		}

		splitAt := limit
		chunk := string(runes[:limit])
		if nl := strings.LastIndex(chunk, "\n"); nl > len(chunk)/2 {
			splitAt = utf8.RuneCountInString(chunk[:nl+1])
		}

		part := string(runes[:splitAt])
		reopen = strings.Count(part, fence)%2 != 0
		if reopen {
			part = strings.TrimRight(part, "\n") + "\n" + fence
		}
		parts = append(parts, part)
		text = string(runes[splitAt:])
	}

	return parts
}

// FixMarkdown closes unbalanced code blocks and inline code so partially
// streamed text still parses.
func FixMarkdown(text string) string {
	if strings.Count(text, fence)%2 != 0 {
		text += "\n" + fence
	}
	return fixInlineCode(text)
}

func fixInlineCode(text string) string {
	var builder strings.Builder
	inCodeBlock := false
	inlineOpen := false

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		if i+2 < len(runes) && string(runes[i:i+3]) == fence {
			if inlineOpen {
				builder.WriteRune('`')
				inlineOpen = false
			}
			inCodeBlock = !inCodeBlock
			builder.WriteString(fence)
			i += 2
			continue
		}

		if !inCodeBlock && runes[i] == '`' {
			inlineOpen = !inlineOpen
		}

		builder.WriteRune(runes[i])
	}

	if inlineOpen {
		builder.WriteRune('`')
	}

	return builder.String()
}

// Truncate shortens text to maxLen runes, marking the cut with an ellipsis.
func Truncate(text string, maxLen int) string {
	if utf8.RuneCountInString(text) <= maxLen {
		return text
	}
	return string([]rune(text)[:maxLen-1]) + "…"
}

// EscapeMarkdown escapes the characters that are special in legacy Markdown.
func EscapeMarkdown(text string) string {
	r := strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")
	return r.Replace(text)
}
