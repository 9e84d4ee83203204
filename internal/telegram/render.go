package telegram

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/set-night/evochat/internal/config"
	"github.com/set-night/evochat/internal/domain"
)

// maxSources caps the source links listed under a reply.
const maxSources = 5

// RenderMessage formats an assistant message with its sources and search
// queries. An in-flight message carries the generating indicator.
func RenderMessage(m domain.Message, g domain.Grounding) string {
	var b strings.Builder

	content := strings.TrimSpace(m.Content)
	switch {
	case content != "":
		b.WriteString(FixMarkdown(content))
	case m.IsStreaming:
		b.WriteString(config.GeneratingText)
		return b.String()
	default:
		b.WriteString(config.EmptyReplyText)
	}

	if m.Mode == domain.ModeThinking && !m.IsStreaming && content != "" {
		b.WriteString("\n\n_🧠 Thinking mode_")
	}

	if len(g.URLs) > 0 {
		b.WriteString("\n\n*Sources:*")
		for i, u := range g.URLs {
			if i == maxSources {
				fmt.Fprintf(&b, "\n…and %d more", len(g.URLs)-maxSources)
				break
			}
			fmt.Fprintf(&b, "\n%d. [%s](%s)", i+1, EscapeMarkdown(sourceLabel(u)), u)
		}
	}

	if len(g.Queries) > 0 {
		quoted := make([]string, len(g.Queries))
		for i, q := range g.Queries {
			quoted[i] = EscapeMarkdown(q)
		}
		b.WriteString("\n\n🔎 " + strings.Join(quoted, " · "))
	}

	if m.IsStreaming {
		b.WriteString("\n\n" + config.GeneratingText)
	}
	return b.String()
}

// sourceLabel shortens a URL to its host.
func sourceLabel(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	return strings.TrimPrefix(u.Host, "www.")
}

// RenderSessionTitle formats a session entry for the session list.
func RenderSessionTitle(s domain.ChatSession, active bool) string {
	title := Truncate(s.Title, config.TitleMaxRunes+1)
	if active {
		return "✅ " + title
	}
	return "💬 " + title
}
