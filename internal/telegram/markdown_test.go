package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

func TestSplitMessage_Short(t *testing.T) {
	require.Equal(t, []string{"hello"}, SplitMessage("hello", 10))
}

func TestSplitMessage_PrefersNewlines(t *testing.T) {
	text := strings.Repeat("a", 30) + "\n" + strings.Repeat("b", 30)
	parts := SplitMessage(text, 40)

	require.Len(t, parts, 2)
	require.Equal(t, strings.Repeat("a", 30)+"\n", parts[0])
	require.Equal(t, strings.Repeat("b", 30), parts[1])
}

func TestSplitMessage_RespectsLimit(t *testing.T) {
	text := strings.Repeat("é", 250)
	parts := SplitMessage(text, 100)

	require.Equal(t, text, strings.Join(parts, ""))
	for _, p := range parts {
		require.LessOrEqual(t, utf8.RuneCountInString(p), 100)
	}
}

func TestSplitMessage_ReopensCodeBlocks(t *testing.T) {
	text := "```go\n" + strings.Repeat("x := 1\n", 30) + "```"
	parts := SplitMessage(text, 80)

	require.Greater(t, len(parts), 1)
	for _, p := range parts {
		require.LessOrEqual(t, utf8.RuneCountInString(p), 80)
		require.Zero(t, strings.Count(p, "```")%2, p)
	}
	require.True(t, strings.HasPrefix(parts[1], "```\n"))
}

func TestFixMarkdown(t *testing.T) {
	require.Equal(t, "```go\nfmt.Println()\n```", FixMarkdown("```go\nfmt.Println()"))
	require.Equal(t, "use `go vet`", FixMarkdown("use `go vet"))
	require.Equal(t, "plain", FixMarkdown("plain"))
	require.Equal(t, "```\na`b\n```", FixMarkdown("```\na`b\n```"))
}

func TestTruncate(t *testing.T) {
	require.Equal(t, "short", Truncate("short", 10))
	require.Equal(t, "abcd…", Truncate("abcdefgh", 5))
}

func TestEscapeMarkdown(t *testing.T) {
	require.Equal(t, `a\_b \*c\* \[d]`, EscapeMarkdown("a_b *c* [d]"))
}
