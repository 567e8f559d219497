package termfmt

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func body(t *testing.T, payload string) string {
	t.Helper()
	require.True(t, strings.HasPrefix(payload, fenceOpen), "payload not fenced: %q", payload)
	require.True(t, strings.HasSuffix(payload, fenceClose), "payload not fenced: %q", payload)
	return strings.TrimSuffix(strings.TrimPrefix(payload, fenceOpen), fenceClose)
}

func TestWindowKeepsLastLinesWithoutEscapes(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 100; i++ {
		fmt.Fprintf(&b, "\x1b[32mline %d\x1b[0m\r\n", i)
	}

	out := body(t, Window(b.String(), Options{MaxLines: 25}))
	lines := strings.Split(out, "\n")

	require.Len(t, lines, 25)
	assert.Equal(t, "line 76", lines[0])
	assert.Equal(t, "line 100", lines[24])
	assert.NotContains(t, out, "\x1b")
	assert.NotContains(t, out, "\r")
}

func TestWindowDropsTrailingBlankLines(t *testing.T) {
	out := body(t, Window("$ ls\nfoo  bar   \n\n   \n\n", Options{}))
	assert.Equal(t, "$ ls\nfoo  bar", out)
}

func TestWindowOfBlankPaneHasVisibleBody(t *testing.T) {
	for _, content := range []string{"", "\n\n\n", "   \n\t\n", "\x1b[2J\x1b[H\r\n"} {
		out := Window(content, Options{})
		assert.Equal(t, fenceOpen+BlankScreen+fenceClose, out, "content %q", content)
		assert.NotEmpty(t, strings.TrimSpace(body(t, out)))
	}
}

func TestWindowTruncatesFromFront(t *testing.T) {
	lines := make([]string, 30)
	for i := range lines {
		lines[i] = fmt.Sprintf("%02d %s", i, strings.Repeat("x", 300))
	}

	payload := Window(strings.Join(lines, "\n"), Options{MaxLines: 30})
	assert.LessOrEqual(t, Len(payload), MaxMessageLength)

	out := body(t, payload)
	assert.True(t, strings.HasPrefix(out, TruncationMarker), "missing marker: %q", out[:20])
	assert.True(t, strings.HasSuffix(out, lines[29]))
}

func TestTruncationAccountsForEscaping(t *testing.T) {
	content := strings.Repeat("`\\", 3000)
	payload := Window(content, Options{})

	assert.LessOrEqual(t, Len(payload), MaxMessageLength)
	assert.Contains(t, payload, TruncationMarker)
}

func TestTruncateFrontUnderBudget(t *testing.T) {
	assert.Equal(t, "short", TruncateFront("short", 100))
}

func TestTruncateFrontKeepsWholeRunes(t *testing.T) {
	got := TruncateFront(strings.Repeat("é", 50), 16)
	assert.Equal(t, TruncationMarker+strings.Repeat("é", 10), got)
}

func TestCollapseRules(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"box", strings.Repeat("─", 80), strings.Repeat("─", 20)},
		{"mixed box", strings.Repeat("━═", 15), strings.Repeat("─", 20)},
		{"dash", "a" + strings.Repeat("-", 45) + "b", "a" + strings.Repeat("-", 20) + "b"},
		{"equals", strings.Repeat("=", 21), strings.Repeat("=", 20)},
		{"short rule untouched", strings.Repeat("-", 19), strings.Repeat("-", 19)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CollapseRules(tt.in))
		})
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"csi color", "\x1b[1;31mred\x1b[0m", "red"},
		{"osc title", "\x1b]0;title\x07after", "after"},
		{"osc st", "\x1b]8;;http://x\x1b\\link\x1b]8;;\x1b\\", "link"},
		{"carriage return", "a\r\nb\r", "a\nb"},
		{"bell and backspace", "a\x07b\x08c", "abc"},
		{"tabs kept", "a\tb", "a\tb"},
		{"plain", "hello, 世界", "hello, 世界"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.in))
		})
	}
}

func TestEscapeCode(t *testing.T) {
	assert.Equal(t, "a\\`b\\\\c", EscapeCode("a`b\\c"))
	assert.Equal(t, "plain *text*", EscapeCode("plain *text*"))
	assert.Equal(t, 6, EscapedLen("a`b\\c"))
}

func TestEscapeText(t *testing.T) {
	assert.Equal(t, `main:0\.1`, EscapeText("main:0.1"))
	assert.Equal(t, `a\_b\*c\!`, EscapeText("a_b*c!"))
}

func TestMaxLineWidthClipsWideLines(t *testing.T) {
	out := body(t, Window(strings.Repeat("界", 40), Options{MaxLineWidth: 10}))
	assert.Equal(t, "界界界界…", out)
}

func TestChunks(t *testing.T) {
	assert.Empty(t, Chunks("\n  \n\x1b[0m\n", Options{}))
	assert.Equal(t, []string{fenceOpen + "one\ntwo" + fenceClose}, Chunks("\n\none  \ntwo\n\n", Options{}))
}

func TestChunksSplitInsteadOfTruncating(t *testing.T) {
	var in []string
	for i := 0; i < 200; i++ {
		in = append(in, fmt.Sprintf("%03d %s", i, strings.Repeat("y", 60)))
	}
	in = append(in, strings.Repeat("z", 9000))

	payloads := Chunks(strings.Join(in, "\n"), Options{})
	require.Greater(t, len(payloads), 3)

	var rebuilt []string
	for _, p := range payloads {
		assert.LessOrEqual(t, Len(p), MaxMessageLength)
		assert.NotContains(t, p, TruncationMarker)
		rebuilt = append(rebuilt, body(t, p))
	}
	joined := strings.Join(rebuilt, "\n")
	assert.True(t, strings.HasPrefix(joined, "000 "))
	assert.Equal(t, 9000, strings.Count(joined, "z"))
	for i := 0; i < 200; i++ {
		assert.Contains(t, joined, fmt.Sprintf("%03d ", i))
	}
}
