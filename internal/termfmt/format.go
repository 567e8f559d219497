// Package termfmt turns raw tmux pane text into payloads that fit a
// Telegram message: control sequences removed, decorative rules collapsed,
// clipped to a line budget and a character ceiling, escaped for a
// MarkdownV2 code block and fenced.
package termfmt

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
	"github.com/mattn/go-runewidth"
)

const (
	// MaxMessageLength is the ceiling applied to every payload.
	MaxMessageLength = 4000

	// reserve keeps room for the fence and the marker inside MaxMessageLength.
	reserve = 50

	// DefaultMaxLines is the default height of the terminal window.
	DefaultMaxLines = 30

	// TruncationMarker prefixes content that was cut from the front.
	TruncationMarker = "[...]\n"

	// BlankScreen is shown for a pane with no visible text. Telegram
	// rejects a code block with an empty body.
	BlankScreen = "(blank screen)"

	fenceOpen  = "```\n"
	fenceClose = "\n```"

	ruleWidth = 20
)

var (
	boxRulePattern  = regexp.MustCompile(`[─━═]{20,}`)
	dashRulePattern = regexp.MustCompile(`-{20,}`)
	eqRulePattern   = regexp.MustCompile(`={20,}`)

	boxRule  = strings.Repeat("─", ruleWidth)
	dashRule = strings.Repeat("-", ruleWidth)
	eqRule   = strings.Repeat("=", ruleWidth)
)

// Options controls window and chunk rendering.
type Options struct {
	// MaxLines is how many trailing lines a window shows (default 30).
	MaxLines int

	// MaxLineWidth clips each line to this many display columns; 0 disables.
	MaxLineWidth int

	// Limit is the payload ceiling in characters (default MaxMessageLength).
	Limit int
}

func (o Options) withDefaults() Options {
	if o.MaxLines <= 0 {
		o.MaxLines = DefaultMaxLines
	}
	if o.Limit <= 0 {
		o.Limit = MaxMessageLength
	}
	return o
}

func (o Options) budget() int {
	b := o.Limit - reserve
	if b < len(TruncationMarker)+1 {
		b = len(TruncationMarker) + 1
	}
	return b
}

// Sanitize strips ANSI/OSC/DCS/APC sequences, carriage returns and any other
// C0 control characters except newline and tab.
func Sanitize(s string) string {
	s = ansi.Strip(s)
	if !strings.ContainsFunc(s, isDroppedControl) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isDroppedControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isDroppedControl(r rune) bool {
	if r == '\n' || r == '\t' {
		return false
	}
	return r < 0x20 || r == 0x7f || (r >= 0x80 && r < 0xa0)
}

// CollapseRules shortens runs of 20 or more rule characters to a fixed
// 20-character rule so they don't eat the length budget.
func CollapseRules(s string) string {
	s = boxRulePattern.ReplaceAllString(s, boxRule)
	s = dashRulePattern.ReplaceAllString(s, dashRule)
	return eqRulePattern.ReplaceAllString(s, eqRule)
}

// Window renders a full pane capture as the last MaxLines lines.
func Window(content string, opts Options) string {
	opts = opts.withDefaults()
	lines := cleanLines(content, opts)

	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > opts.MaxLines {
		lines = lines[len(lines)-opts.MaxLines:]
	}
	body := strings.Join(lines, "\n")
	if strings.TrimSpace(body) == "" {
		body = BlankScreen
	}
	return fence(body, opts)
}

// Chunks renders an incremental piece of output as one or more payloads,
// splitting on line boundaries so nothing is truncated. Leading and trailing
// blank lines are dropped; all-blank text yields no payloads.
func Chunks(text string, opts Options) []string {
	opts = opts.withDefaults()
	lines := cleanLines(text, opts)

	start, end := 0, len(lines)
	for start < end && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	if start == end {
		return nil
	}

	budget := opts.budget()
	var (
		payloads []string
		cur      []string
		curLen   int
	)
	emit := func() {
		if len(cur) > 0 {
			payloads = append(payloads, fenceOpen+EscapeCode(strings.Join(cur, "\n"))+fenceClose)
			cur, curLen = nil, 0
		}
	}
	for _, line := range lines[start:end] {
		n := EscapedLen(line)
		if n > budget {
			emit()
			for _, piece := range splitEscaped(line, budget) {
				payloads = append(payloads, fenceOpen+EscapeCode(piece)+fenceClose)
			}
			continue
		}
		sep := 0
		if len(cur) > 0 {
			sep = 1
		}
		if curLen+sep+n > budget {
			emit()
			sep = 0
		}
		cur = append(cur, line)
		curLen += sep + n
	}
	emit()
	return payloads
}

// splitEscaped cuts s into pieces whose escaped length fits budget.
func splitEscaped(s string, budget int) []string {
	var pieces []string
	start, width := 0, 0
	for i, r := range s {
		w := escapedRuneLen(r)
		if width+w > budget {
			pieces = append(pieces, s[start:i])
			start, width = i, 0
		}
		width += w
	}
	return append(pieces, s[start:])
}

func cleanLines(s string, opts Options) []string {
	s = CollapseRules(Sanitize(s))
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		line = strings.TrimRight(line, " \t")
		if opts.MaxLineWidth > 0 && runewidth.StringWidth(line) > opts.MaxLineWidth {
			line = runewidth.Truncate(line, opts.MaxLineWidth, "…")
		}
		lines[i] = line
	}
	return lines
}

func fence(body string, opts Options) string {
	body = TruncateFront(body, opts.budget())
	return fenceOpen + EscapeCode(body) + fenceClose
}

// TruncateFront keeps the tail of s so that its escaped length fits budget,
// prefixing TruncationMarker when anything was dropped.
func TruncateFront(s string, budget int) string {
	if EscapedLen(s) <= budget {
		return s
	}
	room := budget - utf8.RuneCountInString(TruncationMarker)
	if room <= 0 {
		return TruncationMarker
	}
	width := 0
	cut := len(s)
	for cut > 0 {
		r, size := utf8.DecodeLastRuneInString(s[:cut])
		w := escapedRuneLen(r)
		if width+w > room {
			break
		}
		width += w
		cut -= size
	}
	return TruncationMarker + s[cut:]
}

// EscapeCode escapes the two characters MarkdownV2 reserves inside pre and
// code entities.
func EscapeCode(s string) string {
	if !strings.ContainsAny(s, "`\\") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if r == '`' || r == '\\' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// EscapedLen is the character count of s after EscapeCode.
func EscapedLen(s string) int {
	n := 0
	for _, r := range s {
		n += escapedRuneLen(r)
	}
	return n
}

func escapedRuneLen(r rune) int {
	if r == '`' || r == '\\' {
		return 2
	}
	return 1
}

// Len reports a payload's length the way the ceiling is enforced.
func Len(payload string) int {
	return utf8.RuneCountInString(payload)
}

// EscapeText escapes every MarkdownV2 special character for use outside
// code entities (pane names in replies, reasons in notices).
func EscapeText(s string) string {
	const special = "_*[]()~`>#+-=|{}.!\\"
	var b strings.Builder
	b.Grow(len(s) + 8)
	for _, r := range s {
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
