package ui

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/asheshgoplani/termbot/internal/termfmt"
)

// Preview shows a chat payload exactly as it would be sent, with its
// length against the message ceiling.
type Preview struct {
	payload string
	title   string
	err     error
	limit   int
	width   int
	height  int
}

// NewPreview creates a preview measuring against limit characters. A zero
// limit means termfmt.MaxMessageLength.
func NewPreview(limit int) *Preview {
	if limit <= 0 {
		limit = termfmt.MaxMessageLength
	}
	return &Preview{limit: limit}
}

// SetPayload replaces the shown payload and clears any error.
func (p *Preview) SetPayload(payload, title string) {
	p.payload = payload
	p.title = title
	p.err = nil
}

// SetError shows err instead of the payload until the next SetPayload.
func (p *Preview) SetError(err error) {
	p.err = err
}

func (p *Preview) Payload() string { return p.payload }

// SetSize sets preview dimensions
func (p *Preview) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// Meta summarises the payload: characters used and lines shown.
func (p *Preview) Meta() string {
	n := termfmt.Len(p.payload)
	lines := 0
	if body := strings.TrimSuffix(strings.TrimPrefix(p.payload, "```\n"), "\n```"); body != "" {
		lines = strings.Count(body, "\n") + 1
	}
	return fmt.Sprintf("%d/%d chars · %d lines", n, p.limit, lines)
}

// View renders the preview
func (p *Preview) View() string {
	var b strings.Builder

	b.WriteString(PreviewHeader.Render("Preview: " + p.title))
	b.WriteString("  ")
	meta := PreviewMeta.Render(p.Meta())
	if termfmt.Len(p.payload) > p.limit {
		meta = ErrorStyle.Render(p.Meta())
	}
	b.WriteString(meta)
	b.WriteString("\n")
	b.WriteString(DimStyle.Render(strings.Repeat("─", max(min(p.width-4, 60), 10))))
	b.WriteString("\n")

	if p.err != nil {
		b.WriteString(ErrorStyle.Render("Error: " + p.err.Error()))
		return b.String()
	}
	if p.payload == "" {
		b.WriteString(DimStyle.Italic(true).Render("No content"))
		return b.String()
	}

	lines := strings.Split(p.payload, "\n")
	maxLines := p.height - 3
	if maxLines < 1 {
		maxLines = 10
	}
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	maxWidth := p.width - 4
	for _, line := range lines {
		if maxWidth > 0 && runewidth.StringWidth(line) > maxWidth {
			line = runewidth.Truncate(line, maxWidth, "...")
		}
		b.WriteString(PreviewContent.Render(line))
		b.WriteString("\n")
	}
	return b.String()
}
