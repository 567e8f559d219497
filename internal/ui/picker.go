package ui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/sahilm/fuzzy"

	"github.com/asheshgoplani/termbot/internal/tmux"
)

// Picker lists panes with a fuzzy filter.
type Picker struct {
	input   textinput.Model
	all     []tmux.PaneInfo
	results []tmux.PaneInfo
	cursor  int
	width   int
	height  int
}

func NewPicker() *Picker {
	ti := textinput.New()
	ti.Placeholder = "Filter panes..."
	ti.Prompt = "/ "
	ti.CharLimit = 64
	ti.Width = 40
	ti.Focus()
	return &Picker{input: ti}
}

// SetPanes replaces the pane list, keeping the filter.
func (p *Picker) SetPanes(panes []tmux.PaneInfo) {
	p.all = panes
	p.filter()
}

func (p *Picker) SetSize(width, height int) {
	p.width = width
	p.height = height
}

// Selected returns the highlighted pane.
func (p *Picker) Selected() (tmux.PaneInfo, bool) {
	if p.cursor < 0 || p.cursor >= len(p.results) {
		return tmux.PaneInfo{}, false
	}
	return p.results[p.cursor], true
}

func (p *Picker) Results() []tmux.PaneInfo { return p.results }

func (p *Picker) filter() {
	query := strings.TrimSpace(p.input.Value())
	if query == "" {
		p.results = append(p.results[:0], p.all...)
	} else {
		targets := make([]string, len(p.all))
		for i, pane := range p.all {
			targets[i] = pane.Identifier() + " " + pane.WindowName
		}
		p.results = p.results[:0]
		for _, m := range fuzzy.Find(query, targets) {
			p.results = append(p.results, p.all[m.Index])
		}
	}
	if p.cursor >= len(p.results) {
		p.cursor = max(len(p.results)-1, 0)
	}
}

// Update moves the cursor on up/down and feeds everything else to the filter.
func (p *Picker) Update(msg tea.Msg) (*Picker, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "up", "ctrl+p":
			if p.cursor > 0 {
				p.cursor--
			}
			return p, nil
		case "down", "ctrl+n":
			if p.cursor < len(p.results)-1 {
				p.cursor++
			}
			return p, nil
		}
	}

	var cmd tea.Cmd
	before := p.input.Value()
	p.input, cmd = p.input.Update(msg)
	if p.input.Value() != before {
		p.cursor = 0
		p.filter()
	}
	return p, cmd
}

func (p *Picker) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Select a pane"))
	b.WriteString("\n\n")
	b.WriteString(p.input.View())
	b.WriteString("\n\n")

	if len(p.all) == 0 {
		b.WriteString(DimStyle.Render("No tmux panes found."))
		return b.String()
	}
	if len(p.results) == 0 {
		b.WriteString(DimStyle.Render("No matches."))
		return b.String()
	}

	visible := p.height - 6
	if visible < 1 {
		visible = len(p.results)
	}
	start := 0
	if p.cursor >= visible {
		start = p.cursor - visible + 1
	}
	end := min(start+visible, len(p.results))
	for i := start; i < end; i++ {
		line := p.results[i].String()
		if i == p.cursor {
			b.WriteString(SelectedStyle.Render("> " + line))
		} else {
			b.WriteString("  " + line)
		}
		b.WriteString("\n")
	}
	return b.String()
}
