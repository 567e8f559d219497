package ui

import (
	"errors"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/asheshgoplani/termbot/internal/termfmt"
	"github.com/asheshgoplani/termbot/internal/tmux"
)

// Source is the slice of the tmux client the preview needs.
type Source interface {
	ListPanes() ([]tmux.PaneInfo, error)
	PaneExists(pane string) bool
	CaptureSnapshot(pane string) (string, error)
	SendKeys(pane, text string, commit bool) error
	SendKey(pane, key string) error
}

// Options configures the preview model.
type Options struct {
	// Pane starts the preview on this pane; empty opens the picker.
	Pane string

	// Interval between captures.
	Interval time.Duration

	// Format is what the bridge uses for its window messages.
	Format termfmt.Options
}

type keyMap struct {
	Quit      key.Binding
	Back      key.Binding
	Select    key.Binding
	Input     key.Binding
	Refresh   key.Binding
	Interrupt key.Binding
	Submit    key.Binding
	Cancel    key.Binding
}

var keys = keyMap{
	Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	Back:      key.NewBinding(key.WithKeys("p", "esc"), key.WithHelp("p", "panes")),
	Select:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "preview")),
	Input:     key.NewBinding(key.WithKeys("i"), key.WithHelp("i", "type")),
	Refresh:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	Interrupt: key.NewBinding(key.WithKeys("ctrl+x"), key.WithHelp("^x", "send C-c")),
	Submit:    key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "send")),
	Cancel:    key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")),
}

var errPaneGone = errors.New("pane no longer exists")

type screen int

const (
	screenPicker screen = iota
	screenPreview
)

type (
	panesMsg struct {
		panes []tmux.PaneInfo
		err   error
	}
	captureMsg struct {
		pane    string
		content string
		err     error
	}
	tickMsg struct{ pane string }
	sentMsg struct{ err error }
)

// Model is the bubbletea model behind `termbot preview`.
type Model struct {
	src    Source
	opts   Options
	screen screen
	pane   string

	picker  *Picker
	preview *Preview
	input   textinput.Model
	typing  bool

	status string
	err    error
	width  int
	height int
}

// New builds the model. A zero Interval means one second.
func New(src Source, opts Options) *Model {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	ti := textinput.New()
	ti.Placeholder = "Text for the pane (Enter sends)"
	ti.CharLimit = 4096
	ti.Width = 60

	m := &Model{
		src:     src,
		opts:    opts,
		picker:  NewPicker(),
		preview: NewPreview(opts.Format.Limit),
		input:   ti,
		screen:  screenPicker,
	}
	if opts.Pane != "" {
		m.screen = screenPreview
		m.pane = opts.Pane
	}
	return m
}

// Pane returns the pane being previewed, empty in the picker.
func (m *Model) Pane() string {
	if m.screen != screenPreview {
		return ""
	}
	return m.pane
}

func (m *Model) Init() tea.Cmd {
	if m.screen == screenPreview {
		return tea.Batch(m.capture(m.pane), m.tick(m.pane))
	}
	return m.loadPanes()
}

func (m *Model) loadPanes() tea.Cmd {
	return func() tea.Msg {
		panes, err := m.src.ListPanes()
		return panesMsg{panes: panes, err: err}
	}
}

func (m *Model) capture(pane string) tea.Cmd {
	return func() tea.Msg {
		if !m.src.PaneExists(pane) {
			return captureMsg{pane: pane, err: errPaneGone}
		}
		content, err := m.src.CaptureSnapshot(pane)
		return captureMsg{pane: pane, content: content, err: err}
	}
}

func (m *Model) tick(pane string) tea.Cmd {
	return tea.Tick(m.opts.Interval, func(time.Time) tea.Msg { return tickMsg{pane: pane} })
}

func (m *Model) send(pane, text string) tea.Cmd {
	return func() tea.Msg {
		return sentMsg{err: m.src.SendKeys(pane, text, true)}
	}
}

func (m *Model) sendKey(pane, k string) tea.Cmd {
	return func() tea.Msg {
		return sentMsg{err: m.src.SendKey(pane, k)}
	}
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.picker.SetSize(msg.Width, msg.Height)
		m.preview.SetSize(msg.Width-4, msg.Height-6)
		return m, nil

	case panesMsg:
		m.err = msg.err
		m.picker.SetPanes(msg.panes)
		return m, nil

	case captureMsg:
		// Captures for a pane we already left are stale.
		if m.screen != screenPreview || msg.pane != m.pane {
			return m, nil
		}
		if msg.err != nil {
			m.preview.SetError(msg.err)
			return m, nil
		}
		m.preview.SetPayload(termfmt.Window(msg.content, m.opts.Format), m.pane)
		return m, nil

	case tickMsg:
		if m.screen != screenPreview || msg.pane != m.pane {
			return m, nil
		}
		return m, tea.Batch(m.capture(m.pane), m.tick(m.pane))

	case sentMsg:
		if msg.err != nil {
			m.status = ErrorStyle.Render("send failed: " + msg.err.Error())
			return m, nil
		}
		m.status = SuccessStyle.Render("sent")
		return m, m.capture(m.pane)

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" {
		return m, tea.Quit
	}

	if m.screen == screenPicker {
		switch {
		case key.Matches(msg, keys.Select):
			pane, ok := m.picker.Selected()
			if !ok {
				return m, nil
			}
			m.screen = screenPreview
			m.pane = pane.Identifier()
			m.preview.SetPayload("", m.pane)
			m.status = ""
			return m, tea.Batch(m.capture(m.pane), m.tick(m.pane))
		case msg.String() == "esc":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.picker, cmd = m.picker.Update(msg)
		return m, cmd
	}

	if m.typing {
		switch {
		case key.Matches(msg, keys.Submit):
			text := m.input.Value()
			m.input.Reset()
			m.input.Blur()
			m.typing = false
			return m, m.send(m.pane, text)
		case key.Matches(msg, keys.Cancel):
			m.input.Blur()
			m.typing = false
			return m, nil
		}
		var cmd tea.Cmd
		m.input, cmd = m.input.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Back):
		m.screen = screenPicker
		m.status = ""
		return m, m.loadPanes()
	case key.Matches(msg, keys.Input):
		m.typing = true
		return m, m.input.Focus()
	case key.Matches(msg, keys.Refresh):
		return m, m.capture(m.pane)
	case key.Matches(msg, keys.Interrupt):
		return m, m.sendKey(m.pane, "C-c")
	}
	return m, nil
}

func (m *Model) View() string {
	var b strings.Builder
	if m.screen == screenPicker {
		b.WriteString(m.picker.View())
		if m.err != nil {
			b.WriteString("\n" + ErrorStyle.Render(m.err.Error()))
		}
		b.WriteString("\n" + helpLine(keys.Select, keys.Quit))
		return b.String()
	}

	b.WriteString(PreviewPanel.Render(m.preview.View()))
	b.WriteString("\n")
	if m.typing {
		b.WriteString(InputBoxStyle.Render(m.input.View()))
		b.WriteString("\n" + helpLine(keys.Submit, keys.Cancel))
		return b.String()
	}
	if m.status != "" {
		b.WriteString(m.status + "\n")
	}
	b.WriteString(helpLine(keys.Input, keys.Interrupt, keys.Refresh, keys.Back, keys.Quit))
	return b.String()
}

func helpLine(bindings ...key.Binding) string {
	parts := make([]string, 0, len(bindings))
	for _, kb := range bindings {
		h := kb.Help()
		parts = append(parts, MenuKeyStyle.Render(h.Key)+" "+MenuDescStyle.Render(h.Desc))
	}
	return strings.Join(parts, DimStyle.Render(" • "))
}
