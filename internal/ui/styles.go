// Package ui is the terminal preview for termbot: it shows, live, the
// window a chat would receive for a pane.
package ui

import (
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	dark "github.com/thiagokokada/dark-mode-go"
)

// Theme represents the current color scheme
type Theme string

const (
	ThemeDark   Theme = "dark"
	ThemeLight  Theme = "light"
	ThemeSystem Theme = "system"
)

type palette struct {
	Bg, Surface, Border, Text, TextDim lipgloss.Color
	Accent, Green, Yellow, Red         lipgloss.Color
}

// Tokyo Night
var darkColors = palette{
	Bg:      lipgloss.Color("#1a1b26"),
	Surface: lipgloss.Color("#24283b"),
	Border:  lipgloss.Color("#414868"),
	Text:    lipgloss.Color("#c0caf5"),
	TextDim: lipgloss.Color("#787fa0"),
	Accent:  lipgloss.Color("#7aa2f7"),
	Green:   lipgloss.Color("#9ece6a"),
	Yellow:  lipgloss.Color("#e0af68"),
	Red:     lipgloss.Color("#f7768e"),
}

// Tokyo Night Light
var lightColors = palette{
	Bg:      lipgloss.Color("#d5d6db"),
	Surface: lipgloss.Color("#e9e9ec"),
	Border:  lipgloss.Color("#9699a3"),
	Text:    lipgloss.Color("#343b58"),
	TextDim: lipgloss.Color("#6a6d7c"),
	Accent:  lipgloss.Color("#34548a"),
	Green:   lipgloss.Color("#485e30"),
	Yellow:  lipgloss.Color("#8f5e15"),
	Red:     lipgloss.Color("#8c4351"),
}

// Active colors (set by InitTheme)
var (
	ColorBg      lipgloss.Color
	ColorSurface lipgloss.Color
	ColorBorder  lipgloss.Color
	ColorText    lipgloss.Color
	ColorTextDim lipgloss.Color
	ColorAccent  lipgloss.Color
	ColorGreen   lipgloss.Color
	ColorYellow  lipgloss.Color
	ColorRed     lipgloss.Color
)

var (
	TitleStyle     lipgloss.Style
	DimStyle       lipgloss.Style
	ErrorStyle     lipgloss.Style
	WarningStyle   lipgloss.Style
	SuccessStyle   lipgloss.Style
	SelectedStyle  lipgloss.Style
	MenuKeyStyle   lipgloss.Style
	MenuDescStyle  lipgloss.Style
	InputBoxStyle  lipgloss.Style
	PreviewPanel   lipgloss.Style
	PreviewHeader  lipgloss.Style
	PreviewContent lipgloss.Style
	PreviewMeta    lipgloss.Style
)

var (
	themeMu      sync.RWMutex
	currentTheme = ThemeDark
)

func init() {
	InitTheme(string(ThemeDark))
}

// ResolveTheme maps a configured theme to dark or light. "system" asks the
// OS and falls back to dark when it cannot tell.
func ResolveTheme(theme string) Theme {
	switch Theme(strings.ToLower(strings.TrimSpace(theme))) {
	case ThemeLight:
		return ThemeLight
	case ThemeSystem:
		isDark, err := dark.IsDarkMode()
		if err != nil || isDark {
			return ThemeDark
		}
		return ThemeLight
	}
	return ThemeDark
}

// InitTheme sets the active palette and rebuilds the styles.
func InitTheme(theme string) {
	themeMu.Lock()
	defer themeMu.Unlock()

	p := darkColors
	currentTheme = ThemeDark
	if Theme(theme) == ThemeLight {
		p = lightColors
		currentTheme = ThemeLight
	}
	ColorBg, ColorSurface, ColorBorder = p.Bg, p.Surface, p.Border
	ColorText, ColorTextDim, ColorAccent = p.Text, p.TextDim, p.Accent
	ColorGreen, ColorYellow, ColorRed = p.Green, p.Yellow, p.Red
	initStyles()
}

// CurrentTheme returns the active theme.
func CurrentTheme() Theme {
	themeMu.RLock()
	defer themeMu.RUnlock()
	return currentTheme
}

func initStyles() {
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorAccent)
	DimStyle = lipgloss.NewStyle().Foreground(ColorTextDim)
	ErrorStyle = lipgloss.NewStyle().Foreground(ColorRed)
	WarningStyle = lipgloss.NewStyle().Foreground(ColorYellow)
	SuccessStyle = lipgloss.NewStyle().Foreground(ColorGreen)
	SelectedStyle = lipgloss.NewStyle().Background(ColorAccent).Foreground(ColorBg).Bold(true)
	MenuKeyStyle = lipgloss.NewStyle().Foreground(ColorAccent).Bold(true)
	MenuDescStyle = lipgloss.NewStyle().Foreground(ColorTextDim)
	InputBoxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorAccent).
		Padding(0, 1)
	PreviewPanel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder).
		Padding(0, 1)
	PreviewHeader = lipgloss.NewStyle().Bold(true).Foreground(ColorText)
	PreviewContent = lipgloss.NewStyle().Foreground(ColorText)
	PreviewMeta = lipgloss.NewStyle().Foreground(ColorTextDim).Italic(true)
}

// InitColorProfile picks the lipgloss color profile. TERMBOT_COLOR
// (truecolor, 256, 16, none) overrides detection.
func InitColorProfile(getenv func(string) string) {
	lipgloss.SetColorProfile(ColorProfile(getenv))
}

// ColorProfile detects the terminal color profile from the environment,
// preferring TrueColor.
func ColorProfile(getenv func(string) string) termenv.Profile {
	switch strings.ToLower(getenv("TERMBOT_COLOR")) {
	case "truecolor", "true", "24bit":
		return termenv.TrueColor
	case "256", "ansi256":
		return termenv.ANSI256
	case "16", "ansi", "basic":
		return termenv.ANSI
	case "none", "off", "ascii":
		return termenv.Ascii
	}

	if getenv("NO_COLOR") != "" {
		return termenv.Ascii
	}
	switch getenv("COLORTERM") {
	case "truecolor", "24bit":
		return termenv.TrueColor
	}

	term := getenv("TERM")
	for _, t := range []string{"256color", "xterm-direct", "alacritty", "kitty", "wezterm"} {
		if strings.Contains(term, t) {
			return termenv.TrueColor
		}
	}
	if getenv("WT_SESSION") != "" || getenv("ITERM_SESSION_ID") != "" || getenv("KONSOLE_VERSION") != "" {
		return termenv.TrueColor
	}
	return termenv.ANSI256
}
