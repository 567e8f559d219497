package logging

import (
	"fmt"
	"log/slog"
	"strings"
)

// PrintfLogger adapts slog to the Println/Printf shape that third-party
// clients expect (the Telegram client's BotLogger). Lines are logged at
// debug level under a fixed component, since those clients are chatty.
type PrintfLogger struct {
	component string
}

// NewPrintfLogger returns a Printf-style logger tagged with component.
func NewPrintfLogger(component string) *PrintfLogger {
	return &PrintfLogger{component: canonicalComponent(component)}
}

// Println implements the BotLogger interface.
func (p *PrintfLogger) Println(v ...interface{}) {
	p.emit(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

// Printf implements the BotLogger interface.
func (p *PrintfLogger) Printf(format string, v ...interface{}) {
	p.emit(fmt.Sprintf(format, v...))
}

// Write implements io.Writer so the logger can also back a *log.Logger.
func (p *PrintfLogger) Write(b []byte) (int, error) {
	p.emit(string(b))
	return len(b), nil
}

func (p *PrintfLogger) emit(msg string) {
	msg = strings.TrimSpace(stripLogTimestamp(strings.TrimSpace(msg)))
	if msg == "" {
		return
	}
	component := p.component
	if strings.HasPrefix(msg, "[") {
		if idx := strings.Index(msg, "] "); idx > 0 {
			component = canonicalComponent(strings.ToLower(msg[1:idx]))
			msg = msg[idx+2:]
		}
	}
	Logger().Debug(msg, slog.String("component", component))
}

// stripLogTimestamp removes a "2006/01/02 15:04:05 " style prefix left by
// a *log.Logger created with default flags.
func stripLogTimestamp(s string) string {
	if len(s) > 20 && s[4] == '/' && s[7] == '/' && s[10] == ' ' && s[13] == ':' && s[19] == ' ' {
		return s[20:]
	}
	if len(s) > 9 && s[2] == ':' && s[5] == ':' && s[8] == ' ' {
		return s[9:]
	}
	return s
}

func canonicalComponent(cat string) string {
	switch cat {
	case "telegram", "tgbot", "bot", "updates":
		return CompTelegram
	case "tmux", "pane":
		return CompTmux
	case "poll", "poller":
		return CompPoll
	case "db", "sqlite", "store":
		return CompStore
	default:
		return cat
	}
}
