package telegram

import (
	"fmt"
	"strings"

	"github.com/asheshgoplani/termbot/internal/termfmt"
)

// md escapes the literal parts of format for MarkdownV2 and fills in args,
// which must already be escaped (see code and plain).
func md(format string, args ...any) string {
	return fmt.Sprintf(termfmt.EscapeText(format), args...)
}

// code renders s as inline code.
func code(s string) string {
	return "`" + termfmt.EscapeCode(s) + "`"
}

// plain escapes s as ordinary text.
func plain(s string) string {
	return termfmt.EscapeText(s)
}

var (
	msgUnauthorized = md("Unauthorized. Access denied.")

	msgStart = md(strings.Join([]string{
		"Welcome to termbot!",
		"",
		"Control your tmux terminal sessions remotely from Telegram.",
		"",
		"Features:",
		"- Real-time terminal output",
		"- Send text input to terminal",
		"- Control keys (arrows, Tab, Esc, Ctrl+C, etc.)",
		"- Auto/Wait input modes",
		"",
		"Quick Start:",
		"1. /list - View available tmux sessions",
		"2. /connect - Select a pane to connect",
		"3. Send messages to input to terminal",
		"4. /keys - Show control keys panel",
		"",
		"Use /help for detailed usage.",
	}, "\n"))

	msgHelp = md(strings.Join([]string{
		"termbot commands:",
		"",
		"/list - List available tmux panes",
		"/connect - Connect to a pane (shows selection)",
		"/connect <pane> - Connect by id or by fuzzy name",
		"/disconnect - Disconnect from session",
		"/keys - Show control keys panel",
		"/refresh - Re-send the terminal view",
		"/new [name] - Start a new tmux session",
		"/kill <session> - Kill a tmux session",
		"/width <n|reset> - Set the terminal width",
		"/status - Show bot status",
		"/help - Show this help",
		"",
		"Control Keys:",
		"Arrow keys, Tab, Shift+Tab, Esc, Backspace, Enter, Ctrl+C",
		"",
		"Input Modes:",
		"- Auto: Messages sent with Enter automatically",
		"- Wait: Messages sent without Enter (press Enter manually)",
		"",
		"Tip: Unknown /commands are forwarded to terminal when connected.",
	}, "\n"))

	msgNoSessions = md("No tmux sessions found.\n\nStart a tmux session first:\n") + code("tmux new -s mysession")

	msgNotConnected     = md("Not connected to any session.\nUse /connect first.")
	msgNotConnectedBare = md("Not connected to any session.")
	msgSelectPane       = md("Select a tmux pane to connect:")
	msgUnknownCommand   = md("Unknown command. Use /help to see available commands.\nOr /connect to a session first to forward commands to terminal.")
	msgKeyFailed        = md("❌ Failed to send key. Session may have closed.")
	msgInputFailed      = md("❌ Failed to send input. Session may have closed.")
	msgCommandFailed    = md("❌ Failed to send command. Session may have closed.")
	msgKillUsage        = md("Usage: /kill <session>")
	msgWidthUsage       = md("Usage: /width <columns> or /width reset")
)

func msgAlreadyConnected(pane string) string {
	return md("Already connected to %s.\nUse /disconnect first.", code(pane))
}

func msgConnected(pane string) string {
	return md("✅ Connected to %s\n\nTerminal output will be shown here.\nSend text to input to the terminal.", code(pane))
}

func msgConnectFailed(pane string) string {
	return md("❌ Failed to connect to %s\n\nMake sure the pane exists. Use /list to see available panes.", code(pane))
}

func msgConnectGone(pane string) string {
	return md("❌ Failed to connect to %s\n\nPane may no longer exist.", code(pane))
}

func msgDisconnected(pane string) string {
	return md("✅ Disconnected from %s", code(pane))
}
