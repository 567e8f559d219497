package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sahilm/fuzzy"

	"github.com/asheshgoplani/termbot/internal/tmux"
)

const (
	minWidth = 20
	maxWidth = 1000
)

func (b *Bot) handleMessage(ctx context.Context, m *tgbotapi.Message) {
	if m.From == nil || m.Chat == nil {
		return
	}
	chatID := m.Chat.ID

	if !b.auth.Allowed(m.From.ID) {
		tgLog.Warn("unauthorized_message", "user_id", m.From.ID, "chat_id", chatID)
		if m.IsCommand() {
			b.reply(ctx, chatID, msgUnauthorized)
		}
		return
	}

	if m.IsCommand() {
		b.handleCommand(ctx, m)
		return
	}
	if m.Text == "" {
		return
	}
	if !b.bridge.IsConnected(chatID) {
		b.reply(ctx, chatID, msgNotConnected)
		return
	}
	b.forward(ctx, chatID, m.Text, msgInputFailed)
}

func (b *Bot) handleCommand(ctx context.Context, m *tgbotapi.Message) {
	chatID := m.Chat.ID
	arg := strings.TrimSpace(m.CommandArguments())
	tgLog.Debug("command_received", "chat_id", chatID, "command", m.Command())

	switch m.Command() {
	case "start":
		b.reply(ctx, chatID, msgStart)
	case "help":
		b.reply(ctx, chatID, msgHelp)
	case "list":
		b.cmdList(ctx, chatID)
	case "connect":
		b.cmdConnect(ctx, chatID, firstField(arg))
	case "disconnect":
		b.cmdDisconnect(ctx, chatID)
	case "keys":
		b.cmdKeys(ctx, chatID)
	case "refresh":
		b.cmdRefresh(ctx, chatID)
	case "new":
		b.cmdNew(ctx, chatID, firstField(arg))
	case "kill":
		b.cmdKill(ctx, chatID, firstField(arg))
	case "width":
		b.cmdWidth(ctx, chatID, firstField(arg))
	case "status":
		b.cmdStatus(ctx, chatID)
	default:
		if !b.bridge.IsConnected(chatID) {
			b.reply(ctx, chatID, msgUnknownCommand)
			return
		}
		b.forward(ctx, chatID, m.Text, msgCommandFailed)
	}
}

// forward types text into the chat's pane.
func (b *Bot) forward(ctx context.Context, chatID int64, text, failMsg string) {
	if err := b.bridge.SendInput(chatID, text); err != nil {
		tgLog.Warn("forward_failed", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, failMsg)
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.gw.Reply(ctx, chatID, text, nil); err != nil {
		tgLog.Error("reply_failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) listPanes() []tmux.PaneInfo {
	panes, err := b.panes.ListPanes()
	if err != nil {
		tgLog.Warn("list_panes_failed", "error", err)
		return nil
	}
	return panes
}

func (b *Bot) cmdList(ctx context.Context, chatID int64) {
	panes := b.listPanes()
	if len(panes) == 0 {
		b.reply(ctx, chatID, msgNoSessions)
		return
	}

	lines := []string{md("Available tmux panes:\n")}
	for _, p := range panes {
		lines = append(lines, md("• %s - %s", code(p.Identifier()), plain(p.WindowName)))
	}
	lines = append(lines, md("\nUse /connect <id> to connect"))
	b.reply(ctx, chatID, strings.Join(lines, "\n"))
}

func (b *Bot) cmdConnect(ctx context.Context, chatID int64, arg string) {
	if pane, ok := b.bridge.BoundPane(chatID); ok {
		b.reply(ctx, chatID, msgAlreadyConnected(pane))
		return
	}

	panes := b.listPanes()
	if arg == "" {
		if len(panes) == 0 {
			b.reply(ctx, chatID, msgNoSessions)
			return
		}
		kb := PanesKeyboard(panes)
		if _, err := b.gw.Reply(ctx, chatID, msgSelectPane, &kb); err != nil {
			tgLog.Error("reply_failed", "chat_id", chatID, "error", err)
		}
		return
	}

	pane := resolvePane(arg, panes)
	if err := b.bridge.Connect(chatID, pane); err != nil {
		tgLog.Info("connect_failed", "chat_id", chatID, "pane", pane, "error", err)
		b.reply(ctx, chatID, msgConnectFailed(pane))
		return
	}
	b.reply(ctx, chatID, msgConnected(pane))
}

// resolvePane maps a /connect argument to a pane identifier: an exact
// identifier or tmux pane id first, then the best fuzzy match over
// "identifier window-name". Without a match the query is used as given.
func resolvePane(query string, panes []tmux.PaneInfo) string {
	for _, p := range panes {
		if p.Identifier() == query || p.PaneID == query {
			return p.Identifier()
		}
	}
	candidates := make([]string, len(panes))
	for i, p := range panes {
		candidates[i] = p.Identifier() + " " + p.WindowName
	}
	if matches := fuzzy.Find(query, candidates); len(matches) > 0 {
		return panes[matches[0].Index].Identifier()
	}
	return query
}

func (b *Bot) cmdDisconnect(ctx context.Context, chatID int64) {
	pane, ok := b.bridge.BoundPane(chatID)
	if !ok {
		b.reply(ctx, chatID, msgNotConnectedBare)
		return
	}
	b.bridge.Disconnect(chatID)
	b.reply(ctx, chatID, msgDisconnected(pane))
}

func (b *Bot) cmdKeys(ctx context.Context, chatID int64) {
	if !b.bridge.IsConnected(chatID) {
		b.reply(ctx, chatID, msgNotConnected)
		return
	}
	if err := b.bridge.ShowPanel(ctx, chatID); err != nil {
		tgLog.Error("show_panel_failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) cmdRefresh(ctx context.Context, chatID int64) {
	if !b.bridge.IsConnected(chatID) {
		b.reply(ctx, chatID, msgNotConnected)
		return
	}
	if err := b.bridge.Refresh(ctx, chatID); err != nil {
		tgLog.Warn("refresh_failed", "chat_id", chatID, "error", err)
		b.reply(ctx, chatID, md("❌ Refresh failed: %s", plain(err.Error())))
	}
}

func (b *Bot) cmdNew(ctx context.Context, chatID int64, name string) {
	session, pane, err := b.bridge.CreateSession(name)
	if err != nil {
		tgLog.Warn("create_session_failed", "chat_id", chatID, "name", name, "error", err)
		b.reply(ctx, chatID, md("❌ Failed to create session: %s", plain(err.Error())))
		return
	}

	if b.bridge.IsConnected(chatID) {
		b.reply(ctx, chatID, md("✅ Created session %s\nUse /disconnect, then /connect %s to switch.", code(session), plain(pane)))
		return
	}
	if err := b.bridge.Connect(chatID, pane); err != nil {
		b.reply(ctx, chatID, md("✅ Created session %s\n\n", code(session))+msgConnectFailed(pane))
		return
	}
	b.reply(ctx, chatID, md("✅ Created session %s\n\n", code(session))+msgConnected(pane))
}

func (b *Bot) cmdKill(ctx context.Context, chatID int64, session string) {
	if session == "" {
		b.reply(ctx, chatID, msgKillUsage)
		return
	}
	if pane, ok := b.bridge.BoundPane(chatID); ok {
		if s, _, _, err := tmux.ParsePaneID(pane); err == nil && s == session {
			b.bridge.Disconnect(chatID)
		}
	}
	if err := b.panes.KillSession(session); err != nil {
		tgLog.Warn("kill_session_failed", "session", session, "error", err)
		b.reply(ctx, chatID, md("❌ Failed to kill session %s: %s", code(session), plain(err.Error())))
		return
	}
	b.reply(ctx, chatID, md("✅ Killed session %s", code(session)))
}

func (b *Bot) cmdWidth(ctx context.Context, chatID int64, arg string) {
	pane, ok := b.bridge.BoundPane(chatID)
	if !ok {
		b.reply(ctx, chatID, msgNotConnected)
		return
	}

	if arg == "reset" {
		if err := b.panes.ResetTerminalWidth(pane); err != nil {
			b.reply(ctx, chatID, md("❌ Failed to reset width: %s", plain(err.Error())))
			return
		}
		b.bridge.ResetFingerprint(chatID)
		b.reply(ctx, chatID, md("✅ Terminal width reset"))
		return
	}

	width, err := strconv.Atoi(arg)
	if err != nil || width < minWidth || width > maxWidth {
		b.reply(ctx, chatID, msgWidthUsage)
		return
	}
	if err := b.panes.SetTerminalWidth(pane, width); err != nil {
		b.reply(ctx, chatID, md("❌ Failed to set width: %s", plain(err.Error())))
		return
	}
	b.bridge.ResetFingerprint(chatID)
	b.reply(ctx, chatID, md("✅ Terminal width set to %s columns", plain(strconv.Itoa(width))))
}

func (b *Bot) cmdStatus(ctx context.Context, chatID int64) {
	lines := []string{md("Mode: %s", plain(string(b.bridge.Mode())))}

	if pane, ok := b.bridge.BoundPane(chatID); ok {
		input := "Wait"
		if b.bridge.AutoEnter(chatID) {
			input = "Auto"
		}
		lines = append(lines,
			md("Connected: %s", code(pane)),
			md("Input: %s", plain(input)))
	} else {
		lines = append(lines, md("Connected: no"))
	}

	if b.health != nil {
		s := b.health.Status()
		lastPoll := "never"
		if !s.LastPoll.IsZero() {
			lastPoll = time.Since(s.LastPoll).Round(time.Second).String() + " ago"
		}
		uptime := time.Duration(s.Uptime * float64(time.Second)).Round(time.Second)
		lines = append(lines,
			md("Telegram: %s (last poll %s)", plain(string(s.State)), plain(lastPoll)),
			md("Uptime: %s", plain(uptime.String())))
	}
	b.reply(ctx, chatID, strings.Join(lines, "\n"))
}

func (b *Bot) handleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if err := b.gw.Answer(ctx, q.ID); err != nil {
		tgLog.Debug("callback_answer_failed", "error", err)
	}
	if q.From == nil || q.Message == nil || q.Message.Chat == nil {
		return
	}
	if !b.auth.Allowed(q.From.ID) {
		tgLog.Warn("unauthorized_callback", "user_id", q.From.ID)
		return
	}

	chatID, msgID := q.Message.Chat.ID, q.Message.MessageID
	switch {
	case strings.HasPrefix(q.Data, callbackConnect):
		b.callbackConnect(ctx, chatID, msgID, strings.TrimPrefix(q.Data, callbackConnect))
	case strings.HasPrefix(q.Data, callbackKey):
		b.callbackKey(ctx, chatID, msgID, strings.TrimPrefix(q.Data, callbackKey))
	default:
		tgLog.Debug("unknown_callback", "data", q.Data)
	}
}

func (b *Bot) edit(ctx context.Context, chatID int64, msgID int, text string) {
	if err := b.gw.EditText(ctx, chatID, msgID, text); err != nil {
		tgLog.Warn("edit_failed", "chat_id", chatID, "message_id", msgID, "error", err)
	}
}

func (b *Bot) callbackConnect(ctx context.Context, chatID int64, msgID int, pane string) {
	if current, ok := b.bridge.BoundPane(chatID); ok {
		b.edit(ctx, chatID, msgID, msgAlreadyConnected(current))
		return
	}
	if err := b.bridge.Connect(chatID, pane); err != nil {
		tgLog.Info("connect_failed", "chat_id", chatID, "pane", pane, "error", err)
		b.edit(ctx, chatID, msgID, msgConnectGone(pane))
		return
	}
	b.edit(ctx, chatID, msgID, msgConnected(pane))
}

func (b *Bot) callbackKey(ctx context.Context, chatID int64, msgID int, name string) {
	if !b.bridge.IsConnected(chatID) {
		b.edit(ctx, chatID, msgID, msgNotConnected)
		return
	}

	if name == keyToggleMode {
		autoEnter, err := b.bridge.ToggleAutoEnter(chatID)
		if err != nil {
			b.edit(ctx, chatID, msgID, msgNotConnected)
			return
		}
		if err := b.gw.EditPanel(ctx, chatID, msgID, autoEnter); err != nil {
			tgLog.Warn("panel_edit_failed", "chat_id", chatID, "error", err)
		}
		return
	}

	var err error
	switch {
	case name == keyDoubleCtrlC:
		err = b.bridge.SendKey(chatID, "C-c", "C-c")
	case specialKeys[name] != "":
		err = b.bridge.SendKey(chatID, specialKeys[name])
	default:
		err = fmt.Errorf("unknown key %q", name)
	}
	if err != nil {
		tgLog.Warn("send_key_failed", "chat_id", chatID, "key", name, "error", err)
		b.edit(ctx, chatID, msgID, msgKeyFailed)
	}
}

func firstField(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}
