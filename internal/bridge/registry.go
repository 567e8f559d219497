package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Connection binds one chat to one pane.
type Connection struct {
	ChatID      int64
	Pane        string
	ConnectedAt time.Time

	// reader names this connection's delta baseline in the terminal adapter.
	// Each connection gets its own, so chats sharing a pane each see every
	// new line.
	reader string

	// deliverMu serializes detection and delivery (poll pass, flush, forced
	// refresh, panel display) for this connection.
	deliverMu sync.Mutex

	mu            sync.Mutex
	fingerprint   string
	windowMsgID   int
	panelMsgID    int
	autoEnter     bool
	buffer        []string
	firstBuffered time.Time
	lastChunk     time.Time
	lastDelivery  time.Time
	flush         *flushTask
	closed        bool

	// panelPending is set when the panel was deleted for a window resend
	// that then failed; the panel comes back with the next window.
	panelPending bool
}

func (c *Connection) info() ConnectionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.infoLocked()
}

func (c *Connection) infoLocked() ConnectionInfo {
	return ConnectionInfo{
		ChatID:      c.ChatID,
		Pane:        c.Pane,
		AutoEnter:   c.autoEnter,
		WindowMsgID: c.windowMsgID,
		PanelMsgID:  c.panelMsgID,
		ConnectedAt: c.ConnectedAt,
	}
}

func (c *Connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Connect binds chatID to pane, replacing any previous binding of that chat.
// The pane must exist; on failure nothing changes.
func (b *Bridge) Connect(chatID int64, pane string) error {
	if !b.term.PaneExists(pane) {
		bridgeLog.Warn("connect_pane_not_found", "chat_id", chatID, "pane", pane)
		return fmt.Errorf("connect %s: %w", pane, ErrPaneNotFound)
	}
	c := &Connection{
		ChatID:      chatID,
		Pane:        pane,
		ConnectedAt: time.Now(),
		autoEnter:   true,
	}
	if err := b.install(c); err != nil {
		return err
	}
	b.persist(c)
	bridgeLog.Info("chat_connected", "chat_id", chatID, "pane", pane, "mode", string(b.cfg.Mode))
	return nil
}

// Restore reinstalls a stored connection, keeping its message ids so the
// existing window keeps being edited.
func (b *Bridge) Restore(info ConnectionInfo) error {
	if !b.term.PaneExists(info.Pane) {
		b.forget(info.ChatID)
		return fmt.Errorf("restore %s: %w", info.Pane, ErrPaneNotFound)
	}
	connectedAt := info.ConnectedAt
	if connectedAt.IsZero() {
		connectedAt = time.Now()
	}
	c := &Connection{
		ChatID:      info.ChatID,
		Pane:        info.Pane,
		ConnectedAt: connectedAt,
		autoEnter:   info.AutoEnter,
		windowMsgID: info.WindowMsgID,
		panelMsgID:  info.PanelMsgID,
	}
	if err := b.install(c); err != nil {
		return err
	}
	bridgeLog.Info("chat_restored", "chat_id", info.ChatID, "pane", info.Pane)
	return nil
}

func (b *Bridge) install(c *Connection) error {
	c.reader = b.newReader(c.ChatID)
	if b.cfg.Mode == ModeStream {
		b.term.ClearHistory(c.reader)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	prev := b.conns[c.ChatID]
	b.conns[c.ChatID] = c
	b.ensurePollingLocked()
	b.mu.Unlock()

	if prev != nil {
		b.teardown(prev)
		bridgeLog.Info("previous_connection_replaced", "chat_id", c.ChatID, "old_pane", prev.Pane)
	}
	return nil
}

// Disconnect unbinds chatID. It reports whether the chat was connected.
func (b *Bridge) Disconnect(chatID int64) bool {
	c := b.remove(chatID, nil)
	if c == nil {
		return false
	}
	b.teardown(c)
	b.forget(chatID)
	bridgeLog.Info("chat_disconnected", "chat_id", chatID, "pane", c.Pane)
	return true
}

// remove deletes the chat's connection. When only is non-nil the entry is
// removed only if it is still that connection.
func (b *Bridge) remove(chatID int64, only *Connection) *Connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.conns[chatID]
	if !ok || (only != nil && c != only) {
		return nil
	}
	delete(b.conns, chatID)
	return c
}

// teardown marks c closed and cancels its pending flush, waiting for the
// flush goroutine to exit. Safe to call more than once.
//
// closed is set under c.mu, the lock persist saves under, so once teardown
// returns no in-flight delivery can write c back to the store.
func (b *Bridge) teardown(c *Connection) {
	c.mu.Lock()
	c.closed = true
	t := c.flush
	c.flush = nil
	c.buffer = nil
	c.mu.Unlock()

	if t != nil {
		t.cancel()
		<-t.done
	}
	if b.cfg.Mode == ModeStream {
		b.term.ClearHistory(c.reader)
	}
}

func (b *Bridge) conn(chatID int64) (*Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.conns[chatID]
	if !ok {
		return nil, ErrNotConnected
	}
	return c, nil
}

func (b *Bridge) connections() []*Connection {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Connection, 0, len(b.conns))
	for _, c := range b.conns {
		out = append(out, c)
	}
	return out
}

// IsConnected reports whether chatID has a bound pane.
func (b *Bridge) IsConnected(chatID int64) bool {
	_, err := b.conn(chatID)
	return err == nil
}

// BoundPane returns the pane bound to chatID.
func (b *Bridge) BoundPane(chatID int64) (string, bool) {
	c, err := b.conn(chatID)
	if err != nil {
		return "", false
	}
	return c.Pane, true
}

// AutoEnter reports whether text sent by chatID is committed with Enter.
// Unconnected chats report false.
func (b *Bridge) AutoEnter(chatID int64) bool {
	c, err := b.conn(chatID)
	if err != nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoEnter
}

// ToggleAutoEnter flips the auto-enter flag and returns the new value.
func (b *Bridge) ToggleAutoEnter(chatID int64) (bool, error) {
	c, err := b.conn(chatID)
	if err != nil {
		return false, err
	}
	c.mu.Lock()
	c.autoEnter = !c.autoEnter
	v := c.autoEnter
	c.mu.Unlock()
	b.persist(c)
	return v, nil
}

// SetPanelMessage records the id of the control panel message.
func (b *Bridge) SetPanelMessage(chatID int64, msgID int) {
	c, err := b.conn(chatID)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.panelMsgID = msgID
	c.mu.Unlock()
	b.persist(c)
}

// PanelMessage returns the control panel message id, 0 if none.
func (b *Bridge) PanelMessage(chatID int64) int {
	c, err := b.conn(chatID)
	if err != nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.panelMsgID
}

// InvalidateWindow forgets the window message so the next update sends a
// fresh one below whatever was posted in between.
func (b *Bridge) InvalidateWindow(chatID int64) {
	c, err := b.conn(chatID)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.windowMsgID = 0
	c.mu.Unlock()
}

// ResetFingerprint makes the next poll deliver even if nothing changed.
func (b *Bridge) ResetFingerprint(chatID int64) {
	c, err := b.conn(chatID)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.fingerprint = ""
	c.mu.Unlock()
}

// SendInput types text into the bound pane, committing it with Enter when
// auto-enter is on. The chat message that carried the text now sits below
// the window, so the window is invalidated first.
func (b *Bridge) SendInput(chatID int64, text string) error {
	c, err := b.conn(chatID)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.windowMsgID = 0
	commit := c.autoEnter
	c.mu.Unlock()

	if err := b.term.SendKeys(c.Pane, text, commit); err != nil {
		return fmt.Errorf("send input to %s: %w", c.Pane, err)
	}
	return nil
}

// SendKey sends named tmux keys (e.g. "Up", "C-c") to the bound pane.
func (b *Bridge) SendKey(chatID int64, keys ...string) error {
	c, err := b.conn(chatID)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := b.term.SendKey(c.Pane, k); err != nil {
			return fmt.Errorf("send key %s to %s: %w", k, c.Pane, err)
		}
	}
	return nil
}

// ShowPanel (re)sends the control panel. The old panel is deleted and the
// window invalidated, so the next update lands above the new panel.
func (b *Bridge) ShowPanel(ctx context.Context, chatID int64) error {
	c, err := b.conn(chatID)
	if err != nil {
		return err
	}
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	old := c.panelMsgID
	c.windowMsgID = 0
	c.mu.Unlock()

	if old != 0 {
		b.deletePanel(ctx, c, old)
	}
	id, err := b.gw.SendPanel(ctx, chatID)
	if err != nil {
		return fmt.Errorf("send panel: %w", err)
	}
	c.mu.Lock()
	c.panelMsgID = id
	c.mu.Unlock()
	b.persist(c)
	return nil
}
