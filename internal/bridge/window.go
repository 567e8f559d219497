package bridge

import (
	"context"
	"fmt"

	"github.com/asheshgoplani/termbot/internal/termfmt"
)

// updateWindow shows text in the chat's window message, keeping the panel
// below it. Caller holds c.deliverMu.
//
// With a window id the message is edited. If the edit fails the window is
// sent fresh instead, exactly as when no id is known: the panel (if any) is
// deleted first and re-sent right after the new window. If that send fails
// too, the panel is held back until a window exists again.
func (b *Bridge) updateWindow(ctx context.Context, c *Connection, text string) {
	c.mu.Lock()
	windowID, panelID := c.windowMsgID, c.panelMsgID
	c.mu.Unlock()

	if windowID != 0 {
		id, err := b.gw.Deliver(ctx, c.ChatID, text, windowID)
		switch {
		case err == nil && id == windowID:
			if panelID != 0 && panelID < windowID {
				bridgeLog.Info("panel_above_window", "chat_id", c.ChatID, "window", windowID, "panel", panelID)
				b.reorderPanel(ctx, c, panelID)
			}
			return
		case err == nil:
			bridgeLog.Info("window_replaced", "chat_id", c.ChatID, "old", windowID, "new", id)
			b.setWindow(c, id)
			if panelID != 0 {
				b.reorderPanel(ctx, c, panelID)
			} else {
				b.persist(c)
			}
			return
		}
		bridgeLog.Warn("window_edit_failed", "chat_id", c.ChatID, "window", windowID, "error", err)
	}

	if panelID != 0 {
		b.deletePanel(ctx, c, panelID)
	}
	id, err := b.gw.Deliver(ctx, c.ChatID, text, 0)
	if err != nil {
		// No window to sit under: the panel waits for the next successful
		// send, and the cleared fingerprint makes the next poll retry.
		bridgeLog.Error("window_send_failed", "chat_id", c.ChatID, "error", err)
		c.mu.Lock()
		c.windowMsgID = 0
		c.fingerprint = ""
		if panelID != 0 {
			c.panelPending = true
		}
		c.mu.Unlock()
		b.persist(c)
		return
	}

	c.mu.Lock()
	c.windowMsgID = id
	restore := panelID != 0 || c.panelPending
	c.panelPending = false
	c.mu.Unlock()
	if restore {
		b.sendPanel(ctx, c)
	}
	b.persist(c)
}

func (b *Bridge) setWindow(c *Connection, id int) {
	c.mu.Lock()
	c.windowMsgID = id
	c.mu.Unlock()
}

func (b *Bridge) reorderPanel(ctx context.Context, c *Connection, panelID int) {
	b.deletePanel(ctx, c, panelID)
	b.sendPanel(ctx, c)
	b.persist(c)
}

// deletePanel removes the panel message. A failed delete is logged; the id
// is dropped either way since the panel is about to be replaced.
func (b *Bridge) deletePanel(ctx context.Context, c *Connection, panelID int) {
	if err := b.gw.Delete(ctx, c.ChatID, panelID); err != nil {
		bridgeLog.Warn("panel_delete_failed", "chat_id", c.ChatID, "panel", panelID, "error", err)
	}
	c.mu.Lock()
	if c.panelMsgID == panelID {
		c.panelMsgID = 0
	}
	c.mu.Unlock()
}

func (b *Bridge) sendPanel(ctx context.Context, c *Connection) {
	id, err := b.gw.SendPanel(ctx, c.ChatID)
	if err != nil {
		bridgeLog.Warn("panel_send_failed", "chat_id", c.ChatID, "error", err)
		return
	}
	c.mu.Lock()
	c.panelMsgID = id
	c.mu.Unlock()
}

// Refresh re-sends the terminal immediately. In window mode the window is
// re-sent below the latest chat message; in stream mode the current screen
// is sent as one new message.
func (b *Bridge) Refresh(ctx context.Context, chatID int64) error {
	c, err := b.conn(chatID)
	if err != nil {
		return err
	}
	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	if b.cfg.Mode == ModeStream {
		content, err := b.term.CaptureSnapshot(c.Pane)
		if err != nil {
			return fmt.Errorf("refresh %s: %w", c.Pane, err)
		}
		if _, err := b.gw.Deliver(ctx, chatID, termfmt.Window(content, b.fmtOpts), 0); err != nil {
			return fmt.Errorf("refresh %s: %w", c.Pane, err)
		}
		return nil
	}

	c.mu.Lock()
	c.fingerprint = ""
	c.windowMsgID = 0
	c.mu.Unlock()

	text, changed, err := b.detector.Detect(c)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", c.Pane, err)
	}
	if changed {
		b.updateWindow(ctx, c, text)
	}
	return nil
}
