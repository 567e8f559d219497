package bridge

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/asheshgoplani/termbot/internal/logging"
)

// ensurePollingLocked starts the poll loop if it is not running.
// Caller holds b.mu.
func (b *Bridge) ensurePollingLocked() {
	if b.polling || b.closed {
		return
	}
	b.polling = true
	b.wg.Add(1)
	go b.pollLoop()
}

// Polling reports whether the poll loop is running.
func (b *Bridge) Polling() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polling
}

// pollLoop runs while at least one connection exists. The emptiness check
// and the polling flag share b.mu with ensurePollingLocked, so a Connect
// racing the exit either is seen here or starts a fresh loop.
func (b *Bridge) pollLoop() {
	defer b.wg.Done()
	pollLog.Info("poll_loop_started", "interval", b.cfg.PollInterval.String())

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		b.mu.Lock()
		if len(b.conns) == 0 || b.ctx.Err() != nil {
			b.polling = false
			b.mu.Unlock()
			pollLog.Info("poll_loop_stopped")
			return
		}
		b.mu.Unlock()

		b.pollOnce(b.ctx)
		logging.Aggregate(logging.CompPoll, "poll_pass")

		select {
		case <-b.ctx.Done():
		case <-ticker.C:
		}
	}
}

// pollOnce checks every connection once. Vanished panes are collected and
// disconnected after the pass.
func (b *Bridge) pollOnce(ctx context.Context) {
	var vanished []*Connection
	for _, c := range b.connections() {
		if ctx.Err() != nil {
			return
		}
		if !b.term.PaneExists(c.Pane) {
			vanished = append(vanished, c)
			continue
		}
		if err := b.process(ctx, c); err != nil {
			pollLog.Warn("poll_connection_failed", "chat_id", c.ChatID, "pane", c.Pane, "error", err)
		}
	}

	for _, c := range vanished {
		b.handleVanished(ctx, c)
	}
}

// process runs detection and delivery for one connection. A panic is
// turned into an error so other connections keep being served.
func (b *Bridge) process(ctx context.Context, c *Connection) (err error) {
	defer func() {
		if r := recover(); r != nil {
			pollLog.Error("poll_connection_panic",
				"chat_id", c.ChatID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()
	if c.isClosed() {
		return nil
	}

	text, changed, err := b.detector.Detect(c)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if b.cfg.Mode == ModeStream {
		b.offer(ctx, c, text)
	} else {
		b.updateWindow(ctx, c, text)
	}
	return nil
}

func (b *Bridge) handleVanished(ctx context.Context, c *Connection) {
	if b.remove(c.ChatID, c) == nil {
		return
	}
	b.teardown(c)
	b.forget(c.ChatID)
	bridgeLog.Info("pane_vanished", "chat_id", c.ChatID, "pane", c.Pane)

	if err := b.gw.NotifyDisconnect(ctx, c.ChatID, ReasonPaneGone); err != nil {
		bridgeLog.Error("disconnect_notify_failed", "chat_id", c.ChatID, "error", err)
	}
}
