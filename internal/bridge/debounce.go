package bridge

import (
	"context"
	"strings"
	"time"

	"github.com/asheshgoplani/termbot/internal/logging"
	"github.com/asheshgoplani/termbot/internal/termfmt"
)

// flushTask is the pending delivery of a connection's buffered chunks.
type flushTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// offer routes a stream chunk: delivered at once when the last delivery is
// at least MinBurstInterval old and nothing is buffered, otherwise appended
// to the buffer behind a single scheduled flush. Caller holds c.deliverMu.
func (b *Bridge) offer(ctx context.Context, c *Connection, chunk string) {
	now := time.Now()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	quiet := c.lastDelivery.IsZero() || now.Sub(c.lastDelivery) >= b.cfg.MinBurstInterval
	if c.flush == nil && quiet {
		c.mu.Unlock()
		b.deliverChunk(ctx, c, chunk)
		return
	}
	c.buffer = append(c.buffer, chunk)
	c.lastChunk = now
	if c.flush == nil {
		c.firstBuffered = now
		c.flush = b.scheduleFlush(c)
		logging.Aggregate(logging.CompBridge, "flush_scheduled")
	}
	c.mu.Unlock()
}

// scheduleFlush starts the flush goroutine. Caller holds c.mu.
func (b *Bridge) scheduleFlush(c *Connection) *flushTask {
	ctx, cancel := context.WithCancel(b.ctx)
	t := &flushTask{cancel: cancel, done: make(chan struct{})}
	b.wg.Add(1)
	go b.runFlush(ctx, c, t)
	return t
}

// runFlush waits until FlushDelay has passed since the newest buffered
// chunk, but never longer than MinBurstInterval after the first one, then
// delivers the whole buffer as one message.
func (b *Bridge) runFlush(ctx context.Context, c *Connection, t *flushTask) {
	defer b.wg.Done()
	defer close(t.done)
	defer t.cancel()

	timer := time.NewTimer(b.flushWait(c))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if wait := b.flushWait(c); wait > 0 {
			timer.Reset(wait)
			continue
		}
		break
	}

	c.deliverMu.Lock()
	defer c.deliverMu.Unlock()

	c.mu.Lock()
	if c.flush != t || c.closed {
		c.mu.Unlock()
		return
	}
	chunks := c.buffer
	c.buffer = nil
	c.flush = nil
	c.mu.Unlock()

	if len(chunks) == 0 {
		return
	}
	pollLog.Debug("burst_flushed", "chat_id", c.ChatID, "chunks", len(chunks))
	b.deliverChunk(ctx, c, strings.Join(chunks, "\n"))
}

func (b *Bridge) flushWait(c *Connection) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := c.lastChunk.Add(b.cfg.FlushDelay)
	if limit := c.firstBuffered.Add(b.cfg.MinBurstInterval); deadline.After(limit) {
		deadline = limit
	}
	return time.Until(deadline)
}

// deliverChunk sends stream text as new messages and restarts the burst
// timer. Failures are logged, not retried. Caller holds c.deliverMu.
func (b *Bridge) deliverChunk(ctx context.Context, c *Connection, text string) {
	payloads := termfmt.Chunks(text, b.fmtOpts)

	c.mu.Lock()
	c.lastDelivery = time.Now()
	c.mu.Unlock()

	for _, p := range payloads {
		id, err := b.gw.Deliver(ctx, c.ChatID, p, 0)
		if err != nil {
			bridgeLog.Error("stream_delivery_failed", "chat_id", c.ChatID, "error", err)
			return
		}
		c.mu.Lock()
		c.windowMsgID = id
		c.mu.Unlock()
	}
}
