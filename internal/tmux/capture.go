package tmux

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CaptureSnapshot returns the visible content of a pane with wrapped lines
// joined. Concurrent captures of the same pane share one subprocess.
func (c *Client) CaptureSnapshot(id string) (string, error) {
	t, err := target(id)
	if err != nil {
		return "", err
	}
	v, err, _ := c.captureSf.Do(t, func() (interface{}, error) {
		out, err := c.output("capture-pane", "-p", "-J", "-t", t)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return "", ErrCaptureTimeout
			}
			return "", fmt.Errorf("capture %s: %w", id, err)
		}
		return string(out), nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Delta returns the output that appeared in the pane since reader's
// previous Delta call. Each reader keeps its own baseline, so several
// consumers of one pane all see every new line. A reader's first call (or
// the first after ClearHistory) returns the whole snapshot.
func (c *Client) Delta(reader, id string) (string, error) {
	cur, err := c.CaptureSnapshot(id)
	if err != nil {
		return "", err
	}
	cur = trimTrailingBlankLines(cur)

	c.seenMu.Lock()
	prev, seen := c.lastSeen[reader]
	c.lastSeen[reader] = baseline{pane: id, text: cur}
	c.seenMu.Unlock()

	// A reader moved to another pane starts over.
	if !seen || prev.pane != id {
		return cur, nil
	}
	return NewContent(prev.text, cur), nil
}

// ClearHistory forgets reader's baseline.
func (c *Client) ClearHistory(reader string) {
	c.seenMu.Lock()
	delete(c.lastSeen, reader)
	c.seenMu.Unlock()
}

func trimTrailingBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}
