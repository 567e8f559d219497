package tmux

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const sendChunkSize = 4096

// SendKeys types text into the pane literally. With commit set, Enter is
// pressed afterwards. Empty text with commit presses Enter alone.
func (c *Client) SendKeys(id, text string, commit bool) error {
	t, err := target(id)
	if err != nil {
		return err
	}
	if text != "" {
		if err := c.sendLiteral(t, text); err != nil {
			return err
		}
		if commit {
			// tmux 3.2+ wraps literal input in bracketed paste; an Enter in the
			// same read gets swallowed by TUI apps.
			time.Sleep(c.enterDelay)
		}
	}
	if !commit {
		return nil
	}
	return c.run("send-keys", "-t", t, "Enter")
}

// SendKey sends one named tmux key such as "Up", "C-c" or "BTab".
func (c *Client) SendKey(id, key string) error {
	t, err := target(id)
	if err != nil {
		return err
	}
	return c.run("send-keys", "-t", t, key)
}

func (c *Client) sendLiteral(t, text string) error {
	chunks := splitIntoChunks(text, sendChunkSize)
	for i, chunk := range chunks {
		if err := c.run("send-keys", "-l", "-t", t, "--", chunk); err != nil {
			return fmt.Errorf("send chunk %d/%d: %w", i+1, len(chunks), err)
		}
		if i < len(chunks)-1 {
			time.Sleep(c.chunkDelay)
		}
	}
	return nil
}

// SetTerminalWidth runs stty inside the pane so the foreground program
// receives SIGWINCH with the new column count.
func (c *Client) SetTerminalWidth(id string, width int) error {
	return c.SendKeys(id, "stty columns "+strconv.Itoa(width), true)
}

// ResetTerminalWidth re-syncs stty with the real pane size.
func (c *Client) ResetTerminalWidth(id string) error {
	return c.SendKeys(id, "eval $(resize)", true)
}

// splitIntoChunks splits content into chunks of at most maxSize bytes,
// preferring newline boundaries and never splitting a UTF-8 sequence.
func splitIntoChunks(content string, maxSize int) []string {
	if content == "" {
		return nil
	}
	if len(content) <= maxSize {
		return []string{content}
	}

	var chunks []string
	remaining := content
	for len(remaining) > 0 {
		if len(remaining) <= maxSize {
			chunks = append(chunks, remaining)
			break
		}
		cut := strings.LastIndex(remaining[:maxSize], "\n") + 1
		if cut <= 0 {
			cut = maxSize
			for cut > 0 && !isRuneStart(remaining[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxSize
			}
		}
		chunks = append(chunks, remaining[:cut])
		remaining = remaining[cut:]
	}
	return chunks
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
