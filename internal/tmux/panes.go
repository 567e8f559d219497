package tmux

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// PaneInfo describes one pane on the tmux server.
type PaneInfo struct {
	Session     string `json:"session"`
	WindowIndex int    `json:"window_index"`
	WindowName  string `json:"window_name"`
	PaneIndex   int    `json:"pane_index"`
	PaneID      string `json:"pane_id"` // tmux's own %N id
}

// Identifier returns the session:window.pane form used everywhere in termbot.
func (p PaneInfo) Identifier() string {
	return fmt.Sprintf("%s:%d.%d", p.Session, p.WindowIndex, p.PaneIndex)
}

func (p PaneInfo) String() string {
	return fmt.Sprintf("%s (%s)", p.Identifier(), p.WindowName)
}

const paneListFormat = "#{session_name}\t#{window_index}\t#{window_name}\t#{pane_index}\t#{pane_id}"

// ListPanes enumerates every pane of every session. A missing server is not
// an error: it simply has no panes.
func (c *Client) ListPanes() ([]PaneInfo, error) {
	out, err := c.output("list-panes", "-a", "-F", paneListFormat)
	if err != nil {
		if isNoServer(err) {
			tmuxLog.Warn("tmux_server_not_running")
			return nil, nil
		}
		return nil, err
	}
	return parsePaneList(string(out)), nil
}

func parsePaneList(out string) []PaneInfo {
	var panes []PaneInfo
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) != 5 {
			continue
		}
		win, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		idx, err := strconv.Atoi(fields[3])
		if err != nil {
			continue
		}
		panes = append(panes, PaneInfo{
			Session:     fields[0],
			WindowIndex: win,
			WindowName:  fields[2],
			PaneIndex:   idx,
			PaneID:      fields[4],
		})
	}
	return panes
}

// ParsePaneID splits a session:window.pane identifier.
func ParsePaneID(id string) (session string, window, pane int, err error) {
	i := strings.LastIndex(id, ":")
	if i <= 0 {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrInvalidPane, id)
	}
	session = id[:i]
	winStr, paneStr, ok := strings.Cut(id[i+1:], ".")
	if !ok {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrInvalidPane, id)
	}
	window, err = strconv.Atoi(winStr)
	if err != nil || window < 0 {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrInvalidPane, id)
	}
	pane, err = strconv.Atoi(paneStr)
	if err != nil || pane < 0 {
		return "", 0, 0, fmt.Errorf("%w: %q", ErrInvalidPane, id)
	}
	return session, window, pane, nil
}

// target converts an identifier into an exact-match tmux target so that a
// pane in session "tb1" is never resolved by prefix from "tb".
func target(id string) (string, error) {
	session, window, pane, err := ParsePaneID(id)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("=%s:%d.%d", session, window, pane), nil
}

// PaneExists reports whether the pane is still present. Any failure to ask
// tmux counts as "gone".
func (c *Client) PaneExists(id string) bool {
	t, err := target(id)
	if err != nil {
		return false
	}
	out, err := c.output("display-message", "-p", "-t", t, "#{pane_id}")
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) != ""
}

// SessionExists reports whether a session with exactly this name exists.
func (c *Client) SessionExists(name string) bool {
	err := c.run("has-session", "-t", "="+name)
	if err == nil {
		return true
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false
	}
	tmuxLog.Debug("has_session_failed", "session", name, "error", err)
	return false
}

// CreateSession starts a detached session and returns its name and the
// identifier of its first pane. An empty name lets tmux choose one.
func (c *Client) CreateSession(name, workDir string) (session, pane string, err error) {
	args := []string{"new-session", "-d", "-P", "-F", "#{session_name}:#{window_index}.#{pane_index}"}
	if name != "" {
		args = append(args, "-s", name)
	}
	if workDir != "" {
		args = append(args, "-c", workDir)
	}
	out, err := c.output(args...)
	if err != nil {
		return "", "", fmt.Errorf("create session %q: %w", name, err)
	}
	pane = strings.TrimSpace(string(out))
	session, _, _, err = ParsePaneID(pane)
	if err != nil {
		return "", "", fmt.Errorf("create session %q: unexpected output: %w", name, err)
	}
	tmuxLog.Info("session_created", "session", session, "pane", pane, "work_dir", workDir)
	return session, pane, nil
}

// KillSession kills the named session.
func (c *Client) KillSession(name string) error {
	if err := c.run("kill-session", "-t", "="+name); err != nil {
		return fmt.Errorf("kill session %q: %w", name, err)
	}
	tmuxLog.Info("session_killed", "session", name)
	return nil
}

// ResizePane sets the pane width in columns.
func (c *Client) ResizePane(id string, width int) error {
	t, err := target(id)
	if err != nil {
		return err
	}
	return c.run("resize-pane", "-t", t, "-x", strconv.Itoa(width))
}
