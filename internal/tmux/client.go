// Package tmux drives the tmux binary: pane discovery, content capture,
// per-pane deltas and keystroke injection.
package tmux

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/asheshgoplani/termbot/internal/logging"
)

var tmuxLog = logging.ForComponent(logging.CompTmux)

// ErrCaptureTimeout is returned when capture-pane exceeds its timeout.
var ErrCaptureTimeout = errors.New("capture-pane timed out")

// ErrInvalidPane is returned for identifiers not shaped session:window.pane.
var ErrInvalidPane = errors.New("invalid pane identifier")

// DefaultTimeout bounds every tmux subprocess.
const DefaultTimeout = 3 * time.Second

// Client talks to the tmux server of the current user (or the one named by
// $TMUX when termbot itself runs inside tmux).
type Client struct {
	timeout time.Duration

	captureSf singleflight.Group

	seenMu   sync.Mutex
	lastSeen map[string]baseline

	// enterDelay separates literal text from the committing Enter.
	enterDelay time.Duration
	chunkDelay time.Duration
}

// baseline is the last snapshot a Delta reader was given.
type baseline struct {
	pane string
	text string
}

// NewClient returns a Client with default timeouts.
func NewClient() *Client {
	return &Client{
		timeout:    DefaultTimeout,
		lastSeen:   make(map[string]baseline),
		enterDelay: 100 * time.Millisecond,
		chunkDelay: 50 * time.Millisecond,
	}
}

// IsAvailable checks that the tmux binary can be executed.
func IsAvailable() error {
	out, err := exec.Command("tmux", "-V").CombinedOutput()
	if err != nil {
		return fmt.Errorf("tmux not available: %w", err)
	}
	tmuxLog.Debug("tmux_version", "version", strings.TrimSpace(string(out)))
	return nil
}

func tmuxCommand(ctx context.Context, args ...string) *exec.Cmd {
	socketPath, hasSocket := tmuxSocketFromEnv()

	finalArgs := args
	if hasSocket {
		finalArgs = append([]string{"-S", socketPath}, args...)
	}

	cmd := exec.CommandContext(ctx, "tmux", finalArgs...)
	if hasSocket {
		cmd.Env = environWithoutTMUX(os.Environ())
	}
	return cmd
}

func tmuxSocketFromEnv() (string, bool) {
	raw := strings.TrimSpace(os.Getenv("TMUX"))
	if raw == "" {
		return "", false
	}
	socketPart, _, _ := strings.Cut(raw, ",")
	socketPart = strings.TrimSpace(socketPart)
	if socketPart == "" {
		return "", false
	}
	return socketPart, true
}

func environWithoutTMUX(env []string) []string {
	filtered := make([]string, 0, len(env))
	for _, kv := range env {
		if strings.HasPrefix(kv, "TMUX=") {
			continue
		}
		filtered = append(filtered, kv)
	}
	return filtered
}

// output runs tmux with the client timeout and returns stdout.
func (c *Client) output(args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	cmd := tmuxCommand(ctx, args...)
	var stderr strings.Builder
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, fmt.Errorf("tmux %s: %w", args[0], context.DeadlineExceeded)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("tmux %s: %s: %w", args[0], msg, err)
		}
		return nil, fmt.Errorf("tmux %s: %w", args[0], err)
	}
	return out, nil
}

func (c *Client) run(args ...string) error {
	_, err := c.output(args...)
	return err
}

// isNoServer reports whether err means no tmux server is running.
func isNoServer(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "no server running") ||
		strings.Contains(msg, "error connecting to") ||
		strings.Contains(msg, "No such file or directory")
}
