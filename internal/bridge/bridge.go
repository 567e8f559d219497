// Package bridge binds chats to tmux panes. A poll loop watches every bound
// pane and keeps each chat's terminal window message (and the control panel
// below it) in step with the pane's content.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/asheshgoplani/termbot/internal/logging"
	"github.com/asheshgoplani/termbot/internal/termfmt"
)

var (
	bridgeLog = logging.ForComponent(logging.CompBridge)
	pollLog   = logging.ForComponent(logging.CompPoll)
)

var (
	// ErrPaneNotFound is returned by Connect when the pane does not exist.
	ErrPaneNotFound = errors.New("pane not found")

	// ErrNotConnected is returned for chats without a bound pane.
	ErrNotConnected = errors.New("chat not connected")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bridge closed")
)

// ReasonPaneGone is the disconnect reason sent when a bound pane vanishes.
const ReasonPaneGone = "Pane closed or no longer exists"

// Mode selects the change detection strategy.
type Mode string

const (
	// ModeWindow re-renders the last lines of the pane into one message that
	// is edited in place. Resend-heavy, never loses output.
	ModeWindow Mode = "window"

	// ModeStream sends only newly appeared lines, coalescing bursts.
	// Can drop lines under fast scrolling and repeat lines on misalignment.
	ModeStream Mode = "stream"
)

// ParseMode validates a mode name. Empty means ModeWindow.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeWindow:
		return ModeWindow, nil
	case ModeStream:
		return ModeStream, nil
	}
	return "", fmt.Errorf("unknown mode %q (want %q or %q)", s, ModeWindow, ModeStream)
}

// Terminal is the part of the tmux adapter the bridge needs.
type Terminal interface {
	PaneExists(pane string) bool
	CaptureSnapshot(pane string) (string, error)
	// Delta returns what appeared in pane since reader's previous call.
	Delta(reader, pane string) (string, error)
	SendKeys(pane, text string, commit bool) error
	SendKey(pane, key string) error
	// ClearHistory drops reader's baseline.
	ClearHistory(reader string)
}

// Gateway delivers to the chat. Deliver with editID 0 sends a new message;
// otherwise it edits editID and fails if the edit is impossible. It returns
// the id of the message now showing text.
type Gateway interface {
	Deliver(ctx context.Context, chatID int64, text string, editID int) (int, error)
	Delete(ctx context.Context, chatID int64, msgID int) error
	SendPanel(ctx context.Context, chatID int64) (int, error)
	NotifyDisconnect(ctx context.Context, chatID int64, reason string) error
}

// Store persists connections across restarts.
type Store interface {
	SaveConnection(info ConnectionInfo) error
	DeleteConnection(chatID int64) error
}

// SessionCreator creates tmux sessions for the /new command.
type SessionCreator interface {
	CreateSession(name, workDir string) (session, pane string, err error)
	SessionExists(name string) bool
}

// Config tunes polling, formatting and burst coalescing.
type Config struct {
	Mode             Mode
	PollInterval     time.Duration
	MaxLines         int
	MaxLineWidth     int
	MinBurstInterval time.Duration
	FlushDelay       time.Duration
	DefaultWorkDir   string
}

func (c Config) withDefaults() Config {
	if c.Mode == "" {
		c.Mode = ModeWindow
	}
	if c.PollInterval <= 0 {
		c.PollInterval = time.Second
	}
	if c.MaxLines <= 0 {
		c.MaxLines = termfmt.DefaultMaxLines
	}
	if c.MinBurstInterval <= 0 {
		c.MinBurstInterval = 2 * time.Second
	}
	if c.FlushDelay <= 0 {
		c.FlushDelay = 500 * time.Millisecond
	}
	return c
}

// Option configures optional collaborators.
type Option func(*Bridge)

// WithStore persists connections to s.
func WithStore(s Store) Option {
	return func(b *Bridge) { b.store = s }
}

// WithSessions enables CreateSession.
func WithSessions(sc SessionCreator) Option {
	return func(b *Bridge) { b.sessions = sc }
}

// Bridge owns the connection registry and the poll loop.
type Bridge struct {
	cfg      Config
	term     Terminal
	gw       Gateway
	store    Store
	sessions SessionCreator
	detector Detector
	fmtOpts  termfmt.Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	conns   map[int64]*Connection
	polling bool
	closed  bool

	nameMu         sync.Mutex
	sessionCounter int

	readerSeq atomic.Uint64
}

// New builds a Bridge. Nothing runs until the first Connect.
func New(term Terminal, gw Gateway, cfg Config, opts ...Option) *Bridge {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		cfg:    cfg,
		term:   term,
		gw:     gw,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[int64]*Connection),
		fmtOpts: termfmt.Options{
			MaxLines:     cfg.MaxLines,
			MaxLineWidth: cfg.MaxLineWidth,
		},
	}
	for _, opt := range opts {
		opt(b)
	}
	b.detector = newDetector(cfg.Mode, term, b.fmtOpts)
	return b
}

// Mode reports the configured detection strategy.
func (b *Bridge) Mode() Mode { return b.cfg.Mode }

// Close stops polling, cancels pending flushes and drops every connection.
// Connections stay in the store so they can be restored on the next start.
func (b *Bridge) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	conns := make([]*Connection, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.conns = make(map[int64]*Connection)
	b.mu.Unlock()

	b.cancel()
	for _, c := range conns {
		b.teardown(c)
	}
	b.wg.Wait()
	bridgeLog.Info("bridge_closed", "connections", len(conns))
}

// ConnectionInfo is a read-only view of one connection.
type ConnectionInfo struct {
	ChatID      int64     `json:"chat_id"`
	Pane        string    `json:"pane"`
	AutoEnter   bool      `json:"auto_enter"`
	WindowMsgID int       `json:"window_msg_id"`
	PanelMsgID  int       `json:"panel_msg_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Snapshot lists every connection ordered by chat id.
func (b *Bridge) Snapshot() []ConnectionInfo {
	b.mu.Lock()
	conns := make([]*Connection, 0, len(b.conns))
	for _, c := range b.conns {
		conns = append(conns, c)
	}
	b.mu.Unlock()

	out := make([]ConnectionInfo, 0, len(conns))
	for _, c := range conns {
		out = append(out, c.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChatID < out[j].ChatID })
	return out
}

// CreateSession starts a new tmux session. An empty name picks the next
// free tbN name.
func (b *Bridge) CreateSession(name string) (session, pane string, err error) {
	if b.sessions == nil {
		return "", "", errors.New("session management not available")
	}
	if name == "" {
		name = b.nextSessionName()
	}
	return b.sessions.CreateSession(name, b.cfg.DefaultWorkDir)
}

func (b *Bridge) nextSessionName() string {
	b.nameMu.Lock()
	defer b.nameMu.Unlock()
	for {
		b.sessionCounter++
		name := fmt.Sprintf("tb%d", b.sessionCounter)
		if !b.sessions.SessionExists(name) {
			return name
		}
	}
}

func (b *Bridge) newReader(chatID int64) string {
	return fmt.Sprintf("chat%d#%d", chatID, b.readerSeq.Add(1))
}

// persist saves c unless it was torn down. The save happens under c.mu so
// it cannot interleave with teardown followed by forget.
func (b *Bridge) persist(c *Connection) {
	if b.store == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		bridgeLog.Debug("connection_save_skipped", "chat_id", c.ChatID)
		return
	}
	info := c.infoLocked()
	if err := b.store.SaveConnection(info); err != nil {
		bridgeLog.Warn("connection_save_failed", "chat_id", info.ChatID, "error", err)
	}
}

func (b *Bridge) forget(chatID int64) {
	if b.store == nil {
		return
	}
	if err := b.store.DeleteConnection(chatID); err != nil {
		bridgeLog.Warn("connection_delete_failed", "chat_id", chatID, "error", err)
	}
}
