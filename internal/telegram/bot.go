package telegram

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/asheshgoplani/termbot/internal/bridge"
	"github.com/asheshgoplani/termbot/internal/health"
	"github.com/asheshgoplani/termbot/internal/retry"
	"github.com/asheshgoplani/termbot/internal/tmux"
)

// DefaultPollTimeout is the long-poll timeout for getUpdates, in seconds.
const DefaultPollTimeout = 30

var errKicked = errors.New("update poll interrupted")

// Bridge is the part of *bridge.Bridge the handlers drive.
type Bridge interface {
	Connect(chatID int64, pane string) error
	Disconnect(chatID int64) bool
	IsConnected(chatID int64) bool
	BoundPane(chatID int64) (string, bool)
	AutoEnter(chatID int64) bool
	ToggleAutoEnter(chatID int64) (bool, error)
	ResetFingerprint(chatID int64)
	SendInput(chatID int64, text string) error
	SendKey(chatID int64, keys ...string) error
	ShowPanel(ctx context.Context, chatID int64) error
	Refresh(ctx context.Context, chatID int64) error
	CreateSession(name string) (session, pane string, err error)
	Mode() bridge.Mode
}

var _ Bridge = (*bridge.Bridge)(nil)

// Panes is the part of the tmux client used directly by commands.
type Panes interface {
	ListPanes() ([]tmux.PaneInfo, error)
	KillSession(name string) error
	SetTerminalWidth(pane string, width int) error
	ResetTerminalWidth(pane string) error
}

var _ Panes = (*tmux.Client)(nil)

// commands is the menu registered with Telegram.
var commands = []tgbotapi.BotCommand{
	{Command: "start", Description: "Start the bot"},
	{Command: "help", Description: "Show help"},
	{Command: "list", Description: "List tmux panes"},
	{Command: "connect", Description: "Connect to a pane"},
	{Command: "disconnect", Description: "Disconnect from pane"},
	{Command: "keys", Description: "Show control keys panel"},
	{Command: "refresh", Description: "Re-send the terminal view"},
	{Command: "new", Description: "Start a new tmux session"},
	{Command: "kill", Description: "Kill a tmux session"},
	{Command: "width", Description: "Set terminal width"},
	{Command: "status", Description: "Show bot status"},
}

// Bot receives updates and dispatches them to handlers.
type Bot struct {
	api     API
	gw      *Gateway
	bridge  Bridge
	panes   Panes
	auth    *Authorizer
	health  *health.Monitor
	policy  retry.Policy
	timeout int

	offset int
	kick   chan struct{}
}

// BotOption configures a Bot.
type BotOption func(*Bot)

// WithHealth records polls in m and reports its state in /status.
func WithHealth(m *health.Monitor) BotOption {
	return func(b *Bot) { b.health = m }
}

// WithRetryPolicy sets the backoff used after failed polls.
func WithRetryPolicy(p retry.Policy) BotOption {
	return func(b *Bot) { b.policy = p }
}

// WithPollTimeout sets the long-poll timeout in seconds.
func WithPollTimeout(secs int) BotOption {
	return func(b *Bot) { b.timeout = secs }
}

func NewBot(api API, gw *Gateway, br Bridge, panes Panes, auth *Authorizer, opts ...BotOption) *Bot {
	b := &Bot{
		api:     api,
		gw:      gw,
		bridge:  br,
		panes:   panes,
		auth:    auth,
		policy:  retry.Default(),
		timeout: DefaultPollTimeout,
		kick:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Run polls for updates until ctx is done. Poll failures back off
// exponentially and never end the loop.
func (b *Bot) Run(ctx context.Context) error {
	b.setState(health.StateConnecting)
	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		tgLog.Warn("set_commands_failed", "error", err)
	}
	tgLog.Info("update_loop_started", "timeout", b.timeout)

	failures := 0
	for {
		updates, err := b.fetch(ctx)
		if ctx.Err() != nil {
			b.setState(health.StateDisconnected)
			tgLog.Info("update_loop_stopped")
			return nil
		}
		if errors.Is(err, errKicked) {
			tgLog.Info("update_poll_restarted")
			continue
		}
		if err != nil {
			delay := b.policy.Delay(failures)
			failures++
			if failures > b.policy.MaxRetries {
				tgLog.Error("update_poll_failing", "failures", failures, "retry_in", delay.String(), "error", err)
			} else {
				tgLog.Warn("update_poll_failed", "failures", failures, "retry_in", delay.String(), "transient", retry.IsTransient(err), "error", err)
			}
			b.setState(health.StateConnecting)
			if retry.Sleep(ctx, delay) != nil {
				b.setState(health.StateDisconnected)
				return nil
			}
			continue
		}

		if failures > 0 {
			tgLog.Info("update_poll_recovered", "after_failures", failures)
		}
		failures = 0
		if b.health != nil {
			b.health.RecordPoll()
		}
		b.setState(health.StateConnected)

		for _, u := range updates {
			if u.UpdateID >= b.offset {
				b.offset = u.UpdateID + 1
			}
			b.dispatch(ctx, u)
		}
	}
}

// Reconnect abandons the in-flight long poll and starts a new one. It is
// the health monitor's recovery hook.
func (b *Bot) Reconnect(ctx context.Context) error {
	select {
	case b.kick <- struct{}{}:
	default:
	}
	return nil
}

func (b *Bot) fetch(ctx context.Context) ([]tgbotapi.Update, error) {
	cfg := tgbotapi.NewUpdate(b.offset)
	cfg.Timeout = b.timeout

	type result struct {
		updates []tgbotapi.Update
		err     error
	}
	ch := make(chan result, 1)
	go func() {
		u, err := b.api.GetUpdates(cfg)
		ch <- result{u, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-b.kick:
		return nil, errKicked
	case r := <-ch:
		return r.updates, r.err
	}
}

func (b *Bot) setState(s health.State) {
	if b.health != nil {
		b.health.SetState(s)
	}
}

// dispatch handles one update. A panicking handler is logged and the
// update dropped.
func (b *Bot) dispatch(ctx context.Context, u tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			tgLog.Error("update_handler_panic",
				"update_id", u.UpdateID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()

	switch {
	case u.Message != nil:
		b.handleMessage(ctx, u.Message)
	case u.CallbackQuery != nil:
		b.handleCallback(ctx, u.CallbackQuery)
	}
}
