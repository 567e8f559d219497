package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/asheshgoplani/termbot/internal/bridge"
	"github.com/asheshgoplani/termbot/internal/retry"
)

// Per-chat send budget. Telegram allows roughly one message per second in
// a single chat with short bursts.
const (
	DefaultChatRate  = rate.Limit(1)
	DefaultChatBurst = 3
)

// Gateway talks to Telegram on behalf of the bridge. All terminal output
// goes out as MarkdownV2.
type Gateway struct {
	api    API
	rate   rate.Limit
	burst  int
	onSent func()

	limMu    sync.Mutex
	limiters map[int64]*rate.Limiter

	modeMu    sync.RWMutex
	autoEnter func(chatID int64) bool
}

var _ bridge.Gateway = (*Gateway)(nil)

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithRateLimit overrides the per-chat limit.
func WithRateLimit(r rate.Limit, burst int) GatewayOption {
	return func(g *Gateway) {
		g.rate = r
		g.burst = burst
	}
}

// WithSentHook registers fn to run after every successful API call that
// posts or edits a message.
func WithSentHook(fn func()) GatewayOption {
	return func(g *Gateway) { g.onSent = fn }
}

func NewGateway(api API, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		api:      api,
		rate:     DefaultChatRate,
		burst:    DefaultChatBurst,
		limiters: make(map[int64]*rate.Limiter),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// SetAutoEnter installs the lookup used to label the panel's mode button.
// The bridge is built after the gateway, so this is wired late.
func (g *Gateway) SetAutoEnter(fn func(chatID int64) bool) {
	g.modeMu.Lock()
	defer g.modeMu.Unlock()
	g.autoEnter = fn
}

func (g *Gateway) chatAutoEnter(chatID int64) bool {
	g.modeMu.RLock()
	defer g.modeMu.RUnlock()
	if g.autoEnter == nil {
		return true
	}
	return g.autoEnter(chatID)
}

func (g *Gateway) limiter(chatID int64) *rate.Limiter {
	g.limMu.Lock()
	defer g.limMu.Unlock()
	l, ok := g.limiters[chatID]
	if !ok {
		l = rate.NewLimiter(g.rate, g.burst)
		g.limiters[chatID] = l
	}
	return l
}

// Deliver sends text, or edits editID when it is non-zero. An edit that
// changes nothing counts as success.
func (g *Gateway) Deliver(ctx context.Context, chatID int64, text string, editID int) (int, error) {
	if editID != 0 {
		edit := tgbotapi.NewEditMessageText(chatID, editID, text)
		edit.ParseMode = tgbotapi.ModeMarkdownV2
		if _, err := g.send(ctx, chatID, edit); err != nil {
			if isNotModified(err) {
				return editID, nil
			}
			return 0, fmt.Errorf("edit message %d: %w", editID, err)
		}
		return editID, nil
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	sent, err := g.send(ctx, chatID, msg)
	if err != nil {
		return 0, fmt.Errorf("send message: %w", err)
	}
	return sent.MessageID, nil
}

// Delete removes a message.
func (g *Gateway) Delete(ctx context.Context, chatID int64, msgID int) error {
	if _, err := g.request(ctx, chatID, tgbotapi.NewDeleteMessage(chatID, msgID)); err != nil {
		return fmt.Errorf("delete message %d: %w", msgID, err)
	}
	return nil
}

// SendPanel posts the control panel for chatID.
func (g *Gateway) SendPanel(ctx context.Context, chatID int64) (int, error) {
	msg := tgbotapi.NewMessage(chatID, PanelText)
	msg.ReplyMarkup = KeysKeyboard(g.chatAutoEnter(chatID))
	sent, err := g.send(ctx, chatID, msg)
	if err != nil {
		return 0, fmt.Errorf("send panel: %w", err)
	}
	return sent.MessageID, nil
}

// EditPanel redraws an existing panel, e.g. after the mode toggled.
func (g *Gateway) EditPanel(ctx context.Context, chatID int64, msgID int, autoEnter bool) error {
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, msgID, PanelText, KeysKeyboard(autoEnter))
	if _, err := g.send(ctx, chatID, edit); err != nil && !isNotModified(err) {
		return fmt.Errorf("edit panel %d: %w", msgID, err)
	}
	return nil
}

// NotifyDisconnect tells the chat its pane went away.
func (g *Gateway) NotifyDisconnect(ctx context.Context, chatID int64, reason string) error {
	msg := tgbotapi.NewMessage(chatID, "⚠️ Disconnected: "+reason)
	if _, err := g.send(ctx, chatID, msg); err != nil {
		return fmt.Errorf("notify disconnect: %w", err)
	}
	return nil
}

// Reply sends a MarkdownV2 message with an optional keyboard.
func (g *Gateway) Reply(ctx context.Context, chatID int64, text string, markup *tgbotapi.InlineKeyboardMarkup) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if markup != nil {
		msg.ReplyMarkup = *markup
	}
	sent, err := g.send(ctx, chatID, msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// EditText replaces a message's text (and drops its keyboard).
func (g *Gateway) EditText(ctx context.Context, chatID int64, msgID int, text string) error {
	edit := tgbotapi.NewEditMessageText(chatID, msgID, text)
	edit.ParseMode = tgbotapi.ModeMarkdownV2
	if _, err := g.send(ctx, chatID, edit); err != nil && !isNotModified(err) {
		return err
	}
	return nil
}

// Answer acknowledges a button press so the client stops its spinner.
func (g *Gateway) Answer(ctx context.Context, queryID string) error {
	_, err := g.api.Request(tgbotapi.NewCallback(queryID, ""))
	return err
}

// send waits for the chat's rate budget, then sends c. A flood-control
// response is honoured once by sleeping for the advertised interval.
func (g *Gateway) send(ctx context.Context, chatID int64, c tgbotapi.Chattable) (tgbotapi.Message, error) {
	for attempt := 0; ; attempt++ {
		if err := g.limiter(chatID).Wait(ctx); err != nil {
			return tgbotapi.Message{}, err
		}
		msg, err := g.api.Send(c)
		if err == nil {
			g.sent()
			return msg, nil
		}
		wait, ok := retryAfter(err)
		if !ok || attempt > 0 {
			return msg, err
		}
		tgLog.Warn("telegram_flood_wait", "chat_id", chatID, "retry_after", wait.String())
		if serr := retry.Sleep(ctx, wait); serr != nil {
			return msg, err
		}
	}
}

// request is send for calls whose result is not a Message.
func (g *Gateway) request(ctx context.Context, chatID int64, c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	for attempt := 0; ; attempt++ {
		if err := g.limiter(chatID).Wait(ctx); err != nil {
			return nil, err
		}
		resp, err := g.api.Request(c)
		if err == nil {
			return resp, nil
		}
		wait, ok := retryAfter(err)
		if !ok || attempt > 0 {
			return resp, err
		}
		tgLog.Warn("telegram_flood_wait", "chat_id", chatID, "retry_after", wait.String())
		if serr := retry.Sleep(ctx, wait); serr != nil {
			return resp, err
		}
	}
}

func (g *Gateway) sent() {
	if g.onSent != nil {
		g.onSent()
	}
}

func retryAfter(err error) (time.Duration, bool) {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
		return time.Duration(tgErr.RetryAfter) * time.Second, true
	}
	return 0, false
}

func isNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}
