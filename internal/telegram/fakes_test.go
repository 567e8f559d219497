package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/asheshgoplani/termbot/internal/bridge"
	"github.com/asheshgoplani/termbot/internal/tmux"
)

type fakeAPI struct {
	mu       sync.Mutex
	nextID   int
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErrs []error
	getErrs  []error
	offsets  []int
	updates  chan []tgbotapi.Update
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{nextID: 100, updates: make(chan []tgbotapi.Update, 8)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	f.sent = append(f.sent, c)
	f.nextID++
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error) {
	f.mu.Lock()
	f.offsets = append(f.offsets, cfg.Offset)
	if len(f.getErrs) > 0 {
		err := f.getErrs[0]
		f.getErrs = f.getErrs[1:]
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()

	select {
	case u := <-f.updates:
		return u, nil
	case <-time.After(20 * time.Millisecond):
		return nil, nil
	}
}

func (f *fakeAPI) failNextSend(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendErrs = append(f.sendErrs, errs...)
}

func (f *fakeAPI) messages() []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeAPI) edits() []tgbotapi.EditMessageTextConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.EditMessageTextConfig
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.EditMessageTextConfig); ok {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeAPI) lastText(t *testing.T) string {
	t.Helper()
	msgs := f.messages()
	if len(msgs) == 0 {
		t.Fatal("no message sent")
	}
	return msgs[len(msgs)-1].Text
}

func (f *fakeAPI) requested() []tgbotapi.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.Chattable(nil), f.requests...)
}

func (f *fakeAPI) seenOffsets() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.offsets...)
}

type fakeBridge struct {
	mu        sync.Mutex
	existing  map[string]bool
	bound     map[int64]string
	auto      map[int64]bool
	input     []string
	keys      []string
	panels    int
	refreshes int
	resets    int
	sessions  int
}

func newFakeBridge(panes ...string) *fakeBridge {
	fb := &fakeBridge{
		existing: make(map[string]bool),
		bound:    make(map[int64]string),
		auto:     make(map[int64]bool),
	}
	for _, p := range panes {
		fb.existing[p] = true
	}
	return fb
}

func (f *fakeBridge) Connect(chatID int64, pane string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.existing[pane] {
		return bridge.ErrPaneNotFound
	}
	f.bound[chatID] = pane
	f.auto[chatID] = true
	return nil
}

func (f *fakeBridge) Disconnect(chatID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.bound[chatID]
	delete(f.bound, chatID)
	return ok
}

func (f *fakeBridge) IsConnected(chatID int64) bool {
	_, ok := f.BoundPane(chatID)
	return ok
}

func (f *fakeBridge) BoundPane(chatID int64) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.bound[chatID]
	return p, ok
}

func (f *fakeBridge) AutoEnter(chatID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.auto[chatID]
}

func (f *fakeBridge) ToggleAutoEnter(chatID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.bound[chatID]; !ok {
		return false, bridge.ErrNotConnected
	}
	f.auto[chatID] = !f.auto[chatID]
	return f.auto[chatID], nil
}

func (f *fakeBridge) ResetFingerprint(chatID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
}

func (f *fakeBridge) SendInput(chatID int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.bound[chatID]; !ok {
		return bridge.ErrNotConnected
	}
	f.input = append(f.input, text)
	return nil
}

func (f *fakeBridge) SendKey(chatID int64, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.bound[chatID]; !ok {
		return bridge.ErrNotConnected
	}
	f.keys = append(f.keys, keys...)
	return nil
}

func (f *fakeBridge) ShowPanel(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panels++
	return nil
}

func (f *fakeBridge) Refresh(ctx context.Context, chatID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return nil
}

func (f *fakeBridge) CreateSession(name string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == "" {
		f.sessions++
		name = "tb" + string(rune('0'+f.sessions))
	}
	if f.existing[name+":0.0"] {
		return "", "", errors.New("duplicate session: " + name)
	}
	f.existing[name+":0.0"] = true
	return name, name + ":0.0", nil
}

func (f *fakeBridge) Mode() bridge.Mode { return bridge.ModeWindow }

func (f *fakeBridge) snapshot() (input, keys []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.input...), append([]string(nil), f.keys...)
}

type fakePanes struct {
	mu     sync.Mutex
	list   []tmux.PaneInfo
	killed []string
	widths []int
	resets int
}

func (f *fakePanes) ListPanes() ([]tmux.PaneInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tmux.PaneInfo(nil), f.list...), nil
}

func (f *fakePanes) KillSession(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, name)
	return nil
}

func (f *fakePanes) SetTerminalWidth(pane string, width int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.widths = append(f.widths, width)
	return nil
}

func (f *fakePanes) ResetTerminalWidth(pane string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

const (
	owner    int64 = 42
	stranger int64 = 99
)

type harness struct {
	api    *fakeAPI
	gw     *Gateway
	bridge *fakeBridge
	panes  *fakePanes
	bot    *Bot
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	api := newFakeAPI()
	gw := NewGateway(api, WithRateLimit(rate.Inf, 1))
	fb := newFakeBridge("work:0.0", "build:1.0")
	fp := &fakePanes{list: []tmux.PaneInfo{
		{Session: "work", WindowIndex: 0, WindowName: "editor", PaneIndex: 0, PaneID: "%1"},
		{Session: "build", WindowIndex: 1, WindowName: "server", PaneIndex: 0, PaneID: "%7"},
	}}
	gw.SetAutoEnter(fb.AutoEnter)
	bot := NewBot(api, gw, fb, fp, NewAuthorizer([]int64{owner}))
	return &harness{api: api, gw: gw, bridge: fb, panes: fp, bot: bot}
}

// message builds an incoming message; a leading "/" marks it as a command.
func message(from, chatID int64, text string) *tgbotapi.Message {
	m := &tgbotapi.Message{
		MessageID: 1,
		From:      &tgbotapi.User{ID: from},
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
	}
	if len(text) > 0 && text[0] == '/' {
		n := len(text)
		for i, r := range text {
			if r == ' ' {
				n = i
				break
			}
		}
		m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: n}}
	}
	return m
}

func callback(from, chatID int64, msgID int, data string) *tgbotapi.CallbackQuery {
	return &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: from},
		Message: &tgbotapi.Message{MessageID: msgID, Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}
}
