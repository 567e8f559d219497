package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeTerminal struct {
	mu       sync.Mutex
	panes    map[string]string
	deltas   map[string][]string
	offsets  map[string]int
	cleared  []string
	input    []string
	commits  []bool
	keys     []string
	panicOn  string
	captures int
}

func newFakeTerminal(panes ...string) *fakeTerminal {
	ft := &fakeTerminal{
		panes:   make(map[string]string),
		deltas:  make(map[string][]string),
		offsets: make(map[string]int),
	}
	for _, p := range panes {
		ft.panes[p] = ""
	}
	return ft
}

func (f *fakeTerminal) set(pane, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panes[pane] = content
}

func (f *fakeTerminal) kill(pane string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.panes, pane)
}

func (f *fakeTerminal) queueDelta(pane string, d ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deltas[pane] = append(f.deltas[pane], d...)
}

func (f *fakeTerminal) PaneExists(pane string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.panes[pane]
	return ok
}

func (f *fakeTerminal) CaptureSnapshot(pane string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pane == f.panicOn {
		panic("capture exploded")
	}
	content, ok := f.panes[pane]
	if !ok {
		return "", errors.New("no such pane")
	}
	f.captures++
	return content, nil
}

// Delta hands each reader the pane's queued deltas independently, the way
// the tmux client keeps one baseline per reader.
func (f *fakeTerminal) Delta(reader, pane string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.panes[pane]; !ok {
		return "", errors.New("no such pane")
	}
	q := f.deltas[pane]
	i := f.offsets[reader]
	if i >= len(q) {
		return "", nil
	}
	f.offsets[reader] = i + 1
	return q[i], nil
}

func (f *fakeTerminal) SendKeys(pane, text string, commit bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.input = append(f.input, text)
	f.commits = append(f.commits, commit)
	return nil
}

func (f *fakeTerminal) SendKey(pane, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return nil
}

func (f *fakeTerminal) ClearHistory(reader string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.offsets, reader)
	f.cleared = append(f.cleared, reader)
}

func (f *fakeTerminal) readers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.offsets)
}

type gwCall struct {
	kind   string // send, send_failed, edit, edit_failed, delete, panel, notify
	chatID int64
	text   string
	msgID  int
	at     time.Time
}

type fakeGateway struct {
	mu        sync.Mutex
	nextID    int
	calls     []gwCall
	failEdits bool
	failSends bool
	editMoves bool

	// When gate is set, Deliver announces itself on entered and waits for
	// release before doing anything.
	entered chan struct{}
	gate    chan struct{}
}

func (g *fakeGateway) record(c gwCall) {
	c.at = time.Now()
	g.calls = append(g.calls, c)
}

func (g *fakeGateway) Deliver(ctx context.Context, chatID int64, text string, editID int) (int, error) {
	g.mu.Lock()
	entered, gate := g.entered, g.gate
	g.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if editID != 0 {
		if g.failEdits {
			g.record(gwCall{kind: "edit_failed", chatID: chatID, text: text, msgID: editID})
			return 0, errors.New("Bad Request: message to edit not found")
		}
		if !g.editMoves {
			g.record(gwCall{kind: "edit", chatID: chatID, text: text, msgID: editID})
			return editID, nil
		}
	}
	if g.failSends {
		g.record(gwCall{kind: "send_failed", chatID: chatID, text: text})
		return 0, errors.New("Too Many Requests: retry after 5")
	}
	g.nextID++
	g.record(gwCall{kind: "send", chatID: chatID, text: text, msgID: g.nextID})
	return g.nextID, nil
}

// hold makes every Deliver block until the returned release is called.
func (g *fakeGateway) hold() (entered <-chan struct{}, release func()) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.entered = make(chan struct{}, 8)
	g.gate = make(chan struct{})
	gate := g.gate
	var once sync.Once
	return g.entered, func() { once.Do(func() { close(gate) }) }
}

func (g *fakeGateway) setFailSends(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failSends = v
}

func (g *fakeGateway) Delete(ctx context.Context, chatID int64, msgID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record(gwCall{kind: "delete", chatID: chatID, msgID: msgID})
	return nil
}

func (g *fakeGateway) SendPanel(ctx context.Context, chatID int64) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextID++
	g.record(gwCall{kind: "panel", chatID: chatID, msgID: g.nextID})
	return g.nextID, nil
}

func (g *fakeGateway) NotifyDisconnect(ctx context.Context, chatID int64, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.record(gwCall{kind: "notify", chatID: chatID, text: reason})
	return nil
}

func (g *fakeGateway) setFailEdits(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failEdits = v
}

func (g *fakeGateway) setEditMoves(v bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.editMoves = v
}

func (g *fakeGateway) all() []gwCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gwCall(nil), g.calls...)
}

func (g *fakeGateway) since(n int) []gwCall {
	return g.all()[n:]
}

func (g *fakeGateway) kinds(calls []gwCall) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.kind
	}
	return out
}

func (g *fakeGateway) count(kind string) int {
	n := 0
	for _, c := range g.all() {
		if c.kind == kind {
			n++
		}
	}
	return n
}

type fakeStore struct {
	mu      sync.Mutex
	saved   map[int64]ConnectionInfo
	deleted []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[int64]ConnectionInfo)}
}

func (s *fakeStore) SaveConnection(info ConnectionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[info.ChatID] = info
	return nil
}

func (s *fakeStore) DeleteConnection(chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, chatID)
	s.deleted = append(s.deleted, chatID)
	return nil
}

func (s *fakeStore) get(chatID int64) (ConnectionInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.saved[chatID]
	return info, ok
}

type fakeSessions struct {
	mu       sync.Mutex
	existing map[string]bool
}

func (s *fakeSessions) CreateSession(name, workDir string) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.existing[name] = true
	return name, name + ":0.0", nil
}

func (s *fakeSessions) SessionExists(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existing[name]
}

// attach installs a connection without starting the poll loop so tests can
// drive process/offer by hand.
func attach(t *testing.T, b *Bridge, chatID int64, pane string) *Connection {
	t.Helper()
	c := &Connection{ChatID: chatID, Pane: pane, ConnectedAt: time.Now(), autoEnter: true}
	c.reader = b.newReader(chatID)
	b.mu.Lock()
	b.conns[chatID] = c
	b.mu.Unlock()
	return c
}
