package bridge

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBridge(t *testing.T, ft *fakeTerminal, gw *fakeGateway, cfg Config, opts ...Option) *Bridge {
	t.Helper()
	b := New(ft, gw, cfg, opts...)
	t.Cleanup(b.Close)
	return b
}

func TestConnectDeliverVanish(t *testing.T) {
	ft := newFakeTerminal("main:0.0")
	ft.set("main:0.0", "$ echo hi\nhi\n$ ")
	gw := &fakeGateway{}
	b := newTestBridge(t, ft, gw, Config{PollInterval: 20 * time.Millisecond})

	require.NoError(t, b.Connect(7, "main:0.0"))
	assert.True(t, b.IsConnected(7))
	pane, ok := b.BoundPane(7)
	require.True(t, ok)
	assert.Equal(t, "main:0.0", pane)

	require.Eventually(t, func() bool { return gw.count("send") == 1 }, 2*time.Second, 10*time.Millisecond)

	// Several more passes over identical content.
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{"send"}, gw.kinds(gw.all()), "identical snapshots must not be re-delivered")
	first := gw.all()[0]
	assert.Equal(t, int64(7), first.chatID)
	assert.Contains(t, first.text, "hi")

	ft.kill("main:0.0")
	require.Eventually(t, func() bool { return gw.count("notify") == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, b.IsConnected(7))

	require.Eventually(t, func() bool { return !b.Polling() }, 2*time.Second, 10*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 1, gw.count("notify"))
	for _, c := range gw.all() {
		if c.kind == "notify" {
			assert.Equal(t, ReasonPaneGone, c.text)
		}
	}
}

func TestIdenticalSnapshotsDeliverOncePerFingerprint(t *testing.T) {
	ft := newFakeTerminal("p:0.0")
	gw := &fakeGateway{}
	b := newTestBridge(t, ft, gw, Config{})
	c := attach(t, b, 1, "p:0.0")
	ctx := context.Background()

	frames := []string{"a", "a", "a", "b", "b", "a", "a"}
	for _, f := range frames {
		ft.set("p:0.0", f)
		require.NoError(t, b.process(ctx, c))
	}

	// a, b, a: three distinct consecutive fingerprints.
	assert.Equal(t, []string{"send", "edit", "edit"}, gw.kinds(gw.all()))
}

func TestConnectMissingPaneLeavesNoState(t *testing.T) {
	ft := newFakeTerminal()
	gw := &fakeGateway{}
	store := newFakeStore()
	b := newTestBridge(t, ft, gw, Config{}, WithStore(store))

	err := b.Connect(3, "ghost:0.0")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPaneNotFound))
	assert.False(t, b.IsConnected(3))
	assert.Empty(t, b.Snapshot())
	assert.False(t, b.Polling())
	_, saved := store.get(3)
	assert.False(t, saved)
}

func TestPanelShowThenUpdateKeepsPanelBelowWindow(t *testing.T) {
	ft := newFakeTerminal("p:0.0")
	gw := &fakeGateway{}
	b := newTestBridge(t, ft, gw, Config{})
	c := attach(t, b, 1, "p:0.0")
	ctx := context.Background()

	ft.set("p:0.0", "v1")
	require.NoError(t, b.process(ctx, c))

	require.NoError(t, b.ShowPanel(ctx, 1))
	info := c.info()
	assert.Equal(t, 0, info.WindowMsgID, "showing the panel invalidates the window")
	panel := info.PanelMsgID
	require.NotZero(t, panel)

	n := len(gw.all())
	ft.set("p:0.0", "v2")
	require.NoError(t, b.process(ctx, c))

	calls := gw.since(n)
	assert.Equal(t, []string{"delete", "send", "panel"}, gw.kinds(calls))
	assert.Equal(t, panel, calls[0].msgID)

	info = c.info()
	assert.Greater(t, info.PanelMsgID, info.WindowMsgID)
}

func TestEditFailureFallsBackToSendAndReorders(t *testing.T) {
	ft := newFakeTerminal("p:0.0")
	gw := &fakeGateway{}
	b := newTestBridge(t, ft, gw, Config{})
	c := attach(t, b, 1, "p:0.0")
	ctx := context.Background()

	ft.set("p:0.0", "v1")
	require.NoError(t, b.process(ctx, c))
	require.NoError(t, b.ShowPanel(ctx, 1))
	ft.set("p:0.0", "v2")
	require.NoError(t, b.process(ctx, c))
	before := c.info()

	gw.setFailEdits(true)
	n := len(gw.all())
	ft.set("p:0.0", "v3")
	require.NoError(t, b.process(ctx, c))

	calls := gw.since(n)
	assert.Equal(t, []string{"edit_failed", "delete", "send", "panel"}, gw.kinds(calls))
	assert.Equal(t, before.WindowMsgID, calls[0].msgID)
	assert.Equal(t, before.PanelMsgID, calls[1].msgID)

	after := c.info()
	assert.Equal(t, calls[2].msgID, after.WindowMsgID)
	assert.Equal(t, calls[3].msgID, after.PanelMsgID)
	assert.Greater(t, after.PanelMsgID, after.WindowMsgID)
}

func TestEditInPlaceLeavesPanelAlone(t *testing.T) {
	ft := newFakeTerminal("p:0.0")
	gw := &fakeGateway{}
	b := newTestBridge(t, ft, gw, Config{})
	c := attach(t, b, 1, "p:0.0")
	ctx := context.Background()

	ft.set("p:0.0", "v1")
	require.NoError(t, b.process(ctx, c))
	require.NoError(t, b.ShowPanel(ctx, 1))
	ft.set("p:0.0", "v2")
	require.NoError(t, b.process(ctx, c))
	before := c.info()

	n := len(gw.all())
	ft.set("p:0.0", "v3")
	require.NoError(t, b.process(ctx, c))

	assert.Equal(t, []string{"edit"}, gw.kinds(gw.since(n)))
	assert.Equal(t, before, c.info())
}

func TestEditReturningNewIDIsTreatedAsSend(t *testing.T) {
	ft := newFakeTerminal("p:0.0")
	gw := &fakeGateway{}
	b := newTestBridge(t, ft, gw, Config{})
	c := attach(t, b, 1, "p:0.0")
	ctx := context.Background()

	ft.set("p:0.0", "v1")
	require.NoError(t, b.process(ctx, c))
	require.NoError(t, b.ShowPanel(ctx, 1))
	ft.set("p:0.0", "v2")
	require.NoError(t, b.process(ctx, c))

	gw.setEditMoves(true)
	n := len(gw.all())
	ft.set("p:0.0", "v3")
	require.NoError(t, b.process(ctx, c))

	assert.Equal(t, []string{"send", "delete", "panel"}, gw.kinds(gw.since(n)))
	info := c.info()
	assert.Greater(t, info.PanelMsgID, info.WindowMsgID)
}

func TestPanelAboveWindowIsRecreated(t *testing.T) {
	ft := newFakeTerminal("p:0.0")
	gw := &fakeGateway{}
	b := newTestBridge(t, ft, gw, Config{})
	c := attach(t, b, 1, "p:0.0")
	ctx := context.Background()

	ft.set("p:0.0", "v1")
	require.NoError(t, b.process(ctx, c))

	// A panel recorded with an older id than the window sits above it.
	c.mu.Lock()
	c.windowMsgID = 10
	c.panelMsgID = 5
	c.mu.Unlock()

	n := len(gw.all())
	ft.set("p:0.0", "v2")
	require.NoError(t, b.process(ctx, c))

	assert.Equal(t, []string{"edit", "delete", "panel"}, gw.kinds(gw.since(n)))
	info := c.info()
	assert.Equal(t, 10, info.WindowMsgID)
	assert.NotEqual(t, 5, info.PanelMsgID)
}

func TestPanicInOneConnectionDoesNotStopOthers(t *testing.T) {
	ft := newFakeTerminal("boom:0.0", "ok:0.0")
	ft.panicOn = "boom:0.0"
	ft.set("ok:0.0", "fine")
	gw := &fakeGateway{}
	b := newTestBridge(t, ft, gw, Config{})
	attach(t, b, 1, "boom:0.0")
	attach(t, b, 2, "ok:0.0")

	assert.NotPanics(t, func() { b.pollOnce(context.Background()) })

	calls := gw.all()
	require.Len(t, calls, 1)
	assert.Equal(t, int64(2), calls[0].chatID)
	assert.True(t, b.IsConnected(1), "a failing connection stays registered")
}

func TestVanishedPanesAreHandledAfterThePass(t *testing.T) {
	ft := newFakeTerminal("a:0.0", "b:0.0")
	ft.set("b:0.0", "still here")
	gw := &fakeGateway{}
	store := newFakeStore()
	b := newTestBridge(t, ft, gw, Config{}, WithStore(store))
	attach(t, b, 1, "a:0.0")
	attach(t, b, 2, "b:0.0")
	ft.kill("a:0.0")

	b.pollOnce(context.Background())

	assert.False(t, b.IsConnected(1))
	assert.True(t, b.IsConnected(2))
	assert.Equal(t, 1, gw.count("notify"))
	assert.Equal(t, 1, gw.count("send"))
	assert.Contains(t, store.deleted, int64(1))
}

func TestReconnectReplacesPreviousConnection(t *testing.T) {
	ft := newFakeTerminal("a:0.0", "b:0.0")
	gw := &fakeGateway{}
	store := newFakeStore()
	b := newTestBridge(t, ft, gw, Config{PollInterval: time.Hour}, WithStore(store))

	require.NoError(t, b.Connect(1, "a:0.0"))
	old, err := b.conn(1)
	require.NoError(t, err)

	require.NoError(t, b.Connect(1, "b:0.0"))
	pane, _ := b.BoundPane(1)
	assert.Equal(t, "b:0.0", pane)
	assert.True(t, old.isClosed())
	require.Len(t, b.Snapshot(), 1)

	info, ok := store.get(1)
	require.True(t, ok)
	assert.Equal(t, "b:0.0", info.Pane)
}

func TestDisconnect(t *testing.T) {
	ft := newFakeTerminal("a:0.0")
	gw := &fakeGateway{}
	store := newFakeStore()
	b := newTestBridge(t, ft, gw, Config{PollInterval: time.Hour}, WithStore(store))

	assert.False(t, b.Disconnect(1))
	require.NoError(t, b.Connect(1, "a:0.0"))
	assert.True(t, b.Disconnect(1))
	assert.False(t, b.IsConnected(1))
	assert.False(t, b.Disconnect(1))

	_, ok := store.get(1)
	assert.False(t, ok)
	assert.Zero(t, gw.count("notify"), "a requested disconnect is not announced by the bridge")
}

func TestCloseStopsEverything(t *testing.T) {
	ft := newFakeTerminal("a:0.0", "b:0.0")
	gw := &fakeGateway{}
	store := newFakeStore()
	b := New(ft, gw, Config{PollInterval: 10 * time.Millisecond}, WithStore(store))

	require.NoError(t, b.Connect(1, "a:0.0"))
	require.NoError(t, b.Connect(2, "b:0.0"))
	require.True(t, b.Polling())

	b.Close()
	b.Close()

	assert.False(t, b.Polling())
	assert.Empty(t, b.Snapshot())
	assert.ErrorIs(t, b.Connect(3, "a:0.0"), ErrClosed)

	_, ok := store.get(1)
	assert.True(t, ok, "connections survive shutdown for restore")
}

func TestRestoreKeepsMessageIDs(t *testing.T) {
	ft := newFakeTerminal("a:0.0")
	ft.set("a:0.0", "restored")
	gw := &fakeGateway{}
	store := newFakeStore()
	b := newTestBridge(t, ft, gw, Config{PollInterval: 10 * time.Millisecond}, WithStore(store))

	require.NoError(t, b.Restore(ConnectionInfo{ChatID: 9, Pane: "a:0.0", AutoEnter: false, WindowMsgID: 42, PanelMsgID: 43}))
	assert.False(t, b.AutoEnter(9))

	require.Eventually(t, func() bool { return gw.count("edit") == 1 }, 2*time.Second, 10*time.Millisecond)
	for _, c := range gw.all() {
		if c.kind == "edit" {
			assert.Equal(t, 42, c.msgID)
		}
	}

	err := b.Restore(ConnectionInfo{ChatID: 10, Pane: "gone:0.0"})
	assert.ErrorIs(t, err, ErrPaneNotFound)
	assert.Contains(t, store.deleted, int64(10))
}

func TestSendInputInvalidatesWindowAndHonoursAutoEnter(t *testing.T) {
	ft := newFakeTerminal("a:0.0")
	gw := &fakeGateway{}
	b := newTestBridge(t, ft, gw, Config{})
	c := attach(t, b, 1, "a:0.0")
	c.windowMsgID = 12

	require.NoError(t, b.SendInput(1, "ls -la"))
	assert.Zero(t, c.info().WindowMsgID)

	on, err := b.ToggleAutoEnter(1)
	require.NoError(t, err)
	assert.False(t, on)
	require.NoError(t, b.SendInput(1, "partial"))

	assert.Equal(t, []string{"ls -la", "partial"}, ft.input)
	assert.Equal(t, []bool{true, false}, ft.commits)

	assert.ErrorIs(t, b.SendInput(99, "x"), ErrNotConnected)
	_, err = b.ToggleAutoEnter(99)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestSendKey(t *testing.T) {
	ft := newFakeTerminal("a:0.0")
	b := newTestBridge(t, ft, &fakeGateway{}, Config{})
	attach(t, b, 1, "a:0.0")

	require.NoError(t, b.SendKey(1, "C-c", "C-c"))
	assert.Equal(t, []string{"C-c", "C-c"}, ft.keys)
	assert.ErrorIs(t, b.SendKey(2, "Up"), ErrNotConnected)
}

func TestRefreshResendsWindow(t *testing.T) {
	ft := newFakeTerminal("a:0.0")
	ft.set("a:0.0", "same")
	gw := &fakeGateway{}
	b := newTestBridge(t, ft, gw, Config{})
	c := attach(t, b, 1, "a:0.0")
	ctx := context.Background()

	require.NoError(t, b.process(ctx, c))
	require.NoError(t, b.Refresh(ctx, 1))

	assert.Equal(t, []string{"send", "send"}, gw.kinds(gw.all()))
	assert.ErrorIs(t, b.Refresh(ctx, 2), ErrNotConnected)
}

func TestCreateSessionAutoNames(t *testing.T) {
	sessions := &fakeSessions{existing: map[string]bool{"tb1": true}}
	b := newTestBridge(t, newFakeTerminal(), &fakeGateway{}, Config{}, WithSessions(sessions))

	name, pane, err := b.CreateSession("")
	require.NoError(t, err)
	assert.Equal(t, "tb2", name)
	assert.Equal(t, "tb2:0.0", pane)

	name, _, err = b.CreateSession("")
	require.NoError(t, err)
	assert.Equal(t, "tb3", name)

	name, _, err = b.CreateSession("work")
	require.NoError(t, err)
	assert.Equal(t, "work", name)

	bare := newTestBridge(t, newFakeTerminal(), &fakeGateway{}, Config{})
	_, _, err = bare.CreateSession("")
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeWindow, m)

	m, err = ParseMode("stream")
	require.NoError(t, err)
	assert.Equal(t, ModeStream, m)

	_, err = ParseMode("tail")
	assert.Error(t, err)
}

func TestWindowPayloadIsFormatted(t *testing.T) {
	ft := newFakeTerminal("a:0.0")
	ft.set("a:0.0", "\x1b[31mred\x1b[0m\r\n"+strings.Repeat("=", 50)+"\n")
	gw := &fakeGateway{}
	b := newTestBridge(t, ft, gw, Config{})
	c := attach(t, b, 1, "a:0.0")

	require.NoError(t, b.process(context.Background(), c))
	calls := gw.all()
	require.Len(t, calls, 1)
	assert.Equal(t, "```\nred\n"+strings.Repeat("=", 20)+"\n```", calls[0].text)
}

func TestDisconnectDuringDeliveryIsNotPersistedAgain(t *testing.T) {
	ft := newFakeTerminal("a:0.0")
	ft.set("a:0.0", "$ make")
	gw := &fakeGateway{}
	store := newFakeStore()
	b := newTestBridge(t, ft, gw, Config{PollInterval: time.Hour}, WithStore(store))
	c := attach(t, b, 9, "a:0.0")

	entered, release := gw.hold()
	defer release()

	done := make(chan error, 1)
	go func() { done <- b.process(context.Background(), c) }()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("delivery never started")
	}
	require.True(t, b.Disconnect(9))
	_, ok := store.get(9)
	require.False(t, ok)

	release()
	require.NoError(t, <-done)

	_, ok = store.get(9)
	assert.False(t, ok, "a delivery finishing after Disconnect must not bring the row back")
	assert.Equal(t, 1, gw.count("send"))
	assert.False(t, b.IsConnected(9))
}

func TestFailedWindowSendHoldsPanelBack(t *testing.T) {
	ft := newFakeTerminal("p:0.0")
	gw := &fakeGateway{}
	b := newTestBridge(t, ft, gw, Config{})
	c := attach(t, b, 1, "p:0.0")
	ctx := context.Background()

	ft.set("p:0.0", "v1")
	require.NoError(t, b.process(ctx, c))
	require.NoError(t, b.ShowPanel(ctx, 1))
	panel := c.info().PanelMsgID

	gw.setFailSends(true)
	n := len(gw.all())
	ft.set("p:0.0", "v2")
	require.NoError(t, b.process(ctx, c))

	calls := gw.since(n)
	assert.Equal(t, []string{"delete", "send_failed"}, gw.kinds(calls))
	assert.Equal(t, panel, calls[0].msgID)
	info := c.info()
	assert.Zero(t, info.WindowMsgID)
	assert.Zero(t, info.PanelMsgID, "no panel without a window above it")

	// Same content, but the failed frame is retried and the panel returns
	// below it.
	gw.setFailSends(false)
	n = len(gw.all())
	require.NoError(t, b.process(ctx, c))

	calls = gw.since(n)
	assert.Equal(t, []string{"send", "panel"}, gw.kinds(calls))
	info = c.info()
	assert.Equal(t, calls[0].msgID, info.WindowMsgID)
	assert.Equal(t, calls[1].msgID, info.PanelMsgID)
	assert.Greater(t, info.PanelMsgID, info.WindowMsgID)
}
