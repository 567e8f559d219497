package web

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/asheshgoplani/termbot/internal/bridge"
	"github.com/asheshgoplani/termbot/internal/logging"
)

// Frame kinds.
const (
	FrameSend       = "send"
	FrameEdit       = "edit"
	FrameDelete     = "delete"
	FramePanel      = "panel"
	FrameDisconnect = "disconnect"
)

// frameBuffer is the per-subscriber backlog. A subscriber that falls this
// far behind loses frames rather than stalling delivery to the chat.
const frameBuffer = 64

// Frame is one gateway event mirrored to web subscribers.
type Frame struct {
	Kind      string    `json:"kind"`
	ChatID    int64     `json:"chatId"`
	MessageID int       `json:"messageId,omitempty"`
	Text      string    `json:"text,omitempty"`
	Time      time.Time `json:"time"`
}

// Mirror wraps a bridge.Gateway and publishes every successful call to the
// subscribers of the chat it targeted.
type Mirror struct {
	next bridge.Gateway

	mu   sync.Mutex
	subs map[int64]map[chan Frame]struct{}
}

var _ bridge.Gateway = (*Mirror)(nil)

// NewMirror decorates next.
func NewMirror(next bridge.Gateway) *Mirror {
	return &Mirror{next: next, subs: make(map[int64]map[chan Frame]struct{})}
}

func (m *Mirror) Deliver(ctx context.Context, chatID int64, text string, editID int) (int, error) {
	id, err := m.next.Deliver(ctx, chatID, text, editID)
	if err != nil {
		return id, err
	}
	kind := FrameSend
	if editID != 0 && id == editID {
		kind = FrameEdit
	}
	m.publish(Frame{Kind: kind, ChatID: chatID, MessageID: id, Text: text})
	return id, nil
}

func (m *Mirror) Delete(ctx context.Context, chatID int64, msgID int) error {
	if err := m.next.Delete(ctx, chatID, msgID); err != nil {
		return err
	}
	m.publish(Frame{Kind: FrameDelete, ChatID: chatID, MessageID: msgID})
	return nil
}

func (m *Mirror) SendPanel(ctx context.Context, chatID int64) (int, error) {
	id, err := m.next.SendPanel(ctx, chatID)
	if err != nil {
		return id, err
	}
	m.publish(Frame{Kind: FramePanel, ChatID: chatID, MessageID: id})
	return id, nil
}

func (m *Mirror) NotifyDisconnect(ctx context.Context, chatID int64, reason string) error {
	if err := m.next.NotifyDisconnect(ctx, chatID, reason); err != nil {
		return err
	}
	m.publish(Frame{Kind: FrameDisconnect, ChatID: chatID, Text: reason})
	return nil
}

// Subscribe registers for frames of chatID. The returned func unsubscribes
// and closes the channel; it is safe to call more than once.
func (m *Mirror) Subscribe(chatID int64) (<-chan Frame, func()) {
	ch := make(chan Frame, frameBuffer)
	m.mu.Lock()
	set, ok := m.subs[chatID]
	if !ok {
		set = make(map[chan Frame]struct{})
		m.subs[chatID] = set
	}
	set[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if set, ok := m.subs[chatID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(m.subs, chatID)
				}
			}
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions for chatID.
func (m *Mirror) Subscribers(chatID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs[chatID])
}

func (m *Mirror) publish(f Frame) {
	f.Time = time.Now().UTC()
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.subs[f.ChatID] {
		select {
		case ch <- f:
		default:
			logging.Aggregate(logging.CompWeb, "mirror_frame_dropped", slog.Int64("chat_id", f.ChatID))
		}
	}
}
