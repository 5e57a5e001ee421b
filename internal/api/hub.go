package api

import (
	"sync"

	"github.com/tipoffchat/tipoff/internal/storage"
)

// backlogSize is how many recent messages a fresh live subscriber is
// replayed before streaming starts.
const backlogSize = 32

// backlog is a fixed ring of the most recent messages, oldest first on
// snapshot. Callers hold the hub lock.
type backlog struct {
	buf  [backlogSize]storage.Message
	next int
	full bool
}

func (b *backlog) push(m storage.Message) {
	b.buf[b.next] = m
	b.next = (b.next + 1) % backlogSize
	if b.next == 0 {
		b.full = true
	}
}

func (b *backlog) snapshot() []storage.Message {
	if !b.full {
		return append([]storage.Message(nil), b.buf[:b.next]...)
	}
	out := make([]storage.Message, 0, backlogSize)
	out = append(out, b.buf[b.next:]...)
	return append(out, b.buf[:b.next]...)
}

// Hub fans newly ingested messages out to live websocket subscribers and
// keeps a short backlog so a subscriber that connects between messages
// still sees recent traffic.
type Hub struct {
	mu        sync.RWMutex
	listeners map[chan storage.Message]struct{}
	recent    backlog
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{listeners: make(map[chan storage.Message]struct{})}
}

// Publish records the message and hands it to every subscriber. A slow
// subscriber's channel is skipped rather than blocked on; the websocket
// layer has no place for backpressure into the ingest path.
func (h *Hub) Publish(m storage.Message) {
	h.mu.Lock()
	h.recent.push(m)
	for ch := range h.listeners {
		select {
		case ch <- m:
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe returns the recent backlog, a channel of subsequent messages and
// a cancel function. Cancel is safe to call more than once.
func (h *Hub) Subscribe() ([]storage.Message, <-chan storage.Message, func()) {
	ch := make(chan storage.Message, 16)

	h.mu.Lock()
	h.listeners[ch] = struct{}{}
	recent := h.recent.snapshot()
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, ch)
			h.mu.Unlock()
		})
	}
	return recent, ch, cancel
}
