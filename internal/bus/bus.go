// Package bus carries events from the network receive loops to the single
// consumer that owns the roster and the user-facing output. Producers post
// from any goroutine; the consumer drains Events on its own schedule and is
// never able to block a network loop.
package bus

import (
	"sync"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("bus")

// Kind tags an event record.
type Kind string

const (
	PeerSeen  Kind = "peer_seen"
	PeerGone  Kind = "peer_gone"
	LobbyMsg  Kind = "lobby_chat"
	DirectMsg Kind = "dm_chat"
)

// Event is one tagged record handed to the consumer. Which fields are set
// depends on Kind.
type Event struct {
	Kind   Kind
	UserID string
	Nick   string

	// chat kinds
	Text    string
	History bool // replayed from the bridge, not live traffic

	// peer_seen
	IP     string
	DMPort int
}

// DefaultBuffer is the queue depth before Post starts dropping.
const DefaultBuffer = 256

// Bus is the thread-safe event queue between network goroutines and the
// consumer loop.
type Bus struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// New creates a bus. size <= 0 selects DefaultBuffer.
func New(size int) *Bus {
	if size <= 0 {
		size = DefaultBuffer
	}
	return &Bus{ch: make(chan Event, size)}
}

// Post enqueues an event without blocking. If the consumer has fallen more
// than the buffer behind, the event is dropped; presence and chat are both
// soft state that the next datagram refreshes.
func (b *Bus) Post(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.ch <- ev:
	default:
		log.Warnf("consumer lagging, dropped %s event from %s", ev.Kind, ev.UserID)
	}
}

// Events returns the channel the consumer drains. It is closed by Close.
func (b *Bus) Events() <-chan Event {
	return b.ch
}

// Close stops the bus. Posts after Close are silently ignored, so producers
// do not need to coordinate shutdown order with the consumer.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}
