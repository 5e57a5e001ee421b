// Package state holds the in-memory roster of known peers. The roster is
// pure data: it performs no I/O and is mutated only by the goroutine that
// drains presence events, plus the periodic liveness sweep.
package state

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Entry is one row of the roster.
type Entry struct {
	UserID   string
	Nick     string
	IsSelf   bool
	LastSeen time.Time
	IP       string // transport-reported source address, empty until first heartbeat
	DMPort   int    // advertised DM listen port, 0 until first heartbeat
}

// Roster tracks the local user plus every peer seen recently. The self entry
// is created at construction and never expires.
type Roster struct {
	mu      sync.Mutex
	clk     clock.Clock
	selfID  string
	entries map[string]Entry
}

// New creates a roster seeded with the self entry.
func New(selfID, selfNick string, clk clock.Clock) *Roster {
	if clk == nil {
		clk = clock.New()
	}
	r := &Roster{
		clk:     clk,
		selfID:  selfID,
		entries: make(map[string]Entry),
	}
	r.entries[selfID] = Entry{
		UserID:   selfID,
		Nick:     selfNick,
		IsSelf:   true,
		LastSeen: clk.Now(),
	}
	return r
}

// SelfID returns the local user id.
func (r *Roster) SelfID() string {
	return r.selfID
}

// SetSelfNick updates the display nick on the self entry.
func (r *Roster) SetSelfNick(nick string) {
	if nick == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ent := r.entries[r.selfID]
	ent.Nick = nick
	r.entries[r.selfID] = ent
}

// UpsertPeer refreshes a peer on every accepted heartbeat. last_seen always
// advances; nick, ip and dm port are overwritten only when newly supplied,
// last write wins. A heartbeat for an unknown peer creates a fresh entry.
// The self id is never turned into a peer entry.
func (r *Roster) UpsertPeer(userID, nick, ip string, dmPort int) {
	if userID == "" || userID == r.selfID {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.entries[userID]
	if !ok {
		ent = Entry{UserID: userID}
	}
	ent.LastSeen = r.clk.Now()
	if nick != "" {
		ent.Nick = nick
	}
	if ip != "" {
		ent.IP = ip
	}
	if dmPort > 0 {
		ent.DMPort = dmPort
	}
	r.entries[userID] = ent
}

// Get returns a peer entry by user id.
func (r *Roster) Get(userID string) (Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, ok := r.entries[userID]
	return ent, ok
}

// Route returns the unicast DM destination for a peer, if known. ok is false
// until a heartbeat has supplied both the address and the port.
func (r *Roster) Route(userID string) (ip string, port int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ent, found := r.entries[userID]
	if !found || ent.IP == "" || ent.DMPort <= 0 {
		return "", 0, false
	}
	return ent.IP, ent.DMPort, true
}

// List returns a stable snapshot: self first, then peers by user id.
func (r *Roster) List() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, ent := range r.entries {
		out = append(out, ent)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsSelf != out[j].IsSelf {
			return out[i].IsSelf
		}
		return strings.ToLower(out[i].UserID) < strings.ToLower(out[j].UserID)
	})
	return out
}

// Len returns the number of entries including self.
func (r *Roster) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Prune removes every non-self entry whose last_seen is older than window
// and returns the removed user ids. A removed peer that heartbeats again
// later gets a brand new entry, not a resurrection of the old one.
func (r *Roster) Prune(window time.Duration) []string {
	cutoff := r.clk.Now().Add(-window)
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []string
	for id, ent := range r.entries {
		if ent.IsSelf {
			continue
		}
		if ent.LastSeen.Before(cutoff) {
			delete(r.entries, id)
			removed = append(removed, id)
		}
	}
	return removed
}
