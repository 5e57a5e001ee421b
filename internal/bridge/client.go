package bridge

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/tipoffchat/tipoff/internal/storage"
	"github.com/tipoffchat/tipoff/internal/util"
)

// Client reads history and stats from the bridge's query API. Every method
// degrades to an empty result when the bridge is unreachable; callers render
// whatever they get and move on.
type Client struct {
	base string
	http *http.Client
}

// NewClient targets the bridge HTTP endpoint.
func NewClient(host string, httpPort int) *Client {
	return &Client{
		base: fmt.Sprintf("http://%s:%d", host, httpPort),
		http: &http.Client{Timeout: util.DefaultFetchTimeout},
	}
}

// Available reports whether the bridge answers its health check.
func (c *Client) Available() bool {
	resp, err := c.http.Get(c.base + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// LobbyHistory fetches the most recent limit lobby messages for a room,
// oldest first. Returns nil when the bridge is unavailable.
func (c *Client) LobbyHistory(roomID string, limit int) []storage.Message {
	q := url.Values{"room_id": {roomID}, "limit": {strconv.Itoa(limit)}}
	var body struct {
		Messages []storage.Message `json:"messages"`
	}
	if !c.getJSON("/api/messages/lobby", q, &body) {
		return nil
	}
	return body.Messages
}

// DMHistory fetches the most recent limit messages between the unordered
// pair (a, b), oldest first. Returns nil when the bridge is unavailable.
func (c *Client) DMHistory(a, b string, limit int) []storage.Message {
	q := url.Values{"user1": {a}, "user2": {b}, "limit": {strconv.Itoa(limit)}}
	var body struct {
		Messages []storage.Message `json:"messages"`
	}
	if !c.getJSON("/api/messages/dm", q, &body) {
		return nil
	}
	return body.Messages
}

// ActiveUsers fetches the users recently seen by the bridge in a room.
func (c *Client) ActiveUsers(roomID string) []storage.User {
	q := url.Values{"room_id": {roomID}}
	var body struct {
		Users []storage.User `json:"users"`
	}
	if !c.getJSON("/api/users", q, &body) {
		return nil
	}
	return body.Users
}

// Stats fetches the bridge's aggregate counters.
func (c *Client) Stats() (storage.Stats, bool) {
	var st storage.Stats
	if !c.getJSON("/api/stats", nil, &st) {
		return storage.Stats{}, false
	}
	return st, true
}

func (c *Client) getJSON(path string, q url.Values, out any) bool {
	u := c.base + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	resp, err := c.http.Get(u)
	if err != nil {
		log.Debugf("bridge query %s: %v", path, err)
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Debugf("bridge query %s: status %d", path, resp.StatusCode)
		return false
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		log.Debugf("bridge query %s: decode: %v", path, err)
		return false
	}
	return true
}
