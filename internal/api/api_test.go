package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tipoffchat/tipoff/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, *storage.Store, *Hub) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "bridge.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	hub := NewHub()
	srv := httptest.NewServer(NewRouter(NewHandler(store, hub)))
	t.Cleanup(srv.Close)
	return srv, store, hub
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func seedLobby(t *testing.T, store *storage.Store, id, from, text string, sentAt float64) {
	t.Helper()
	_, err := store.SaveMessage(storage.Message{
		MsgID: id, RoomID: "lobby", Kind: storage.KindLobby,
		From: from, Nick: from, Text: text, SentAt: sentAt, ReceivedAt: sentAt,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var body map[string]string
	if code := getJSON(t, srv.URL+"/health", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestLobbyMessagesOrderAndLimit(t *testing.T) {
	srv, store, _ := newTestServer(t)
	seedLobby(t, store, "m1", "alice", "first", 1)
	seedLobby(t, store, "m2", "bob", "second", 2)
	seedLobby(t, store, "m3", "alice", "third", 3)

	var body struct {
		Messages []storage.Message `json:"messages"`
	}
	if code := getJSON(t, srv.URL+"/api/messages/lobby?room_id=lobby&limit=2", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Messages) != 2 || body.Messages[0].MsgID != "m2" || body.Messages[1].MsgID != "m3" {
		t.Errorf("limit=2 returned %+v, want [m2 m3]", body.Messages)
	}
}

func TestLobbyMessagesEmptyRoom(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var raw map[string]json.RawMessage
	if code := getJSON(t, srv.URL+"/api/messages/lobby?room_id=empty", &raw); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	// Shape stays an array, never null.
	if string(raw["messages"]) != "[]" {
		t.Errorf("messages = %s, want []", raw["messages"])
	}
}

func TestDMMessagesRequiresBothUsers(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, q := range []string{"", "?user1=alice", "?user2=bob"} {
		var body map[string]any
		code := getJSON(t, srv.URL+"/api/messages/dm"+q, &body)
		if code != http.StatusBadRequest {
			t.Errorf("GET /api/messages/dm%s = %d, want 400", q, code)
		}
		if body["error"] == nil || body["status"] != float64(http.StatusBadRequest) {
			t.Errorf("error shape: %v", body)
		}
	}
}

func TestDMMessagesUnorderedPair(t *testing.T) {
	srv, store, _ := newTestServer(t)
	if _, err := store.SaveMessage(storage.Message{
		MsgID: "d1", RoomID: "lobby", Kind: storage.KindDM,
		From: "alice", To: "bob", Nick: "al", Text: "psst", SentAt: 1, ReceivedAt: 1,
	}); err != nil {
		t.Fatal(err)
	}

	for _, q := range []string{"user1=alice&user2=bob", "user1=bob&user2=alice"} {
		var body struct {
			Messages []storage.Message `json:"messages"`
		}
		if code := getJSON(t, srv.URL+"/api/messages/dm?"+q, &body); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if len(body.Messages) != 1 || body.Messages[0].MsgID != "d1" {
			t.Errorf("%s → %+v", q, body.Messages)
		}
	}
}

func TestUsersActiveWindow(t *testing.T) {
	srv, store, _ := newTestServer(t)
	now := float64(time.Now().Unix())
	old := float64(time.Now().Add(-2 * ActiveWindow).Unix())
	for _, u := range []storage.User{
		{UserID: "fresh", Nick: "f", LastSeen: now, RoomID: "lobby"},
		{UserID: "stale", Nick: "s", LastSeen: old, RoomID: "lobby"},
	} {
		if err := store.UpsertUser(u); err != nil {
			t.Fatal(err)
		}
	}

	var body struct {
		Users []storage.User `json:"users"`
	}
	if code := getJSON(t, srv.URL+"/api/users?room_id=lobby", &body); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(body.Users) != 1 || body.Users[0].UserID != "fresh" {
		t.Errorf("users = %+v, want [fresh]", body.Users)
	}
}

func TestStats(t *testing.T) {
	srv, store, _ := newTestServer(t)
	seedLobby(t, store, "m1", "alice", "hi", 1)
	if err := store.EnsureRoom("lobby", "Lobby"); err != nil {
		t.Fatal(err)
	}

	var stats storage.Stats
	if code := getJSON(t, srv.URL+"/api/stats", &stats); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if stats.TotalMessages != 1 || stats.LobbyMessages != 1 || stats.DMMessages != 0 || stats.TotalRooms != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestUnmatchedPath(t *testing.T) {
	srv, _, _ := newTestServer(t)

	var body map[string]any
	code := getJSON(t, srv.URL+"/api/nope", &body)
	if code != http.StatusNotFound {
		t.Fatalf("status = %d", code)
	}
	if body["error"] == nil || body["status"] != float64(http.StatusNotFound) {
		t.Errorf("error shape: %v", body)
	}
}

func TestWriteMethodsRejected(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/messages/lobby", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode == http.StatusOK {
		t.Error("POST accepted on a read-only surface")
	}
}

func TestLiveStream(t *testing.T) {
	srv, _, hub := newTestServer(t)

	// Backlog published before the client connects is replayed first.
	hub.Publish(storage.Message{MsgID: "b1", RoomID: "lobby", Kind: storage.KindLobby, From: "alice", Text: "early", SentAt: 1})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/live"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	read := func() storage.Message {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(3 * time.Second))
		var m storage.Message
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatal(err)
		}
		return m
	}

	if m := read(); m.MsgID != "b1" {
		t.Errorf("backlog message = %+v", m)
	}

	hub.Publish(storage.Message{MsgID: "l1", RoomID: "lobby", Kind: storage.KindLobby, From: "bob", Text: "live", SentAt: 2})
	if m := read(); m.MsgID != "l1" {
		t.Errorf("live message = %+v", m)
	}
}

func TestHubSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	hub := NewHub()
	_, ch, cancel := hub.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			hub.Publish(storage.Message{MsgID: "m", SentAt: float64(i)})
		}
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
	// The subscriber still got up to its buffer worth.
	if len(ch) == 0 {
		t.Error("subscriber channel empty")
	}
}
