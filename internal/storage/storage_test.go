package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func lobbyMsg(id string, sentAt float64) Message {
	return Message{
		MsgID:      id,
		RoomID:     "lobby",
		Kind:       KindLobby,
		From:       "alice",
		Nick:       "al",
		Text:       "text-" + id,
		SentAt:     sentAt,
		ReceivedAt: sentAt,
	}
}

func TestSaveMessageIdempotent(t *testing.T) {
	s := openTestStore(t)

	m := lobbyMsg("m1", 1)
	inserted, err := s.SaveMessage(m)
	if err != nil {
		t.Fatal(err)
	}
	if !inserted {
		t.Fatal("first save did not insert")
	}

	// Same msg_id with different content: silent no-op, first content kept.
	dup := m
	dup.Text = "changed"
	inserted, err = s.SaveMessage(dup)
	if err != nil {
		t.Fatalf("duplicate save errored: %v", err)
	}
	if inserted {
		t.Error("duplicate save reported an insert")
	}

	msgs, err := s.LobbyHistory("lobby", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d rows, want 1", len(msgs))
	}
	if msgs[0].Text != "text-m1" {
		t.Errorf("duplicate overwrote content: %q", msgs[0].Text)
	}
}

func TestLobbyHistoryOrderingAndLimit(t *testing.T) {
	s := openTestStore(t)
	for i, id := range []string{"m1", "m2", "m3"} {
		if _, err := s.SaveMessage(lobbyMsg(id, float64(i+1))); err != nil {
			t.Fatal(err)
		}
	}

	// limit means "most recent N", returned ascending.
	msgs, err := s.LobbyHistory("lobby", 2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].MsgID != "m2" || msgs[1].MsgID != "m3" {
		t.Errorf("order = [%s, %s], want [m2, m3]", msgs[0].MsgID, msgs[1].MsgID)
	}

	// before-cursor pages backwards.
	msgs, err = s.LobbyHistory("lobby", 10, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].MsgID != "m1" {
		t.Errorf("before cursor returned %v", msgs)
	}
}

func TestLobbyHistoryRoomIsolation(t *testing.T) {
	s := openTestStore(t)
	s.SaveMessage(lobbyMsg("m1", 1))
	other := lobbyMsg("m2", 2)
	other.RoomID = "dev"
	s.SaveMessage(other)

	msgs, err := s.LobbyHistory("lobby", 10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].MsgID != "m1" {
		t.Errorf("room isolation broken: %v", msgs)
	}
}

func TestDMHistoryUnorderedPair(t *testing.T) {
	s := openTestStore(t)
	save := func(id, from, to string, at float64) {
		t.Helper()
		m := Message{MsgID: id, RoomID: "lobby", Kind: KindDM, From: from, To: to, SentAt: at, ReceivedAt: at}
		if _, err := s.SaveMessage(m); err != nil {
			t.Fatal(err)
		}
	}
	save("d1", "alice", "bob", 1)
	save("d2", "bob", "alice", 2)
	save("d3", "alice", "carol", 3) // different pair

	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		msgs, err := s.DMHistory(pair[0], pair[1], 10, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 2 || msgs[0].MsgID != "d1" || msgs[1].MsgID != "d2" {
			t.Errorf("DMHistory(%v) = %v", pair, msgs)
		}
	}
}

func TestUpsertUser(t *testing.T) {
	s := openTestStore(t)

	err := s.UpsertUser(User{UserID: "bob", Nick: "bobby", LastSeen: 10, IP: "10.0.0.2", DMPort: 5002, RoomID: "lobby"})
	if err != nil {
		t.Fatal(err)
	}

	// Update without ip/port keeps the known values; last_seen advances.
	err = s.UpsertUser(User{UserID: "bob", Nick: "robert", LastSeen: 20, RoomID: "lobby"})
	if err != nil {
		t.Fatal(err)
	}
	u, ok, err := s.GetUser("bob")
	if err != nil || !ok {
		t.Fatalf("GetUser: %v %v", ok, err)
	}
	if u.Nick != "robert" || u.LastSeen != 20 || u.IP != "10.0.0.2" || u.DMPort != 5002 {
		t.Errorf("upsert lost fields: %+v", u)
	}

	// A stale update never rolls last_seen backwards.
	s.UpsertUser(User{UserID: "bob", Nick: "robert", LastSeen: 5, RoomID: "lobby"})
	u, _, _ = s.GetUser("bob")
	if u.LastSeen != 20 {
		t.Errorf("last_seen rolled back to %v", u.LastSeen)
	}
}

func TestActiveUsersWindow(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	recent := epoch(now.Add(-time.Minute))
	stale := epoch(now.Add(-time.Hour))

	s.UpsertUser(User{UserID: "bob", LastSeen: recent, RoomID: "lobby"})
	s.UpsertUser(User{UserID: "carol", LastSeen: epoch(now.Add(-2 * time.Minute)), RoomID: "lobby"})
	s.UpsertUser(User{UserID: "dave", LastSeen: stale, RoomID: "lobby"})
	s.UpsertUser(User{UserID: "erin", LastSeen: recent, RoomID: "dev"})

	users, err := s.ActiveUsers("lobby", now.Add(-15*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d active users, want 2", len(users))
	}
	// Most recent first.
	if users[0].UserID != "bob" || users[1].UserID != "carol" {
		t.Errorf("order = [%s, %s]", users[0].UserID, users[1].UserID)
	}
}

func TestCleanupRetention(t *testing.T) {
	s := openTestStore(t)
	cutoff := time.Now()
	before := epoch(cutoff.Add(-time.Hour))
	after := epoch(cutoff.Add(time.Hour))

	// M1 predates the cutoff, M2/M3 are newer.
	s.SaveMessage(Message{MsgID: "m1", RoomID: "lobby", Kind: KindLobby, From: "old-only", SentAt: before, ReceivedAt: before})
	s.SaveMessage(Message{MsgID: "m2", RoomID: "lobby", Kind: KindLobby, From: "alice", SentAt: after, ReceivedAt: after})
	s.SaveMessage(Message{MsgID: "m3", RoomID: "lobby", Kind: KindLobby, From: "fresh", SentAt: after, ReceivedAt: after})

	// old-only's presence is stale and they authored nothing after cutoff.
	s.UpsertUser(User{UserID: "old-only", LastSeen: before, RoomID: "lobby"})
	// fresh authored m3 after the cutoff but carries a stale last_seen.
	s.UpsertUser(User{UserID: "fresh", LastSeen: before, RoomID: "lobby"})

	msgs, users, err := s.Cleanup(cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if msgs != 1 {
		t.Errorf("removed %d messages, want 1", msgs)
	}
	if users != 1 {
		t.Errorf("removed %d users, want 1", users)
	}

	if _, ok, _ := s.GetUser("old-only"); ok {
		t.Error("old-only survived cleanup")
	}
	if _, ok, _ := s.GetUser("fresh"); !ok {
		t.Error("recently-active user deleted despite newer message")
	}

	remaining, _ := s.LobbyHistory("lobby", 10, 0)
	if len(remaining) != 2 {
		t.Errorf("%d messages remain, want 2", len(remaining))
	}
}

func TestEnsureRoomInsertIfAbsent(t *testing.T) {
	s := openTestStore(t)
	if err := s.EnsureRoom("lobby", "Lobby"); err != nil {
		t.Fatal(err)
	}
	if err := s.EnsureRoom("lobby", "Renamed"); err != nil {
		t.Fatal(err)
	}
	r, ok, err := s.GetRoom("lobby")
	if err != nil || !ok {
		t.Fatalf("GetRoom: %v %v", ok, err)
	}
	if r.Name != "Lobby" {
		t.Errorf("room renamed on second ensure: %q", r.Name)
	}
}

func TestStats(t *testing.T) {
	s := openTestStore(t)
	s.EnsureRoom("lobby", "Lobby")
	s.SaveMessage(lobbyMsg("m1", 1))
	s.SaveMessage(Message{MsgID: "d1", RoomID: "lobby", Kind: KindDM, From: "alice", To: "bob", SentAt: 2, ReceivedAt: 2})
	s.UpsertUser(User{UserID: "alice", LastSeen: 1, RoomID: "lobby"})

	st, err := s.Stats()
	if err != nil {
		t.Fatal(err)
	}
	want := Stats{TotalMessages: 2, TotalUsers: 1, TotalRooms: 1, LobbyMessages: 1, DMMessages: 1}
	if st != want {
		t.Errorf("Stats = %+v, want %+v", st, want)
	}
}
