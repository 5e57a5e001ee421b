package dm

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/tipoffchat/tipoff/internal/bridge"
	"github.com/tipoffchat/tipoff/internal/bus"
	"github.com/tipoffchat/tipoff/internal/proto"
)

func startService(t *testing.T, userID string) (*Service, *bus.Bus) {
	t.Helper()
	b := bus.New(16)
	s := New(Config{
		UserID: userID,
		RoomID: "lobby",
		Nick:   userID,
		Port:   0,
	}, b, nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Stop)
	return s, b
}

func sendTo(t *testing.T, addr *net.UDPAddr, payload []byte) {
	t.Helper()
	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: addr.Port})
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		t.Fatal(err)
	}
}

func waitEvent(t *testing.T, b *bus.Bus, timeout time.Duration) (bus.Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-b.Events():
		return ev, ok
	case <-time.After(timeout):
		return bus.Event{}, false
	}
}

func TestReceiveProducesDirectMsg(t *testing.T) {
	s, b := startService(t, "bob")

	msg, _ := proto.NewDirect("lobby", "alice", "bob", "al", "psst").Marshal()
	sendTo(t, s.LocalAddr(), msg)

	ev, ok := waitEvent(t, b, 3*time.Second)
	if !ok {
		t.Fatal("no event within deadline")
	}
	if ev.Kind != bus.DirectMsg || ev.UserID != "alice" || ev.Nick != "al" || ev.Text != "psst" {
		t.Errorf("unexpected event: %+v", ev)
	}
}

func TestMisaddressedDMStillAccepted(t *testing.T) {
	// The socket is unicast, so arrival already means the sender picked us;
	// a stale to field is not grounds to drop.
	s, b := startService(t, "bob")

	msg, _ := proto.NewDirect("lobby", "alice", "someone-else", "al", "for you anyway").Marshal()
	sendTo(t, s.LocalAddr(), msg)

	ev, ok := waitEvent(t, b, 3*time.Second)
	if !ok || ev.UserID != "alice" {
		t.Fatalf("misaddressed dm dropped: %+v ok=%v", ev, ok)
	}
}

func TestDroppedDatagrams(t *testing.T) {
	s, b := startService(t, "bob")
	addr := s.LocalAddr()

	selfDM, _ := proto.NewDirect("lobby", "bob", "bob", "b", "echo").Marshal()
	foreignRoom, _ := proto.NewDirect("other-room", "alice", "bob", "al", "hi").Marshal()
	wrongKind, _ := proto.NewLobbyChat("lobby", "alice", "al", "hi").Marshal()

	for _, payload := range [][]byte{
		[]byte("garbage"),
		selfDM,
		foreignRoom,
		wrongKind,
	} {
		sendTo(t, addr, payload)
	}

	if ev, ok := waitEvent(t, b, time.Second); ok {
		t.Fatalf("dropped datagram produced event: %+v", ev)
	}
}

func TestSendUnicasts(t *testing.T) {
	lis, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer lis.Close()
	port := lis.LocalAddr().(*net.UDPAddr).Port

	s := New(Config{UserID: "alice", RoomID: "lobby", Nick: "al"}, bus.New(1), nil)
	if err := s.Send("127.0.0.1", port, "bob", "psst"); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 4096)
	lis.SetReadDeadline(time.Now().Add(3 * time.Second))
	n, _, err := lis.ReadFromUDP(buf)
	if err != nil {
		t.Fatal(err)
	}
	env, err := proto.Decode(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if env.Kind != proto.KindDM || env.From != "alice" || env.To != "bob" || env.Text != "psst" {
		t.Errorf("unexpected dm: %+v", env)
	}
	if env.MsgID == "" || env.SentAt == 0 {
		t.Errorf("missing id or timestamp: %+v", env)
	}
}

func TestSendNoRoute(t *testing.T) {
	s := New(Config{UserID: "alice", RoomID: "lobby", Nick: "al"}, bus.New(1), nil)

	for _, tc := range []struct {
		ip   string
		port int
	}{
		{"", 6001},
		{"192.0.2.1", 0},
		{"not-an-ip", 6001},
	} {
		if err := s.Send(tc.ip, tc.port, "bob", "psst"); !errors.Is(err, ErrNoRoute) {
			t.Errorf("Send(%q, %d) = %v, want ErrNoRoute", tc.ip, tc.port, err)
		}
	}
}

func TestSendCopiesToForwarder(t *testing.T) {
	peerLis, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer peerLis.Close()

	bridgeLis, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatal(err)
	}
	defer bridgeLis.Close()

	fwd := bridge.NewForwarder("127.0.0.1", bridgeLis.LocalAddr().(*net.UDPAddr).Port)
	s := New(Config{UserID: "alice", RoomID: "lobby", Nick: "al"}, bus.New(1), fwd)

	if err := s.Send("127.0.0.1", peerLis.LocalAddr().(*net.UDPAddr).Port, "bob", "persist me"); err != nil {
		t.Fatal(err)
	}

	buf := make([]byte, 4096)
	bridgeLis.SetReadDeadline(time.Now().Add(3 * time.Second))
	n, _, err := bridgeLis.ReadFromUDP(buf)
	if err != nil {
		t.Fatal(err)
	}
	env, err := proto.Decode(buf[:n])
	if err != nil {
		t.Fatal(err)
	}
	if env.To != "bob" || env.Text != "persist me" {
		t.Errorf("bridge copy: %+v", env)
	}
}
