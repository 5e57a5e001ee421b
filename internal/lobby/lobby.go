// Package lobby carries room-wide chat over the same broadcast medium as
// presence heartbeats, on its own port. Delivery is best effort: a message
// reaches whoever is listening at that moment, and the bridge forwarder is
// the only path to anything more durable.
package lobby

import (
	"net"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/tipoffchat/tipoff/internal/bridge"
	"github.com/tipoffchat/tipoff/internal/bus"
	"github.com/tipoffchat/tipoff/internal/proto"
	"github.com/tipoffchat/tipoff/internal/udp"
	"github.com/tipoffchat/tipoff/internal/util"
)

var log = logging.Logger("lobby")

// Config is the static record a Service is built from.
type Config struct {
	UserID string
	RoomID string
	Nick   string

	BroadcastIP string
	Port        int // chat port, shared by all peers in the room

	ReadTimeout time.Duration // receive poll, default 500ms
	RecvBuf     int           // datagram buffer, default 16KiB
}

func (c *Config) fillDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = util.ReadTimeout
	}
	if c.RecvBuf <= 0 {
		c.RecvBuf = 16384
	}
}

// Service owns the lobby receive socket and sends on a fresh broadcast
// socket per message. fwd is optional; when set, every sent message is also
// copied to the bridge collector.
type Service struct {
	cfg Config
	bus *bus.Bus
	fwd *bridge.Forwarder

	mu   sync.Mutex
	nick string

	conn *net.UDPConn // receive socket, owned by rxLoop after Start

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a lobby service. fwd may be nil when the bridge is off.
func New(cfg Config, b *bus.Bus, fwd *bridge.Forwarder) *Service {
	cfg.fillDefaults()
	return &Service{
		cfg:  cfg,
		bus:  b,
		fwd:  fwd,
		nick: cfg.Nick,
		stop: make(chan struct{}),
	}
}

// Start binds the chat port and launches the receive loop.
func (s *Service) Start() error {
	conn, err := udp.Listen(s.cfg.Port)
	if err != nil {
		return err
	}
	s.conn = conn

	s.wg.Add(1)
	go s.rxLoop()

	log.Infof("lobby up: room=%s port=%d", s.cfg.RoomID, s.cfg.Port)
	return nil
}

// Stop signals the receive loop, waits at most one timeout cycle and closes
// the socket. Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(util.StopWait):
			log.Warnf("lobby loop did not stop within %s", util.StopWait)
		}
		s.conn.Close()
	})
}

// LocalAddr reports the bound chat address, useful when Port was 0.
func (s *Service) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// SetNick swaps the display name used on outgoing messages. Messages
// already on the wire keep the name they were sent with.
func (s *Service) SetNick(nick string) {
	if nick == "" {
		return
	}
	s.mu.Lock()
	s.nick = nick
	s.mu.Unlock()
}

func (s *Service) currentNick() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nick
}

// Send broadcasts one chat message to the room and, when a forwarder is
// configured, copies it to the bridge. The two paths are independent; a
// dead bridge never blocks the LAN send.
func (s *Service) Send(text string) error {
	env := proto.NewLobbyChat(s.cfg.RoomID, s.cfg.UserID, s.currentNick(), text)

	payload, err := env.Marshal()
	if err != nil {
		return err
	}

	conn, err := udp.NewBroadcastConn()
	if err != nil {
		return err
	}
	defer conn.Close()

	dest := &net.UDPAddr{IP: net.ParseIP(s.cfg.BroadcastIP), Port: s.cfg.Port}
	if _, err := conn.WriteToUDP(payload, dest); err != nil {
		return err
	}

	if s.fwd != nil {
		s.fwd.Forward(env)
	}
	return nil
}

// rxLoop accepts room chat from peers. Same bounded-deadline shape as the
// presence receive loop.
func (s *Service) rxLoop() {
	defer s.wg.Done()

	buf := make([]byte, s.cfg.RecvBuf)
	for {
		select {
		case <-s.stop:
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		n, _, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.stop:
				return
			default:
			}
			log.Errorf("lobby rx: %v", err)
			continue
		}

		env, err := proto.Decode(buf[:n])
		if err != nil {
			continue
		}
		if !proto.Accept(env, proto.KindChat, s.cfg.RoomID, s.cfg.UserID) {
			continue
		}

		s.bus.Post(bus.Event{
			Kind:   bus.LobbyMsg,
			UserID: env.From,
			Nick:   env.Nick,
			Text:   env.Text,
		})
	}
}
