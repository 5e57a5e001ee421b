// Package dm delivers direct messages as unicast datagrams straight to the
// recipient's advertised DM port. Routing comes from the roster; a peer that
// was never seen, or whose heartbeat never carried an address, cannot be
// messaged.
package dm

import (
	"errors"
	"net"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/tipoffchat/tipoff/internal/bridge"
	"github.com/tipoffchat/tipoff/internal/bus"
	"github.com/tipoffchat/tipoff/internal/proto"
	"github.com/tipoffchat/tipoff/internal/util"
)

var log = logging.Logger("dm")

// ErrNoRoute is returned by Send when no address is known for the recipient.
// Nothing is transmitted in that case.
var ErrNoRoute = errors.New("dm: no route to peer")

// Config is the static record a Service is built from.
type Config struct {
	UserID string
	RoomID string
	Nick   string

	Port int // DM listen port, advertised in our heartbeats

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

// Service owns the DM receive socket. Sends go out on a short-lived dialed
// socket per message, same as the lobby sender.
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

// New creates a DM service. fwd may be nil when the bridge is off.
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

// Start binds the DM port and launches the receive loop. Unlike the
// broadcast ports, this one is exclusive to us.
func (s *Service) Start() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: s.cfg.Port})
	if err != nil {
		return err
	}
	s.conn = conn

	s.wg.Add(1)
	go s.rxLoop()

	log.Infof("dm up: room=%s port=%d", s.cfg.RoomID, s.LocalAddr().Port)
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
			log.Warnf("dm loop did not stop within %s", util.StopWait)
		}
		s.conn.Close()
	})
}

// LocalAddr reports the bound DM address, useful when Port was 0.
func (s *Service) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// SetNick swaps the display name used on outgoing messages.
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

// Send unicasts one message to the peer at ip:port. Callers resolve the
// route through the roster first; a missing route is ErrNoRoute and nothing
// goes on the wire. The bridge copy, when configured, is independent of the
// unicast outcome.
func (s *Service) Send(ip string, port int, toUserID, text string) error {
	if ip == "" || port <= 0 {
		return ErrNoRoute
	}

	env := proto.NewDirect(s.cfg.RoomID, s.cfg.UserID, toUserID, s.currentNick(), text)
	payload, err := env.Marshal()
	if err != nil {
		return err
	}

	dest := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	if dest.IP == nil {
		return ErrNoRoute
	}
	conn, err := net.DialUDP("udp4", nil, dest)
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := conn.Write(payload); err != nil {
		return err
	}

	if s.fwd != nil {
		s.fwd.Forward(env)
	}
	return nil
}

// rxLoop accepts direct messages. Any dm-kind datagram for our room from
// another user is taken as ours: the socket is unicast, so arriving here
// already means the sender routed to us, and the to field is not re-checked.
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
			log.Errorf("dm rx: %v", err)
			continue
		}

		env, err := proto.Decode(buf[:n])
		if err != nil {
			continue
		}
		if !proto.Accept(env, proto.KindDM, s.cfg.RoomID, s.cfg.UserID) {
			continue
		}

		s.bus.Post(bus.Event{
			Kind:   bus.DirectMsg,
			UserID: env.From,
			Nick:   env.Nick,
			Text:   env.Text,
		})
	}
}
