// Package presence implements soft-state liveness: a transmit loop resends
// one static hello payload at a fixed interval, and a receive loop turns
// peers' hellos into roster events. There are no acknowledgments; liveness
// is inferred purely from the recency of the last heartbeat.
package presence

import (
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"

	"github.com/tipoffchat/tipoff/internal/bus"
	"github.com/tipoffchat/tipoff/internal/proto"
	"github.com/tipoffchat/tipoff/internal/udp"
	"github.com/tipoffchat/tipoff/internal/util"
)

var log = logging.Logger("presence")

// Config is the static record a Service is built from.
type Config struct {
	UserID string
	RoomID string
	Nick   string

	BroadcastIP string
	Port        int // heartbeat port, shared by all peers in the room
	DMPort      int // advertised in the payload so peers can route DMs

	Interval    time.Duration // heartbeat period, default 2s
	ReadTimeout time.Duration // receive poll, default 500ms
	RecvBuf     int           // datagram buffer, default 8KiB
}

func (c *Config) fillDefaults() {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = util.ReadTimeout
	}
	if c.RecvBuf <= 0 {
		c.RecvBuf = 8192
	}
}

// Service owns the heartbeat sockets. One goroutine per direction; sockets
// are never shared across goroutines.
type Service struct {
	cfg  Config
	bus  *bus.Bus
	clk  clock.Clock
	conn *net.UDPConn // receive socket, owned by rxLoop after Start

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a presence service. clk may be nil for the wall clock.
func New(cfg Config, b *bus.Bus, clk clock.Clock) *Service {
	cfg.fillDefaults()
	if clk == nil {
		clk = clock.New()
	}
	return &Service{cfg: cfg, bus: b, clk: clk, stop: make(chan struct{})}
}

// Start binds the heartbeat port and launches both loops. Bind failure is
// the only fatal path; once running, socket errors are logged and the loops
// continue until Stop.
func (s *Service) Start() error {
	conn, err := udp.Listen(s.cfg.Port)
	if err != nil {
		return err
	}
	s.conn = conn

	s.wg.Add(2)
	go s.txLoop()
	go s.rxLoop()

	log.Infof("presence up: room=%s user=%s port=%d interval=%s",
		s.cfg.RoomID, s.cfg.UserID, s.cfg.Port, s.cfg.Interval)
	return nil
}

// Stop signals both loops and waits at most one timeout cycle for them to
// notice. The receive socket is closed afterwards. Safe to call more than
// once and from any goroutine.
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
			log.Warnf("presence loops did not stop within %s", util.StopWait)
		}
		s.conn.Close()
	})
}

// LocalAddr reports the bound heartbeat address, useful when Port was 0.
func (s *Service) LocalAddr() *net.UDPAddr {
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// txLoop resends the static hello payload every interval. The payload never
// changes for the life of the service, so it is marshalled once.
func (s *Service) txLoop() {
	defer s.wg.Done()

	payload, err := proto.NewHello(s.cfg.RoomID, s.cfg.UserID, s.cfg.Nick, s.cfg.DMPort).Marshal()
	if err != nil {
		log.Errorf("hello payload: %v", err)
		return
	}
	dest := &net.UDPAddr{IP: net.ParseIP(s.cfg.BroadcastIP), Port: s.cfg.Port}

	conn, err := udp.NewBroadcastConn()
	if err != nil {
		log.Errorf("heartbeat tx socket: %v", err)
		return
	}
	defer conn.Close()

	send := func() {
		if _, err := conn.WriteToUDP(payload, dest); err != nil {
			log.Errorf("heartbeat tx: %v", err)
		}
	}

	send()
	ticker := s.clk.Ticker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			send()
		case <-s.stop:
			return
		}
	}
}

// rxLoop accepts peers' hellos. The bounded read deadline exists only to
// re-check the stop signal; a timeout is not an error.
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
		n, raddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.stop:
				return
			default:
			}
			log.Errorf("heartbeat rx: %v", err)
			continue
		}

		env, err := proto.Decode(buf[:n])
		if err != nil {
			continue
		}
		if !proto.Accept(env, proto.KindHello, s.cfg.RoomID, s.cfg.UserID) {
			continue
		}

		// The peer address comes from the transport, never the payload;
		// only the DM port is trusted from the sender's claim.
		s.bus.Post(bus.Event{
			Kind:   bus.PeerSeen,
			UserID: env.UserID,
			Nick:   env.Nick,
			IP:     raddr.IP.String(),
			DMPort: env.DMPort,
		})
	}
}
