// Package collector is the bridge's ingest side: a passive UDP sink that
// turns forwarded chat copies into durable rows. Senders are not
// authenticated; the only transport-derived fact recorded is the source IP.
package collector

import (
	"net"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/tipoffchat/tipoff/internal/proto"
	"github.com/tipoffchat/tipoff/internal/storage"
	"github.com/tipoffchat/tipoff/internal/util"
)

var log = logging.Logger("collector")

// Config is the static record a Collector is built from.
type Config struct {
	Port int // ingest port

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

// Collector drains the ingest port into the store. Notify, when set before
// Start, is called with every newly persisted message; duplicates never
// reach it.
type Collector struct {
	cfg    Config
	store  *storage.Store
	Notify func(storage.Message)

	conn *net.UDPConn

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a collector over an open store.
func New(cfg Config, store *storage.Store) *Collector {
	cfg.fillDefaults()
	return &Collector{cfg: cfg, store: store, stop: make(chan struct{})}
}

// Start binds the ingest port and launches the receive loop.
func (c *Collector) Start() error {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: c.cfg.Port})
	if err != nil {
		return err
	}
	c.conn = conn

	c.wg.Add(1)
	go c.rxLoop()

	log.Infof("collector up: port=%d", c.Addr().Port)
	return nil
}

// Stop signals the receive loop, waits at most one timeout cycle and closes
// the socket. Safe to call more than once.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)

		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(util.StopWait):
			log.Warnf("collector loop did not stop within %s", util.StopWait)
		}
		c.conn.Close()
	})
}

// Addr reports the bound ingest address, useful when Port was 0.
func (c *Collector) Addr() *net.UDPAddr {
	return c.conn.LocalAddr().(*net.UDPAddr)
}

func (c *Collector) rxLoop() {
	defer c.wg.Done()

	buf := make([]byte, c.cfg.RecvBuf)
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		n, raddr, err := c.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-c.stop:
				return
			default:
			}
			log.Errorf("ingest rx: %v", err)
			continue
		}

		env, err := proto.Decode(buf[:n])
		if err != nil {
			log.Debugf("ingest: malformed datagram from %s: %v", raddr, err)
			continue
		}
		c.ingest(env, raddr.IP.String())
	}
}

// ingest classifies one datagram and persists it. A chat-kind envelope is a
// lobby message; anything else carrying a to field is a dm; the rest is not
// chat traffic and is dropped.
func (c *Collector) ingest(env proto.Envelope, srcIP string) {
	var kind string
	switch {
	case env.Kind == proto.KindChat:
		kind = storage.KindLobby
	case env.To != "":
		kind = storage.KindDM
	default:
		return
	}
	if env.MsgID == "" || env.From == "" {
		return
	}

	msg := storage.Message{
		MsgID:      env.MsgID,
		RoomID:     env.RoomID,
		Kind:       kind,
		From:       env.From,
		Nick:       env.Nick,
		Text:       env.Text,
		SentAt:     env.SentAt,
		ReceivedAt: proto.Now(),
	}
	if kind == storage.KindDM {
		msg.To = env.To
	}

	inserted, err := c.store.SaveMessage(msg)
	if err != nil {
		log.Errorf("persist %s: %v", env.MsgID, err)
		return
	}

	if err := c.store.UpsertUser(storage.User{
		UserID:   env.From,
		Nick:     env.Nick,
		LastSeen: env.SentAt,
		IP:       srcIP,
		RoomID:   env.RoomID,
	}); err != nil {
		log.Errorf("upsert user %s: %v", env.From, err)
	}

	if inserted && c.Notify != nil {
		c.Notify(msg)
	}
}
