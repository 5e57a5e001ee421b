// Package app assembles one peer: presence, lobby and dm services around a
// single roster, with an optional bridge for history and persistence. The
// drain loop here is the only writer of the roster; network goroutines only
// post events.
package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"

	"github.com/tipoffchat/tipoff/internal/bridge"
	"github.com/tipoffchat/tipoff/internal/bus"
	"github.com/tipoffchat/tipoff/internal/config"
	"github.com/tipoffchat/tipoff/internal/dm"
	"github.com/tipoffchat/tipoff/internal/lobby"
	"github.com/tipoffchat/tipoff/internal/presence"
	"github.com/tipoffchat/tipoff/internal/state"
	"github.com/tipoffchat/tipoff/internal/util"
)

var log = logging.Logger("app")

// App is one running peer. Build with New, set OnEvent, then Start.
type App struct {
	cfg    config.Config
	clk    clock.Clock
	bus    *bus.Bus
	roster *state.Roster

	pres *presence.Service
	lob  *lobby.Service
	dms  *dm.Service

	client *bridge.Client // nil when the bridge is off

	// OnEvent receives every drained event after the roster has been
	// updated for it, plus PeerGone from the prune sweep. Set before
	// Start; called from the app's own goroutines.
	OnEvent func(bus.Event)

	configPath string
	stopWatch  func()

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New wires a peer from its config. configPath may be empty to disable the
// nick hot-reload watcher. clk may be nil for the wall clock.
func New(cfg config.Config, configPath string, clk clock.Clock) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clk == nil {
		clk = clock.New()
	}

	b := bus.New(bus.DefaultBuffer)
	roster := state.New(cfg.Identity.UserID, cfg.Identity.Nick, clk)

	var fwd *bridge.Forwarder
	var client *bridge.Client
	if cfg.Bridge.Enabled {
		fwd = bridge.NewForwarder(cfg.Bridge.Host, cfg.Bridge.IngestPort)
		client = bridge.NewClient(cfg.Bridge.Host, cfg.Bridge.HTTPPort)
	}

	readTimeout := time.Duration(cfg.Net.ReadTimeoutMS) * time.Millisecond

	a := &App{
		cfg:        cfg,
		clk:        clk,
		bus:        b,
		roster:     roster,
		client:     client,
		configPath: configPath,
		stop:       make(chan struct{}),
	}

	a.pres = presence.New(presence.Config{
		UserID:      cfg.Identity.UserID,
		RoomID:      cfg.Room.ID,
		Nick:        cfg.Identity.Nick,
		BroadcastIP: cfg.Net.BroadcastIP,
		Port:        cfg.Net.HelloPort,
		DMPort:      cfg.Net.DMPort,
		Interval:    time.Duration(cfg.Net.HeartbeatMS) * time.Millisecond,
		ReadTimeout: readTimeout,
		RecvBuf:     cfg.Net.RecvBuf,
	}, b, clk)

	a.lob = lobby.New(lobby.Config{
		UserID:      cfg.Identity.UserID,
		RoomID:      cfg.Room.ID,
		Nick:        cfg.Identity.Nick,
		BroadcastIP: cfg.Net.BroadcastIP,
		Port:        cfg.Net.ChatPort,
		ReadTimeout: readTimeout,
		RecvBuf:     cfg.Net.RecvBuf,
	}, b, fwd)

	a.dms = dm.New(dm.Config{
		UserID:      cfg.Identity.UserID,
		RoomID:      cfg.Room.ID,
		Nick:        cfg.Identity.Nick,
		Port:        cfg.Net.DMPort,
		ReadTimeout: readTimeout,
		RecvBuf:     cfg.Net.RecvBuf,
	}, b, fwd)

	return a, nil
}

// Roster exposes the shared roster for read access.
func (a *App) Roster() *state.Roster {
	return a.roster
}

// Bridge exposes the query client, nil when bridging is off.
func (a *App) Bridge() *bridge.Client {
	return a.client
}

// Start replays lobby history when available, brings up the three services
// and launches the drain and prune loops.
func (a *App) Start() error {
	a.replayHistory()

	if err := a.dms.Start(); err != nil {
		return fmt.Errorf("dm service: %w", err)
	}
	if err := a.lob.Start(); err != nil {
		a.dms.Stop()
		return fmt.Errorf("lobby service: %w", err)
	}
	if err := a.pres.Start(); err != nil {
		a.lob.Stop()
		a.dms.Stop()
		return fmt.Errorf("presence service: %w", err)
	}

	a.wg.Add(2)
	go a.drainLoop()
	go a.pruneLoop()

	if a.configPath != "" {
		stop, err := config.Watch(a.configPath, a.onConfigChange)
		if err != nil {
			log.Warnf("config watch disabled: %v", err)
		} else {
			a.stopWatch = stop
		}
	}

	log.Infof("peer up: user=%s room=%s", a.cfg.Identity.UserID, a.cfg.Room.ID)
	return nil
}

// Stop tears the peer down: services first so the bus producers quiet, then
// the bus so the drain loop exits. Safe to call more than once.
func (a *App) Stop() {
	a.stopOnce.Do(func() {
		if a.stopWatch != nil {
			a.stopWatch()
		}
		close(a.stop)

		a.pres.Stop()
		a.lob.Stop()
		a.dms.Stop()
		a.bus.Close()

		done := make(chan struct{})
		go func() {
			a.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(util.StopWait):
			log.Warn("app loops did not stop in time")
		}
	})
}

// SendLobby broadcasts one chat line. The caller renders its own text; the
// network loop-back of the broadcast is filtered out on receive.
func (a *App) SendLobby(text string) error {
	return a.lob.Send(text)
}

// SendDM resolves the recipient through the roster and unicasts to it.
// Returns dm.ErrNoRoute when the peer was never seen or advertised no port.
func (a *App) SendDM(toUserID, text string) error {
	ip, port, ok := a.roster.Route(toUserID)
	if !ok {
		return dm.ErrNoRoute
	}
	return a.dms.Send(ip, port, toUserID, text)
}

// replayHistory posts recent lobby history from the bridge onto the bus so
// it flows through the same consumer path as live traffic, marked History.
func (a *App) replayHistory() {
	if a.client == nil || !a.cfg.Bridge.LoadHistory {
		return
	}
	msgs := a.client.LobbyHistory(a.cfg.Room.ID, a.cfg.Bridge.HistoryLimit)
	for _, m := range msgs {
		if m.From == a.cfg.Identity.UserID {
			continue
		}
		a.bus.Post(bus.Event{
			Kind:    bus.LobbyMsg,
			UserID:  m.From,
			Nick:    m.Nick,
			Text:    m.Text,
			History: true,
		})
	}
	if len(msgs) > 0 {
		log.Infof("replayed %d lobby messages from bridge", len(msgs))
	}
}

// drainLoop is the single consumer of the bus and the single writer of the
// roster.
func (a *App) drainLoop() {
	defer a.wg.Done()

	for ev := range a.bus.Events() {
		if ev.Kind == bus.PeerSeen {
			a.roster.UpsertPeer(ev.UserID, ev.Nick, ev.IP, ev.DMPort)
		}
		if a.OnEvent != nil {
			a.OnEvent(ev)
		}
	}
}

// pruneLoop sweeps the roster for silent peers. Removed peers are surfaced
// as PeerGone through the same OnEvent path as drained traffic.
func (a *App) pruneLoop() {
	defer a.wg.Done()

	window := time.Duration(a.cfg.Net.PruneSec) * time.Second
	ticker := a.clk.Ticker(time.Duration(a.cfg.Net.PruneSweepSec) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, userID := range a.roster.Prune(window) {
				if a.OnEvent != nil {
					a.OnEvent(bus.Event{Kind: bus.PeerGone, UserID: userID})
				}
			}
		case <-a.stop:
			return
		}
	}
}

// onConfigChange applies a reloaded config file. Only the nick is hot; every
// other field needs a restart to take effect.
func (a *App) onConfigChange(cfg config.Config) {
	nick := cfg.Identity.Nick
	if nick == "" || nick == a.lobNick() {
		return
	}
	log.Infof("nick changed to %q", nick)
	a.roster.SetSelfNick(nick)
	a.lob.SetNick(nick)
	a.dms.SetNick(nick)
}

func (a *App) lobNick() string {
	if self, ok := a.roster.Get(a.cfg.Identity.UserID); ok {
		return self.Nick
	}
	return ""
}
