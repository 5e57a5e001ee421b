// Package server assembles the bridge process: one SQLite store fed by the
// UDP collector, a read-only HTTP query surface, and a retention janitor.
// All knobs come from the environment so the bridge can run bare on a
// Raspberry-class box next to the LAN it observes.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"

	"github.com/tipoffchat/tipoff/internal/api"
	"github.com/tipoffchat/tipoff/internal/collector"
	"github.com/tipoffchat/tipoff/internal/storage"
	"github.com/tipoffchat/tipoff/internal/util"
)

var log = logging.Logger("server")

// Options are the bridge knobs, normally read from the environment.
type Options struct {
	DBPath     string
	HTTPAddr   string
	IngestPort int

	RoomID   string
	RoomName string

	RetentionDays int           // rows older than this are swept, 0 disables
	SweepEvery    time.Duration // janitor period, default 24h
}

// OptionsFromEnv loads a .env file when present and builds Options from the
// environment.
func OptionsFromEnv() Options {
	util.LoadEnv()
	return Options{
		DBPath:        util.GetEnv("TIPOFF_DB", "tipoff.db"),
		HTTPAddr:      fmt.Sprintf("%s:%d", util.GetEnv("TIPOFF_HTTP_HOST", ""), util.GetEnvInt("TIPOFF_HTTP_PORT", 8080)),
		IngestPort:    util.GetEnvInt("TIPOFF_INGEST_PORT", 5002),
		RoomID:        util.GetEnv("TIPOFF_ROOM_ID", "lobby"),
		RoomName:      util.GetEnv("TIPOFF_ROOM_NAME", "Lobby"),
		RetentionDays: util.GetEnvInt("TIPOFF_RETENTION_DAYS", 30),
		SweepEvery:    24 * time.Hour,
	}
}

// Server is one assembled bridge. Build with New, drive with Start/Stop or
// Run.
type Server struct {
	opts  Options
	clk   clock.Clock
	store *storage.Store
	coll  *collector.Collector
	hub    *api.Hub
	httpd  *http.Server
	httpLn net.Listener

	stop chan struct{}
	done chan struct{}
}

// New opens the store and wires the components without starting anything.
// clk may be nil for the wall clock.
func New(opts Options, clk clock.Clock) (*Server, error) {
	if clk == nil {
		clk = clock.New()
	}
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = 24 * time.Hour
	}

	store, err := storage.Open(opts.DBPath)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureRoom(opts.RoomID, opts.RoomName); err != nil {
		store.Close()
		return nil, err
	}

	hub := api.NewHub()
	coll := collector.New(collector.Config{Port: opts.IngestPort}, store)
	coll.Notify = hub.Publish

	return &Server{
		opts:  opts,
		clk:   clk,
		store: store,
		coll:  coll,
		hub:   hub,
		httpd: &http.Server{
			Addr:    opts.HTTPAddr,
			Handler: api.NewRouter(api.NewHandler(store, hub)),
		},
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}, nil
}

// Store exposes the underlying store, used by tests and the janitor.
func (s *Server) Store() *storage.Store {
	return s.store
}

// IngestAddr reports the collector's bound address once started.
func (s *Server) IngestAddr() *net.UDPAddr {
	return s.coll.Addr()
}

// HTTPAddr reports the bound HTTP address once started, useful when the
// configured port was 0.
func (s *Server) HTTPAddr() string {
	return s.httpLn.Addr().String()
}

// Start brings up the collector, the HTTP listener and the janitor.
func (s *Server) Start() error {
	if err := s.coll.Start(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", s.opts.HTTPAddr)
	if err != nil {
		s.coll.Stop()
		return err
	}
	s.httpLn = ln
	go func() {
		if err := s.httpd.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("http: %v", err)
		}
	}()

	go s.janitor()

	log.Infof("bridge up: db=%s http=%s ingest=%d", s.opts.DBPath, s.opts.HTTPAddr, s.coll.Addr().Port)
	return nil
}

// Stop shuts everything down in dependency order: no new HTTP reads, then
// no new ingests, then the store.
func (s *Server) Stop() {
	select {
	case <-s.stop:
		return
	default:
		close(s.stop)
	}

	ctx, cancel := context.WithTimeout(context.Background(), util.DefaultFetchTimeout)
	defer cancel()
	if err := s.httpd.Shutdown(ctx); err != nil {
		log.Warnf("http shutdown: %v", err)
	}

	s.coll.Stop()
	if err := s.store.Close(); err != nil {
		log.Warnf("store close: %v", err)
	}
	close(s.done)
}

// Run starts the bridge and blocks until SIGINT or SIGTERM.
func Run(opts Options) error {
	s, err := New(opts, nil)
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		s.store.Close()
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting down")
	s.Stop()
	return nil
}

// janitor periodically deletes messages past the retention age, along with
// users whose only traffic predates it. Runs once at start so a
// long-stopped bridge catches up immediately.
func (s *Server) janitor() {
	if s.opts.RetentionDays <= 0 {
		return
	}

	sweep := func() {
		cutoff := s.clk.Now().AddDate(0, 0, -s.opts.RetentionDays)
		msgs, users, err := s.store.Cleanup(cutoff)
		if err != nil {
			log.Errorf("retention sweep: %v", err)
			return
		}
		if msgs > 0 || users > 0 {
			log.Infof("retention sweep: removed %d messages, %d users", msgs, users)
		}
	}

	sweep()
	ticker := s.clk.Ticker(s.opts.SweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sweep()
		case <-s.stop:
			return
		}
	}
}
