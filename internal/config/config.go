// Package config is the static configuration record handed to every service
// constructor at process start. There is no ambient global: callers load one
// Config and pass it down.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/tipoffchat/tipoff/internal/util"
)

type Config struct {
	Identity Identity `json:"identity"`
	Room     Room     `json:"room"`
	Net      Net      `json:"net"`
	Bridge   Bridge   `json:"bridge"`
}

type Identity struct {
	UserID string `json:"user_id"`
	Nick   string `json:"nick"`
}

type Room struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Net struct {
	BroadcastIP string `json:"broadcast_ip"`
	HelloPort   int    `json:"hello_port"`
	ChatPort    int    `json:"chat_port"`
	DMPort      int    `json:"dm_port"`

	HeartbeatMS   int `json:"heartbeat_ms"`
	ReadTimeoutMS int `json:"read_timeout_ms"`
	PruneSec      int `json:"prune_sec"`
	PruneSweepSec int `json:"prune_sweep_sec"`
	RecvBuf       int `json:"recv_buf"`
}

type Bridge struct {
	Enabled      bool   `json:"enabled"`
	Host         string `json:"host"`
	HTTPPort     int    `json:"http_port"`
	IngestPort   int    `json:"ingest_port"`
	LoadHistory  bool   `json:"load_history"`
	HistoryLimit int    `json:"history_limit"`
}

// Default returns the stock configuration. The user id is intentionally left
// empty; Validate rejects it so first-run setup has to pick one.
func Default() Config {
	return Config{
		Identity: Identity{},
		Room:     Room{ID: "lobby", Name: "Lobby"},
		Net: Net{
			BroadcastIP:   "192.168.100.255",
			HelloPort:     5000,
			ChatPort:      5001,
			DMPort:        5002,
			HeartbeatMS:   2000,
			ReadTimeoutMS: 500,
			PruneSec:      15,
			PruneSweepSec: 3,
			RecvBuf:       16384,
		},
		Bridge: Bridge{
			Enabled:      false,
			Host:         "127.0.0.1",
			HTTPPort:     8080,
			IngestPort:   5002,
			LoadHistory:  true,
			HistoryLimit: 50,
		},
	}
}

// Validate checks the whole record. It is called on every Load and Save so a
// bad file never reaches the services.
func (c *Config) Validate() error {
	if err := util.ValidateUserID(c.Identity.UserID); err != nil {
		return fmt.Errorf("identity.user_id: %w", err)
	}
	if l := len(c.Room.ID); l < 1 || l > 64 {
		return errors.New("room.id must be 1..64 characters")
	}
	for _, ch := range c.Room.ID {
		if ch == ' ' {
			return errors.New("room.id must not contain spaces")
		}
	}
	if ip := net.ParseIP(c.Net.BroadcastIP); ip == nil || ip.To4() == nil {
		return fmt.Errorf("net.broadcast_ip %q is not an IPv4 address", c.Net.BroadcastIP)
	}
	for name, p := range map[string]int{
		"net.hello_port": c.Net.HelloPort,
		"net.chat_port":  c.Net.ChatPort,
		"net.dm_port":    c.Net.DMPort,
	} {
		if p < 1024 || p > 65535 {
			return fmt.Errorf("%s must be 1024..65535", name)
		}
	}
	if c.Net.HeartbeatMS < 100 {
		return errors.New("net.heartbeat_ms must be >= 100")
	}
	if c.Net.PruneSec < 1 {
		return errors.New("net.prune_sec must be >= 1")
	}
	if c.Bridge.Enabled {
		if c.Bridge.Host == "" {
			return errors.New("bridge.host required when bridge is enabled")
		}
		if c.Bridge.HTTPPort < 1 || c.Bridge.HTTPPort > 65535 {
			return errors.New("bridge.http_port must be 1..65535")
		}
		if c.Bridge.IngestPort < 1 || c.Bridge.IngestPort > 65535 {
			return errors.New("bridge.ingest_port must be 1..65535")
		}
	}
	return nil
}

// Load reads and validates a config file. Missing fields keep their
// defaults.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

// Save validates and writes a config file.
func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	return util.WriteJSONFile(path, cfg)
}

// Ensure loads the config if it exists; otherwise writes a default file with
// the given user id filled in. Returns (cfg, createdNew, err).
func Ensure(path, userID string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	cfg.Identity.UserID = userID
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
