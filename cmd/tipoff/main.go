// Command tipoff runs one LAN chat peer with a console front: plain lines
// go to the lobby, /dm sends a direct message, /who prints the roster.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	logging "github.com/ipfs/go-log/v2"

	"github.com/tipoffchat/tipoff/internal/app"
	"github.com/tipoffchat/tipoff/internal/bus"
	"github.com/tipoffchat/tipoff/internal/config"
	"github.com/tipoffchat/tipoff/internal/dm"
	"github.com/tipoffchat/tipoff/internal/state"
)

var appVersion = "dev"

var (
	configPath  = flag.String("config", "tipoff.json", "Config file path (created on first run)")
	userID      = flag.String("user", "", "User id (overrides config)")
	nick        = flag.String("nick", "", "Display name (overrides config)")
	roomID      = flag.String("room", "", "Room id (overrides config)")
	broadcastIP = flag.String("broadcast", "", "Broadcast address (overrides config)")
	logLevel    = flag.String("log", "error", "Log level: debug, info, warn, error")
	version     = flag.Bool("version", false, "Show version")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("tipoff v%s\n", appVersion)
		return
	}

	if err := logging.SetLogLevel("*", *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "bad log level %q\n", *logLevel)
		os.Exit(1)
	}

	defaultUser := *userID
	if defaultUser == "" {
		defaultUser = defaultUserID()
	}
	cfg, created, err := config.Ensure(*configPath, defaultUser)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if created {
		fmt.Printf("created %s\n", *configPath)
	}

	// Flags beat the file.
	if *userID != "" {
		cfg.Identity.UserID = *userID
	}
	if *nick != "" {
		cfg.Identity.Nick = *nick
	}
	if cfg.Identity.Nick == "" {
		cfg.Identity.Nick = state.RandomNick()
	}
	if *roomID != "" {
		cfg.Room.ID = *roomID
	}
	if *broadcastIP != "" {
		cfg.Net.BroadcastIP = *broadcastIP
	}

	a, err := app.New(cfg, *configPath, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup: %v\n", err)
		os.Exit(1)
	}
	a.OnEvent = printEvent

	if err := a.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "start: %v\n", err)
		os.Exit(1)
	}
	defer a.Stop()

	fmt.Printf("tipoff v%s: %s in #%s as %q\n", appVersion, cfg.Identity.UserID, cfg.Room.ID, cfg.Identity.Nick)
	fmt.Println("commands: /dm <user> <text>, /who, /quit")

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-sig:
			fmt.Println("\nbye")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleLine(a, cfg, line) {
				return
			}
		}
	}
}

// handleLine dispatches one console line; false means quit.
func handleLine(a *app.App, cfg config.Config, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return true

	case line == "/quit" || line == "/exit":
		return false

	case line == "/who":
		for _, e := range a.Roster().List() {
			marker := " "
			if e.IsSelf {
				marker = "*"
			}
			route := ""
			if e.IP != "" {
				route = fmt.Sprintf(" %s:%d", e.IP, e.DMPort)
			}
			fmt.Printf("%s %s (%s)%s\n", marker, e.UserID, e.Nick, route)
		}
		return true

	case strings.HasPrefix(line, "/dm "):
		parts := strings.SplitN(line[len("/dm "):], " ", 2)
		if len(parts) < 2 || parts[0] == "" || strings.TrimSpace(parts[1]) == "" {
			fmt.Println("usage: /dm <user> <text>")
			return true
		}
		to, text := parts[0], parts[1]
		if err := a.SendDM(to, text); err != nil {
			if err == dm.ErrNoRoute {
				fmt.Printf("no route to %q (offline?)\n", to)
			} else {
				fmt.Printf("dm failed: %v\n", err)
			}
			return true
		}
		fmt.Printf("[dm → %s] %s\n", to, text)
		return true

	case strings.HasPrefix(line, "/"):
		fmt.Printf("unknown command %q\n", strings.Fields(line)[0])
		return true

	default:
		if err := a.SendLobby(line); err != nil {
			fmt.Printf("send failed: %v\n", err)
			return true
		}
		// Optimistic echo; the network loop-back of our own broadcast is
		// filtered on receive.
		fmt.Printf("[#%s] %s: %s\n", cfg.Room.ID, cfg.Identity.Nick, line)
		return true
	}
}

func printEvent(ev bus.Event) {
	switch ev.Kind {
	case bus.PeerSeen:
		// Heartbeats repeat every couple of seconds; printing each one
		// would drown the console. /who shows the roster on demand.
	case bus.PeerGone:
		fmt.Printf("* %s left\n", ev.UserID)
	case bus.LobbyMsg:
		if ev.History {
			fmt.Printf("(history) %s: %s\n", ev.Nick, ev.Text)
		} else {
			fmt.Printf("%s: %s\n", ev.Nick, ev.Text)
		}
	case bus.DirectMsg:
		fmt.Printf("[dm ← %s] %s\n", ev.Nick, ev.Text)
	}
}

func defaultUserID() string {
	if u := os.Getenv("USER"); u != "" {
		return sanitizeID(u)
	}
	host, err := os.Hostname()
	if err == nil && host != "" {
		return sanitizeID(host)
	}
	return "anon"
}

func sanitizeID(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "anon"
	}
	out := b.String()
	if len(out) > 32 {
		out = out[:32]
	}
	return out
}
