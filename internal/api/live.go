package api

import (
	"net/http"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	// Read-only stream on a LAN bridge; origin checks buy nothing here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Live serves GET /api/live: a websocket that replays the recent backlog
// and then streams every newly ingested message as JSON text frames.
func (h *Handler) Live(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		h.Error(w, http.StatusNotFound, "live stream disabled")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debugf("live upgrade: %v", err)
		return
	}
	defer conn.Close()

	backlog, ch, cancel := h.hub.Subscribe()
	defer cancel()

	for _, m := range backlog {
		if err := conn.WriteJSON(m); err != nil {
			return
		}
	}

	// Drain client frames so close and ping frames are processed; the
	// stream itself is one-way.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-clientGone:
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(m); err != nil {
				return
			}
		}
	}
}
