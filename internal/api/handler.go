// Package api is the bridge's read-only HTTP surface over the store. There
// are no write endpoints and no authentication; anything that mutates state
// arrives through the UDP collector, never through HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/tipoffchat/tipoff/internal/storage"
)

var log = logging.Logger("api")

// ActiveWindow is how far back /api/users looks for traffic.
const ActiveWindow = 15 * time.Minute

// Handler carries the shared dependencies of all endpoints. hub may be nil
// when the live tail is disabled.
type Handler struct {
	store *storage.Store
	hub   *Hub
}

// NewHandler creates a handler over an open store.
func NewHandler(store *storage.Store, hub *Hub) *Handler {
	return &Handler{store: store, hub: hub}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends the {error, status} shape every failure path uses.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]any{"error": message, "status": status})
}

// queryInt parses an optional integer query parameter; absent or malformed
// values fall back to def.
func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// queryFloat parses an optional float query parameter, 0 when absent.
func queryFloat(r *http.Request, key string) float64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return f
}

// LobbyMessages serves GET /api/messages/lobby.
func (h *Handler) LobbyMessages(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		roomID = "lobby"
	}
	msgs, err := h.store.LobbyHistory(roomID, queryInt(r, "limit", 0), queryFloat(r, "before"))
	if err != nil {
		log.Errorf("lobby history: %v", err)
		h.Error(w, http.StatusInternalServerError, "query failed")
		return
	}
	if msgs == nil {
		msgs = []storage.Message{}
	}
	h.JSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// DMMessages serves GET /api/messages/dm. Both user parameters are
// required; the pair is unordered.
func (h *Handler) DMMessages(w http.ResponseWriter, r *http.Request) {
	user1 := r.URL.Query().Get("user1")
	user2 := r.URL.Query().Get("user2")
	if user1 == "" || user2 == "" {
		h.Error(w, http.StatusBadRequest, "user1 and user2 are required")
		return
	}
	msgs, err := h.store.DMHistory(user1, user2, queryInt(r, "limit", 0), queryFloat(r, "before"))
	if err != nil {
		log.Errorf("dm history: %v", err)
		h.Error(w, http.StatusInternalServerError, "query failed")
		return
	}
	if msgs == nil {
		msgs = []storage.Message{}
	}
	h.JSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// Users serves GET /api/users: users with traffic inside the recency
// window, most recent first.
func (h *Handler) Users(w http.ResponseWriter, r *http.Request) {
	roomID := r.URL.Query().Get("room_id")
	if roomID == "" {
		roomID = "lobby"
	}
	users, err := h.store.ActiveUsers(roomID, time.Now().Add(-ActiveWindow))
	if err != nil {
		log.Errorf("active users: %v", err)
		h.Error(w, http.StatusInternalServerError, "query failed")
		return
	}
	if users == nil {
		users = []storage.User{}
	}
	h.JSON(w, http.StatusOK, map[string]any{"users": users})
}

// Stats serves GET /api/stats.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats()
	if err != nil {
		log.Errorf("stats: %v", err)
		h.Error(w, http.StatusInternalServerError, "query failed")
		return
	}
	h.JSON(w, http.StatusOK, stats)
}

// Health serves GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// NotFound is the catch-all for unmatched paths.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.Error(w, http.StatusNotFound, "not found")
}
