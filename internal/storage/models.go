package storage

// Message kinds as persisted and served by the query API.
const (
	KindLobby = "lobby"
	KindDM    = "dm"
)

// Message is one persisted chat message. msg_id is the deduplication key:
// saving the same msg_id again is a no-op, never an error.
type Message struct {
	MsgID      string  `json:"msg_id"`
	RoomID     string  `json:"room_id"`
	Kind       string  `json:"kind"`
	From       string  `json:"from"`
	To         string  `json:"to,omitempty"` // set only for dm
	Nick       string  `json:"nick"`
	Text       string  `json:"text"`
	SentAt     float64 `json:"sent_at"`     // sender clock, epoch seconds
	ReceivedAt float64 `json:"received_at"` // bridge clock, epoch seconds
}

// User is the bridge-observed presence record, derived solely from message
// traffic seen by the collector. It is distinct from the LAN roster.
type User struct {
	UserID   string  `json:"user_id"`
	Nick     string  `json:"nick"`
	LastSeen float64 `json:"last_seen"`
	IP       string  `json:"ip,omitempty"`
	DMPort   int     `json:"dm_port,omitempty"`
	RoomID   string  `json:"room_id"`
}

// Room is created lazily on first reference and immutable thereafter.
type Room struct {
	RoomID    string  `json:"room_id"`
	Name      string  `json:"name"`
	CreatedAt float64 `json:"created_at"`
}

// Stats are the aggregate counts served by /api/stats.
type Stats struct {
	TotalMessages int `json:"total_messages"`
	TotalUsers    int `json:"total_users"`
	TotalRooms    int `json:"total_rooms"`
	LobbyMessages int `json:"lobby_messages"`
	DMMessages    int `json:"dm_messages"`
}
