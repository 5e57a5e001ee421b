package proto

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Wire discriminator values. Every datagram on the LAN carries exactly one.
const (
	KindHello = "hello"
	KindChat  = "chat"
	KindDM    = "dm"
)

// Envelope is the single JSON datagram format shared by the presence, lobby
// and DM transports. Kind selects which fields are meaningful; unused fields
// are omitted on the wire.
type Envelope struct {
	Kind   string `json:"kind"`
	RoomID string `json:"room_id"`

	// hello only
	UserID string `json:"user_id,omitempty"`
	DMPort int    `json:"dm,omitempty"`

	// chat and dm
	From   string  `json:"from,omitempty"`
	To     string  `json:"to,omitempty"` // dm only
	Text   string  `json:"text,omitempty"`
	MsgID  string  `json:"msg_id,omitempty"`
	SentAt float64 `json:"sent_at,omitempty"` // epoch seconds

	Nick string `json:"nick,omitempty"`
}

// NewHello builds the static presence heartbeat payload.
func NewHello(roomID, userID, nick string, dmPort int) Envelope {
	return Envelope{
		Kind:   KindHello,
		RoomID: roomID,
		UserID: userID,
		Nick:   nick,
		DMPort: dmPort,
	}
}

// NewLobbyChat builds a room-wide chat message with a fresh msg_id.
func NewLobbyChat(roomID, from, nick, text string) Envelope {
	return Envelope{
		Kind:   KindChat,
		RoomID: roomID,
		From:   from,
		Nick:   nick,
		Text:   text,
		MsgID:  uuid.NewString(),
		SentAt: Now(),
	}
}

// NewDirect builds a unicast chat message addressed to one peer.
func NewDirect(roomID, from, to, nick, text string) Envelope {
	env := NewLobbyChat(roomID, from, nick, text)
	env.Kind = KindDM
	env.To = to
	return env
}

// Sender returns the originating user id regardless of kind.
func (e Envelope) Sender() string {
	if e.Kind == KindHello {
		return e.UserID
	}
	return e.From
}

// Marshal encodes the envelope for the wire.
func (e Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a datagram payload. Non-JSON and non-object payloads fail;
// callers drop them silently.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Accept is the shared validation pipeline run by every receive loop:
// the declared kind must match, the datagram must belong to our room, and
// self-originated datagrams are rejected so a peer never reacts to the
// network loop-back of its own broadcast.
func Accept(env Envelope, wantKind, roomID, selfID string) bool {
	if env.Kind != wantKind {
		return false
	}
	if env.RoomID != roomID {
		return false
	}
	from := env.Sender()
	if from == "" || from == selfID {
		return false
	}
	return true
}

// Now returns the current time as epoch seconds, the wire timestamp format.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// AtTime converts an epoch-seconds wire timestamp to a time.Time.
func AtTime(sec float64) time.Time {
	return time.Unix(0, int64(sec*float64(time.Second)))
}
