package storage

import (
	"database/sql"
	"fmt"
)

// SaveMessage persists a message. Duplicate msg_ids are a silent no-op:
// the LAN may duplicate datagrams and both chat services forward copies, so
// the unique index plus INSERT OR IGNORE is the deduplication mechanism.
// The returned bool reports whether a row was actually inserted.
func (s *Store) SaveMessage(m Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var to any
	if m.To != "" {
		to = m.To
	}
	res, err := s.db.Exec(`
		INSERT OR IGNORE INTO messages
			(msg_id, room_id, kind, from_user_id, to_user_id, nick, text, sent_at, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.MsgID, m.RoomID, m.Kind, m.From, to, m.Nick, m.Text, m.SentAt, m.ReceivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("save message: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// LobbyHistory returns at most limit lobby messages for a room in ascending
// chronological order. Limit selects the most recent N, never the first N:
// the query walks newest-first and the result is reversed before return.
// before (epoch seconds) restricts to messages older than it; 0 means no
// cursor.
func (s *Store) LobbyHistory(roomID string, limit int, before float64) ([]Message, error) {
	query := `
		SELECT msg_id, room_id, kind, from_user_id, to_user_id, nick, text, sent_at, received_at
		FROM messages
		WHERE room_id = ? AND kind = 'lobby'`
	args := []any{roomID}
	if before > 0 {
		query += ` AND sent_at < ?`
		args = append(args, before)
	}
	query += ` ORDER BY sent_at DESC LIMIT ?`
	args = append(args, normalizeLimit(limit))

	return s.queryMessages(query, args...)
}

// DMHistory returns at most limit dm messages between the unordered pair
// (a, b), in the same ordering convention as LobbyHistory.
func (s *Store) DMHistory(a, b string, limit int, before float64) ([]Message, error) {
	query := `
		SELECT msg_id, room_id, kind, from_user_id, to_user_id, nick, text, sent_at, received_at
		FROM messages
		WHERE kind = 'dm'
		AND ((from_user_id = ? AND to_user_id = ?) OR (from_user_id = ? AND to_user_id = ?))`
	args := []any{a, b, b, a}
	if before > 0 {
		query += ` AND sent_at < ?`
		args = append(args, before)
	}
	query += ` ORDER BY sent_at DESC LIMIT ?`
	args = append(args, normalizeLimit(limit))

	return s.queryMessages(query, args...)
}

func (s *Store) queryMessages(query string, args ...any) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var to sql.NullString
		if err := rows.Scan(&m.MsgID, &m.RoomID, &m.Kind, &m.From, &to, &m.Nick, &m.Text, &m.SentAt, &m.ReceivedAt); err != nil {
			return nil, err
		}
		m.To = to.String
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the store, oldest-first for the caller.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}
