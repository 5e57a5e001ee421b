package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// UpsertUser stores or refreshes the bridge-observed record for a user.
// A zero dm_port in the update keeps the previously known port, since most
// forwarded messages do not carry one.
func (s *Store) UpsertUser(u User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var port any
	if u.DMPort > 0 {
		port = u.DMPort
	}
	_, err := s.db.Exec(`
		INSERT INTO users (user_id, nick, last_seen, ip, dm_port, room_id)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			nick      = CASE WHEN excluded.nick != '' THEN excluded.nick ELSE users.nick END,
			last_seen = MAX(users.last_seen, excluded.last_seen),
			ip        = COALESCE(excluded.ip, users.ip),
			dm_port   = COALESCE(excluded.dm_port, users.dm_port),
			room_id   = excluded.room_id`,
		u.UserID, u.Nick, u.LastSeen, nullIfEmpty(u.IP), port, u.RoomID,
	)
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.UserID, err)
	}
	return nil
}

// GetUser returns the bridge-observed record for one user.
func (s *Store) GetUser(userID string) (User, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var u User
	var ip sql.NullString
	var port sql.NullInt64
	err := s.db.QueryRow(`
		SELECT user_id, nick, last_seen, ip, dm_port, room_id
		FROM users WHERE user_id = ?`, userID).
		Scan(&u.UserID, &u.Nick, &u.LastSeen, &ip, &port, &u.RoomID)
	if err == sql.ErrNoRows {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	u.IP = ip.String
	u.DMPort = int(port.Int64)
	return u, true, nil
}

// ActiveUsers returns users in a room seen since the given instant,
// most-recent-first.
func (s *Store) ActiveUsers(roomID string, since time.Time) ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT user_id, nick, last_seen, ip, dm_port, room_id
		FROM users
		WHERE room_id = ? AND last_seen > ?
		ORDER BY last_seen DESC`, roomID, epoch(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		var ip sql.NullString
		var port sql.NullInt64
		if err := rows.Scan(&u.UserID, &u.Nick, &u.LastSeen, &ip, &port, &u.RoomID); err != nil {
			return nil, err
		}
		u.IP = ip.String
		u.DMPort = int(port.Int64)
		out = append(out, u)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
