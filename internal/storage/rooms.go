package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// EnsureRoom creates a room record if it does not exist. Rooms are immutable
// after creation; a second call with a different name is a no-op.
func (s *Store) EnsureRoom(roomID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO rooms (room_id, name, created_at)
		VALUES (?, ?, ?)`,
		roomID, name, epoch(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("ensure room %s: %w", roomID, err)
	}
	return nil
}

// GetRoom returns a room record.
func (s *Store) GetRoom(roomID string) (Room, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var r Room
	err := s.db.QueryRow(`SELECT room_id, name, created_at FROM rooms WHERE room_id = ?`, roomID).
		Scan(&r.RoomID, &r.Name, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return Room{}, false, nil
	}
	if err != nil {
		return Room{}, false, err
	}
	return r, true, nil
}
