// Package storage is the durable side of the bridge: messages, bridge-observed
// users and rooms in a single SQLite file. The collector is the only writer;
// the query API reads independently. SQLite's own locking serializes access,
// the wrapper mutex just keeps Close orderly.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	_ "modernc.org/sqlite"
)

var log = logging.Logger("store")

// Store wraps the SQLite database backing the bridge.
type Store struct {
	db   *sql.DB
	path string
	mu   sync.RWMutex
}

// Open opens or creates the database at path and prepares the schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL mode so API reads never stall the collector's writes.
	if _, err := db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA busy_timeout = 5000;
		PRAGMA foreign_keys = ON;
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS messages (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			msg_id       TEXT UNIQUE NOT NULL,
			room_id      TEXT NOT NULL,
			kind         TEXT NOT NULL,
			from_user_id TEXT NOT NULL,
			to_user_id   TEXT,
			nick         TEXT NOT NULL DEFAULT '',
			text         TEXT NOT NULL DEFAULT '',
			sent_at      REAL NOT NULL,
			received_at  REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_messages_room_sent ON messages (room_id, sent_at);
		CREATE INDEX IF NOT EXISTS idx_messages_dm_pair   ON messages (from_user_id, to_user_id, sent_at);

		CREATE TABLE IF NOT EXISTS users (
			user_id   TEXT PRIMARY KEY,
			nick      TEXT NOT NULL DEFAULT '',
			last_seen REAL NOT NULL,
			ip        TEXT,
			dm_port   INTEGER,
			room_id   TEXT NOT NULL DEFAULT 'lobby'
		);

		CREATE TABLE IF NOT EXISTS rooms (
			room_id    TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			created_at REAL NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Stats returns the aggregate counters for /api/stats.
func (s *Store) Stats() (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var st Stats
	row := s.db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM messages),
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM rooms),
			(SELECT COUNT(*) FROM messages WHERE kind = 'lobby'),
			(SELECT COUNT(*) FROM messages WHERE kind = 'dm')
	`)
	if err := row.Scan(&st.TotalMessages, &st.TotalUsers, &st.TotalRooms, &st.LobbyMessages, &st.DMMessages); err != nil {
		return Stats{}, err
	}
	return st, nil
}

// Cleanup deletes messages received before cutoff, then user records not
// seen since cutoff. Users who authored a message newer than the cutoff
// stay even when their own last_seen field has gone stale.
func (s *Store) Cleanup(cutoff time.Time) (messages, users int64, err error) {
	ts := epoch(cutoff)

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM messages WHERE received_at < ?`, ts)
	if err != nil {
		return 0, 0, fmt.Errorf("cleanup messages: %w", err)
	}
	messages, _ = res.RowsAffected()

	res, err = s.db.Exec(`
		DELETE FROM users
		WHERE last_seen < ?
		AND user_id NOT IN (
			SELECT DISTINCT from_user_id FROM messages WHERE received_at >= ?
		)`, ts, ts)
	if err != nil {
		return messages, 0, fmt.Errorf("cleanup users: %w", err)
	}
	users, _ = res.RowsAffected()

	if messages > 0 || users > 0 {
		log.Infof("retention sweep removed %d messages, %d users", messages, users)
	}
	return messages, users, nil
}

// epoch converts a time.Time to the REAL epoch-seconds representation
// used throughout the schema.
func epoch(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
