// Package store persists each room's update log and compacted snapshot
// in sqlite, so document state survives a restart. The relay works
// without it; the hub writes through when a store is configured and the
// room registry reads a room back on its first reference.
package store

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

type Store struct {
	db  *sql.DB
	log *zap.Logger
}

type RoomRecord struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func New(dbPath string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// WAL keeps reads from blocking the hub's writes
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Info("store opened", zap.String("path", dbPath))
	return &Store{db: db, log: log}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS document_updates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		room_id TEXT NOT NULL,
		update_data BLOB NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_document_updates_room_id ON document_updates(room_id);

	CREATE TABLE IF NOT EXISTS room_snapshots (
		room_id TEXT PRIMARY KEY,
		snapshot_data BLOB NOT NULL,
		update_count INTEGER DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);
	`
	_, err := db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureRoom records the room, leaving an existing row alone.
func (s *Store) EnsureRoom(id string) error {
	_, err := s.db.Exec("INSERT OR IGNORE INTO rooms (id) VALUES (?)", id)
	return err
}

// AppendUpdate durably appends one merged update fragment to the
// room's log.
func (s *Store) AppendUpdate(roomID string, update []byte) error {
	if err := s.EnsureRoom(roomID); err != nil {
		return err
	}
	if _, err := s.db.Exec(
		"INSERT INTO document_updates (room_id, update_data) VALUES (?, ?)",
		roomID, update,
	); err != nil {
		return err
	}
	_, err := s.db.Exec(
		"UPDATE rooms SET updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		roomID,
	)
	return err
}

// LoadRoom returns the room's compacted snapshot (nil if none) and the
// update rows appended since. It satisfies room.Loader.
func (s *Store) LoadRoom(roomID string) ([]byte, [][]byte, error) {
	var snapshot []byte
	err := s.db.QueryRow(
		"SELECT snapshot_data FROM room_snapshots WHERE room_id = ?",
		roomID,
	).Scan(&snapshot)
	if err != nil && err != sql.ErrNoRows {
		return nil, nil, err
	}

	rows, err := s.db.Query(
		"SELECT update_data FROM document_updates WHERE room_id = ? ORDER BY id ASC",
		roomID,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var updates [][]byte
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, nil, err
		}
		updates = append(updates, data)
	}
	return snapshot, updates, rows.Err()
}

func (s *Store) UpdateCount(roomID string) (int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM document_updates WHERE room_id = ?",
		roomID,
	).Scan(&count)
	return count, err
}

// SaveSnapshot replaces the room's compacted snapshot.
func (s *Store) SaveSnapshot(roomID string, snapshot []byte, updateCount int) error {
	_, err := s.db.Exec(`
		INSERT INTO room_snapshots (room_id, snapshot_data, update_count, updated_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(room_id) DO UPDATE SET
			snapshot_data = excluded.snapshot_data,
			update_count = excluded.update_count,
			updated_at = CURRENT_TIMESTAMP
	`, roomID, snapshot, updateCount)
	return err
}

// PruneUpdates drops the room's oldest update rows, keeping the most
// recent keepCount. Called after a snapshot has captured them; set-union
// merging makes re-applying the kept tail on load harmless.
func (s *Store) PruneUpdates(roomID string, keepCount int) error {
	_, err := s.db.Exec(`
		DELETE FROM document_updates
		WHERE room_id = ? AND id NOT IN (
			SELECT id FROM document_updates
			WHERE room_id = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`, roomID, roomID, keepCount)
	return err
}

func (s *Store) ListRooms(limit, offset int) ([]RoomRecord, error) {
	rows, err := s.db.Query(
		"SELECT id, created_at, updated_at FROM rooms ORDER BY updated_at DESC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RoomRecord
	for rows.Next() {
		var r RoomRecord
		if err := rows.Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

type Stats struct {
	RoomCount   int `json:"room_count"`
	UpdateCount int `json:"update_count"`
}

func (s *Store) GetStats() (Stats, error) {
	var st Stats
	if err := s.db.QueryRow("SELECT COUNT(*) FROM rooms").Scan(&st.RoomCount); err != nil {
		return st, err
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM document_updates").Scan(&st.UpdateCount); err != nil {
		return st, err
	}
	return st, nil
}
