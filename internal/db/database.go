package db

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"github.com/manpreetbhatti/easel/internal/protocol"
	"github.com/manpreetbhatti/easel/internal/stroke"
)

type Database struct {
	db *sql.DB
}

type Room struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// A finalized stroke as kept in the archive
type StrokeRecord struct {
	OpID      string          `json:"op_id"`
	RoomID    string          `json:"room_id"`
	UserID    string          `json:"user_id"`
	Stroke    *stroke.Stroke  `json:"stroke"`
	OpType    protocol.OpType `json:"op_type"`
	Undone    bool            `json:"undone"`
	CreatedAt time.Time       `json:"created_at"`
}

type Stats struct {
	RoomCount   int `json:"room_count"`
	StrokeCount int `json:"stroke_count"`
	UndoneCount int `json:"undone_count"`
}

func New(dbPath string) (*Database, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	log.Printf("Database initialized at %s", dbPath)
	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS strokes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		op_id TEXT NOT NULL UNIQUE,
		room_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		stroke_id TEXT NOT NULL,
		op_type TEXT NOT NULL,
		kind TEXT NOT NULL,
		color TEXT NOT NULL DEFAULT '',
		width REAL NOT NULL DEFAULT 0,
		points BLOB NOT NULL,
		undone BOOLEAN DEFAULT FALSE,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_strokes_room_id ON strokes(room_id);
	CREATE INDEX IF NOT EXISTS idx_strokes_room_user ON strokes(room_id, user_id);
	`

	_, err := db.Exec(schema)
	return err
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Room operations

func (d *Database) CreateRoom(id string) error {
	_, err := d.db.Exec("INSERT OR IGNORE INTO rooms (id) VALUES (?)", id)
	return err
}

func (d *Database) GetRoom(id string) (*Room, error) {
	row := d.db.QueryRow(
		"SELECT id, created_at, updated_at FROM rooms WHERE id = ?",
		id,
	)

	var room Room
	err := row.Scan(&room.ID, &room.CreatedAt, &room.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

func (d *Database) ListRooms(limit, offset int) ([]Room, error) {
	rows, err := d.db.Query(
		"SELECT id, created_at, updated_at FROM rooms ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?",
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.ID, &room.CreatedAt, &room.UpdatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (d *Database) touchRoom(id string) error {
	_, err := d.db.Exec(
		"UPDATE rooms SET updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		id,
	)
	return err
}

func (d *Database) DeleteRoom(id string) error {
	if _, err := d.db.Exec("DELETE FROM strokes WHERE room_id = ?", id); err != nil {
		return err
	}
	_, err := d.db.Exec("DELETE FROM rooms WHERE id = ?", id)
	return err
}

// Stroke operations

// Archives a finalized drawing operation. Re-saving the same op id is a no-op.
func (d *Database) SaveStroke(roomID string, op *protocol.DrawOp) error {
	if op.Stroke == nil {
		return fmt.Errorf("operation %s carries no stroke", op.ID)
	}
	points, err := msgpack.Marshal(op.Stroke.Points)
	if err != nil {
		return fmt.Errorf("encode points: %w", err)
	}

	if err := d.CreateRoom(roomID); err != nil {
		return err
	}

	_, err = d.db.Exec(`
		INSERT OR IGNORE INTO strokes (op_id, room_id, user_id, stroke_id, op_type, kind, color, width, points, undone)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, op.ID, roomID, op.UserID, op.Stroke.ID, string(op.Type), string(op.Stroke.Kind),
		op.Stroke.Color, op.Stroke.Width, points, op.Undone)
	if err != nil {
		return err
	}

	return d.touchRoom(roomID)
}

// Mirrors an undo or redo of a single entry
func (d *Database) SetStrokeUndone(roomID, opID string, undone bool) error {
	_, err := d.db.Exec(
		"UPDATE strokes SET undone = ? WHERE room_id = ? AND op_id = ?",
		undone, roomID, opID,
	)
	return err
}

// Mirrors a clear: every stroke of the user in the room becomes undone
func (d *Database) SetUserStrokesUndone(roomID, userID string) error {
	_, err := d.db.Exec(
		"UPDATE strokes SET undone = TRUE WHERE room_id = ? AND user_id = ?",
		roomID, userID,
	)
	return err
}

// Returns archived strokes of a room, oldest first
func (d *Database) GetStrokes(roomID string, limit, offset int) ([]StrokeRecord, error) {
	rows, err := d.db.Query(`
		SELECT op_id, room_id, user_id, stroke_id, op_type, kind, color, width, points, undone, created_at
		FROM strokes
		WHERE room_id = ?
		ORDER BY seq ASC
		LIMIT ? OFFSET ?
	`, roomID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []StrokeRecord
	for rows.Next() {
		var (
			rec    StrokeRecord
			s      stroke.Stroke
			opType string
			kind   string
			points []byte
		)
		if err := rows.Scan(&rec.OpID, &rec.RoomID, &rec.UserID, &s.ID, &opType, &kind,
			&s.Color, &s.Width, &points, &rec.Undone, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if err := msgpack.Unmarshal(points, &s.Points); err != nil {
			return nil, fmt.Errorf("decode points of %s: %w", rec.OpID, err)
		}
		s.Kind = stroke.Kind(kind)
		s.Owner = rec.UserID
		s.Undone = rec.Undone
		rec.OpType = protocol.OpType(opType)
		rec.Stroke = &s
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (d *Database) GetStrokeCount(roomID string) (int, error) {
	var count int
	err := d.db.QueryRow(
		"SELECT COUNT(*) FROM strokes WHERE room_id = ?",
		roomID,
	).Scan(&count)
	return count, err
}

// Deletes all but the keepCount most recent strokes of the room
func (d *Database) DeleteStrokesBefore(roomID string, keepCount int) (int64, error) {
	result, err := d.db.Exec(`
		DELETE FROM strokes
		WHERE room_id = ? AND seq NOT IN (
			SELECT seq FROM strokes
			WHERE room_id = ?
			ORDER BY seq DESC
			LIMIT ?
		)
	`, roomID, roomID, keepCount)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Stats

func (d *Database) GetStats() (*Stats, error) {
	var stats Stats

	if err := d.db.QueryRow("SELECT COUNT(*) FROM rooms").Scan(&stats.RoomCount); err != nil {
		return nil, err
	}
	if err := d.db.QueryRow("SELECT COUNT(*) FROM strokes").Scan(&stats.StrokeCount); err != nil {
		return nil, err
	}
	if err := d.db.QueryRow("SELECT COUNT(*) FROM strokes WHERE undone = TRUE").Scan(&stats.UndoneCount); err != nil {
		return nil, err
	}

	return &stats, nil
}
