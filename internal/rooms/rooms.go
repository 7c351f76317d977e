// Package rooms is the chat-room collaborator: it owns room records,
// membership and inline system notices. The engine treats a closed room as a
// write gate for chat; the gate itself is enforced by the messaging layer.
package rooms

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"crewline/internal/domain"
)

// SystemSender is the sender id used for inline system notices.
const SystemSender = "system"

var ErrNotFound = errors.New("room not found")

type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

func (s Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Open creates a room for a request with the given initial members.
func (s Store) Open(ctx context.Context, tx *sql.Tx, requestID string, members []string) (domain.Room, error) {
	now := s.now().UTC().Format(time.RFC3339)
	room := domain.Room{
		ID:        uuid.New().String(),
		RequestID: requestID,
		IsClosed:  false,
		CreatedAt: now,
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO rooms(id,request_id,is_closed,created_at) VALUES (?,?,0,?)`,
		room.ID, room.RequestID, room.CreatedAt); err != nil {
		return domain.Room{}, err
	}
	for _, m := range members {
		if m == "" {
			continue
		}
		if err := s.AddMember(ctx, tx, room.ID, m); err != nil {
			return domain.Room{}, err
		}
	}
	return room, nil
}

// AddMember adds an operator or client to the room; repeated adds are no-ops.
func (s Store) AddMember(ctx context.Context, tx *sql.Tx, roomID, memberID string) error {
	now := s.now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO room_members(room_id,member_id,joined_at) VALUES (?,?,?)`,
		roomID, memberID, now)
	return err
}

func (s Store) Close(ctx context.Context, tx *sql.Tx, roomID string) error {
	now := s.now().UTC().Format(time.RFC3339)
	res, err := tx.ExecContext(ctx, `UPDATE rooms SET is_closed=1, closed_at=? WHERE id=?`, now, roomID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s Store) Reopen(ctx context.Context, tx *sql.Tx, roomID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE rooms SET is_closed=0, closed_at=NULL WHERE id=?`, roomID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s Store) Get(ctx context.Context, roomID string) (domain.Room, error) {
	var room domain.Room
	var closedAt sql.NullString
	err := s.DB.QueryRowContext(ctx, `SELECT id,request_id,is_closed,created_at,closed_at FROM rooms WHERE id=?`, roomID).
		Scan(&room.ID, &room.RequestID, &room.IsClosed, &room.CreatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return room, ErrNotFound
	}
	if err != nil {
		return room, err
	}
	if closedAt.Valid {
		room.ClosedAt = &closedAt.String
	}
	return room, nil
}

func (s Store) GetTx(ctx context.Context, tx *sql.Tx, roomID string) (domain.Room, error) {
	var room domain.Room
	var closedAt sql.NullString
	err := tx.QueryRowContext(ctx, `SELECT id,request_id,is_closed,created_at,closed_at FROM rooms WHERE id=?`, roomID).
		Scan(&room.ID, &room.RequestID, &room.IsClosed, &room.CreatedAt, &closedAt)
	if err == sql.ErrNoRows {
		return room, ErrNotFound
	}
	if err != nil {
		return room, err
	}
	if closedAt.Valid {
		room.ClosedAt = &closedAt.String
	}
	return room, nil
}

// IsClosed reports whether the room is closed to chat writes.
func (s Store) IsClosed(ctx context.Context, roomID string) (bool, error) {
	room, err := s.Get(ctx, roomID)
	if err != nil {
		return false, err
	}
	return room.IsClosed, nil
}

// IsMember reports whether the given id belongs to the room.
func (s Store) IsMember(ctx context.Context, roomID, memberID string) (bool, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT 1 FROM room_members WHERE room_id=? AND member_id=? LIMIT 1`, roomID, memberID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// PostNotice appends an inline system notice to the room.
func (s Store) PostNotice(ctx context.Context, tx *sql.Tx, roomID, body string) error {
	now := s.now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO room_messages(room_id,sender_id,body,ts) VALUES (?,?,?,?)`,
		roomID, SystemSender, body, now)
	return err
}

// Messages returns room messages in posting order.
func (s Store) Messages(ctx context.Context, roomID string) ([]domain.RoomMessage, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,room_id,sender_id,body,ts FROM room_messages WHERE room_id=? ORDER BY id ASC`, roomID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.RoomMessage
	for rows.Next() {
		var m domain.RoomMessage
		if err := rows.Scan(&m.ID, &m.RoomID, &m.SenderID, &m.Body, &m.TS); err != nil {
			return nil, err
		}
		res = append(res, m)
	}
	return res, rows.Err()
}
