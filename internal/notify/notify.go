// Package notify is the notification collaborator: persisted, per-operator
// notifications with idempotent emits. Emitting the same
// (operator, type, request, task) key twice stores a single notification.
package notify

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"crewline/internal/domain"
	"crewline/internal/repo"
)

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

// Emit persists a notification. Duplicate emits for the same dedupe key are
// silently dropped; callers treat this as best-effort and never roll back a
// lifecycle transition on failure.
func (s Store) Emit(ctx context.Context, n domain.Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt == "" {
		n.CreatedAt = s.now().UTC().Format(time.RFC3339)
	}
	_, err := s.DB.ExecContext(ctx, `INSERT INTO notifications(id,operator_id,type,title,body,request_id,task_id,read,created_at)
VALUES (?,?,?,?,?,?,?,0,?)
ON CONFLICT(operator_id, type, COALESCE(request_id,''), COALESCE(task_id,'')) DO NOTHING`,
		n.ID, n.OperatorID, n.Type, n.Title, nullable(n.Body), nullableStringPtr(n.RequestID), nullableStringPtr(n.TaskID), n.CreatedAt)
	return err
}

// List returns an operator's notifications, newest first.
func (s Store) List(ctx context.Context, operatorID string, unreadOnly bool, limit int) ([]domain.Notification, error) {
	query := `SELECT id,operator_id,type,title,COALESCE(body,''),request_id,task_id,read,created_at FROM notifications WHERE operator_id=?`
	args := []any{operatorID}
	if unreadOnly {
		query += ` AND read=0`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		var requestID, taskID sql.NullString
		if err := rows.Scan(&n.ID, &n.OperatorID, &n.Type, &n.Title, &n.Body, &requestID, &taskID, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		if requestID.Valid {
			n.RequestID = &requestID.String
		}
		if taskID.Valid {
			n.TaskID = &taskID.String
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// MarkRead flags a notification as read.
func (s Store) MarkRead(ctx context.Context, id string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE notifications SET read=1 WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return repo.ErrNotFound
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}
