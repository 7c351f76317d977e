package repo

import (
	"context"
	"database/sql"

	"crewline/internal/domain"
)

const taskColumns = `id,request_id,manager_id,engineer_id,title,details,status,deadline,created_at,updated_at,completed_at`

func scanTask(row interface{ Scan(dest ...any) error }) (domain.Task, error) {
	var t domain.Task
	var details, deadline, completedAt sql.NullString
	err := row.Scan(&t.ID, &t.RequestID, &t.ManagerID, &t.EngineerID, &t.Title, &details, &t.Status, &deadline, &t.CreatedAt, &t.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if details.Valid {
		t.Details = details.String
	}
	if deadline.Valid {
		t.Deadline = &deadline.String
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.String
	}
	return t, nil
}

func (r Repo) InsertTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO tasks(id,request_id,manager_id,engineer_id,title,details,status,deadline,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		t.ID, t.RequestID, t.ManagerID, t.EngineerID, t.Title, nullable(t.Details), t.Status,
		nullableStringPtr(t.Deadline), t.CreatedAt, t.UpdatedAt, nullableStringPtr(t.CompletedAt))
	return err
}

func (r Repo) UpdateTask(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET title=?, details=?, status=?, deadline=?, updated_at=?, completed_at=? WHERE id=?`,
		t.Title, nullable(t.Details), t.Status, nullableStringPtr(t.Deadline), t.UpdatedAt, nullableStringPtr(t.CompletedAt), t.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) ListTasksByRequest(ctx context.Context, requestID string) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE request_id=? ORDER BY created_at ASC, id ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// UpsertRating records one of the three independent rating slots for a
// request; a repeated rating for the same target replaces the earlier one.
func (r Repo) UpsertRating(ctx context.Context, tx *sql.Tx, rating domain.Rating) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO ratings(request_id,target,score,comment,created_at) VALUES (?,?,?,?,?)
ON CONFLICT(request_id,target) DO UPDATE SET score=excluded.score, comment=excluded.comment, created_at=excluded.created_at`,
		rating.RequestID, rating.Target, rating.Score, nullable(rating.Comment), rating.CreatedAt)
	return err
}

func (r Repo) ListRatings(ctx context.Context, requestID string) ([]domain.Rating, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT request_id,target,score,comment,created_at FROM ratings WHERE request_id=? ORDER BY target ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Rating
	for rows.Next() {
		var rating domain.Rating
		var comment sql.NullString
		if err := rows.Scan(&rating.RequestID, &rating.Target, &rating.Score, &comment, &rating.CreatedAt); err != nil {
			return nil, err
		}
		if comment.Valid {
			rating.Comment = comment.String
		}
		res = append(res, rating)
	}
	return res, rows.Err()
}

// RatedTargetsTx returns which rating slots are filled for a request.
func (r Repo) RatedTargetsTx(ctx context.Context, tx *sql.Tx, requestID string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT target FROM ratings WHERE request_id=?`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[string]bool{}
	for rows.Next() {
		var target string
		if err := rows.Scan(&target); err != nil {
			return nil, err
		}
		res[target] = true
	}
	return res, rows.Err()
}
