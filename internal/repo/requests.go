package repo

import (
	"context"
	"database/sql"
	"strings"

	"crewline/internal/domain"
)

const requestColumns = `id,title,description,client_id,status,manager_id,engineer_id,room_id,accepted_once,reopen_requested,created_at,updated_at,completed_at`

func scanRequest(row interface{ Scan(dest ...any) error }) (domain.Request, error) {
	var req domain.Request
	var description, managerID, engineerID, roomID, completedAt sql.NullString
	err := row.Scan(&req.ID, &req.Title, &description, &req.ClientID, &req.Status, &managerID, &engineerID, &roomID, &req.AcceptedOnce, &req.ReopenRequested, &req.CreatedAt, &req.UpdatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	if err != nil {
		return req, err
	}
	if description.Valid {
		req.Description = description.String
	}
	if managerID.Valid {
		req.ManagerID = &managerID.String
	}
	if engineerID.Valid {
		req.EngineerID = &engineerID.String
	}
	if roomID.Valid {
		req.RoomID = &roomID.String
	}
	if completedAt.Valid {
		req.CompletedAt = &completedAt.String
	}
	return req, nil
}

func (r Repo) InsertRequest(ctx context.Context, tx *sql.Tx, req domain.Request) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO requests(id,title,description,client_id,status,manager_id,engineer_id,room_id,accepted_once,reopen_requested,created_at,updated_at,completed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		req.ID, req.Title, nullable(req.Description), req.ClientID, req.Status,
		nullableStringPtr(req.ManagerID), nullableStringPtr(req.EngineerID), nullableStringPtr(req.RoomID),
		req.AcceptedOnce, req.ReopenRequested, req.CreatedAt, req.UpdatedAt, nullableStringPtr(req.CompletedAt))
	return err
}

func (r Repo) UpdateRequest(ctx context.Context, tx *sql.Tx, req domain.Request) error {
	res, err := tx.ExecContext(ctx, `UPDATE requests SET title=?, description=?, status=?, manager_id=?, engineer_id=?, room_id=?, accepted_once=?, reopen_requested=?, updated_at=?, completed_at=? WHERE id=?`,
		req.Title, nullable(req.Description), req.Status,
		nullableStringPtr(req.ManagerID), nullableStringPtr(req.EngineerID), nullableStringPtr(req.RoomID),
		req.AcceptedOnce, req.ReopenRequested, req.UpdatedAt, nullableStringPtr(req.CompletedAt), req.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetRequest(ctx context.Context, id string) (domain.Request, error) {
	return scanRequest(r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id))
}

func (r Repo) GetRequestTx(ctx context.Context, tx *sql.Tx, id string) (domain.Request, error) {
	return scanRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id=?`, id))
}

type RequestFilters struct {
	Status     string
	ManagerID  string
	EngineerID string
	ClientID   string
	Limit      int
}

func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.Request, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ManagerID != "" {
		clauses = append(clauses, "manager_id=?")
		args = append(args, f.ManagerID)
	}
	if f.EngineerID != "" {
		clauses = append(clauses, "engineer_id=?")
		args = append(args, f.EngineerID)
	}
	if f.ClientID != "" {
		clauses = append(clauses, "client_id=?")
		args = append(args, f.ClientID)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + requestColumns + ` FROM requests ` + where + ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// ListStandbyRequests returns pending requests without a manager, oldest
// first, so the longest-waiting request is retried before newer ones.
func (r Repo) ListStandbyRequests(ctx context.Context, limit int) ([]domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE status=? AND manager_id IS NULL ORDER BY created_at ASC, id ASC`
	args := []any{domain.RequestPending}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}
