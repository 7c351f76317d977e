package repo

import (
	"context"
	"database/sql"
	"fmt"

	"crewline/internal/domain"
)

const operatorColumns = `id,name,role,is_busy,active_count,online,last_active_at,last_assigned_at,created_at`

func scanOperator(row interface{ Scan(dest ...any) error }) (domain.Operator, error) {
	var o domain.Operator
	var lastActive, lastAssigned sql.NullString
	err := row.Scan(&o.ID, &o.Name, &o.Role, &o.IsBusy, &o.ActiveCount, &o.Online, &lastActive, &lastAssigned, &o.CreatedAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	if err != nil {
		return o, err
	}
	if lastActive.Valid {
		o.LastActiveAt = &lastActive.String
	}
	if lastAssigned.Valid {
		o.LastAssignedAt = &lastAssigned.String
	}
	return o, nil
}

func (r Repo) InsertOperator(ctx context.Context, o domain.Operator) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO operators(id,name,role,is_busy,active_count,online,last_active_at,last_assigned_at,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		o.ID, o.Name, o.Role, o.IsBusy, o.ActiveCount, o.Online, nullableStringPtr(o.LastActiveAt), nullableStringPtr(o.LastAssignedAt), o.CreatedAt)
	return err
}

func (r Repo) GetOperator(ctx context.Context, id string) (domain.Operator, error) {
	return scanOperator(r.DB.QueryRowContext(ctx, `SELECT `+operatorColumns+` FROM operators WHERE id=?`, id))
}

func (r Repo) ListOperators(ctx context.Context, role string) ([]domain.Operator, error) {
	query := `SELECT ` + operatorColumns + ` FROM operators`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Operator
	for rows.Next() {
		o, err := scanOperator(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// Heartbeat marks an operator online and refreshes its last-active timestamp.
func (r Repo) Heartbeat(ctx context.Context, id, now string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE operators SET online=1, last_active_at=? WHERE id=?`, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReapStale demotes operators whose last heartbeat is older than the cutoff.
// Operators that never sent a heartbeat but are flagged online are demoted too.
func (r Repo) ReapStale(ctx context.Context, tx *sql.Tx, cutoff string) (int, error) {
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	res, err := exec(`UPDATE operators SET online=0 WHERE online=1 AND (last_active_at IS NULL OR last_active_at < ?)`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ClaimOperator atomically reserves the best-placed operator of the given
// role: least loaded first, then longest since last assignment (never
// assigned wins), then id for a stable tiebreak. The reservation — busy flag,
// count increment and assignment timestamp — happens in the same statement
// that selects the row, so two concurrent claimers can never reserve the same
// operator twice.
//
// Only operators flagged online with a heartbeat newer than freshSince are
// eligible; a stale online flag that the reaper has not demoted yet is
// filtered out here. With allowBusy false the claim is restricted to free
// operators; callers retry with allowBusy true to degrade onto a loaded
// operator instead of failing outright.
func (r Repo) ClaimOperator(ctx context.Context, tx *sql.Tx, role, freshSince, now string, allowBusy bool) (domain.Operator, error) {
	query := `UPDATE operators
SET is_busy=1, active_count=active_count+1, last_assigned_at=?
WHERE id = (
	SELECT id FROM operators
	WHERE role=? AND online=1 AND last_active_at IS NOT NULL AND last_active_at >= ?
	AND (is_busy=0 OR ?)
	ORDER BY active_count ASC, last_assigned_at ASC NULLS FIRST, id ASC
	LIMIT 1
)
RETURNING ` + operatorColumns
	row := tx.QueryRowContext(ctx, query, now, role, freshSince, allowBusy)
	return scanOperator(row)
}

// ClaimSpecificOperator performs the same atomic reserve scoped to one id.
func (r Repo) ClaimSpecificOperator(ctx context.Context, tx *sql.Tx, id, freshSince, now string, allowBusy bool) (domain.Operator, error) {
	query := `UPDATE operators
SET is_busy=1, active_count=active_count+1, last_assigned_at=?
WHERE id=? AND online=1 AND last_active_at IS NOT NULL AND last_active_at >= ?
AND (is_busy=0 OR ?)
RETURNING ` + operatorColumns
	row := tx.QueryRowContext(ctx, query, now, id, freshSince, allowBusy)
	return scanOperator(row)
}

// AdjustWorkload applies a workload delta and recomputes the busy flag in a
// single statement. The count clamps at zero; the busy flag always reflects
// the clamped value. With touchAssignDate true and a positive delta the
// assignment timestamp is refreshed as well.
func (r Repo) AdjustWorkload(ctx context.Context, tx *sql.Tx, id string, delta int, touchAssignDate bool, now string) error {
	touch := touchAssignDate && delta > 0
	exec := func(query string, args ...any) (sql.Result, error) {
		if tx != nil {
			return tx.ExecContext(ctx, query, args...)
		}
		return r.DB.ExecContext(ctx, query, args...)
	}
	res, err := exec(`UPDATE operators
SET active_count = MAX(active_count + ?, 0),
	is_busy = CASE WHEN MAX(active_count + ?, 0) > 0 THEN 1 ELSE 0 END,
	last_assigned_at = CASE WHEN ? THEN ? ELSE last_assigned_at END
WHERE id=?`, delta, delta, touch, now, id)
	if err != nil {
		return fmt.Errorf("adjust workload for %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
