package engine

import (
	"context"
	"errors"

	"crewline/internal/domain"
	"crewline/internal/events"
	"crewline/internal/repo"
)

const standbyBatch = 100

// SweepStandby walks the managerless pending requests, oldest first, and
// tries to claim a manager for each. Every request gets its own transaction
// so one failure does not hold back the rest. Returns the number of
// requests that received a manager.
func (e Engine) SweepStandby(ctx context.Context) (int, error) {
	pending, err := e.Repo.ListStandbyRequests(ctx, standbyBatch)
	if err != nil {
		return 0, err
	}
	assigned := 0
	for _, req := range pending {
		ok, more, err := e.assignStandby(ctx, req)
		if err != nil {
			e.logf("standby: request %s: %v", req.ID, err)
			continue
		}
		if ok {
			assigned++
		}
		if !more {
			// Nobody eligible; later requests will not fare better.
			break
		}
	}
	return assigned, nil
}

// assignStandby reports whether the request got a manager and whether the
// sweep should keep going. A request another sweep already claimed is
// skipped without ending the pass.
func (e Engine) assignStandby(ctx context.Context, req domain.Request) (bool, bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, false, err
	}
	defer tx.Rollback()
	// Re-read under the tx; another sweep or a retry may have won already.
	req, err = e.Repo.GetRequestTx(ctx, tx, req.ID)
	if err != nil {
		return false, false, err
	}
	if req.ManagerID != nil || req.Status != domain.RequestPending {
		return false, true, nil
	}
	manager, err := e.claimManagerTx(ctx, tx, &req)
	if err != nil {
		return false, false, err
	}
	if manager == nil {
		return false, false, nil
	}
	if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
		return false, false, err
	}
	if err := e.Events.Append(ctx, tx, events.TypePMAssigned, req.ID, "request", req.ID, manager.ID, events.EventPayload{"manager_id": manager.ID, "standby": true}); err != nil {
		return false, false, err
	}
	if err := tx.Commit(); err != nil {
		return false, false, err
	}
	e.emitAssigned(ctx, req, *manager)
	return true, true, nil
}

// RetryStandbyOperator drains the standby queue onto one specific manager
// who just came back online. A non-manager id is a no-op.
func (e Engine) RetryStandbyOperator(ctx context.Context, operatorID string) (int, error) {
	op, err := e.Repo.GetOperator(ctx, operatorID)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if op.Role != domain.RolePM {
		return 0, nil
	}
	pending, err := e.Repo.ListStandbyRequests(ctx, standbyBatch)
	if err != nil {
		return 0, err
	}
	assigned := 0
	for _, req := range pending {
		ok, more, err := e.assignStandbyTo(ctx, req.ID, operatorID)
		if err != nil {
			e.logf("standby: request %s to %s: %v", req.ID, operatorID, err)
			continue
		}
		if ok {
			assigned++
		}
		if !more {
			break
		}
	}
	return assigned, nil
}

// assignStandbyTo follows the same (assigned, keep-going) convention as
// assignStandby; the operator refusing the claim ends the drain.
func (e Engine) assignStandbyTo(ctx context.Context, requestID, operatorID string) (bool, bool, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, false, err
	}
	defer tx.Rollback()
	req, err := e.Repo.GetRequestTx(ctx, tx, requestID)
	if err != nil {
		return false, false, err
	}
	if req.ManagerID != nil || req.Status != domain.RequestPending {
		return false, true, nil
	}
	now := e.nowStr()
	fresh := e.freshSince()
	manager, err := e.Repo.ClaimSpecificOperator(ctx, tx, operatorID, fresh, now, false)
	if errors.Is(err, repo.ErrNotFound) {
		manager, err = e.Repo.ClaimSpecificOperator(ctx, tx, operatorID, fresh, now, true)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	if err := e.attachManagerTx(ctx, tx, &req, manager); err != nil {
		return false, false, err
	}
	if err := e.Repo.UpdateRequest(ctx, tx, req); err != nil {
		return false, false, err
	}
	if err := e.Events.Append(ctx, tx, events.TypePMAssigned, req.ID, "request", req.ID, manager.ID, events.EventPayload{"manager_id": manager.ID, "standby": true}); err != nil {
		return false, false, err
	}
	if err := tx.Commit(); err != nil {
		return false, false, err
	}
	e.emitAssigned(ctx, req, manager)
	return true, true, nil
}
