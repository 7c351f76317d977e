package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"crewline/internal/db"
	"crewline/internal/domain"
	"crewline/internal/migrate"
	"crewline/internal/repo"
)

const (
	baseTime  = "2024-01-01T12:00:00Z"
	freshTime = "2024-01-01T11:59:50Z"
	staleTime = "2024-01-01T11:00:00Z"
	cutoff    = "2024-01-01T11:59:45Z"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func insertOperator(t *testing.T, r repo.Repo, id, role string, active int, lastActive, lastAssigned string) {
	t.Helper()
	o := domain.Operator{
		ID:          id,
		Name:        id,
		Role:        role,
		ActiveCount: active,
		IsBusy:      active > 0,
		Online:      lastActive != "",
		CreatedAt:   baseTime,
	}
	if lastActive != "" {
		o.LastActiveAt = &lastActive
	}
	if lastAssigned != "" {
		o.LastAssignedAt = &lastAssigned
	}
	if err := r.InsertOperator(context.Background(), o); err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
}

func inTx(t *testing.T, r repo.Repo, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		t.Fatalf("tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestClaimOperatorPrefersLeastLoaded(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertOperator(t, r, "pm-heavy", domain.RolePM, 3, freshTime, staleTime)
	insertOperator(t, r, "pm-light", domain.RolePM, 1, freshTime, staleTime)
	insertOperator(t, r, "pm-mid", domain.RolePM, 2, freshTime, staleTime)

	var claimed domain.Operator
	inTx(t, r, func(tx *sql.Tx) error {
		var err error
		claimed, err = r.ClaimOperator(ctx, tx, domain.RolePM, cutoff, baseTime, true)
		return err
	})
	if claimed.ID != "pm-light" {
		t.Fatalf("expected pm-light, got %s", claimed.ID)
	}
	if claimed.ActiveCount != 2 || !claimed.IsBusy {
		t.Fatalf("expected incremented claim, got %+v", claimed)
	}
	if claimed.LastAssignedAt == nil || *claimed.LastAssignedAt != baseTime {
		t.Fatalf("expected refreshed last_assigned_at, got %v", claimed.LastAssignedAt)
	}
}

func TestClaimOperatorNeverAssignedWinsTie(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertOperator(t, r, "pm-old", domain.RolePM, 0, freshTime, staleTime)
	insertOperator(t, r, "pm-new", domain.RolePM, 0, freshTime, "")

	var claimed domain.Operator
	inTx(t, r, func(tx *sql.Tx) error {
		var err error
		claimed, err = r.ClaimOperator(ctx, tx, domain.RolePM, cutoff, baseTime, false)
		return err
	})
	if claimed.ID != "pm-new" {
		t.Fatalf("expected never-assigned operator first, got %s", claimed.ID)
	}
}

func TestClaimOperatorSkipsBusyWhenNotAllowed(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertOperator(t, r, "pm-busy", domain.RolePM, 2, freshTime, staleTime)

	inTx(t, r, func(tx *sql.Tx) error {
		_, err := r.ClaimOperator(ctx, tx, domain.RolePM, cutoff, baseTime, false)
		if !errors.Is(err, repo.ErrNotFound) {
			t.Fatalf("expected ErrNotFound for busy-only pool, got %v", err)
		}
		claimed, err := r.ClaimOperator(ctx, tx, domain.RolePM, cutoff, baseTime, true)
		if err != nil {
			return err
		}
		if claimed.ID != "pm-busy" || claimed.ActiveCount != 3 {
			t.Fatalf("expected busy fallback claim, got %+v", claimed)
		}
		return nil
	})
}

func TestClaimOperatorFiltersStaleAndOffline(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertOperator(t, r, "pm-stale", domain.RolePM, 0, staleTime, "")
	insertOperator(t, r, "pm-offline", domain.RolePM, 0, "", "")
	insertOperator(t, r, "eng-fresh", domain.RoleEngineer, 0, freshTime, "")

	inTx(t, r, func(tx *sql.Tx) error {
		_, err := r.ClaimOperator(ctx, tx, domain.RolePM, cutoff, baseTime, true)
		if !errors.Is(err, repo.ErrNotFound) {
			t.Fatalf("expected no eligible manager, got %v", err)
		}
		return nil
	})
}

func TestClaimOperatorConcurrentExclusivity(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertOperator(t, r, "pm-1", domain.RolePM, 0, freshTime, "")

	// Many claimers race for one free manager; the conditional UPDATE
	// must hand it to exactly one of them.
	const claimers = 10
	results := make(chan error, claimers)
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := r.DB.BeginTx(ctx, nil)
			if err != nil {
				results <- err
				return
			}
			if _, err := r.ClaimOperator(ctx, tx, domain.RolePM, cutoff, baseTime, false); err != nil {
				tx.Rollback()
				results <- err
				return
			}
			results <- tx.Commit()
		}()
	}
	wg.Wait()
	close(results)

	won, lost := 0, 0
	for err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, repo.ErrNotFound):
			lost++
		default:
			t.Fatalf("claim: %v", err)
		}
	}
	if won != 1 || lost != claimers-1 {
		t.Fatalf("expected exactly one winner, got %d winners / %d losers", won, lost)
	}
	op, err := r.GetOperator(ctx, "pm-1")
	if err != nil {
		t.Fatalf("get operator: %v", err)
	}
	if op.ActiveCount != 1 || !op.IsBusy {
		t.Fatalf("expected a single reservation, got %+v", op)
	}
}

func TestClaimSpecificOperator(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertOperator(t, r, "pm-1", domain.RolePM, 0, freshTime, "")

	inTx(t, r, func(tx *sql.Tx) error {
		claimed, err := r.ClaimSpecificOperator(ctx, tx, "pm-1", cutoff, baseTime, false)
		if err != nil {
			return err
		}
		if claimed.ActiveCount != 1 {
			t.Fatalf("expected claim, got %+v", claimed)
		}
		// Now busy; a free-only claim must refuse, a busy claim must stack.
		_, err = r.ClaimSpecificOperator(ctx, tx, "pm-1", cutoff, baseTime, false)
		if !errors.Is(err, repo.ErrNotFound) {
			t.Fatalf("expected refusal of busy operator, got %v", err)
		}
		claimed, err = r.ClaimSpecificOperator(ctx, tx, "pm-1", cutoff, baseTime, true)
		if err != nil {
			return err
		}
		if claimed.ActiveCount != 2 {
			t.Fatalf("expected stacked claim, got %+v", claimed)
		}
		return nil
	})
}

func TestAdjustWorkloadClampsAtZero(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertOperator(t, r, "eng-1", domain.RoleEngineer, 1, freshTime, staleTime)

	if err := r.AdjustWorkload(ctx, nil, "eng-1", -1, false, baseTime); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	o, err := r.GetOperator(ctx, "eng-1")
	if err != nil {
		t.Fatal(err)
	}
	if o.ActiveCount != 0 || o.IsBusy {
		t.Fatalf("expected idle operator, got %+v", o)
	}
	// Another decrement must not go negative.
	if err := r.AdjustWorkload(ctx, nil, "eng-1", -1, false, baseTime); err != nil {
		t.Fatalf("adjust below zero: %v", err)
	}
	o, _ = r.GetOperator(ctx, "eng-1")
	if o.ActiveCount != 0 {
		t.Fatalf("expected clamp at zero, got %d", o.ActiveCount)
	}
}

func TestAdjustWorkloadTouchesAssignDateOnlyOnIncrease(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertOperator(t, r, "eng-1", domain.RoleEngineer, 1, freshTime, staleTime)

	if err := r.AdjustWorkload(ctx, nil, "eng-1", -1, true, baseTime); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	o, _ := r.GetOperator(ctx, "eng-1")
	if o.LastAssignedAt == nil || *o.LastAssignedAt != staleTime {
		t.Fatalf("decrement must not touch last_assigned_at, got %v", o.LastAssignedAt)
	}
	if err := r.AdjustWorkload(ctx, nil, "eng-1", 1, true, baseTime); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	o, _ = r.GetOperator(ctx, "eng-1")
	if o.LastAssignedAt == nil || *o.LastAssignedAt != baseTime {
		t.Fatalf("increment should refresh last_assigned_at, got %v", o.LastAssignedAt)
	}
	if !o.IsBusy || o.ActiveCount != 1 {
		t.Fatalf("expected busy again, got %+v", o)
	}
}

func TestAdjustWorkloadUnknownOperator(t *testing.T) {
	r := newTestRepo(t)
	err := r.AdjustWorkload(context.Background(), nil, "ghost", 1, false, baseTime)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestReapStale(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	insertOperator(t, r, "pm-fresh", domain.RolePM, 0, freshTime, "")
	insertOperator(t, r, "pm-stale", domain.RolePM, 0, staleTime, "")

	n, err := r.ReapStale(ctx, nil, cutoff)
	if err != nil {
		t.Fatalf("reap: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one demotion, got %d", n)
	}
	stale, _ := r.GetOperator(ctx, "pm-stale")
	fresh, _ := r.GetOperator(ctx, "pm-fresh")
	if stale.Online || !fresh.Online {
		t.Fatalf("unexpected online flags: stale=%v fresh=%v", stale.Online, fresh.Online)
	}
}

func TestHeartbeatUnknownOperator(t *testing.T) {
	r := newTestRepo(t)
	err := r.Heartbeat(context.Background(), "ghost", baseTime)
	if !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
