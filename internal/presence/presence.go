// Package presence tracks operator heartbeats and demotes operators whose
// heartbeats stop arriving.
package presence

import (
	"context"
	"log"
	"time"

	"crewline/internal/domain"
	"crewline/internal/repo"
)

// Tracker records heartbeats and runs the reaper loop. An operator is
// online while its last heartbeat is within Window; the reaper only marks
// it offline once the heartbeat is older than StaleAfter, so a single
// missed beat does not drop anyone.
type Tracker struct {
	Repo       repo.Repo
	Window     time.Duration
	StaleAfter time.Duration
	Logger     *log.Logger
	Now        func() time.Time

	// OnManagerUp fires after a manager heartbeat, so standby requests can
	// be retried against the operator that just surfaced.
	OnManagerUp func(ctx context.Context, operatorID string)
}

func (t Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

func (t Tracker) logf(format string, args ...any) {
	if t.Logger != nil {
		t.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Heartbeat marks the operator online and refreshes its activity timestamp.
func (t Tracker) Heartbeat(ctx context.Context, operatorID string) (domain.Operator, error) {
	now := t.now().UTC().Format(time.RFC3339)
	if err := t.Repo.Heartbeat(ctx, operatorID, now); err != nil {
		return domain.Operator{}, err
	}
	op, err := t.Repo.GetOperator(ctx, operatorID)
	if err != nil {
		return domain.Operator{}, err
	}
	if op.Role == domain.RolePM && t.OnManagerUp != nil {
		t.OnManagerUp(ctx, operatorID)
	}
	return op, nil
}

// IsOnline reports whether the operator is currently visible to claims.
func (t Tracker) IsOnline(op domain.Operator) bool {
	if !op.Online || op.LastActiveAt == nil {
		return false
	}
	last, err := time.Parse(time.RFC3339, *op.LastActiveAt)
	if err != nil {
		return false
	}
	return t.now().Sub(last) <= t.Window
}

// Reap marks operators offline whose heartbeat is older than StaleAfter.
func (t Tracker) Reap(ctx context.Context) (int, error) {
	cutoff := t.now().Add(-t.StaleAfter).UTC().Format(time.RFC3339)
	return t.Repo.ReapStale(ctx, nil, cutoff)
}

// Run drives the reaper until the context is cancelled. Errors are logged
// and the loop keeps going.
func (t Tracker) Run(ctx context.Context) {
	interval := t.Window
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := t.Reap(ctx)
			if err != nil {
				t.logf("presence: reap failed: %v", err)
				continue
			}
			if n > 0 {
				t.logf("presence: marked %d operator(s) offline", n)
			}
		}
	}
}
