// Package standby re-dispatches requests that could not be assigned a
// manager at intake.
package standby

import (
	"context"
	"log"
	"time"

	"crewline/internal/engine"
)

// Sweeper periodically retries manager assignment for parked requests.
type Sweeper struct {
	Engine   engine.Engine
	Interval time.Duration
	Logger   *log.Logger
}

func (s Sweeper) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}

// Sweep runs one pass over the standby queue.
func (s Sweeper) Sweep(ctx context.Context) {
	n, err := s.Engine.SweepStandby(ctx)
	if err != nil {
		s.logf("standby: sweep failed: %v", err)
		return
	}
	if n > 0 {
		s.logf("standby: assigned %d request(s)", n)
	}
}

// Run sweeps on a fixed interval until the context is cancelled.
func (s Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}
