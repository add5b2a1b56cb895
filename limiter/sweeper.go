/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/routepace/routepace/gcra"
)

// DefaultSweepInterval is the sweeping cadence used when none is configured.
const DefaultSweepInterval = 30 * time.Second

// Sweeper periodically removes fully drained key state from every route's
// store. The cadence is fixed and independent of traffic. A key is removed
// only when recreating it later with default state is behaviorally identical
// to never having removed it, so a throttled client can never bypass its
// limit by timing retries around a sweep.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   zerolog.Logger
}

// SweeperOptions configures optional Sweeper behavior.
type SweeperOptions struct {
	// Interval is the sweeping cadence, DefaultSweepInterval by default.
	Interval time.Duration

	// Logger receives a debug line per pass. Defaults to a nop logger.
	Logger *zerolog.Logger
}

// NewSweeper creates a Sweeper over the registry's routes.
func NewSweeper(registry *Registry, opts SweeperOptions) (*Sweeper, error) {
	if opts.Interval < 0 {
		return nil, fmt.Errorf("%w: sweep interval should be >= 0, got %s", gcra.ErrInvalidConfig, opts.Interval)
	}
	interval := opts.Interval
	if interval == 0 {
		interval = DefaultSweepInterval
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Sweeper{registry: registry, interval: interval, logger: logger}, nil
}

// Run sweeps on the configured cadence until ctx is canceled.
// It's supposed to be run in a separate goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			removed := s.registry.sweepAll()
			s.logger.Debug().
				Int("removed_keys", removed).
				Dur("elapsed", time.Since(start)).
				Msg("sweep pass finished")
		}
	}
}

// SweepOnce runs a single pass over all routes and returns the number of
// removed entries.
func (s *Sweeper) SweepOnce() int {
	return s.registry.sweepAll()
}
