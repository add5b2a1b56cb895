/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

package limiter

import (
	"fmt"
	"time"

	"github.com/RussellLuo/slidingwindow"
	"go.uber.org/atomic"

	"github.com/routepace/routepace/gcra"
	"github.com/routepace/routepace/internal/lru"
	"github.com/routepace/routepace/keystore"
)

// Decision is the outcome of a single admission check.
type Decision = gcra.Decision

// DefaultMaxKeys bounds the tracked key population of a sliding-window
// limiter. GCRA limiters are bounded by sweeping instead.
const DefaultMaxKeys = 10000

// Algorithm selects the rate-limiting algorithm of a Limiter.
type Algorithm int

const (
	// AlgGCRA paces requests with the Generic Cell Rate Algorithm.
	// It is the default and the only algorithm with sweep-based reclamation.
	AlgGCRA Algorithm = iota
	// AlgSlidingWindow counts requests in a sliding window.
	AlgSlidingWindow
)

// Options configures optional Limiter behavior.
type Options struct {
	// Algorithm selects the admission algorithm, AlgGCRA by default.
	Algorithm Algorithm

	// ShardCount is the number of key store shards (power of two,
	// keystore.DefaultShardCount by default). Matters only for AlgGCRA.
	ShardCount int

	// MaxKeys bounds the tracked key population of a sliding-window limiter
	// (DefaultMaxKeys by default). Matters only for AlgSlidingWindow.
	MaxKeys int

	// Clock overrides the time source, mainly for tests.
	Clock gcra.Clock
}

// Limiter answers "is this key admitted now, and if not, when may it retry"
// for a single route. It is safe for concurrent use; calls for different keys
// never block each other beyond transient shard contention.
type Limiter struct {
	quota gcra.Quota
	clock gcra.Clock

	// lastNow is the maximum clock reading observed so far. Every reading is
	// clamped to it so that a backward clock jump cannot manufacture bursts.
	lastNow atomic.Int64

	// GCRA state.
	store *keystore.Store

	// Sliding-window state.
	getWindow func(key string) *slidingwindow.Limiter
}

// New creates a Limiter for the given quota.
func New(quota gcra.Quota, opts Options) (*Limiter, error) {
	if quota.IsZero() {
		return nil, fmt.Errorf("%w: quota is not initialized", gcra.ErrInvalidConfig)
	}
	clock := opts.Clock
	if clock == nil {
		clock = gcra.WallClock()
	}
	l := &Limiter{quota: quota, clock: clock}

	switch opts.Algorithm {
	case AlgGCRA:
		l.store = keystore.New(opts.ShardCount)
	case AlgSlidingWindow:
		maxKeys := opts.MaxKeys
		if maxKeys <= 0 {
			maxKeys = DefaultMaxKeys
		}
		getWindow, err := newWindowProvider(quota, maxKeys)
		if err != nil {
			return nil, err
		}
		l.getWindow = getWindow
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %d", gcra.ErrInvalidConfig, opts.Algorithm)
	}
	return l, nil
}

// MustNew is a version of New that panics if an error occurs.
func MustNew(quota gcra.Quota, opts Options) *Limiter {
	l, err := New(quota, opts)
	if err != nil {
		panic(err)
	}
	return l
}

// Quota returns the limiter's quota.
func (l *Limiter) Quota() gcra.Quota {
	return l.quota
}

// KeysCount returns the number of currently tracked keys.
func (l *Limiter) KeysCount() int {
	if l.store != nil {
		return l.store.Len()
	}
	return 0
}

// Check decides whether the request identified by key is admitted at this
// instant. It never fails: every call yields a well-formed Decision, whatever
// the contention on the store. Admission is final; capacity consumed by a
// request that the caller later abandons is not given back.
func (l *Limiter) Check(key string) Decision {
	if l.getWindow != nil {
		return l.checkWindow(key)
	}

	now := l.clampedNow()

	var dec Decision
	l.store.Apply(key, now, func(tat int64) int64 {
		var newTat int64
		newTat, dec = gcra.Decide(now, tat, l.quota)
		return newTat
	})
	return dec
}

// SweepIdle removes the state of keys with no outstanding debt and returns
// the number of removed entries. It is a no-op for non-GCRA limiters.
func (l *Limiter) SweepIdle() (removed int) {
	if l.store == nil {
		return 0
	}
	return l.store.SweepIdle(l.clampedNow())
}

// clampedNow reads the clock and clamps the result to the maximum previously
// observed reading.
func (l *Limiter) clampedNow() int64 {
	now := l.clock.Now().UnixNano()
	for {
		last := l.lastNow.Load()
		if now <= last {
			return last
		}
		if l.lastNow.CompareAndSwap(last, now) {
			return now
		}
	}
}

func (l *Limiter) checkWindow(key string) Decision {
	if l.getWindow(key).Allow() {
		return Decision{Allowed: true}
	}
	// The window does not expose per-key pacing state; report the time until
	// the current window rolls over. Windows advance on wall time regardless
	// of the injected clock, so the hint is derived from wall time too.
	period := l.quota.Period()
	elapsed := time.Duration(time.Now().UnixNano()) % period
	retryAfter := period - elapsed
	return Decision{Allowed: false, RetryAfter: retryAfter, ResetAfter: retryAfter}
}

func newWindowProvider(quota gcra.Quota, maxKeys int) (func(key string) *slidingwindow.Limiter, error) {
	newWindow := func() *slidingwindow.Limiter {
		win, _ := slidingwindow.NewLimiter(
			quota.Period(), int64(quota.Burst()), func() (slidingwindow.Window, slidingwindow.StopFunc) {
				return slidingwindow.NewLocalWindow()
			})
		return win
	}
	windows, err := lru.New[string, *slidingwindow.Limiter](maxKeys)
	if err != nil {
		return nil, fmt.Errorf("new LRU store for sliding windows: %w", err)
	}
	return func(key string) *slidingwindow.Limiter {
		win, _ := windows.GetOrAdd(key, newWindow)
		return win
	}, nil
}
