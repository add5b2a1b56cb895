/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

package gcra

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned (wrapped) by constructors when rate-limiting
// parameters are malformed. It can never occur while traffic is being served.
var ErrInvalidConfig = errors.New("invalid rate limit configuration")

// Quota describes a rate limit: up to Burst requests may be admitted
// instantaneously, after which requests are paced at one per emission
// interval (Period / Burst). A Quota is immutable once constructed and safe
// to share between goroutines.
type Quota struct {
	burst  int
	period time.Duration
}

// NewQuota creates a Quota with the given burst capacity and period.
func NewQuota(burst int, period time.Duration) (Quota, error) {
	if burst < 1 {
		return Quota{}, fmt.Errorf("%w: burst should be >= 1, got %d", ErrInvalidConfig, burst)
	}
	if period <= 0 {
		return Quota{}, fmt.Errorf("%w: period should be positive, got %s", ErrInvalidConfig, period)
	}
	// The emission interval is period / burst in integer nanoseconds; it must
	// not truncate to zero, or the decision arithmetic would divide by it.
	if period < time.Duration(burst) {
		return Quota{}, fmt.Errorf("%w: period %s is too short for burst %d, emission interval would be zero",
			ErrInvalidConfig, period, burst)
	}
	return Quota{burst: burst, period: period}, nil
}

// MustQuota is a version of NewQuota that panics if an error occurs.
func MustQuota(burst int, period time.Duration) Quota {
	q, err := NewQuota(burst, period)
	if err != nil {
		panic(err)
	}
	return q
}

// Burst returns the maximum number of requests admissible instantaneously.
func (q Quota) Burst() int {
	return q.burst
}

// Period returns the duration over which the burst capacity is replenished.
func (q Quota) Period() time.Duration {
	return q.period
}

// EmissionInterval returns the steady-state minimum spacing between admitted
// requests once the burst capacity is exhausted.
func (q Quota) EmissionInterval() time.Duration {
	return q.period / time.Duration(q.burst)
}

// IsZero reports whether the quota was not constructed via NewQuota.
func (q Quota) IsZero() bool {
	return q.burst == 0
}

// String returns a string representation of the quota.
// Implements fmt.Stringer interface.
func (q Quota) String() string {
	return fmt.Sprintf("%d/%s", q.burst, q.period)
}
