/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

package gcra

import "time"

// Decision is the outcome of a single admission check.
type Decision struct {
	// Allowed reports whether the request may proceed now.
	Allowed bool

	// Remaining is the burst capacity left after this admission.
	// It is meaningful only when Allowed is true.
	Remaining int

	// RetryAfter is the minimal wait before a retry could succeed.
	// It is meaningful only when Allowed is false and is never negative.
	RetryAfter time.Duration

	// ResetAfter is the time until the cell fully drains and the key becomes
	// indistinguishable from a never-seen one.
	ResetAfter time.Duration
}

// Decide computes the GCRA admission decision for a single arrival at the
// instant now against a cell whose theoretical arrival time is tat, both in
// nanoseconds on the same clock. It returns the TAT to commit alongside the
// decision. On rejection the returned TAT equals the passed one: rejected
// requests accrue no debt.
//
// The cell state for a never-seen key is tat == now (fully available), so the
// first arrival is always admitted.
func Decide(now, tat int64, q Quota) (int64, Decision) {
	inc := int64(q.EmissionInterval())
	period := int64(q.period)

	newTat := tat
	if now > newTat {
		newTat = now
	}
	newTat += inc

	// allowAt is the earliest instant at which the cell's debt is back within
	// the burst tolerance.
	allowAt := newTat - period
	if allowAt <= now {
		return newTat, Decision{
			Allowed:    true,
			Remaining:  int((period - (newTat - now)) / inc),
			ResetAfter: time.Duration(newTat - now),
		}
	}

	return tat, Decision{
		Allowed:    false,
		RetryAfter: time.Duration(allowAt - now),
		ResetAfter: time.Duration(tat - now),
	}
}
