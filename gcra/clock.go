/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

package gcra

import "time"

// Clock is a source of the current time. It exists to keep the admission
// arithmetic deterministic in tests.
//
// Readings are allowed to be non-monotonic (the system clock may be adjusted
// backward); the limiter clamps every reading to the maximum previously
// observed one, so a backward jump can never manufacture extra burst capacity.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// WallClock returns a Clock backed by time.Now.
func WallClock() Clock {
	return wallClock{}
}
