/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

// Package limiter decides, per route and per key, whether a request is
// admitted right now and, if not, when a retry may succeed.
//
// A Limiter answers the question for a single route using GCRA arithmetic
// over a sharded in-memory key store. A Registry maps route identifiers to
// their Limiters, one isolated store per route. A Sweeper periodically
// reclaims keys whose state has fully drained, bounding memory for an
// unbounded key population. Everything is configured at startup via Config
// and fails fast on invalid parameters; Check itself has no error path.
package limiter
