/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

// Package keystore provides a concurrent, sharded mapping from a request key
// to its rate-limiting cell state. The store is the only place where per-key
// state is mutated: every read-modify-write goes through Apply, which commits
// with a compare-and-swap so that no two concurrent updates for the same key
// can both be based on the same stale read. Idle cells are reclaimed by
// SweepIdle one shard at a time.
package keystore
