/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

package keystore

import (
	"math"
	"sync"

	"go.uber.org/atomic"
)

// DefaultShardCount is the number of shards used when none is configured.
const DefaultShardCount = 64

// tombstoneTat marks a cell that has been reclaimed by SweepIdle.
// Real TAT values are clock readings and can never take this value.
const tombstoneTat = math.MinInt64

// cell holds the per-key state: a single theoretical arrival time (TAT)
// in nanoseconds. All mutation happens via CAS on this value.
type cell struct {
	tat atomic.Int64
}

type shard struct {
	mu    sync.RWMutex
	cells map[string]*cell
}

// Store is a concurrent map from key to cell state. Shard membership is
// guarded by per-shard RWMutexes; state mutation is lock-free, so calls for
// unrelated keys never block each other beyond transient shard lookup.
type Store struct {
	shards []*shard
	mask   uint32
}

// New creates a Store with the given shard count, rounded up to a power of
// two. A non-positive count selects DefaultShardCount.
func New(shardCount int) *Store {
	if shardCount <= 0 {
		shardCount = DefaultShardCount
	}
	n := 1
	for n < shardCount {
		n <<= 1
	}
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{cells: make(map[string]*cell)}
	}
	return &Store{shards: shards, mask: uint32(n - 1)}
}

// fnv1a(key) selects the shard; inlined to avoid allocating a hash.Hash per call.
func (s *Store) shardFor(key string) *shard {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	h := uint32(offset32)
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= prime32
	}
	return s.shards[h&s.mask]
}

func (sh *shard) getOrInsert(key string, initTat int64) *cell {
	sh.mu.RLock()
	c := sh.cells[key]
	sh.mu.RUnlock()
	if c != nil {
		return c
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if c = sh.cells[key]; c == nil {
		c = &cell{}
		c.tat.Store(initTat)
		sh.cells[key] = c
	}
	return c
}

// Apply atomically transforms the state of key's cell: it reads the current
// TAT, computes the new one via f, and commits it with a compare-and-swap.
// A cell absent from the store is created fully available (TAT = now). When
// the commit loses a race with a concurrent Apply for the same key, f is
// re-invoked against the fresh value, so the committed sequence of TATs for
// any single key is linearizable and no update is ever lost. f returning the
// TAT unchanged commits nothing (a rejection accrues no debt; a concurrent
// admission can only push the TAT further into the future, which keeps the
// rejection valid).
//
// Results are conveyed out of f by closure; f must be side-effect-free apart
// from that, since it may run more than once.
func (s *Store) Apply(key string, now int64, f func(tat int64) int64) {
	sh := s.shardFor(key)
	for {
		c := sh.getOrInsert(key, now)
		tat := c.tat.Load()
		if tat == tombstoneTat {
			// The cell was reclaimed between lookup and load; it is already
			// detached from the map, so the next lookup inserts a fresh one.
			continue
		}
		newTat := f(tat)
		if newTat == tat {
			return
		}
		if c.tat.CompareAndSwap(tat, newTat) {
			return
		}
	}
}

// SweepIdle removes every cell whose TAT is at or before now, i.e. cells with
// no outstanding debt, for which removal is observably equivalent to the key
// never having existed. Cells still carrying debt are never touched.
//
// The pass is chunked: shards are locked one at a time, so concurrent Apply
// calls stall for at most a single shard scan. A cell is detached only after
// its observed TAT is CAS-ed to a tombstone, which cannot race with an
// in-flight Apply that just advanced the same cell: such an Apply wins the
// CAS and the sweep leaves the cell in place.
func (s *Store) SweepIdle(now int64) (removed int) {
	for _, sh := range s.shards {
		sh.mu.Lock()
		for key, c := range sh.cells {
			tat := c.tat.Load()
			if tat <= now && c.tat.CompareAndSwap(tat, tombstoneTat) {
				delete(sh.cells, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked keys.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.cells)
		sh.mu.RUnlock()
	}
	return n
}
