/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

package keystore

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStoreApplyCreatesCellFullyAvailable(t *testing.T) {
	s := New(4)
	now := time.Now().UnixNano()

	var observed int64
	s.Apply("key", now, func(tat int64) int64 {
		observed = tat
		return tat + 1
	})
	require.Equal(t, now, observed)
	require.Equal(t, 1, s.Len())
}

func TestStoreApplyCommitsNewState(t *testing.T) {
	s := New(4)
	now := time.Now().UnixNano()

	s.Apply("key", now, func(tat int64) int64 { return tat + 100 })

	var observed int64
	s.Apply("key", now, func(tat int64) int64 {
		observed = tat
		return tat
	})
	require.Equal(t, now+100, observed)
}

func TestStoreApplyUnchangedStateCommitsNothing(t *testing.T) {
	s := New(4)
	now := time.Now().UnixNano()

	s.Apply("key", now, func(tat int64) int64 { return tat })
	s.Apply("key", now, func(tat int64) int64 {
		require.Equal(t, now, tat)
		return tat
	})
}

func TestStoreApplyNoLostUpdates(t *testing.T) {
	const (
		goroutines = 8
		iterations = 1000
	)
	s := New(4)
	now := time.Now().UnixNano()

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				s.Apply("key", now, func(tat int64) int64 { return tat + 1 })
			}
		}()
	}
	wg.Wait()

	var final int64
	s.Apply("key", now, func(tat int64) int64 {
		final = tat
		return tat
	})
	require.Equal(t, now+goroutines*iterations, final)
}

func TestStoreKeysAreIsolated(t *testing.T) {
	s := New(4)
	now := time.Now().UnixNano()

	s.Apply("a", now, func(tat int64) int64 { return tat + 42 })

	s.Apply("b", now, func(tat int64) int64 {
		require.Equal(t, now, tat, "state of key A must not leak into key B")
		return tat
	})
}

func TestStoreSweepIdleRemovesDrainedCellsOnly(t *testing.T) {
	s := New(4)
	now := time.Now().UnixNano()

	s.Apply("drained", now, func(tat int64) int64 { return now - 1 })
	s.Apply("exact", now, func(tat int64) int64 { return now })
	s.Apply("indebted", now, func(tat int64) int64 { return now + int64(time.Second) })
	require.Equal(t, 3, s.Len())

	removed := s.SweepIdle(now)
	require.Equal(t, 2, removed)
	require.Equal(t, 1, s.Len())

	// The indebted cell must have kept its state.
	s.Apply("indebted", now, func(tat int64) int64 {
		require.Equal(t, now+int64(time.Second), tat)
		return tat
	})

	// A swept key is recreated fully available, as if it had never existed.
	later := now + int64(time.Minute)
	s.Apply("drained", later, func(tat int64) int64 {
		require.Equal(t, later, tat)
		return tat
	})
}

func TestStoreSweepIdleConcurrentWithApply(t *testing.T) {
	s := New(4)
	now := time.Now().UnixNano()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			s.SweepIdle(now)
		}
	}()

	// Every Apply must observe either its own previous commit or a fresh
	// cell, never a torn or tombstoned value.
	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("key-%d", i%10)
		s.Apply(key, now, func(tat int64) int64 {
			require.GreaterOrEqual(t, tat, now)
			return tat + 1
		})
	}
	<-done
}

func TestStoreShardCountRoundsUpToPowerOfTwo(t *testing.T) {
	require.Len(t, New(1).shards, 1)
	require.Len(t, New(3).shards, 4)
	require.Len(t, New(64).shards, 64)
	require.Len(t, New(100).shards, 128)
	require.Len(t, New(0).shards, DefaultShardCount)
	require.Len(t, New(-5).shards, DefaultShardCount)
}
