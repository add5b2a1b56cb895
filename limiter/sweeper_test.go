/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/routepace/routepace/gcra"
	"github.com/routepace/routepace/testutil"
)

func TestSweeperSweepOnce(t *testing.T) {
	clock := testutil.NewFakeClock()
	mc := newCountingMetrics()
	reg := NewRegistry(RegistryOptions{Clock: clock, Metrics: mc})
	require.NoError(t, reg.Register("a", gcra.MustQuota(1, time.Second)))
	require.NoError(t, reg.Register("b", gcra.MustQuota(1, time.Second)))

	reg.Check("a", "drained")
	reg.Check("b", "drained")
	clock.Advance(2 * time.Second)
	reg.Check("b", "indebted")

	sw, err := NewSweeper(reg, SweeperOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, sw.SweepOnce())

	limA, _ := reg.Resolve("a")
	limB, _ := reg.Resolve("b")
	require.Equal(t, 0, limA.KeysCount())
	require.Equal(t, 1, limB.KeysCount())

	require.Equal(t, 1, mc.evictions["a"])
	require.Equal(t, 1, mc.evictions["b"])
	require.Equal(t, 0, mc.keys["a"])
	require.Equal(t, 1, mc.keys["b"])
}

func TestSweeperNeverRemovesIndebtedKeys(t *testing.T) {
	clock := testutil.NewFakeClock()
	reg := NewRegistry(RegistryOptions{Clock: clock})
	require.NoError(t, reg.Register("api", gcra.MustQuota(1, time.Minute)))

	reg.Check("api", "client")
	require.False(t, reg.Check("api", "client").Allowed)

	sw, err := NewSweeper(reg, SweeperOptions{})
	require.NoError(t, err)

	// A throttled client must not be able to bypass its limit by timing
	// retries around sweeps.
	for i := 0; i < 10; i++ {
		clock.Advance(time.Second)
		sw.SweepOnce()
		require.False(t, reg.Check("api", "client").Allowed)
	}
}

func TestSweeperRun(t *testing.T) {
	clock := testutil.NewFakeClock()
	reg := NewRegistry(RegistryOptions{Clock: clock})
	require.NoError(t, reg.Register("api", gcra.MustQuota(1, time.Millisecond)))

	reg.Check("api", "client")
	clock.Advance(time.Second)

	sw, err := NewSweeper(reg, SweeperOptions{Interval: 5 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sw.Run(ctx)

	lim, _ := reg.Resolve("api")
	require.Eventually(t, func() bool { return lim.KeysCount() == 0 },
		time.Second, time.Millisecond)
}

func TestNewSweeperInvalidInterval(t *testing.T) {
	reg := NewRegistry(RegistryOptions{})
	_, err := NewSweeper(reg, SweeperOptions{Interval: -time.Second})
	require.ErrorIs(t, err, gcra.ErrInvalidConfig)
}
