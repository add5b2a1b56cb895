/*
Copyright © 2025 Routepace Authors.

Released under MIT license.
*/

package lru

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCacheGetOrAdd(t *testing.T) {
	c, err := New[string, int](2)
	require.NoError(t, err)

	v, exists := c.GetOrAdd("a", func() int { return 1 })
	require.False(t, exists)
	require.Equal(t, 1, v)

	v, exists = c.GetOrAdd("a", func() int { return 100 })
	require.True(t, exists)
	require.Equal(t, 1, v, "existing value should not be overwritten")
}

func TestCacheEvictsLeastRecentlyUsed(t *testing.T) {
	c, err := New[string, int](2)
	require.NoError(t, err)

	c.GetOrAdd("a", func() int { return 1 })
	c.GetOrAdd("b", func() int { return 2 })
	c.GetOrAdd("a", func() int { return 0 }) // touch "a"
	c.GetOrAdd("c", func() int { return 3 }) // evicts "b"
	require.Equal(t, 2, c.Len())

	_, exists := c.GetOrAdd("a", func() int { return 0 })
	require.True(t, exists)
	_, exists = c.GetOrAdd("b", func() int { return 20 })
	require.False(t, exists, "b should have been evicted")
}

func TestCacheInvalidCapacity(t *testing.T) {
	_, err := New[string, int](0)
	require.Error(t, err)
}
