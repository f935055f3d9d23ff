package rbac

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheSetGetRemove(t *testing.T) {
	c := NewCache[string, int](8, time.Minute)

	c.Set("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	c.Remove("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestCacheTTLExpiry(t *testing.T) {
	c := NewCache[string, int](8, 20*time.Millisecond)

	c.Set("a", 1)
	time.Sleep(50 * time.Millisecond)

	_, ok := c.Get("a")
	assert.False(t, ok)
}

func TestCacheEvictsAtCapacity(t *testing.T) {
	c := NewCache[int, int](2, time.Minute)

	c.Set(1, 1)
	c.Set(2, 2)
	c.Set(3, 3)

	assert.Equal(t, 2, c.Stats().Entries)
	_, ok := c.Get(3)
	assert.True(t, ok)
}

func TestCacheRemoveFunc(t *testing.T) {
	c := NewCache[string, bool](8, time.Minute)

	c.Set("1:projects.view", true)
	c.Set("1:tasks.view", true)
	c.Set("2:projects.view", true)

	c.RemoveFunc(func(key string) bool {
		return strings.HasPrefix(key, "1:")
	})

	assert.Equal(t, 1, c.Stats().Entries)
	_, ok := c.Get("2:projects.view")
	assert.True(t, ok)
}

func TestCacheStatsCounters(t *testing.T) {
	c := NewCache[string, int](8, time.Minute)

	c.Set("a", 1)
	c.Get("a")
	c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 1, stats.Entries)

	c.ResetStats()
	stats = c.Stats()
	assert.Zero(t, stats.Hits)
	assert.Zero(t, stats.Misses)
	assert.Equal(t, 1, stats.Entries)
}
