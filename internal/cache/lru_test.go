package cache

import (
	"testing"

	"github.com/hupe1980/sigindex/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_Eviction(t *testing.T) {
	c := NewLRU(10, nil)

	c.Set("a", []byte("aaaa"))
	c.Set("b", []byte("bbbb"))

	// Touch "a" so "b" becomes the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	c.Set("c", []byte("cccc"))

	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, int64(8), c.Size())
	assert.Equal(t, 2, c.Len())
}

func TestLRU_EdgeCases(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 100})
	c := NewLRU(50, rc)

	// Item larger than capacity is not cached.
	c.Set("big", make([]byte, 60))
	_, ok := c.Get("big")
	assert.False(t, ok)
	assert.Zero(t, rc.MemoryUsage())

	// Re-setting an existing key keeps the original value.
	c.Set("k", make([]byte, 10))
	c.Set("k", make([]byte, 20))
	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Len(t, v, 10)
	assert.Equal(t, int64(10), rc.MemoryUsage())

	c.Remove("k")
	assert.Zero(t, c.Size())
	assert.Zero(t, rc.MemoryUsage())
}

func TestLRU_ControllerLimit(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 10})
	c := NewLRU(50, rc)

	c.Set("a", make([]byte, 8))
	c.Set("b", make([]byte, 8)) // rejected by the controller

	_, ok := c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestLRU_Stats(t *testing.T) {
	c := NewLRU(100, nil)
	c.Set("a", []byte{1})
	c.Get("a") // hit
	c.Get("z") // miss

	hits, misses := c.Stats()
	assert.Equal(t, int64(1), hits)
	assert.Equal(t, int64(1), misses)
}
