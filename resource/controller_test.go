package resource

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Memory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 100})

	assert.True(t, c.TryAcquireMemory(50))
	assert.Equal(t, int64(50), c.MemoryUsage())

	assert.True(t, c.TryAcquireMemory(40))
	assert.Equal(t, int64(90), c.MemoryUsage())

	// Would exceed the limit
	assert.False(t, c.TryAcquireMemory(20))
	assert.Equal(t, int64(90), c.MemoryUsage())

	c.ReleaseMemory(50)
	assert.Equal(t, int64(40), c.MemoryUsage())

	assert.True(t, c.TryAcquireMemory(20))
	assert.Equal(t, int64(60), c.MemoryUsage())
}

func TestController_UnlimitedMemory(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 0})

	assert.True(t, c.TryAcquireMemory(1000))
	assert.Equal(t, int64(1000), c.MemoryUsage())

	c.ReleaseMemory(500)
	assert.Equal(t, int64(500), c.MemoryUsage())
}

func TestController_CommitSlots(t *testing.T) {
	c := NewController(Config{MaxConcurrentCommits: 2})

	require.NoError(t, c.AcquireCommit(context.Background()))
	require.NoError(t, c.AcquireCommit(context.Background()))

	assert.False(t, c.TryAcquireCommit())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.AcquireCommit(ctx), context.DeadlineExceeded)

	c.ReleaseCommit()
	assert.True(t, c.TryAcquireCommit())
}

func TestController_DefaultsToOneCommit(t *testing.T) {
	c := NewController(Config{})
	assert.Equal(t, int64(1), c.Config().MaxConcurrentCommits)

	require.NoError(t, c.AcquireCommit(context.Background()))
	assert.False(t, c.TryAcquireCommit())
}

func TestController_Nil(t *testing.T) {
	var c *Controller

	require.NoError(t, c.AcquireCommit(context.Background()))
	assert.True(t, c.TryAcquireCommit())
	c.ReleaseCommit()
	assert.True(t, c.TryAcquireMemory(1<<40))
	c.ReleaseMemory(1 << 40)
	assert.Zero(t, c.MemoryUsage())
	require.NoError(t, c.AcquireIO(context.Background(), 1<<20))
}

func TestRateLimitedReader(t *testing.T) {
	c := NewController(Config{UploadBytesPerSec: 1 << 20})
	data := bytes.Repeat([]byte("x"), 1<<20+1<<18) // exceeds the burst

	r := NewRateLimitedReader(context.Background(), bytes.NewReader(data), c)
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, len(data), len(got))
}

func TestRateLimitedReader_Canceled(t *testing.T) {
	c := NewController(Config{UploadBytesPerSec: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := NewRateLimitedReader(ctx, bytes.NewReader([]byte("hello world")), c)
	_, err := io.ReadAll(r)
	assert.ErrorIs(t, err, context.Canceled)
}
