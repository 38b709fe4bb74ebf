package comm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseURLCacheFirstWriteWins(t *testing.T) {
	c := NewBaseURLCache(nil)

	_, ok := c.Get()
	assert.False(t, ok)

	assert.False(t, c.Set(""))
	assert.True(t, c.Set("http://localhost:8888/"))
	assert.True(t, c.Set("http://localhost:8888/"))
	assert.False(t, c.Set("http://other:9999/"))

	u, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, "http://localhost:8888/", u)
}

func TestBaseURLCacheWait(t *testing.T) {
	c := NewBaseURLCache(nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Set("http://localhost:8888/lab/")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	u, err := c.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8888/lab/", u)
}

func TestBaseURLCacheWaitTimeout(t *testing.T) {
	c := NewBaseURLCache(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := c.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBaseURLCacheHandler(t *testing.T) {
	c := NewBaseURLCache(nil)
	h := c.Handler()

	h(Show("abc", 8050, "http://ignored/"))
	_, ok := c.Get()
	assert.False(t, ok)

	h(URLResponse("http://first/"))
	h(URLResponse("http://second/"))
	u, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, "http://first/", u)
}
