package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"nendo/core/audio"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUSignalCache(2)
	a, b, d := uuid.New(), uuid.New(), uuid.New()

	c.Set(a, audio.NewSignal(1, 1, 8000))
	c.Set(b, audio.NewSignal(1, 2, 8000))
	_, ok := c.Get(a)
	require.True(t, ok)

	c.Set(d, audio.NewSignal(1, 3, 8000))
	assert.Equal(t, 2, c.Len())
	_, ok = c.Get(b)
	assert.False(t, ok, "b was least recently used")
	_, ok = c.Get(a)
	assert.True(t, ok)

	c.Remove(a)
	_, ok = c.Get(a)
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestLRUReplacesExisting(t *testing.T) {
	c := NewLRUSignalCache(4)
	id := uuid.New()
	c.Set(id, audio.NewSignal(1, 1, 8000))
	c.Set(id, audio.NewSignal(1, 5, 8000))

	sig, ok := c.Get(id)
	require.True(t, ok)
	assert.Equal(t, 5, sig.Frames())
	assert.Equal(t, 1, c.Len())
}

func TestLRUDisabled(t *testing.T) {
	c := NewLRUSignalCache(0)
	c.Set(uuid.New(), audio.NewSignal(1, 1, 8000))
	assert.Equal(t, 0, c.Len())
}

func TestRedisSignalCache(t *testing.T) {
	host := os.Getenv("REDIS_HOST")
	if host == "" {
		t.Skip("REDIS_HOST not set")
	}
	client := redis.NewClient(&redis.Options{Addr: host + ":6379"})
	defer client.Close()

	id := uuid.New()
	c := NewRedisSignalCache(NewLRUSignalCache(1), client, time.Minute)
	c.Set(id, audio.NewSignal(1, 100, 8000))

	// a fresh process-local tier must be filled from redis
	other := NewRedisSignalCache(NewLRUSignalCache(1), client, time.Minute)
	sig, ok := other.Get(id)
	require.True(t, ok)
	assert.Equal(t, 100, sig.Frames())

	n, err := FlushSignals(context.Background(), client)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}
