package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type bundle struct {
	Signal string  `json:"signal"`
	RSI    float64 `json:"rsi"`
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()

	t.Run("HitWithinTTL", func(t *testing.T) {
		c := NewMemory[bundle](time.Minute, 10)

		c.Set(ctx, "ETH", bundle{Signal: "BUY", RSI: 25})

		got, ok := c.Get(ctx, "ETH")
		assert.True(t, ok)
		assert.Equal(t, bundle{Signal: "BUY", RSI: 25}, got)
	})

	t.Run("ExpiresPerEntry", func(t *testing.T) {
		c := NewMemory[bundle](150*time.Millisecond, 10)

		c.Set(ctx, "ETH", bundle{Signal: "BUY"})
		time.Sleep(100 * time.Millisecond)
		c.Set(ctx, "BTC", bundle{Signal: "SELL"})
		time.Sleep(80 * time.Millisecond)

		_, ethOK := c.Get(ctx, "ETH")
		_, btcOK := c.Get(ctx, "BTC")
		assert.False(t, ethOK, "ETH entry is older than the TTL")
		assert.True(t, btcOK, "BTC entry is still fresh")
	})

	t.Run("SetRestartsTTL", func(t *testing.T) {
		c := NewMemory[int](150*time.Millisecond, 10)

		c.Set(ctx, "a", 1)
		time.Sleep(100 * time.Millisecond)
		c.Set(ctx, "a", 2)
		time.Sleep(80 * time.Millisecond)

		got, ok := c.Get(ctx, "a")
		assert.True(t, ok)
		assert.Equal(t, 2, got)
	})

	t.Run("MissOnUnknownKey", func(t *testing.T) {
		c := NewMemory[bundle](time.Minute, 10)
		_, ok := c.Get(ctx, "DOGE")
		assert.False(t, ok)
	})

	t.Run("EvictsLeastRecentlyUsedWhenFull", func(t *testing.T) {
		c := NewMemory[int](time.Minute, 2)

		c.Set(ctx, "a", 1)
		c.Set(ctx, "b", 2)
		c.Get(ctx, "a")
		c.Set(ctx, "c", 3)

		assert.Equal(t, 2, c.Len())
		_, aOK := c.Get(ctx, "a")
		_, bOK := c.Get(ctx, "b")
		_, cOK := c.Get(ctx, "c")
		assert.True(t, aOK)
		assert.False(t, bOK)
		assert.True(t, cOK)
	})

	t.Run("OverwriteDoesNotEvict", func(t *testing.T) {
		c := NewMemory[int](time.Minute, 2)
		c.Set(ctx, "a", 1)
		c.Set(ctx, "b", 2)
		c.Set(ctx, "a", 10)

		a, _ := c.Get(ctx, "a")
		_, bOK := c.Get(ctx, "b")
		assert.Equal(t, 10, a)
		assert.True(t, bOK)
	})

	t.Run("UnboundedWhenSizeNotPositive", func(t *testing.T) {
		c := NewMemory[int](time.Minute, 0)
		for i := 0; i < 100; i++ {
			c.Set(ctx, fmt.Sprintf("k%d", i), i)
		}
		assert.Equal(t, 100, c.Len())
	})

	t.Run("ConcurrentAccess", func(t *testing.T) {
		c := NewMemory[int](time.Minute, 50)
		done := make(chan struct{})
		for i := 0; i < 8; i++ {
			go func(i int) {
				defer func() { done <- struct{}{} }()
				for j := 0; j < 100; j++ {
					key := fmt.Sprintf("k%d", (i+j)%60)
					c.Set(ctx, key, j)
					c.Get(ctx, key)
				}
			}(i)
		}
		for i := 0; i < 8; i++ {
			<-done
		}
		assert.LessOrEqual(t, c.Len(), 50)
	})
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	c := NewRedis[bundle](rdb, "quant-agent:technical", time.Minute, zap.NewNop())

	t.Run("RoundTrip", func(t *testing.T) {
		c.Set(ctx, "ETH", bundle{Signal: "SELL", RSI: 75.5})

		got, ok := c.Get(ctx, "ETH")
		require.True(t, ok)
		assert.Equal(t, bundle{Signal: "SELL", RSI: 75.5}, got)
		assert.True(t, mr.Exists("quant-agent:technical:ETH"))
	})

	t.Run("Expiry", func(t *testing.T) {
		c.Set(ctx, "BTC", bundle{Signal: "NEUTRAL"})
		mr.FastForward(61 * time.Second)

		_, ok := c.Get(ctx, "BTC")
		assert.False(t, ok)
	})

	t.Run("CorruptEntryIsMiss", func(t *testing.T) {
		require.NoError(t, mr.Set("quant-agent:technical:SOL", "{not json"))

		_, ok := c.Get(ctx, "SOL")
		assert.False(t, ok)
	})

	t.Run("ServerDownIsMiss", func(t *testing.T) {
		down := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
		defer down.Close()
		dc := NewRedis[bundle](down, "x", time.Minute, zap.NewNop())

		dc.Set(ctx, "ETH", bundle{})
		_, ok := dc.Get(ctx, "ETH")
		assert.False(t, ok)
	})
}

func TestNew(t *testing.T) {
	c, err := New[int](Settings{Backend: BackendMemory, Namespace: "n", TTL: time.Minute, MaxSize: 5}, nil, zap.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &Memory[int]{}, c)

	_, err = New[int](Settings{Backend: BackendRedis, Namespace: "n"}, nil, zap.NewNop())
	assert.Error(t, err)

	_, err = New[int](Settings{Backend: "memcached", Namespace: "n"}, nil, zap.NewNop())
	assert.Error(t, err)
}
