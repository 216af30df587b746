package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s := newMemoryStore(4, func() time.Time { return now })

	require.True(t, s.Set(ctx, "crypto:latest_prices", []record{{Symbol: "BTC"}}, 60*time.Second))
	require.True(t, s.Set(ctx, "crypto:chart:BTC:hour", []record{{Symbol: "BTC"}}, 300*time.Second))
	require.True(t, s.Set(ctx, "crypto:static", "x", 0))

	ttl, ok := s.TTL(ctx, "crypto:static")
	require.True(t, ok)
	assert.Equal(t, time.Duration(-1), ttl)

	now = now.Add(60 * time.Second)
	assert.False(t, s.Exists(ctx, "crypto:latest_prices"))
	assert.True(t, s.Exists(ctx, "crypto:chart:BTC:hour"))

	now = now.Add(240 * time.Second)
	assert.False(t, s.Exists(ctx, "crypto:chart:BTC:hour"))
	assert.True(t, s.Exists(ctx, "crypto:static"))
}

func TestMemoryStoreKeysAndDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Set(ctx, "crypto:price:BTC", record{Symbol: "BTC"}, time.Minute)
	s.Set(ctx, "crypto:price:ETH", record{Symbol: "ETH"}, time.Minute)
	s.Set(ctx, "crypto:chart:ETH:day", []record{}, time.Minute)
	s.Set(ctx, "other:price:BTC", record{}, time.Minute)

	assert.Equal(t, []string{"crypto:price:BTC", "crypto:price:ETH"}, s.Keys(ctx, "crypto:price:*"))
	assert.Len(t, s.Keys(ctx, "crypto:*"), 3)

	s.Set(ctx, "crypto:price:BTC/USDT", record{Symbol: "BTC/USDT"}, time.Minute)
	assert.Equal(t, []string{"crypto:price:BTC", "crypto:price:BTC/USDT", "crypto:price:ETH"}, s.Keys(ctx, "crypto:price:*"))
	assert.Len(t, s.Keys(ctx, "crypto:*"), 4)
	assert.Equal(t, []string{"crypto:price:BTC/USDT"}, s.Keys(ctx, "crypto:price:BTC?USDT"))

	assert.Equal(t, int64(3), s.Delete(ctx, "crypto:price:BTC", "crypto:price:BTC/USDT", "crypto:price:ETH", "missing"))
	assert.Len(t, s.Keys(ctx, "crypto:*"), 1)
}

func TestMemoryStoreExpire(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	s := newMemoryStore(1, func() time.Time { return now })
	s.Set(ctx, "k", record{Symbol: "BTC"}, 0)

	assert.True(t, s.Expire(ctx, "k", 5*time.Second))
	ttl, ok := s.TTL(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, 5*time.Second, ttl)
	assert.False(t, s.Expire(ctx, "missing", time.Second))

	v, ok := s.Get(ctx, "k")
	require.True(t, ok)
	var out record
	require.NoError(t, v.Decode(&out))
	assert.Equal(t, "BTC", out.Symbol)
}

func TestEncode(t *testing.T) {
	s, err := encode("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", s)

	s, err = encode(map[string]int{"a": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, s)

	_, err = encode(nil)
	assert.Error(t, err)
}
