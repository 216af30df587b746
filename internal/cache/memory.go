package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/match"
)

// MemoryStore is an in-process Store sharded by key hash. Expired entries
// are dropped lazily on access.
type MemoryStore struct {
	shards []memShard
	now    func() time.Time
}

type memShard struct {
	mu   sync.RWMutex
	data map[string]memEntry
}

type memEntry struct {
	raw     string
	expires time.Time
}

func (e memEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

const defaultShardCount = 32

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return newMemoryStore(defaultShardCount, time.Now)
}

func newMemoryStore(shards int, now func() time.Time) *MemoryStore {
	if shards <= 0 {
		shards = 1
	}
	if now == nil {
		now = time.Now
	}
	out := &MemoryStore{
		shards: make([]memShard, shards),
		now:    now,
	}
	for i := range out.shards {
		out.shards[i] = memShard{data: make(map[string]memEntry)}
	}
	return out
}

func (s *MemoryStore) shardFor(key string) *memShard {
	idx := hashKey(key) % uint32(len(s.shards))
	return &s.shards[idx]
}

func (s *MemoryStore) Get(_ context.Context, key string) (Value, bool) {
	sh := s.shardFor(key)
	now := s.now()
	sh.mu.RLock()
	e, ok := sh.data[key]
	sh.mu.RUnlock()
	if !ok {
		return Value{}, false
	}
	if e.expired(now) {
		sh.mu.Lock()
		if cur, ok := sh.data[key]; ok && cur.expired(now) {
			delete(sh.data, key)
		}
		sh.mu.Unlock()
		return Value{}, false
	}
	return NewValue(e.raw), true
}

func (s *MemoryStore) Set(_ context.Context, key string, v any, ttl time.Duration) bool {
	payload, err := encode(v)
	if err != nil {
		return false
	}
	e := memEntry{raw: payload}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	sh := s.shardFor(key)
	sh.mu.Lock()
	sh.data[key] = e
	sh.mu.Unlock()
	return true
}

func (s *MemoryStore) Delete(_ context.Context, keys ...string) int64 {
	now := s.now()
	var n int64
	for _, key := range keys {
		sh := s.shardFor(key)
		sh.mu.Lock()
		if e, ok := sh.data[key]; ok {
			delete(sh.data, key)
			if !e.expired(now) {
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

func (s *MemoryStore) Exists(ctx context.Context, key string) bool {
	_, ok := s.Get(ctx, key)
	return ok
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) bool {
	now := s.now()
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.data[key]
	if !ok || e.expired(now) {
		return false
	}
	if ttl <= 0 {
		delete(sh.data, key)
		return true
	}
	e.expires = now.Add(ttl)
	sh.data[key] = e
	return true
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, bool) {
	now := s.now()
	sh := s.shardFor(key)
	sh.mu.RLock()
	e, ok := sh.data[key]
	sh.mu.RUnlock()
	if !ok || e.expired(now) {
		return 0, false
	}
	if e.expires.IsZero() {
		return -1, true
	}
	return e.expires.Sub(now), true
}

// Keys globs like Redis: '*' also spans '/' and ':' inside a key.
func (s *MemoryStore) Keys(_ context.Context, pattern string) []string {
	now := s.now()
	var out []string
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k, e := range sh.data {
			if e.expired(now) {
				continue
			}
			if match.Match(k, pattern) {
				out = append(out, k)
			}
		}
		sh.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

func (s *MemoryStore) Health(context.Context) Health {
	return Health{Status: StatusConnected, Backend: "memory", MemoryUsage: "N/A"}
}

func (s *MemoryStore) Close() error { return nil }

func hashKey(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
