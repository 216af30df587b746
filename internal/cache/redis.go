package cache

import (
	"bufio"
	"context"
	"errors"
	"strings"
	"time"

	"marketcache/internal/logger"
	"marketcache/internal/pkg/circuit"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the network cache. Timeouts are meant to be
// seconds, never minutes: a slow cache must not dominate a read.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int

	BreakerThreshold int
	BreakerCooldown  time.Duration
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 10
	}
	if o.BreakerThreshold <= 0 {
		o.BreakerThreshold = 3
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 10 * time.Second
	}
	return o
}

// RedisStore is a Store over a single Redis instance.
type RedisStore struct {
	rdb     *redis.Client
	breaker *circuit.Breaker
	addr    string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore builds the client and checks reachability once. An
// unreachable server is logged, not returned: the store keeps probing on
// every call and starts serving as soon as the server answers.
func NewRedisStore(ctx context.Context, opts RedisOptions) *RedisStore {
	opts = opts.withDefaults()
	rdb := redis.NewClient(&redis.Options{
		Addr:                  opts.Addr,
		Password:              opts.Password,
		DB:                    opts.DB,
		DialTimeout:           opts.DialTimeout,
		ReadTimeout:           opts.ReadTimeout,
		WriteTimeout:          opts.WriteTimeout,
		PoolSize:              opts.PoolSize,
		ContextTimeoutEnabled: true,
	})
	s := &RedisStore{
		rdb:     rdb,
		breaker: circuit.New("redis", opts.BreakerThreshold, opts.BreakerCooldown),
		addr:    opts.Addr,
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Errorf("redis connect failed (%s): %v", opts.Addr, err)
		s.breaker.RecordFailure()
	} else {
		logger.Infof("redis connected: %s", opts.Addr)
	}
	return s
}

func (s *RedisStore) Close() error {
	if s == nil || s.rdb == nil {
		return nil
	}
	return s.rdb.Close()
}

// alive pings before each operation. While the breaker is open the ping is
// skipped and the cache reported down.
func (s *RedisStore) alive(ctx context.Context) bool {
	if s == nil || s.rdb == nil {
		return false
	}
	if !s.breaker.Allow() {
		return false
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		s.breaker.RecordFailure()
		logger.Debugf("redis ping failed: %v", err)
		return false
	}
	s.breaker.RecordSuccess()
	return true
}

func (s *RedisStore) Get(ctx context.Context, key string) (Value, bool) {
	if !s.alive(ctx) {
		return Value{}, false
	}
	raw, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return Value{}, false
	}
	if err != nil {
		logger.Warnf("cache get failed %s: %v", key, err)
		return Value{}, false
	}
	return NewValue(raw), true
}

func (s *RedisStore) Set(ctx context.Context, key string, v any, ttl time.Duration) bool {
	if !s.alive(ctx) {
		return false
	}
	payload, err := encode(v)
	if err != nil {
		logger.Warnf("cache encode failed %s: %v", key, err)
		return false
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
		logger.Warnf("cache set failed %s: %v", key, err)
		return false
	}
	return true
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) int64 {
	if len(keys) == 0 || !s.alive(ctx) {
		return 0
	}
	n, err := s.rdb.Del(ctx, keys...).Result()
	if err != nil {
		logger.Warnf("cache delete failed: %v", err)
		return 0
	}
	return n
}

func (s *RedisStore) Exists(ctx context.Context, key string) bool {
	if !s.alive(ctx) {
		return false
	}
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		logger.Warnf("cache exists failed %s: %v", key, err)
		return false
	}
	return n > 0
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) bool {
	if !s.alive(ctx) {
		return false
	}
	ok, err := s.rdb.Expire(ctx, key, ttl).Result()
	if err != nil {
		logger.Warnf("cache expire failed %s: %v", key, err)
		return false
	}
	return ok
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, bool) {
	if !s.alive(ctx) {
		return 0, false
	}
	d, err := s.rdb.TTL(ctx, key).Result()
	if err != nil {
		logger.Warnf("cache ttl failed %s: %v", key, err)
		return 0, false
	}
	switch {
	case d == -2:
		return 0, false
	case d == -1:
		return -1, true
	default:
		return d, true
	}
}

// Keys walks the key space with SCAN so a large cache never blocks the server.
func (s *RedisStore) Keys(ctx context.Context, pattern string) []string {
	if !s.alive(ctx) {
		return nil
	}
	var out []string
	iter := s.rdb.Scan(ctx, 0, pattern, 200).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		logger.Warnf("cache scan failed %s: %v", pattern, err)
		return nil
	}
	return out
}

func (s *RedisStore) Health(ctx context.Context) Health {
	h := Health{Status: StatusUnknown, Backend: "redis"}
	if s == nil || s.rdb == nil {
		return h
	}
	err := s.rdb.Ping(ctx).Err()
	if err != nil {
		s.breaker.RecordFailure()
	} else {
		s.breaker.RecordSuccess()
	}
	h.Breaker = string(s.breaker.State())
	if err != nil {
		h.Status = StatusUnreachable
		h.Error = err.Error()
		return h
	}
	h.Status = StatusConnected
	h.MemoryUsage = "N/A"
	if info, err := s.rdb.Info(ctx, "memory").Result(); err == nil {
		if v := infoField(info, "used_memory_human"); v != "" {
			h.MemoryUsage = v
		}
	}
	if info, err := s.rdb.Info(ctx, "server").Result(); err == nil {
		h.Version = infoField(info, "redis_version")
	}
	return h
}

// infoField extracts "name:value" from an INFO reply.
func infoField(info, name string) string {
	sc := bufio.NewScanner(strings.NewReader(info))
	prefix := name + ":"
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
	}
	return ""
}
