// Package cache is the best-effort key-value layer in front of the store.
//
// Every operation reports absence or failure through its return value and
// never as an error: a cache that is down behaves exactly like an empty one.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

var ErrNotStructured = errors.New("cached value is not structured")

// Store is the contract shared by the Redis and in-memory backends.
type Store interface {
	Get(ctx context.Context, key string) (Value, bool)
	Set(ctx context.Context, key string, v any, ttl time.Duration) bool
	Delete(ctx context.Context, keys ...string) int64
	Exists(ctx context.Context, key string) bool
	Expire(ctx context.Context, key string, ttl time.Duration) bool
	// TTL reports the remaining lifetime. ok is false when the key is absent
	// or the cache is unreachable; a key without expiry reports -1.
	TTL(ctx context.Context, key string) (ttl time.Duration, ok bool)
	Keys(ctx context.Context, pattern string) []string
	Health(ctx context.Context) Health
	Close() error
}

// Value is a cached payload as stored: JSON text, or arbitrary text written
// by someone else.
type Value struct {
	raw string
}

func NewValue(raw string) Value { return Value{raw: raw} }

// Raw returns the stored text unchanged.
func (v Value) Raw() string { return v.raw }

// Structured reports whether the payload is valid JSON.
func (v Value) Structured() bool { return gjson.Valid(v.raw) }

// Decode unmarshals a structured payload into dest.
func (v Value) Decode(dest any) error {
	if !v.Structured() {
		return ErrNotStructured
	}
	if err := json.Unmarshal([]byte(v.raw), dest); err != nil {
		return fmt.Errorf("decode cached value: %w", err)
	}
	return nil
}

// encode serializes records and lists to JSON; plain text goes through as is.
func encode(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "", errors.New("nil value")
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	case Value:
		return val.raw, nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// Status is the typed outcome of a liveness check.
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusConnected   Status = "connected"
	StatusUnreachable Status = "unreachable"
)

// Health describes the backend, not the key space.
type Health struct {
	Status      Status `json:"status"`
	Backend     string `json:"backend"`
	MemoryUsage string `json:"memory_usage,omitempty"`
	Version     string `json:"version,omitempty"`
	Breaker     string `json:"breaker,omitempty"`
	Error       string `json:"error,omitempty"`
}

func (h Health) Connected() bool { return h.Status == StatusConnected }

// Disabled is a Store with no backend at all.
type Disabled struct{}

var _ Store = Disabled{}

func (Disabled) Get(context.Context, string) (Value, bool) { return Value{}, false }
func (Disabled) Set(context.Context, string, any, time.Duration) bool { return false }
func (Disabled) Delete(context.Context, ...string) int64 { return 0 }
func (Disabled) Exists(context.Context, string) bool { return false }
func (Disabled) Expire(context.Context, string, time.Duration) bool { return false }
func (Disabled) TTL(context.Context, string) (time.Duration, bool) { return 0, false }
func (Disabled) Keys(context.Context, string) []string { return nil }
func (Disabled) Close() error { return nil }
func (Disabled) Health(context.Context) Health {
	return Health{Status: StatusUnreachable, Backend: "none", Error: "cache disabled"}
}
