// Package storetest builds throwaway in-memory SQLite pools for tests.
package storetest

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"marketcache/internal/store/pool"

	"github.com/stretchr/testify/require"
)

// MemoryDSN returns a per-test shared in-memory DSN and keeps one extra
// connection open so the database outlives pool rebuilds and evictions.
func MemoryDSN(t testing.TB) string {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := pool.SQLiteMemoryDSN(name)
	keeper, err := sql.Open("sqlite3", dsn)
	require.NoError(t, err)
	require.NoError(t, keeper.Ping())
	t.Cleanup(func() { _ = keeper.Close() })
	return dsn
}

// FastOptions keeps every retry delay at a millisecond.
func FastOptions() pool.Options {
	return pool.Options{
		Size:           3,
		AcquireTimeout: 2 * time.Second,
		InitRetries:    2,
		InitDelay:      time.Millisecond,
		AcquireRetries: 2,
		AcquireDelay:   time.Millisecond,
		ProbeAttempts:  1,
		ProbeDelay:     time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
	}
}

// NewPool opens a ready pool over a fresh in-memory database.
func NewPool(t testing.TB) *pool.Manager {
	t.Helper()
	m := pool.NewManager(context.Background(), pool.SQLiteOpener(MemoryDSN(t)), FastOptions())
	require.Equal(t, pool.StateReady, m.State())
	t.Cleanup(func() { _ = m.Close() })
	return m
}
