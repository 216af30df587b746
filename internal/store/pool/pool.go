package pool

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"marketcache/internal/config"
	"marketcache/internal/logger"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"gorm.io/gorm"
)

var (
	// ErrUnavailable means the pool could not be (re)established.
	ErrUnavailable = errors.New("database pool unavailable")
	ErrClosed      = errors.New("database pool closed")
)

type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateUnavailable
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateUnavailable:
		return "unavailable"
	case StateClosed:
		return "closed"
	default:
		return "uninitialized"
	}
}

// Options are the pool size, timeouts and every retry knob.
type Options struct {
	Size           int
	AcquireTimeout time.Duration

	InitRetries int
	InitDelay   time.Duration

	AcquireRetries int
	AcquireDelay   time.Duration

	ProbeAttempts int
	ProbeDelay    time.Duration

	// TooManyConnsFactor stretches the acquire delay when the server
	// refuses new connections.
	TooManyConnsFactor float64
	MaxBackoff         time.Duration
}

func OptionsFromConfig(cfg config.DatabaseConfig) Options {
	return Options{
		Size:               cfg.PoolSize,
		AcquireTimeout:     cfg.AcquireTimeout(),
		InitRetries:        cfg.PoolInitRetries,
		InitDelay:          cfg.PoolInitDelay(),
		AcquireRetries:     cfg.AcquireRetries,
		AcquireDelay:       cfg.AcquireDelay(),
		ProbeAttempts:      cfg.ProbeAttempts,
		ProbeDelay:         cfg.ProbeDelay(),
		TooManyConnsFactor: cfg.TooManyConnsFactor,
		MaxBackoff:         cfg.MaxBackoff(),
	}
}

func (o Options) withDefaults() Options {
	if o.Size <= 0 {
		o.Size = 3
	}
	if o.AcquireTimeout <= 0 {
		o.AcquireTimeout = 30 * time.Second
	}
	if o.InitRetries <= 0 {
		o.InitRetries = 3
	}
	if o.AcquireRetries <= 0 {
		o.AcquireRetries = 3
	}
	if o.ProbeAttempts <= 0 {
		o.ProbeAttempts = 1
	}
	if o.TooManyConnsFactor < 1 {
		o.TooManyConnsFactor = 1
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	return o
}

// Manager owns the fixed-size connection pool. It rebuilds the pool when
// the server goes away and hands out one exclusive lease per flow.
type Manager struct {
	opener Opener
	opts   Options

	mu    sync.RWMutex
	db    *gorm.DB
	state atomic.Int32

	leases atomic.Int64
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewManager builds the pool. A failed first build is logged and leaves
// the manager Unavailable; the next Acquire tries once more.
func NewManager(ctx context.Context, opener Opener, opts Options) *Manager {
	return newManager(ctx, opener, opts, sleepCtx)
}

func newManager(ctx context.Context, opener Opener, opts Options, sleep func(context.Context, time.Duration) error) *Manager {
	m := &Manager{
		opener: opener,
		opts:   opts.withDefaults(),
		sleep:  sleep,
	}
	if err := m.Reinitialize(ctx); err != nil {
		logger.Errorf("db pool: initial build failed: %v", err)
	}
	return m
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

func (m *Manager) setState(to State) {
	from := State(m.state.Swap(int32(to)))
	if from == to {
		return
	}
	switch {
	case to == StateReady && from == StateUnavailable:
		logger.Infof("db pool: rebuilt, state %s -> %s", from, to)
	case to == StateUnavailable:
		logger.Errorf("db pool: lost, state %s -> %s", from, to)
	default:
		logger.Infof("db pool: state %s -> %s", from, to)
	}
}

// Reinitialize discards the current pool and builds a new one with
// bounded exponential backoff.
func (m *Manager) Reinitialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.State() == StateClosed {
		return ErrClosed
	}
	return m.reinitLocked(ctx)
}

// ensureReady rebuilds the pool unless another caller already did while
// this one waited for the lock.
func (m *Manager) ensureReady(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.State() == StateClosed:
		return ErrClosed
	case m.State() == StateReady && m.db != nil:
		return nil
	}
	return m.reinitLocked(ctx)
}

func (m *Manager) reinitLocked(ctx context.Context) error {
	if m.db != nil {
		if err := closeDB(m.db); err != nil {
			logger.Debugf("db pool: close old pool: %v", err)
		}
		m.db = nil
	}
	b := m.backoff(m.opts.InitDelay)
	var lastErr error
	for attempt := 1; attempt <= m.opts.InitRetries; attempt++ {
		db, err := m.opener(ctx)
		if err == nil {
			err = m.configure(db)
		}
		if err == nil {
			m.db = db
			m.setState(StateReady)
			return nil
		}
		lastErr = err
		logger.Warnf("db pool: build attempt %d/%d failed: %v", attempt, m.opts.InitRetries, err)
		if attempt == m.opts.InitRetries {
			break
		}
		if serr := m.sleep(ctx, b.Duration()); serr != nil {
			lastErr = serr
			break
		}
	}
	m.setState(StateUnavailable)
	return fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

func (m *Manager) configure(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(m.opts.Size)
	sqlDB.SetMaxIdleConns(m.opts.Size)
	return nil
}

// Acquire returns an exclusive lease on one live connection. Callers must
// Release (or Discard) it on every exit path.
func (m *Manager) Acquire(ctx context.Context) (*Conn, error) {
	switch m.State() {
	case StateClosed:
		return nil, ErrClosed
	case StateUnavailable, StateUninitialized:
		if err := m.ensureReady(ctx); err != nil {
			return nil, err
		}
	}
	b := m.backoff(m.opts.AcquireDelay)
	var lastErr error
	for attempt := 1; attempt <= m.opts.AcquireRetries; attempt++ {
		conn, err := m.tryAcquire(ctx)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		if errors.Is(err, ErrClosed) || ctx.Err() != nil {
			return nil, err
		}
		logger.Warnf("db pool: acquire attempt %d/%d failed: %v", attempt, m.opts.AcquireRetries, err)
		if attempt == m.opts.AcquireRetries {
			break
		}
		delay := b.Duration()
		tooMany := IsTooManyConnections(err)
		if tooMany {
			delay = time.Duration(float64(delay) * m.opts.TooManyConnsFactor)
		}
		if serr := m.sleep(ctx, delay); serr != nil {
			return nil, serr
		}
		if tooMany && attempt+1 == m.opts.AcquireRetries {
			if rerr := m.Reinitialize(ctx); rerr != nil {
				return nil, rerr
			}
		}
	}
	// 仅仅是池被占满时不算连接丢失。
	if !errors.Is(lastErr, context.DeadlineExceeded) {
		m.setState(StateUnavailable)
	}
	return nil, fmt.Errorf("%w: acquire failed after %d attempts: %v", ErrUnavailable, m.opts.AcquireRetries, lastErr)
}

func (m *Manager) tryAcquire(ctx context.Context) (*Conn, error) {
	m.mu.RLock()
	db := m.db
	m.mu.RUnlock()
	if db == nil {
		if m.State() == StateClosed {
			return nil, ErrClosed
		}
		return nil, ErrUnavailable
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	actx, cancel := context.WithTimeout(ctx, m.opts.AcquireTimeout)
	raw, err := sqlDB.Conn(actx)
	cancel()
	if err != nil {
		return nil, err
	}
	if err := m.probe(ctx, raw); err != nil {
		evict(raw)
		return nil, err
	}
	sess := db.Session(&gorm.Session{NewDB: true, Context: ctx})
	sess.Statement.ConnPool = raw
	m.leases.Add(1)
	return &Conn{
		ID:  uuid.NewString(),
		raw: raw,
		db:  sess,
		mgr: m,
	}, nil
}

// probe pings the connection a few times before giving up on it.
func (m *Manager) probe(ctx context.Context, raw *sql.Conn) error {
	var err error
	for attempt := 1; attempt <= m.opts.ProbeAttempts; attempt++ {
		pctx, cancel := context.WithTimeout(ctx, m.opts.AcquireTimeout)
		err = raw.PingContext(pctx)
		cancel()
		if err == nil {
			return nil
		}
		// 连接已被 database/sql 判定为坏连接，重复 ping 没有意义。
		if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) || attempt == m.opts.ProbeAttempts {
			break
		}
		if serr := m.sleep(ctx, m.opts.ProbeDelay); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("connection probe failed: %w", err)
}

// Release returns the lease to the pool. Safe to call more than once.
func (m *Manager) Release(c *Conn) {
	if c == nil || !c.released.CompareAndSwap(false, true) {
		return
	}
	m.leases.Add(-1)
	if err := c.raw.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		logger.Debugf("db pool: release %s: %v", c.ID, err)
	}
}

// Discard evicts the leased connection instead of returning it to the
// idle set, so the next Acquire dials a fresh one.
func (m *Manager) Discard(c *Conn) {
	if c == nil || c.released.Load() {
		return
	}
	evict(c.raw)
	m.Release(c)
}

// Ping acquires and releases one lease.
func (m *Manager) Ping(ctx context.Context) error {
	c, err := m.Acquire(ctx)
	if err != nil {
		return err
	}
	m.Release(c)
	return nil
}

// Stats reports outstanding leases next to the database/sql counters.
type Stats struct {
	State  State
	Leases int64
	sql.DBStats
}

func (m *Manager) Stats() Stats {
	st := Stats{State: m.State(), Leases: m.leases.Load()}
	m.mu.RLock()
	db := m.db
	m.mu.RUnlock()
	if db != nil {
		if sqlDB, err := db.DB(); err == nil {
			st.DBStats = sqlDB.Stats()
		}
	}
	return st
}

// DB exposes the pool-wide handle for schema work; regular statements go
// through leases.
func (m *Manager) DB() (*gorm.DB, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return nil, ErrUnavailable
	}
	return m.db, nil
}

func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setState(StateClosed)
	if m.db == nil {
		return nil
	}
	err := closeDB(m.db)
	m.db = nil
	return err
}

func (m *Manager) backoff(base time.Duration) *backoff.Backoff {
	if base <= 0 {
		base = time.Millisecond
	}
	maxDelay := m.opts.MaxBackoff
	if maxDelay < base {
		maxDelay = base
	}
	return &backoff.Backoff{Min: base, Max: maxDelay, Factor: 2}
}

// Conn is one leased connection plus a gorm session bound to it.
type Conn struct {
	ID string

	raw      *sql.Conn
	db       *gorm.DB
	mgr      *Manager
	released atomic.Bool
}

// DB is the gorm handle pinned to this lease's connection.
func (c *Conn) DB() *gorm.DB { return c.db }

func (c *Conn) Release() {
	if c != nil && c.mgr != nil {
		c.mgr.Release(c)
	}
}

func (c *Conn) Discard() {
	if c != nil && c.mgr != nil {
		c.mgr.Discard(c)
	}
}

// IsTooManyConnections matches MySQL error 1040.
func IsTooManyConnections(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysqldrv.MySQLError
	if errors.As(err, &myErr) && myErr.Number == 1040 {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "too many connections")
}

// evict makes database/sql drop the connection rather than pool it.
func evict(raw *sql.Conn) {
	if raw == nil {
		return
	}
	_ = raw.Raw(func(any) error { return driver.ErrBadConn })
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
