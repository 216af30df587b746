package sqlexec

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketcache/internal/config"
	"marketcache/internal/logger"
	"marketcache/internal/store/pool"

	"github.com/jpillora/backoff"
	"gorm.io/gorm"
)

// ErrRetriesExhausted wraps the last transient error once the retry budget
// is spent.
var ErrRetriesExhausted = errors.New("query retries exhausted")

// Leaser is the part of the pool manager the executor needs.
type Leaser interface {
	Acquire(ctx context.Context) (*pool.Conn, error)
	Release(c *pool.Conn)
	Discard(c *pool.Conn)
}

type Options struct {
	Retries          int
	RetryDelay       time.Duration
	MaxBackoff       time.Duration
	StatementTimeout time.Duration
}

func OptionsFromConfig(cfg config.DatabaseConfig) Options {
	return Options{
		Retries:          cfg.QueryRetries,
		RetryDelay:       cfg.QueryRetryDelay(),
		MaxBackoff:       cfg.MaxBackoff(),
		StatementTimeout: cfg.StatementTimeout(),
	}
}

func (o Options) withDefaults() Options {
	if o.Retries <= 0 {
		o.Retries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	if o.MaxBackoff < o.RetryDelay {
		o.MaxBackoff = o.RetryDelay
	}
	if o.StatementTimeout <= 0 {
		o.StatementTimeout = 30 * time.Second
	}
	return o
}

// Executor runs statements over leased connections, retrying transient
// failures on a fresh connection.
type Executor struct {
	pool  Leaser
	opts  Options
	sleep func(ctx context.Context, d time.Duration) error
}

func New(p Leaser, opts Options) *Executor {
	return &Executor{pool: p, opts: opts.withDefaults(), sleep: sleepCtx}
}

// Session starts a unit of work. The connection is acquired lazily on the
// first statement and held until Close.
func (e *Executor) Session() *Session {
	return &Session{exec: e}
}

// Run is a one-shot session around fn.
func (e *Executor) Run(ctx context.Context, fn func(s *Session) error) error {
	s := e.Session()
	defer s.Close()
	return fn(s)
}

// Session owns at most one lease at a time; it is not safe for concurrent
// use.
type Session struct {
	exec *Executor
	conn *pool.Conn
}

// Close releases the held lease, if any.
func (s *Session) Close() {
	if s == nil || s.conn == nil {
		return
	}
	s.exec.pool.Release(s.conn)
	s.conn = nil
}

// Query runs a read statement and materializes all rows into dest.
func (s *Session) Query(ctx context.Context, dest any, query string, args ...any) error {
	return s.Read(ctx, func(db *gorm.DB) error {
		return db.Raw(query, args...).Scan(dest).Error
	})
}

// Exec runs a write statement and commits it.
func (s *Session) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	var affected int64
	err := s.Write(ctx, func(tx *gorm.DB) error {
		res := tx.Exec(query, args...)
		affected = res.RowsAffected
		return res.Error
	})
	return affected, err
}

// Read runs fn outside a transaction.
func (s *Session) Read(ctx context.Context, fn func(db *gorm.DB) error) error {
	return s.do(ctx, false, fn)
}

// Write runs fn in its own transaction; a failure rolls it back before
// any retry.
func (s *Session) Write(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.do(ctx, true, fn)
}

func (s *Session) do(ctx context.Context, write bool, fn func(db *gorm.DB) error) error {
	e := s.exec
	b := &backoff.Backoff{Min: e.opts.RetryDelay, Max: e.opts.MaxBackoff, Factor: 2}
	var lastErr error
	for attempt := 1; attempt <= e.opts.Retries; attempt++ {
		err := s.attempt(ctx, write, fn)
		if err == nil {
			return nil
		}
		if Classify(err) == Fatal {
			return fmt.Errorf("statement failed: %w", err)
		}
		if ctx.Err() != nil {
			return fmt.Errorf("statement aborted: %w", ctx.Err())
		}
		lastErr = err
		s.discard()
		logger.Warnf("sqlexec: transient failure attempt %d/%d: %v", attempt, e.opts.Retries, err)
		if attempt == e.opts.Retries {
			break
		}
		if serr := e.sleep(ctx, b.Duration()); serr != nil {
			return fmt.Errorf("statement aborted: %w", serr)
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, e.opts.Retries, lastErr)
}

func (s *Session) attempt(ctx context.Context, write bool, fn func(db *gorm.DB) error) error {
	if s.conn == nil {
		conn, err := s.exec.pool.Acquire(ctx)
		if err != nil {
			return err
		}
		s.conn = conn
	}
	sctx, cancel := context.WithTimeout(ctx, s.exec.opts.StatementTimeout)
	defer cancel()
	db := s.conn.DB().WithContext(sctx)
	if write {
		return db.Transaction(fn)
	}
	return fn(db)
}

// discard drops a connection that failed at the transport level.
func (s *Session) discard() {
	if s.conn == nil {
		return
	}
	s.exec.pool.Discard(s.conn)
	s.conn = nil
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
