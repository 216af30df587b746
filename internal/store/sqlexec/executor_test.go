package sqlexec

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"syscall"
	"testing"
	"time"

	"marketcache/internal/store/pool"
	"marketcache/internal/store/storetest"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestExecutor(t *testing.T) (*pool.Manager, *Executor) {
	m := storetest.NewPool(t)
	e := New(m, Options{Retries: 3, RetryDelay: time.Millisecond, StatementTimeout: time.Second})
	return m, e
}

type row struct {
	ID   int64
	Name string
}

func setupTable(t *testing.T, e *Executor) {
	t.Helper()
	s := e.Session()
	defer s.Close()
	_, err := s.Exec(context.Background(), "CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT NOT NULL UNIQUE)")
	require.NoError(t, err)
}

func TestQueryAndExec(t *testing.T) {
	ctx := context.Background()
	m, e := newTestExecutor(t)
	setupTable(t, e)

	s := e.Session()
	n, err := s.Exec(ctx, "INSERT INTO items (name) VALUES (?), (?)", "BTC", "ETH")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var rows []row
	require.NoError(t, s.Query(ctx, &rows, "SELECT id, name FROM items ORDER BY id"))
	require.Len(t, rows, 2)
	assert.Equal(t, "ETH", rows[1].Name)
	assert.Equal(t, int64(1), m.Stats().Leases, "one lease for the whole session")

	s.Close()
	s.Close()
	assert.Equal(t, int64(0), m.Stats().Leases)
}

func TestSessionAcquiresLazily(t *testing.T) {
	m, e := newTestExecutor(t)
	s := e.Session()
	assert.Equal(t, int64(0), m.Stats().Leases)
	s.Close()
	assert.Equal(t, int64(0), m.Stats().Leases)
}

func TestTransientWriteRolledBackAndRetried(t *testing.T) {
	ctx := context.Background()
	m, e := newTestExecutor(t)
	setupTable(t, e)

	attempts := 0
	err := e.Run(ctx, func(s *Session) error {
		return s.Write(ctx, func(tx *gorm.DB) error {
			attempts++
			if err := tx.Exec("INSERT INTO items (name) VALUES (?)", "BTC").Error; err != nil {
				return err
			}
			if attempts == 1 {
				return driver.ErrBadConn
			}
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	var count int64
	require.NoError(t, e.Run(ctx, func(s *Session) error {
		return s.Read(ctx, func(db *gorm.DB) error { return db.Table("items").Count(&count).Error })
	}))
	assert.Equal(t, int64(1), count, "first attempt must be rolled back")
	assert.Equal(t, int64(0), m.Stats().Leases)
}

func TestFatalErrorNotRetried(t *testing.T) {
	ctx := context.Background()
	_, e := newTestExecutor(t)
	setupTable(t, e)

	s := e.Session()
	defer s.Close()
	_, err := s.Exec(ctx, "INSERT INTO items (name) VALUES (?)", "BTC")
	require.NoError(t, err)

	attempts := 0
	err = s.Write(ctx, func(tx *gorm.DB) error {
		attempts++
		return tx.Exec("INSERT INTO items (name) VALUES (?)", "BTC").Error
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Contains(t, strings.ToLower(err.Error()), "unique")

	err = s.Query(ctx, &[]row{}, "SELEC nonsense")
	require.Error(t, err)
	assert.Equal(t, Fatal, Classify(errors.Unwrap(err)))
}

func TestRetriesExhausted(t *testing.T) {
	ctx := context.Background()
	m, e := newTestExecutor(t)
	var delays []time.Duration
	e.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	attempts := 0
	s := e.Session()
	err := s.Read(ctx, func(*gorm.DB) error {
		attempts++
		return io.ErrUnexpectedEOF
	})
	s.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond}, delays)
	assert.Equal(t, int64(0), m.Stats().Leases)
}

type downPool struct{ calls int }

func (p *downPool) Acquire(context.Context) (*pool.Conn, error) {
	p.calls++
	return nil, fmt.Errorf("%w: dial refused", pool.ErrUnavailable)
}
func (p *downPool) Release(*pool.Conn) {}
func (p *downPool) Discard(*pool.Conn) {}

func TestUnavailablePoolExhaustsRetries(t *testing.T) {
	p := &downPool{}
	e := New(p, Options{Retries: 2, RetryDelay: time.Millisecond})
	s := e.Session()
	defer s.Close()
	err := s.Query(context.Background(), &[]row{}, "SELECT 1")
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, pool.ErrUnavailable)
	assert.Equal(t, 2, p.calls)
}

func TestCanceledContextStopsRetries(t *testing.T) {
	p := &downPool{}
	e := New(p, Options{Retries: 5, RetryDelay: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Run(ctx, func(s *Session) error { return s.Query(ctx, &[]row{}, "SELECT 1") })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, p.calls)
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "read tcp: i/o deadline" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	transient := []error{
		driver.ErrBadConn,
		mysqldrv.ErrInvalidConn,
		io.EOF,
		fmt.Errorf("write: %w", syscall.EPIPE),
		syscall.ECONNRESET,
		timeoutErr{},
		&mysqldrv.MySQLError{Number: 1040, Message: "Too many connections"},
		&mysqldrv.MySQLError{Number: 1053, Message: "Server shutdown in progress"},
		errors.New("Error 2006: MySQL server has gone away"),
		errors.New("Lost connection to MySQL server during query"),
		fmt.Errorf("acquire: %w", pool.ErrUnavailable),
		context.DeadlineExceeded,
	}
	for _, err := range transient {
		assert.Equal(t, Transient, Classify(err), err.Error())
	}
	fatal := []error{
		nil,
		context.Canceled,
		pool.ErrClosed,
		&mysqldrv.MySQLError{Number: 1062, Message: "Duplicate entry"},
		&mysqldrv.MySQLError{Number: 1452, Message: "Cannot add or update a child row: a foreign key constraint fails"},
		&mysqldrv.MySQLError{Number: 1064, Message: "You have an error in your SQL syntax"},
		&mysqldrv.MySQLError{Number: 1142, Message: "command denied"},
		errors.New("FOREIGN KEY constraint failed"),
		sql.ErrNoRows,
	}
	for _, err := range fatal {
		assert.Equal(t, Fatal, Classify(err), fmt.Sprint(err))
	}
}
