package sqlexec

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"marketcache/internal/store/pool"

	mysqldrv "github.com/go-sql-driver/mysql"
)

// Class splits store errors into retryable connection-level failures and
// everything else.
type Class int

const (
	Fatal Class = iota
	Transient
)

func (c Class) String() string {
	if c == Transient {
		return "transient"
	}
	return "fatal"
}

// MySQL server errors that mean the connection, not the statement, is bad.
var transientMySQLCodes = map[uint16]struct{}{
	1040: {}, // too many connections
	1053: {}, // server shutdown in progress
	1077: {}, // normal shutdown
	1079: {}, // shutdown complete
	1152: {}, // aborted connection
	1153: {}, // packet too large
	1158: {}, // net read error
	1159: {}, // net read interrupted
	1160: {}, // net write error
	1161: {}, // net write interrupted
	1205: {}, // lock wait timeout
	1213: {}, // deadlock
}

var transientMessages = []string{
	"server has gone away",
	"lost connection",
	"broken pipe",
	"bad connection",
	"connection reset",
	"connection refused",
	"invalid connection",
	"database is locked",
	"i/o timeout",
}

// Classify decides whether err is worth a reconnect and retry.
func Classify(err error) Class {
	if err == nil || errors.Is(err, context.Canceled) {
		return Fatal
	}
	switch {
	case errors.Is(err, pool.ErrClosed):
		return Fatal
	case errors.Is(err, pool.ErrUnavailable),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, mysqldrv.ErrInvalidConn),
		errors.Is(err, sql.ErrConnDone),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, context.DeadlineExceeded):
		return Transient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	var myErr *mysqldrv.MySQLError
	if errors.As(err, &myErr) {
		if _, ok := transientMySQLCodes[myErr.Number]; ok {
			return Transient
		}
		return Fatal
	}
	msg := strings.ToLower(err.Error())
	for _, pat := range transientMessages {
		if strings.Contains(msg, pat) {
			return Transient
		}
	}
	return Fatal
}
