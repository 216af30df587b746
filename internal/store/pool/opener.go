package pool

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"marketcache/internal/config"

	mysqldrv "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Opener creates a fresh *gorm.DB and proves it can reach the server.
type Opener func(ctx context.Context) (*gorm.DB, error)

// OpenerFor builds the opener for the configured driver.
func OpenerFor(cfg config.DatabaseConfig) (Opener, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "mysql":
		return MySQLOpener(cfg), nil
	case "sqlite":
		if err := ensureDir(cfg.Path); err != nil {
			return nil, err
		}
		return SQLiteOpener(SQLiteDSN(cfg.Path)), nil
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// MySQLDSN encodes connect/read/write timeouts into the DSN so every socket
// operation is bounded.
func MySQLDSN(cfg config.DatabaseConfig) string {
	mc := mysqldrv.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Name
	mc.Timeout = cfg.ConnectTimeout()
	mc.ReadTimeout = cfg.ReadTimeout()
	mc.WriteTimeout = cfg.WriteTimeout()
	mc.ParseTime = true
	mc.Loc = time.UTC
	if cfg.Charset != "" {
		mc.Params = map[string]string{"charset": cfg.Charset}
	}
	return mc.FormatDSN()
}

func MySQLOpener(cfg config.DatabaseConfig) Opener {
	dsn := MySQLDSN(cfg)
	return func(ctx context.Context) (*gorm.DB, error) {
		sqlDB, err := sql.Open("mysql", dsn)
		if err != nil {
			return nil, err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB}), gormConfig())
		if err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		return db, nil
	}
}

// SQLiteDSN turns on foreign keys so cascading deletes and reference checks
// behave like the MySQL schema.
func SQLiteDSN(path string) string {
	if name, ok := strings.CutPrefix(path, ":memory:"); ok {
		return SQLiteMemoryDSN(strings.TrimPrefix(name, ":"))
	}
	return fmt.Sprintf("file:%s?_foreign_keys=1&_busy_timeout=5000&_journal_mode=WAL&cache=shared", path)
}

// SQLiteMemoryDSN names a shared in-memory database; it lives as long as
// one pooled connection stays open.
func SQLiteMemoryDSN(name string) string {
	if name == "" {
		name = "marketcache"
	}
	return fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=1&_busy_timeout=5000", name)
}

func SQLiteOpener(dsn string) Opener {
	return func(ctx context.Context) (*gorm.DB, error) {
		db, err := gorm.Open(sqlite.Open(dsn), gormConfig())
		if err != nil {
			return nil, err
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			_ = sqlDB.Close()
			return nil, err
		}
		return db, nil
	}
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		Logger:               gormlogger.Default.LogMode(gormlogger.Silent),
		DisableAutomaticPing: true,
		NowFunc:              func() time.Time { return time.Now().UTC() },
	}
}

func ensureDir(path string) error {
	path = strings.TrimSpace(path)
	if path == "" || strings.HasPrefix(path, ":memory:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
