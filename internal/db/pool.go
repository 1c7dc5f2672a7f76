package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"dronewatch.eu/core/internal/config"
)

var (
	ErrNoRows = sql.ErrNoRows

	errPoolClosed = errors.New("database pool is not initialized")
)

// querier is the raw SQL surface shared by the pool and a transaction.
type querier interface {
	QueryRow(ctx context.Context, query string, args ...any) rowScanner
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	Exec(ctx context.Context, query string, args ...any) (int64, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// errRow is returned in place of a row when there is nothing to query.
type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

// conn runs raw SQL through gorm, either on the pool or inside a transaction.
type conn struct {
	gdb *gorm.DB
}

func (c conn) QueryRow(ctx context.Context, query string, args ...any) rowScanner {
	if c.gdb == nil {
		return errRow{err: ErrNoRows}
	}
	row := c.gdb.WithContext(ctx).Raw(query, args...).Row()
	if row == nil {
		return errRow{err: ErrNoRows}
	}
	return row
}

func (c conn) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if c.gdb == nil {
		return nil, errPoolClosed
	}
	return c.gdb.WithContext(ctx).Raw(query, args...).Rows()
}

// Exec returns the number of affected rows.
func (c conn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if c.gdb == nil {
		return 0, errPoolClosed
	}
	res := c.gdb.WithContext(ctx).Exec(query, args...)
	return res.RowsAffected, res.Error
}

// Pool is the postgres connection pool behind the incident store.
type Pool struct {
	conn
	sqlDB *sql.DB
}

var _ querier = (*Pool)(nil)

// NewPool opens the postgres connection pool. The schema is not touched; call
// Migrate for that.
func NewPool(ctx context.Context, cfg *config.Config) (*Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger: logger.Default.LogMode(resolveGormLogLevel(cfg.LogLevel, cfg.Environment)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm database: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get gorm sql db: %w", err)
	}

	maxOpen := int(cfg.DBMaxConns)
	if maxOpen <= 0 {
		maxOpen = 8
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(max(1, min(int(cfg.DBMinConns), maxOpen)))
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Pool{conn: conn{gdb: gdb}, sqlDB: sqlDB}, nil
}

// WithTx runs fn in one transaction. Any error from fn, or a panic, rolls it
// back; row locks taken with lockForUpdate are held until fn returns.
func (p *Pool) WithTx(ctx context.Context, fn func(q querier) error) error {
	if p == nil || p.gdb == nil {
		return errPoolClosed
	}
	return p.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(conn{gdb: tx})
	})
}

func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.sqlDB == nil {
		return errPoolClosed
	}
	return p.sqlDB.PingContext(ctx)
}

func (p *Pool) Close() error {
	if p == nil || p.sqlDB == nil {
		return nil
	}
	return p.sqlDB.Close()
}

// lockForUpdate makes a single-incident select hold the row of the given
// table alias until the surrounding transaction ends, so concurrent merges
// into the same incident apply one after another.
func lockForUpdate(query, alias string) string {
	return strings.TrimRight(query, "\n") + "\nFOR UPDATE OF " + alias + "\n"
}

func IsNoRows(err error) bool {
	return errors.Is(err, ErrNoRows)
}

func resolveGormLogLevel(appLogLevel, environment string) logger.LogLevel {
	switch strings.ToLower(strings.TrimSpace(appLogLevel)) {
	case "trace", "debug":
		return logger.Info
	case "warn", "warning", "info", "":
		return logger.Warn
	case "error":
		return logger.Error
	case "silent":
		return logger.Silent
	default:
		if strings.EqualFold(strings.TrimSpace(environment), "local") {
			return logger.Warn
		}
		return logger.Error
	}
}
