package database

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/noah-isme/labroster/pkg/config"
	appErrors "github.com/noah-isme/labroster/pkg/errors"
)

// Options configures the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// OptionsFromConfig maps database config onto pool options.
func OptionsFromConfig(cfg config.DatabaseConfig) Options {
	return Options{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}
}

// Open connects to target, preparing the SQLite file first when needed.
func Open(ctx context.Context, target Target, opts Options) (*sqlx.DB, error) {
	if target.Path != "" {
		if err := prepareSQLiteFile(target.Path); err != nil {
			return nil, appErrors.WrapAs(appErrors.ErrFilesystem, err, "")
		}
	}

	db, err := sqlx.Open(target.Dialect.DriverName, target.DSN)
	if err != nil {
		return nil, appErrors.WrapAs(appErrors.ErrConnection, err, "")
	}

	if target.Memory {
		// Every pooled connection would see its own empty in-memory database.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
		db.SetConnMaxIdleTime(30 * time.Minute)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, appErrors.WrapAs(appErrors.ErrConnection, err, "")
	}

	return db, nil
}

func prepareSQLiteFile(path string) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create parent directory for sqlite file: %w", err)
		}
	}
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("stat sqlite file: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("create sqlite file: %w", err)
	}
	return file.Close()
}

// Transact runs fn inside a transaction, rolling back when it fails.
func Transact(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, context.Canceled) {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Handle hands out the current database connection.
type Handle interface {
	Get() (*sqlx.DB, error)
}

type fixedHandle struct {
	db *sqlx.DB
}

// Fixed wraps an already opened connection as a Handle.
func Fixed(db *sqlx.DB) Handle {
	return fixedHandle{db: db}
}

func (h fixedHandle) Get() (*sqlx.DB, error) {
	if h.db == nil {
		return nil, appErrors.ErrNotInitialized
	}
	return h.db, nil
}
