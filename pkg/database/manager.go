package database

import (
	"context"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/labroster/pkg/errors"
)

// Migrator applies and reverts the schema on a connection.
type Migrator interface {
	Up(ctx context.Context, db *sqlx.DB) error
	Down(ctx context.Context, db *sqlx.DB) error
}

// Manager owns the active connection. Get is cheap and may be called from any
// number of goroutines; Set, Close, Reinit and Clear are administrative and
// serialised against each other.
type Manager struct {
	migrator Migrator
	opts     Options
	logger   *zap.Logger

	admin sync.Mutex
	mu    sync.RWMutex
	db    *sqlx.DB
}

// NewManager constructs a Manager with no active connection.
func NewManager(migrator Migrator, opts Options, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{migrator: migrator, opts: opts, logger: logger}
}

// Set replaces the active connection with a freshly migrated one for rawURL.
func (m *Manager) Set(ctx context.Context, rawURL string) error {
	m.admin.Lock()
	defer m.admin.Unlock()

	if err := m.closeLocked(); err != nil {
		return err
	}

	target, err := ParseURL(rawURL)
	if err != nil {
		return appErrors.WrapAs(appErrors.ErrConnection, err, "invalid database url")
	}

	db, err := Open(ctx, target, m.opts)
	if err != nil {
		return err
	}

	if m.migrator != nil {
		if err := m.migrator.Up(ctx, db); err != nil {
			_ = db.Close()
			return appErrors.WrapAs(appErrors.ErrMigration, err, "")
		}
	}

	m.mu.Lock()
	m.db = db
	m.mu.Unlock()

	m.logger.Info("database connection established",
		zap.String("dialect", target.Dialect.Name),
		zap.Bool("memory", target.Memory),
		zap.String("path", target.Path),
	)
	return nil
}

// Get returns the active connection.
func (m *Manager) Get() (*sqlx.DB, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return nil, appErrors.ErrNotInitialized
	}
	return m.db, nil
}

// TryGet returns the active connection if there is one.
func (m *Manager) TryGet() (*sqlx.DB, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.db, m.db != nil
}

// Close disconnects the active connection. Closing twice is a no-op.
func (m *Manager) Close() error {
	m.admin.Lock()
	defer m.admin.Unlock()
	return m.closeLocked()
}

func (m *Manager) closeLocked() error {
	m.mu.Lock()
	db := m.db
	m.db = nil
	m.mu.Unlock()

	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return appErrors.WrapAs(appErrors.ErrConnection, err, "failed to close database")
	}
	m.logger.Info("database connection closed")
	return nil
}

// Reinit reverts every migration and applies them again. It destroys all data.
func (m *Manager) Reinit(ctx context.Context) error {
	m.admin.Lock()
	defer m.admin.Unlock()

	db, err := m.Get()
	if err != nil {
		return err
	}
	if m.migrator == nil {
		return nil
	}
	if err := m.migrator.Down(ctx, db); err != nil {
		return appErrors.WrapAs(appErrors.ErrMigration, err, "")
	}
	if err := m.migrator.Up(ctx, db); err != nil {
		return appErrors.WrapAs(appErrors.ErrMigration, err, "")
	}
	m.logger.Warn("database schema reinitialised")
	return nil
}

// Clear reverts every migration, leaving the connection open on an empty schema.
func (m *Manager) Clear(ctx context.Context) error {
	m.admin.Lock()
	defer m.admin.Unlock()

	db, err := m.Get()
	if err != nil {
		return err
	}
	if m.migrator == nil {
		return nil
	}
	if err := m.migrator.Down(ctx, db); err != nil {
		return appErrors.WrapAs(appErrors.ErrMigration, err, "")
	}
	m.logger.Warn("database schema cleared")
	return nil
}
