// Package database provides connection management for ctsync endpoints.
// Handles are opened lazily, cached per endpoint and closed together.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"  // registers "pgx"
	_ "github.com/microsoft/go-mssqldb" // registers "sqlserver"
	_ "modernc.org/sqlite"              // registers "sqlite"

	"github.com/dbsmedya/ctsync/internal/config"
)

// OpenFunc opens a *sql.DB for a database/sql driver name and DSN.
type OpenFunc func(driverName, dsn string) (*sql.DB, error)

// Manager caches one *sql.DB per endpoint key. Pooling is left to database/sql.
type Manager struct {
	mu      sync.Mutex
	conns   map[string]*sql.DB
	open    OpenFunc
	retries int
	backoff time.Duration
}

// NewManager creates a new database manager.
func NewManager() *Manager {
	return &Manager{
		conns:   make(map[string]*sql.DB),
		open:    sql.Open,
		retries: 3,
		backoff: time.Second,
	}
}

// NewManagerWithOpener creates a manager that opens connections through fn.
// Tests use it to hand out sqlmock handles.
func NewManagerWithOpener(fn OpenFunc) *Manager {
	m := NewManager()
	m.open = fn
	m.backoff = 10 * time.Millisecond
	return m
}

// SQLDriverName maps a configured driver to the registered database/sql driver.
func SQLDriverName(driver string) (string, error) {
	switch driver {
	case config.DriverSQLServer, "":
		return "sqlserver", nil
	case config.DriverMySQL:
		return "mysql", nil
	case config.DriverPostgres:
		return "pgx", nil
	case config.DriverSQLite:
		return "sqlite", nil
	default:
		return "", fmt.Errorf("unsupported driver %q", driver)
	}
}

// Open returns the cached handle for info, connecting with retry on first use.
func (m *Manager) Open(ctx context.Context, info config.DatabaseInfo) (*sql.DB, error) {
	key := info.Key()

	m.mu.Lock()
	if db, ok := m.conns[key]; ok {
		m.mu.Unlock()
		return db, nil
	}
	m.mu.Unlock()

	db, err := m.connectWithRetry(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", info.Name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.conns[key]; ok {
		// lost a race with another opener
		_ = db.Close()
		return existing, nil
	}
	m.conns[key] = db
	return db, nil
}

// connectWithRetry attempts to connect with exponential backoff.
func (m *Manager) connectWithRetry(ctx context.Context, info config.DatabaseInfo) (*sql.DB, error) {
	var db *sql.DB
	var err error

	backoff := m.backoff

	for i := 0; i < m.retries; i++ {
		db, err = m.connect(info)
		if err == nil {
			pingErr := db.PingContext(ctx)
			if pingErr == nil {
				return db, nil
			}
			_ = db.Close()
			err = pingErr
		}

		if i < m.retries-1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
			}
		}
	}

	return nil, fmt.Errorf("failed after %d retries: %w", m.retries, err)
}

// connect creates a database handle and configures its pool.
func (m *Manager) connect(info config.DatabaseInfo) (*sql.DB, error) {
	driverName, err := SQLDriverName(info.DriverName())
	if err != nil {
		return nil, err
	}

	dsn, err := PrepareDSN(info)
	if err != nil {
		return nil, err
	}

	db, err := m.open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	if info.MaxConnections > 0 {
		db.SetMaxOpenConns(info.MaxConnections)
	} else if info.DriverName() == config.DriverSQLite {
		// one writer at a time; avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
	}
	if info.MaxIdleConnections > 0 {
		db.SetMaxIdleConns(info.MaxIdleConnections)
	}
	db.SetConnMaxLifetime(10 * time.Minute)

	return db, nil
}

// PrepareDSN adjusts a connection string for the driver. MySQL DSNs get
// parseTime so DATETIME columns scan into time.Time; the others pass through.
func PrepareDSN(info config.DatabaseInfo) (string, error) {
	if info.DriverName() != config.DriverMySQL {
		return info.ConnectionString, nil
	}

	cfg, err := mysql.ParseDSN(info.ConnectionString)
	if err != nil {
		return "", fmt.Errorf("invalid mysql connection string: %w", err)
	}
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// Close closes all database connections gracefully.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for key, db := range m.conns {
		if err := db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close: %w", key, err))
		}
		delete(m.conns, key)
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing connections: %v", errs)
	}
	return nil
}

// Ping verifies all open connections are alive.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, db := range m.conns {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("%s ping failed: %w", key, err)
		}
	}
	return nil
}
