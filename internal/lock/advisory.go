// Package lock provides named session locks that keep two ctsync instances
// from driving the same replication set.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dbsmedya/ctsync/internal/config"
)

// ErrLockTimeout is returned when lock acquisition times out because
// another instance is holding the lock.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Common timeout values for lock acquisition (in seconds).
const (
	// TimeoutImmediate returns immediately if lock cannot be acquired (no wait).
	TimeoutImmediate = 0

	// TimeoutShort is suitable for fast-failing duplicate instance detection.
	TimeoutShort = 1
)

// pollInterval paces PostgreSQL acquisition, which has no server side wait.
const pollInterval = 100 * time.Millisecond

// AdvisoryLock is a named session lock. It pins one pooled connection while
// held because the database releases session locks when that connection
// closes, and a lock taken on one pooled connection cannot be released from
// another.
//
// SQL Server uses sp_getapplock with a Session owner, MySQL GET_LOCK() and
// PostgreSQL pg_try_advisory_lock() on the hashed name.
type AdvisoryLock struct {
	db       *sql.DB
	driver   string
	lockName string
	conn     *sql.Conn
}

// NewAdvisoryLock creates a new advisory lock with the given name.
// The lock is not acquired until AcquireLock is called.
func NewAdvisoryLock(db *sql.DB, driver, lockName string) *AdvisoryLock {
	return &AdvisoryLock{
		db:       db,
		driver:   driver,
		lockName: lockName,
	}
}

// AcquireLock attempts to acquire the lock, waiting at most timeoutSeconds.
// Returns true if the lock was acquired, false if timeout was reached.
// Returns an error if the database query fails.
func (a *AdvisoryLock) AcquireLock(ctx context.Context, timeoutSeconds int) (bool, error) {
	if a.conn != nil {
		return true, nil // Already holding the lock
	}

	conn, err := a.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to reserve lock connection: %w", err)
	}

	var acquired bool
	switch a.driver {
	case config.DriverSQLServer:
		acquired, err = a.getAppLock(ctx, conn, timeoutSeconds)
	case config.DriverMySQL:
		acquired, err = a.getLock(ctx, conn, timeoutSeconds)
	case config.DriverPostgres:
		acquired, err = a.tryAdvisoryLock(ctx, conn, timeoutSeconds)
	default:
		err = fmt.Errorf("advisory locks are not supported on %q", a.driver)
	}

	if err != nil || !acquired {
		_ = conn.Close()
		return false, err
	}

	a.conn = conn
	return true, nil
}

// getAppLock return values: 0 or 1 granted, -1 timeout, -2 cancelled,
// -3 deadlock victim, -999 parameter or call error.
func (a *AdvisoryLock) getAppLock(ctx context.Context, conn *sql.Conn, timeoutSeconds int) (bool, error) {
	timeoutMs := timeoutSeconds * 1000
	if timeoutSeconds < 0 {
		timeoutMs = -1
	}

	var result int
	err := conn.QueryRowContext(ctx,
		"DECLARE @r int; EXEC @r = sp_getapplock @Resource = @p1, @LockMode = 'Exclusive', @LockOwner = 'Session', @LockTimeout = @p2; SELECT @r",
		a.lockName, timeoutMs).Scan(&result)
	if err != nil {
		return false, fmt.Errorf("failed to execute sp_getapplock: %w", err)
	}

	switch {
	case result >= 0:
		return true, nil
	case result == -1:
		return false, nil
	default:
		return false, fmt.Errorf("sp_getapplock returned %d for lock %q", result, a.lockName)
	}
}

// getLock return values: 1 obtained, 0 timeout, NULL error.
func (a *AdvisoryLock) getLock(ctx context.Context, conn *sql.Conn, timeoutSeconds int) (bool, error) {
	var result sql.NullInt64
	err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", a.lockName, timeoutSeconds).Scan(&result)
	if err != nil {
		return false, fmt.Errorf("failed to execute GET_LOCK: %w", err)
	}

	if !result.Valid {
		return false, fmt.Errorf("GET_LOCK returned NULL for lock %q (possible database error)", a.lockName)
	}

	switch result.Int64 {
	case 1:
		return true, nil
	case 0:
		return false, nil
	default:
		return false, fmt.Errorf("unexpected GET_LOCK return value: %d", result.Int64)
	}
}

func (a *AdvisoryLock) tryAdvisoryLock(ctx context.Context, conn *sql.Conn, timeoutSeconds int) (bool, error) {
	var deadline time.Time
	if timeoutSeconds > 0 {
		deadline = time.Now().Add(time.Duration(timeoutSeconds) * time.Second)
	}

	for {
		var ok bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock(hashtext($1))", a.lockName).Scan(&ok); err != nil {
			return false, fmt.Errorf("failed to execute pg_try_advisory_lock: %w", err)
		}
		if ok {
			return true, nil
		}
		if timeoutSeconds >= 0 && !time.Now().Before(deadline) {
			return false, nil
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// ReleaseLock releases the lock and returns its connection to the pool.
// Returns true if the database confirmed the release, false if the lock was
// not held.
func (a *AdvisoryLock) ReleaseLock(ctx context.Context) (bool, error) {
	if a.conn == nil {
		return false, nil // Not holding the lock
	}

	conn := a.conn
	a.conn = nil
	defer conn.Close()

	switch a.driver {
	case config.DriverSQLServer:
		var result int
		err := conn.QueryRowContext(ctx,
			"DECLARE @r int; EXEC @r = sp_releaseapplock @Resource = @p1, @LockOwner = 'Session'; SELECT @r",
			a.lockName).Scan(&result)
		if err != nil {
			return false, fmt.Errorf("failed to execute sp_releaseapplock: %w", err)
		}
		return result == 0, nil

	case config.DriverMySQL:
		var result sql.NullInt64
		if err := conn.QueryRowContext(ctx, "SELECT RELEASE_LOCK(?)", a.lockName).Scan(&result); err != nil {
			return false, fmt.Errorf("failed to execute RELEASE_LOCK: %w", err)
		}
		if !result.Valid {
			return false, fmt.Errorf("RELEASE_LOCK returned NULL for lock %q (lock did not exist)", a.lockName)
		}
		return result.Int64 == 1, nil

	default:
		var ok bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock(hashtext($1))", a.lockName).Scan(&ok); err != nil {
			return false, fmt.Errorf("failed to execute pg_advisory_unlock: %w", err)
		}
		return ok, nil
	}
}

// TryAcquire attempts to acquire the lock immediately without waiting.
func (a *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	return a.AcquireLock(ctx, TimeoutImmediate)
}

// AcquireOrFail attempts to acquire the lock with a short timeout.
// Returns ErrLockTimeout if another instance is holding the lock.
func (a *AdvisoryLock) AcquireOrFail(ctx context.Context) error {
	acquired, err := a.AcquireLock(ctx, TimeoutShort)
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("%w: lock %q is held by another instance", ErrLockTimeout, a.lockName)
	}
	return nil
}

// GenerateSetLockName creates the lock name of a replication set:
// "ctsync:set:{setName}" with unsafe characters replaced by underscores.
func GenerateSetLockName(setName string) string {
	sanitized := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return '_'
	}, setName)

	return fmt.Sprintf("ctsync:set:%s", sanitized)
}

// NewSetLock creates the advisory lock of a replication set on its source.
func NewSetLock(db *sql.DB, driver, setName string) *AdvisoryLock {
	return NewAdvisoryLock(db, driver, GenerateSetLockName(setName))
}

// IsSetRunning reports whether another instance holds the lock of setName by
// trying to take it without waiting. The answer may be stale immediately.
func IsSetRunning(ctx context.Context, db *sql.DB, driver, setName string) (bool, error) {
	lock := NewSetLock(db, driver, setName)

	acquired, err := lock.TryAcquire(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check if set %q is running: %w", setName, err)
	}
	if acquired {
		// the session ends with the connection if the release fails
		_, _ = lock.ReleaseLock(ctx)
		return false, nil
	}
	return true, nil
}
