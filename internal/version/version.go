// Package version manages the SyncInfo marker on a destination: a single row
// holding the last change tracking version fully applied there.
package version

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dbsmedya/ctsync/internal/dialect"
	"github.com/dbsmedya/ctsync/internal/logger"
)

// ErrMarkerMissing is returned when a destination has no marker table or row,
// i.e. it was never bootstrapped with a baseline.
var ErrMarkerMissing = errors.New("version marker missing (run bootstrap stage 3)")

// Table is the marker table. It lives in the destination's default schema.
var Table = dialect.Table{Name: "SyncInfo"}

const (
	idColumn      = "Id"
	versionColumn = "Version"
	markerID      = 1
)

// Tx is the transactional surface the marker functions need; *sql.Tx satisfies it.
type Tx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store reads and initializes the marker of one destination.
type Store struct {
	db     *sql.DB
	d      dialect.Dialect
	logger *logger.Logger
}

// NewStore creates a marker store for a destination.
func NewStore(db *sql.DB, d dialect.Dialect, log *logger.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if d == nil {
		return nil, fmt.Errorf("dialect is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Store{db: db, d: d, logger: log}, nil
}

// CreateTableSQL renders the guarded marker DDL for d.
func CreateTableSQL(d dialect.Dialect) string {
	body := fmt.Sprintf("%s %s NOT NULL PRIMARY KEY, %s %s NOT NULL",
		d.QuoteIdent(idColumn), d.ColumnType(dialect.Column{DataType: "int"}),
		d.QuoteIdent(versionColumn), d.ColumnType(dialect.Column{DataType: "bigint"}))
	return d.CreateTableIfMissing(Table, body)
}

// EnsureTable creates the marker table if it does not exist.
func (s *Store) EnsureTable(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, CreateTableSQL(s.d)); err != nil {
		return fmt.Errorf("failed to create %s table: %w", Table.Name, err)
	}
	return nil
}

// Exists reports whether the marker table exists.
func (s *Store) Exists(ctx context.Context) (bool, error) {
	query, args := s.d.TableExistsQuery(Table)
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check for %s table: %w", Table.Name, err)
	}
	return n > 0, nil
}

// Read returns the stored version without locking. A missing table or row
// yields ErrMarkerMissing.
func (s *Store) Read(ctx context.Context) (int64, error) {
	exists, err := s.Exists(ctx)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrMarkerMissing
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		s.d.QuoteIdent(versionColumn), s.d.QuoteTable(Table), s.d.QuoteIdent(idColumn), s.d.Placeholder(1))

	var v int64
	err = s.db.QueryRowContext(ctx, query, markerID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrMarkerMissing
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read version marker: %w", err)
	}
	return v, nil
}

// Baseline creates the marker if needed and records v. An existing marker is
// only ever raised, never lowered. Returns the version stored afterwards.
func (s *Store) Baseline(ctx context.Context, v int64) (int64, error) {
	if err := s.EnsureTable(ctx); err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	stored, err := LockForUpdate(ctx, tx, s.d)
	switch {
	case errors.Is(err, ErrMarkerMissing):
		if err := Insert(ctx, tx, s.d, v); err != nil {
			return 0, err
		}
		stored = v
		s.logger.Infow("Version marker created", "version", v)
	case err != nil:
		return 0, err
	case stored < v:
		if _, err := Advance(ctx, tx, s.d, v); err != nil {
			return 0, err
		}
		s.logger.Infow("Version marker raised", "from", stored, "to", v)
		stored = v
	default:
		s.logger.Infow("Version marker already at or past baseline", "stored", stored, "baseline", v)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit baseline: %w", err)
	}
	tx = nil

	return stored, nil
}

// LockForUpdate reads the marker inside tx and holds its row lock until the
// transaction ends.
func LockForUpdate(ctx context.Context, tx Tx, d dialect.Dialect) (int64, error) {
	var v int64
	err := tx.QueryRowContext(ctx, d.LockingRead(Table, versionColumn, idColumn), markerID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrMarkerMissing
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock version marker: %w", err)
	}
	return v, nil
}

// Insert writes the marker row.
func Insert(ctx context.Context, tx Tx, d dialect.Dialect, v int64) error {
	query := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
		d.QuoteTable(Table), d.QuoteIdent(idColumn), d.QuoteIdent(versionColumn), d.Placeholder(1), d.Placeholder(2))
	if _, err := tx.ExecContext(ctx, query, markerID, v); err != nil {
		return fmt.Errorf("failed to insert version marker: %w", err)
	}
	return nil
}

// Advance raises the marker to v. The guard keeps the version monotonic even
// against a concurrent writer; it reports whether the row moved.
func Advance(ctx context.Context, tx Tx, d dialect.Dialect, v int64) (bool, error) {
	query := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s = %s AND %s < %s",
		d.QuoteTable(Table),
		d.QuoteIdent(versionColumn), d.Placeholder(1),
		d.QuoteIdent(idColumn), d.Placeholder(2),
		d.QuoteIdent(versionColumn), d.Placeholder(3))

	res, err := tx.ExecContext(ctx, query, v, markerID, v)
	if err != nil {
		return false, fmt.Errorf("failed to advance version marker: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n > 0, nil
}
