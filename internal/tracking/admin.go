package tracking

import (
	"context"
	"errors"
	"fmt"

	"github.com/dbsmedya/ctsync/internal/dialect"
)

// SQL Server error numbers raised when change tracking is already on.
const (
	errDatabaseAlreadyTracked = 5088
	errTableAlreadyTracked    = 4996
)

// sqlErrorNumber matches mssql.Error without tying callers to the driver type.
type sqlErrorNumber interface {
	SQLErrorNumber() int32
}

func hasErrorNumber(err error, number int32) bool {
	var numbered sqlErrorNumber
	if errors.As(err, &numbered) {
		return numbered.SQLErrorNumber() == number
	}
	return false
}

// DatabaseTracked reports whether change tracking is enabled on the current database.
func (s *Source) DatabaseTracked(ctx context.Context) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sys.change_tracking_databases WHERE database_id = DB_ID()").Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query change tracking databases: %w", err)
	}
	return n > 0, nil
}

// SnapshotIsolationEnabled reports whether ALLOW_SNAPSHOT_ISOLATION is on.
func (s *Source) SnapshotIsolationEnabled(ctx context.Context) (bool, error) {
	var state int
	err := s.db.QueryRowContext(ctx,
		"SELECT snapshot_isolation_state FROM sys.databases WHERE database_id = DB_ID()").Scan(&state)
	if err != nil {
		return false, fmt.Errorf("failed to query snapshot isolation state: %w", err)
	}
	return state == 1, nil
}

// TrackedTables returns "schema.table" for every change tracked table.
func (s *Source) TrackedTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sc.name, t.name
		FROM sys.change_tracking_tables ctt
		INNER JOIN sys.tables t ON t.object_id = ctt.object_id
		INNER JOIN sys.schemas sc ON sc.schema_id = t.schema_id
		ORDER BY sc.name, t.name`)
	if err != nil {
		return nil, fmt.Errorf("failed to query change tracking tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var schemaName, name string
		if err := rows.Scan(&schemaName, &name); err != nil {
			return nil, fmt.Errorf("failed to scan change tracking table: %w", err)
		}
		tables = append(tables, schemaName+"."+name)
	}
	return tables, rows.Err()
}

// databaseName returns DB_NAME() for ALTER DATABASE statements.
func (s *Source) databaseName(ctx context.Context) (string, error) {
	var name string
	if err := s.db.QueryRowContext(ctx, "SELECT DB_NAME()").Scan(&name); err != nil {
		return "", fmt.Errorf("failed to read database name: %w", err)
	}
	return name, nil
}

// EnableDatabase turns on change tracking for the current database with the
// given retention. A database that is already tracked is not an error.
func (s *Source) EnableDatabase(ctx context.Context, retentionDays int) error {
	if retentionDays <= 0 {
		retentionDays = 2
	}
	name, err := s.databaseName(ctx)
	if err != nil {
		return err
	}

	stmt := fmt.Sprintf("ALTER DATABASE %s SET CHANGE_TRACKING = ON (CHANGE_RETENTION = %d DAYS, AUTO_CLEANUP = ON)",
		mssql.QuoteIdent(name), retentionDays)
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		if hasErrorNumber(err, errDatabaseAlreadyTracked) {
			s.logger.Infow("Change tracking already enabled on database", "database", name)
			return nil
		}
		return fmt.Errorf("failed to enable change tracking on %s: %w", name, err)
	}

	s.logger.Infow("Enabled change tracking on database", "database", name, "retention_days", retentionDays)
	return nil
}

// EnableSnapshotIsolation sets ALLOW_SNAPSHOT_ISOLATION ON for the current database.
func (s *Source) EnableSnapshotIsolation(ctx context.Context) error {
	name, err := s.databaseName(ctx)
	if err != nil {
		return err
	}
	stmt := fmt.Sprintf("ALTER DATABASE %s SET ALLOW_SNAPSHOT_ISOLATION ON", mssql.QuoteIdent(name))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to enable snapshot isolation on %s: %w", name, err)
	}
	s.logger.Infow("Enabled snapshot isolation", "database", name)
	return nil
}

// EnableTable turns on change tracking for one table. A table that is already
// tracked is not an error.
func (s *Source) EnableTable(ctx context.Context, t dialect.Table) error {
	stmt := fmt.Sprintf("ALTER TABLE %s ENABLE CHANGE_TRACKING WITH (TRACK_COLUMNS_UPDATED = OFF)", mssql.QuoteTable(t))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		if hasErrorNumber(err, errTableAlreadyTracked) {
			s.logger.Debugw("Change tracking already enabled on table", "table", t.String())
			return nil
		}
		return fmt.Errorf("failed to enable change tracking on %s: %w", t, err)
	}
	s.logger.Infow("Enabled change tracking on table", "table", t.String())
	return nil
}
