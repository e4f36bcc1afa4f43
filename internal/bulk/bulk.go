// Package bulk streams whole tables from the source into a destination using
// the destination's native bulk path.
package bulk

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	mssql "github.com/microsoft/go-mssqldb"

	"github.com/dbsmedya/ctsync/internal/dialect"
	"github.com/dbsmedya/ctsync/internal/logger"
	"github.com/dbsmedya/ctsync/internal/schema"
)

// DefaultBatchSize is the number of rows per multi-row INSERT.
const DefaultBatchSize = 500

// maxSQLServerRows is the row limit of one SQL Server VALUES clause.
const maxSQLServerRows = 1000

// Rows is the cursor a load consumes; *sql.Rows satisfies it.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// Stats describes one finished table load.
type Stats struct {
	Table    string
	Rows     int64
	Duration time.Duration
}

// Loader writes rows into one destination.
type Loader struct {
	db        *sql.DB
	d         dialect.Dialect
	batchSize int
	logger    *logger.Logger
}

// NewLoader creates a Loader for a destination. batchSize <= 0 selects DefaultBatchSize.
func NewLoader(db *sql.DB, d dialect.Dialect, batchSize int, log *logger.Logger) (*Loader, error) {
	if db == nil {
		return nil, fmt.Errorf("destination database is nil")
	}
	if d == nil {
		return nil, fmt.Errorf("dialect is nil")
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Loader{db: db, d: d, batchSize: batchSize, logger: log}, nil
}

// SelectAll renders the source query feeding a load of spec: every replicated
// column, keys first.
func SelectAll(spec *schema.TableSpec) string {
	src := dialect.MustLookup(dialect.SQLServer)
	cols := spec.AllColumns()
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = src.QuoteIdent(c)
	}
	return fmt.Sprintf("SELECT %s FROM %s", strings.Join(quoted, ", "), src.QuoteTable(spec.Table))
}

// Copy reads every row of spec from source and loads it into the destination.
func (l *Loader) Copy(ctx context.Context, source *sql.DB, spec *schema.TableSpec) (*Stats, error) {
	start := time.Now()

	rows, err := source.QueryContext(ctx, SelectAll(spec))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s from source: %w", spec.Name, err)
	}
	defer rows.Close()

	n, err := l.Load(ctx, spec, rows)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Table: spec.Name, Rows: n, Duration: time.Since(start)}
	l.logger.WithTable(spec.Name).Infow("Table seeded", "rows", n, "duration", stats.Duration)
	return stats, nil
}

// Load writes every row of rows into spec's destination table. Row values
// must be in spec.AllColumns() order. Existing destination rows are left in
// place; a key conflict surfaces as the driver's error.
func (l *Loader) Load(ctx context.Context, spec *schema.TableSpec, rows Rows) (int64, error) {
	cols := spec.AllColumns()
	next := func() ([]any, error) {
		if !rows.Next() {
			return nil, rows.Err()
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		spec.NormalizeRow(cols, values)
		return values, nil
	}

	var (
		n   int64
		err error
	)
	switch l.d.Name() {
	case dialect.SQLServer:
		// bulk copy renumbers identity columns; explicit inserts keep the
		// source keys
		if spec.HasIdentity {
			n, err = l.insertBatches(ctx, spec, cols, next)
		} else {
			n, err = l.copyIn(ctx, spec, cols, next)
		}
	case dialect.Postgres:
		n, err = l.copyFrom(ctx, spec, cols, next)
	default:
		n, err = l.insertBatches(ctx, spec, cols, next)
	}
	if err != nil {
		return n, fmt.Errorf("failed to load %s: %w", spec.Name, err)
	}
	return n, nil
}

type nextFunc func() ([]any, error)

// copyIn uses the TDS bulk copy protocol.
func (l *Loader) copyIn(ctx context.Context, spec *schema.TableSpec, cols []string, next nextFunc) (int64, error) {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	opts := mssql.BulkOptions{KeepNulls: true}
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(l.d.QuoteTable(spec.Table), opts, cols...))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare bulk copy: %w", err)
	}
	defer stmt.Close()

	for {
		values, err := next()
		if err != nil {
			return 0, err
		}
		if values == nil {
			break
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return 0, fmt.Errorf("failed to buffer row: %w", err)
		}
	}

	// an argument-less Exec flushes the buffered rows
	res, err := stmt.ExecContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to flush bulk copy: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit bulk copy: %w", err)
	}
	tx = nil
	return n, nil
}

// copySource adapts a nextFunc to pgx.CopyFromSource.
type copySource struct {
	next   nextFunc
	values []any
	err    error
}

func (s *copySource) Next() bool {
	s.values, s.err = s.next()
	return s.err == nil && s.values != nil
}

func (s *copySource) Values() ([]any, error) { return s.values, nil }

func (s *copySource) Err() error { return s.err }

// copyFrom uses PostgreSQL COPY through the pgx connection under database/sql.
func (l *Loader) copyFrom(ctx context.Context, spec *schema.TableSpec, cols []string, next nextFunc) (int64, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	var n int64
	err = conn.Raw(func(driverConn any) error {
		pc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected postgres driver connection %T", driverConn)
		}
		n, err = pc.Conn().CopyFrom(ctx, pgx.Identifier{spec.Table.Name}, cols, &copySource{next: next})
		return err
	})
	return n, err
}

// insertBatches writes multi-row INSERT statements in one transaction. On SQL
// Server identity tables the transaction turns IDENTITY_INSERT on around them.
func (l *Loader) insertBatches(ctx context.Context, spec *schema.TableSpec, cols []string, next nextFunc) (int64, error) {
	identity := l.d.Name() == dialect.SQLServer && spec.HasIdentity

	size := l.batchSize
	if limit := l.d.MaxParams() / len(cols); limit < size {
		size = limit
	}
	if l.d.Name() == dialect.SQLServer && size > maxSQLServerRows {
		size = maxSQLServerRows
	}
	if size < 1 {
		size = 1
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			_ = tx.Rollback()
		}
	}()

	if identity {
		if err := l.identityInsert(ctx, tx, spec, "ON"); err != nil {
			return 0, err
		}
	}

	var (
		total int64
		batch = make([]any, 0, size*len(cols))
		rows  int
	)
	flush := func() error {
		if rows == 0 {
			return nil
		}
		res, err := tx.ExecContext(ctx, InsertSQL(l.d, spec.Table, cols, rows), batch...)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read rows affected: %w", err)
		}
		total += affected
		batch, rows = batch[:0], 0
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return total, fmt.Errorf("load interrupted: %w", err)
		}
		values, err := next()
		if err != nil {
			return total, err
		}
		if values == nil {
			break
		}
		batch = append(batch, values...)
		rows++
		if rows == size {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}

	if identity {
		if err := l.identityInsert(ctx, tx, spec, "OFF"); err != nil {
			return total, err
		}
	}

	if err := tx.Commit(); err != nil {
		return total, fmt.Errorf("failed to commit load: %w", err)
	}
	tx = nil

	l.logger.WithTable(spec.Name).Debugw("Rows inserted", "rows", total, "batch_size", size)
	return total, nil
}

func (l *Loader) identityInsert(ctx context.Context, tx *sql.Tx, spec *schema.TableSpec, state string) error {
	stmt := fmt.Sprintf("SET IDENTITY_INSERT %s %s", l.d.QuoteTable(spec.Table), state)
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to set identity insert %s: %w", state, err)
	}
	return nil
}

// InsertSQL renders a plain INSERT carrying rows value tuples for cols.
func InsertSQL(d dialect.Dialect, t dialect.Table, cols []string, rows int) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.QuoteIdent(c)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", d.QuoteTable(t), strings.Join(quoted, ", "))
	n := 1
	for r := 0; r < rows; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range cols {
			if c > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(n))
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}
