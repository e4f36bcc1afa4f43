// Package dialect describes how each supported destination engine spells the
// statements ctsync needs: quoting, placeholders, type mapping, guarded DDL,
// idempotent upserts and the marker row lock.
package dialect

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dbsmedya/ctsync/internal/sqlutil"
)

// ErrUnknownDialect is returned by Lookup for unsupported engine names.
var ErrUnknownDialect = errors.New("unknown dialect")

// Engine names.
const (
	SQLServer = "sqlserver"
	MySQL     = "mysql"
	Postgres  = "postgres"
	SQLite    = "sqlite"
)

// Table is a possibly schema-qualified table reference.
type Table struct {
	Schema string
	Name   string
}

// ParseTable parses "schema.name", "[schema].[name]" or a bare name.
func ParseTable(s string) Table {
	schema, name := sqlutil.SplitQualified(s)
	return Table{Schema: schema, Name: name}
}

// String renders the unquoted reference, e.g. "dbo.Orders".
func (t Table) String() string {
	if t.Schema == "" {
		return t.Name
	}
	return t.Schema + "." + t.Name
}

// Column is the strongly typed metadata of one source column. DataType is the
// SQL Server type name in lowercase. MaxLength is -1 for (max) types.
type Column struct {
	Name      string
	DataType  string
	MaxLength int
	Precision int
	Scale     int
	Nullable  bool
	Identity  bool
	Ordinal   int
}

// Dialect renders engine specific SQL. Argument order for generated
// statements is documented per method.
type Dialect interface {
	Name() string
	QuoteIdent(name string) string
	QuoteTable(t Table) string
	// Placeholder returns the n-th (1-based) bind parameter marker.
	Placeholder(n int) string
	// MaxParams is the number of bind parameters one statement may carry.
	MaxParams() int

	// ColumnType maps a SQL Server column to this engine's type.
	ColumnType(c Column) string
	// IdentityClause is appended after the type of an identity column; empty
	// when the engine cannot express it for this column.
	IdentityClause(inKey bool) string
	CreateTableIfMissing(t Table, body string) string
	// TableExistsQuery returns a query yielding a single count.
	TableExistsQuery(t Table) (string, []any)

	// UpsertSQL inserts a row or overwrites its non-key columns.
	// Args: key values, then column values.
	UpsertSQL(t Table, keys, cols []string, identity bool) string
	// UpdateSQL args: column values, then key values.
	UpdateSQL(t Table, keys, cols []string) string
	// DeleteSQL args: key values.
	DeleteSQL(t Table, keys []string) string
	// LockingRead selects col from the row keyCol = arg 1 and holds a write lock
	// on it until the surrounding transaction ends.
	LockingRead(t Table, col, keyCol string) string
}

var registry = map[string]Dialect{
	SQLServer: sqlServer{},
	MySQL:     mySQL{},
	Postgres:  postgres{},
	SQLite:    sqlite{},
}

// Lookup returns the dialect registered under name.
func Lookup(name string) (Dialect, error) {
	d, ok := registry[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDialect, name)
	}
	return d, nil
}

// MustLookup is Lookup for names known at compile time.
func MustLookup(name string) Dialect {
	d, err := Lookup(name)
	if err != nil {
		panic(err)
	}
	return d
}

// Names lists the registered dialects.
func Names() []string {
	return []string{SQLServer, MySQL, Postgres, SQLite}
}

// assignments renders "c1 = p(off+1), c2 = p(off+2)" joined by sep.
func assignments(d Dialect, cols []string, off int, sep string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = d.QuoteIdent(c) + " = " + d.Placeholder(off+i+1)
	}
	return strings.Join(parts, sep)
}

func quotedList(d Dialect, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = d.QuoteIdent(c)
	}
	return strings.Join(parts, ", ")
}

func placeholderList(d Dialect, n, off int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = d.Placeholder(off + i + 1)
	}
	return strings.Join(parts, ", ")
}

func insertSQL(d Dialect, verb string, t Table, keys, cols []string) string {
	all := append(append([]string{}, keys...), cols...)
	return fmt.Sprintf("%s INTO %s (%s) VALUES (%s)",
		verb, d.QuoteTable(t), quotedList(d, all), placeholderList(d, len(all), 0))
}

func updateSQL(d Dialect, t Table, keys, cols []string) string {
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		d.QuoteTable(t), assignments(d, cols, 0, ", "), assignments(d, keys, len(cols), " AND "))
}

func deleteSQL(d Dialect, t Table, keys []string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s", d.QuoteTable(t), assignments(d, keys, 0, " AND "))
}

// onConflictUpsert is shared by PostgreSQL and SQLite.
func onConflictUpsert(d Dialect, t Table, keys, cols []string) string {
	stmt := insertSQL(d, "INSERT", t, keys, cols) + " ON CONFLICT (" + quotedList(d, keys) + ")"
	if len(cols) == 0 {
		return stmt + " DO NOTHING"
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		q := d.QuoteIdent(c)
		sets[i] = q + " = EXCLUDED." + q
	}
	return stmt + " DO UPDATE SET " + strings.Join(sets, ", ")
}

// lengthSuffix renders "(n)" or "(max)" for character and binary types.
func lengthSuffix(c Column, maxWord string) string {
	switch {
	case c.MaxLength < 0:
		return "(" + maxWord + ")"
	case c.MaxLength > 0:
		return fmt.Sprintf("(%d)", c.MaxLength)
	default:
		return ""
	}
}

func decimalSuffix(c Column) string {
	if c.Precision <= 0 {
		return ""
	}
	return fmt.Sprintf("(%d,%d)", c.Precision, c.Scale)
}
