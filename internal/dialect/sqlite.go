package dialect

import (
	"fmt"

	"github.com/dbsmedya/ctsync/internal/sqlutil"
)

type sqlite struct{}

func (sqlite) Name() string { return SQLite }

func (sqlite) QuoteIdent(name string) string { return sqlutil.QuoteDouble(name) }

func (d sqlite) QuoteTable(t Table) string { return d.QuoteIdent(t.Name) }

func (sqlite) Placeholder(int) string { return "?" }

// MaxParams is SQLITE_MAX_VARIABLE_NUMBER since 3.32.
func (sqlite) MaxParams() int { return 32766 }

// ColumnType maps to SQLite storage classes by affinity.
func (sqlite) ColumnType(c Column) string {
	switch c.DataType {
	case "bit", "tinyint", "smallint", "int", "bigint":
		return "INTEGER"
	case "decimal", "numeric", "money", "smallmoney":
		return "NUMERIC"
	case "float", "real":
		return "REAL"
	case "binary", "varbinary", "image", "rowversion", "timestamp":
		return "BLOB"
	default:
		return "TEXT"
	}
}

// IdentityClause is empty: an INTEGER primary key already aliases the rowid.
func (sqlite) IdentityClause(bool) string { return "" }

func (d sqlite) CreateTableIfMissing(t Table, body string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.QuoteTable(t), body)
}

func (sqlite) TableExistsQuery(t Table) (string, []any) {
	return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", []any{t.Name}
}

func (d sqlite) UpsertSQL(t Table, keys, cols []string, _ bool) string {
	return onConflictUpsert(d, t, keys, cols)
}

func (d sqlite) UpdateSQL(t Table, keys, cols []string) string { return updateSQL(d, t, keys, cols) }

func (d sqlite) DeleteSQL(t Table, keys []string) string { return deleteSQL(d, t, keys) }

// LockingRead is a plain read; SQLite serializes writers at the database level.
func (d sqlite) LockingRead(t Table, col, keyCol string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = ?",
		d.QuoteIdent(col), d.QuoteTable(t), d.QuoteIdent(keyCol))
}
