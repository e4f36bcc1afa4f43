package dialect

import (
	"fmt"
	"strings"

	"github.com/dbsmedya/ctsync/internal/sqlutil"
)

type sqlServer struct{}

func (sqlServer) Name() string { return SQLServer }

func (sqlServer) QuoteIdent(name string) string { return sqlutil.QuoteBracket(name) }

func (d sqlServer) QuoteTable(t Table) string {
	if t.Schema == "" {
		return d.QuoteIdent(t.Name)
	}
	return d.QuoteIdent(t.Schema) + "." + d.QuoteIdent(t.Name)
}

func (sqlServer) Placeholder(n int) string { return fmt.Sprintf("@p%d", n) }

// MaxParams stays under the 2100 parameter limit of an RPC call.
func (sqlServer) MaxParams() int { return 2000 }

func (sqlServer) ColumnType(c Column) string {
	switch c.DataType {
	case "char", "varchar", "nchar", "nvarchar", "binary", "varbinary":
		return c.DataType + lengthSuffix(c, "max")
	case "decimal", "numeric":
		return c.DataType + decimalSuffix(c)
	default:
		return c.DataType
	}
}

func (sqlServer) IdentityClause(bool) string { return "IDENTITY(1,1)" }

func (d sqlServer) CreateTableIfMissing(t Table, body string) string {
	return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s)",
		strings.ReplaceAll(d.QuoteTable(t), "'", "''"), d.QuoteTable(t), body)
}

func (sqlServer) TableExistsQuery(t Table) (string, []any) {
	schema := t.Schema
	if schema == "" {
		return "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = SCHEMA_NAME() AND TABLE_NAME = @p1",
			[]any{t.Name}
	}
	return "SELECT COUNT(*) FROM INFORMATION_SCHEMA.TABLES WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2",
		[]any{schema, t.Name}
}

// UpsertSQL uses IF EXISTS / UPDATE / ELSE INSERT under a key-range lock.
// Named parameters let both branches reuse the same arguments.
func (d sqlServer) UpsertSQL(t Table, keys, cols []string, identity bool) string {
	table := d.QuoteTable(t)
	where := assignments(d, keys, 0, " AND ")
	insert := insertSQL(d, "INSERT", t, keys, cols)

	var b strings.Builder
	if identity {
		fmt.Fprintf(&b, "SET IDENTITY_INSERT %s ON; ", table)
	}
	if len(cols) == 0 {
		fmt.Fprintf(&b, "IF NOT EXISTS (SELECT 1 FROM %s WITH (UPDLOCK, HOLDLOCK) WHERE %s) %s;", table, where, insert)
	} else {
		fmt.Fprintf(&b, "IF EXISTS (SELECT 1 FROM %s WITH (UPDLOCK, HOLDLOCK) WHERE %s) UPDATE %s SET %s WHERE %s ELSE %s;",
			table, where, table, assignments(d, cols, len(keys), ", "), where, insert)
	}
	if identity {
		fmt.Fprintf(&b, " SET IDENTITY_INSERT %s OFF;", table)
	}
	return b.String()
}

func (d sqlServer) UpdateSQL(t Table, keys, cols []string) string { return updateSQL(d, t, keys, cols) }

func (d sqlServer) DeleteSQL(t Table, keys []string) string { return deleteSQL(d, t, keys) }

func (d sqlServer) LockingRead(t Table, col, keyCol string) string {
	return fmt.Sprintf("SELECT %s FROM %s WITH (UPDLOCK, HOLDLOCK) WHERE %s = @p1",
		d.QuoteIdent(col), d.QuoteTable(t), d.QuoteIdent(keyCol))
}
