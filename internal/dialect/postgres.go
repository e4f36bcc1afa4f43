package dialect

import (
	"fmt"

	"github.com/dbsmedya/ctsync/internal/sqlutil"
)

type postgres struct{}

func (postgres) Name() string { return Postgres }

func (postgres) QuoteIdent(name string) string { return sqlutil.QuoteDouble(name) }

// QuoteTable drops the SQL Server schema; tables land in the search_path schema.
func (d postgres) QuoteTable(t Table) string { return d.QuoteIdent(t.Name) }

func (postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgres) MaxParams() int { return 65535 }

func (postgres) ColumnType(c Column) string {
	switch c.DataType {
	case "bit":
		return "BOOLEAN"
	case "tinyint", "smallint":
		return "SMALLINT"
	case "int":
		return "INTEGER"
	case "bigint":
		return "BIGINT"
	case "decimal", "numeric":
		return "NUMERIC" + decimalSuffix(c)
	case "money":
		return "NUMERIC(19,4)"
	case "smallmoney":
		return "NUMERIC(10,4)"
	case "float":
		return "DOUBLE PRECISION"
	case "real":
		return "REAL"
	case "char", "nchar":
		if c.MaxLength > 0 {
			return fmt.Sprintf("CHAR(%d)", c.MaxLength)
		}
		return "TEXT"
	case "varchar", "nvarchar":
		if c.MaxLength > 0 {
			return fmt.Sprintf("VARCHAR(%d)", c.MaxLength)
		}
		return "TEXT"
	case "text", "ntext", "xml":
		return "TEXT"
	case "date":
		return "DATE"
	case "datetime", "datetime2", "smalldatetime":
		return "TIMESTAMP"
	case "datetimeoffset":
		return "TIMESTAMPTZ"
	case "time":
		return "TIME"
	case "uniqueidentifier":
		return "UUID"
	case "binary", "varbinary", "image", "rowversion", "timestamp":
		return "BYTEA"
	default:
		return "TEXT"
	}
}

func (postgres) IdentityClause(bool) string { return "GENERATED BY DEFAULT AS IDENTITY" }

func (d postgres) CreateTableIfMissing(t Table, body string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.QuoteTable(t), body)
}

func (postgres) TableExistsQuery(t Table) (string, []any) {
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1",
		[]any{t.Name}
}

func (d postgres) UpsertSQL(t Table, keys, cols []string, _ bool) string {
	return onConflictUpsert(d, t, keys, cols)
}

func (d postgres) UpdateSQL(t Table, keys, cols []string) string { return updateSQL(d, t, keys, cols) }

func (d postgres) DeleteSQL(t Table, keys []string) string { return deleteSQL(d, t, keys) }

func (d postgres) LockingRead(t Table, col, keyCol string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 FOR UPDATE",
		d.QuoteIdent(col), d.QuoteTable(t), d.QuoteIdent(keyCol))
}
