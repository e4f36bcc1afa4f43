package dialect

import (
	"fmt"
	"strings"

	"github.com/dbsmedya/ctsync/internal/sqlutil"
)

type mySQL struct{}

func (mySQL) Name() string { return MySQL }

func (mySQL) QuoteIdent(name string) string { return sqlutil.QuoteBacktick(name) }

// QuoteTable drops the SQL Server schema; the table lands in the connection's database.
func (d mySQL) QuoteTable(t Table) string { return d.QuoteIdent(t.Name) }

func (mySQL) Placeholder(int) string { return "?" }

func (mySQL) MaxParams() int { return 65535 }

// ColumnType maps SQL Server types onto MySQL 8 types.
func (mySQL) ColumnType(c Column) string {
	switch c.DataType {
	case "bit":
		return "TINYINT(1)"
	case "tinyint":
		return "TINYINT UNSIGNED"
	case "smallint":
		return "SMALLINT"
	case "int":
		return "INT"
	case "bigint":
		return "BIGINT"
	case "decimal", "numeric":
		return "DECIMAL" + decimalSuffix(c)
	case "money":
		return "DECIMAL(19,4)"
	case "smallmoney":
		return "DECIMAL(10,4)"
	case "float":
		return "DOUBLE"
	case "real":
		return "FLOAT"
	case "char", "nchar":
		if c.MaxLength > 0 && c.MaxLength <= 255 {
			return fmt.Sprintf("CHAR(%d)", c.MaxLength)
		}
		return "LONGTEXT"
	case "varchar", "nvarchar":
		if c.MaxLength > 0 && c.MaxLength <= 16383 {
			return fmt.Sprintf("VARCHAR(%d)", c.MaxLength)
		}
		return "LONGTEXT"
	case "text", "ntext", "xml":
		return "LONGTEXT"
	case "date":
		return "DATE"
	case "datetime", "datetime2", "smalldatetime":
		return "DATETIME(6)"
	case "time":
		return "TIME(6)"
	case "datetimeoffset":
		return "VARCHAR(40)"
	case "uniqueidentifier":
		return "CHAR(36)"
	case "binary", "varbinary":
		if c.MaxLength > 0 && c.MaxLength <= 65535 {
			return fmt.Sprintf("VARBINARY(%d)", c.MaxLength)
		}
		return "LONGBLOB"
	case "image", "rowversion", "timestamp":
		return "LONGBLOB"
	default:
		return "LONGTEXT"
	}
}

// IdentityClause: AUTO_INCREMENT is only legal on an indexed column.
func (mySQL) IdentityClause(inKey bool) string {
	if !inKey {
		return ""
	}
	return "AUTO_INCREMENT"
}

func (d mySQL) CreateTableIfMissing(t Table, body string) string {
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.QuoteTable(t), body)
}

func (mySQL) TableExistsQuery(t Table) (string, []any) {
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = DATABASE() AND table_name = ?",
		[]any{t.Name}
}

func (d mySQL) UpsertSQL(t Table, keys, cols []string, _ bool) string {
	if len(cols) == 0 {
		return insertSQL(d, "INSERT IGNORE", t, keys, cols)
	}
	sets := make([]string, len(cols))
	for i, c := range cols {
		q := d.QuoteIdent(c)
		sets[i] = q + " = VALUES(" + q + ")"
	}
	return insertSQL(d, "INSERT", t, keys, cols) + " ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}

func (d mySQL) UpdateSQL(t Table, keys, cols []string) string { return updateSQL(d, t, keys, cols) }

func (d mySQL) DeleteSQL(t Table, keys []string) string { return deleteSQL(d, t, keys) }

func (d mySQL) LockingRead(t Table, col, keyCol string) string {
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s = ? FOR UPDATE",
		d.QuoteIdent(col), d.QuoteTable(t), d.QuoteIdent(keyCol))
}
