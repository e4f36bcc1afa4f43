package schema

import (
	"strings"

	"github.com/dbsmedya/ctsync/internal/dialect"
)

// RenderCreateTable renders a guarded CREATE TABLE for def in dialect d.
// Primary key columns are NOT NULL, every other column is nullable.
func RenderCreateTable(d dialect.Dialect, target dialect.Table, def *TableDef) string {
	parts := make([]string, 0, len(def.Columns)+1)
	for _, c := range def.Columns {
		inKey := def.IsKey(c.Name)

		var b strings.Builder
		b.WriteString(d.QuoteIdent(c.Name))
		b.WriteByte(' ')
		b.WriteString(d.ColumnType(c))
		if c.Identity {
			if clause := d.IdentityClause(inKey); clause != "" {
				b.WriteByte(' ')
				b.WriteString(clause)
			}
		}
		if inKey {
			b.WriteString(" NOT NULL")
		} else {
			b.WriteString(" NULL")
		}
		parts = append(parts, b.String())
	}

	if len(def.PrimaryKey) > 0 {
		keys := make([]string, len(def.PrimaryKey))
		for i, k := range def.PrimaryKey {
			keys[i] = d.QuoteIdent(k)
		}
		parts = append(parts, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}

	return d.CreateTableIfMissing(target, strings.Join(parts, ", "))
}
