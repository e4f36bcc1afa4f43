package schema

import (
	mssql "github.com/microsoft/go-mssqldb"
)

// Normalize converts driver specific source values into portable ones before
// they leave the source layer: uniqueidentifier bytes become the canonical
// string and exact numerics delivered as bytes become decimal strings.
func Normalize(dataType string, v any) any {
	b, ok := v.([]byte)
	if !ok {
		return v
	}

	switch dataType {
	case "uniqueidentifier":
		var id mssql.UniqueIdentifier
		if err := id.Scan(b); err != nil {
			return v
		}
		return id.String()
	case "decimal", "numeric", "money", "smallmoney":
		return string(b)
	default:
		return v
	}
}

// NormalizeRow applies Normalize to values positionally matched with columns.
func (s *TableSpec) NormalizeRow(columns []string, values []any) {
	for i, c := range columns {
		values[i] = Normalize(s.DataType(c), values[i])
	}
}
