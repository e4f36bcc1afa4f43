package schema

import (
	"context"
	"fmt"
	"strings"

	"github.com/dbsmedya/ctsync/internal/dialect"
)

const columnsQuery = `SELECT c.COLUMN_NAME, c.DATA_TYPE,
	COALESCE(c.CHARACTER_MAXIMUM_LENGTH, 0), COALESCE(c.NUMERIC_PRECISION, 0), COALESCE(c.NUMERIC_SCALE, 0),
	c.IS_NULLABLE,
	COALESCE(COLUMNPROPERTY(OBJECT_ID(QUOTENAME(c.TABLE_SCHEMA) + '.' + QUOTENAME(c.TABLE_NAME)), c.COLUMN_NAME, 'IsIdentity'), 0),
	c.ORDINAL_POSITION
FROM INFORMATION_SCHEMA.COLUMNS c
WHERE c.TABLE_SCHEMA = COALESCE(NULLIF(@p1, ''), SCHEMA_NAME()) AND c.TABLE_NAME = @p2
ORDER BY c.ORDINAL_POSITION`

const primaryKeyQuery = `SELECT kcu.COLUMN_NAME
FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
	ON kcu.CONSTRAINT_NAME = tc.CONSTRAINT_NAME AND kcu.TABLE_SCHEMA = tc.TABLE_SCHEMA AND kcu.TABLE_NAME = tc.TABLE_NAME
WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
	AND tc.TABLE_SCHEMA = COALESCE(NULLIF(@p1, ''), SCHEMA_NAME()) AND tc.TABLE_NAME = @p2
ORDER BY kcu.ORDINAL_POSITION`

const foreignKeysQuery = `SELECT DISTINCT
	OBJECT_SCHEMA_NAME(fk.parent_object_id), OBJECT_NAME(fk.parent_object_id),
	OBJECT_SCHEMA_NAME(fk.referenced_object_id), OBJECT_NAME(fk.referenced_object_id)
FROM sys.foreign_keys fk`

// Reflector reads table metadata from a SQL Server database.
type Reflector struct {
	q Querier
}

// NewReflector creates a Reflector over q.
func NewReflector(q Querier) (*Reflector, error) {
	if q == nil {
		return nil, fmt.Errorf("querier is nil")
	}
	return &Reflector{q: q}, nil
}

// Reflect returns the column and primary key metadata of t. A table with no
// discoverable columns yields a SchemaIntrospectionError.
func (r *Reflector) Reflect(ctx context.Context, t dialect.Table) (*TableDef, error) {
	def := &TableDef{Table: t}

	rows, err := r.q.QueryContext(ctx, columnsQuery, t.Schema, t.Name)
	if err != nil {
		return nil, &SchemaIntrospectionError{Table: t.String(), Reason: "column query failed", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c          dialect.Column
			nullable   string
			isIdentity int
		)
		if err := rows.Scan(&c.Name, &c.DataType, &c.MaxLength, &c.Precision, &c.Scale,
			&nullable, &isIdentity, &c.Ordinal); err != nil {
			return nil, &SchemaIntrospectionError{Table: t.String(), Reason: "column scan failed", Err: err}
		}
		c.DataType = strings.ToLower(c.DataType)
		c.Nullable = strings.EqualFold(nullable, "YES")
		c.Identity = isIdentity == 1
		def.Columns = append(def.Columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, &SchemaIntrospectionError{Table: t.String(), Reason: "column query failed", Err: err}
	}
	if len(def.Columns) == 0 {
		return nil, &SchemaIntrospectionError{Table: t.String(), Reason: "no columns found (does the table exist?)"}
	}

	pkRows, err := r.q.QueryContext(ctx, primaryKeyQuery, t.Schema, t.Name)
	if err != nil {
		return nil, &SchemaIntrospectionError{Table: t.String(), Reason: "primary key query failed", Err: err}
	}
	defer pkRows.Close()

	for pkRows.Next() {
		var name string
		if err := pkRows.Scan(&name); err != nil {
			return nil, &SchemaIntrospectionError{Table: t.String(), Reason: "primary key scan failed", Err: err}
		}
		def.PrimaryKey = append(def.PrimaryKey, name)
	}
	if err := pkRows.Err(); err != nil {
		return nil, &SchemaIntrospectionError{Table: t.String(), Reason: "primary key query failed", Err: err}
	}

	return def, nil
}

// ForeignKeys lists every foreign key of the database. Self references are
// dropped; they do not constrain table order.
func (r *Reflector) ForeignKeys(ctx context.Context) ([]ForeignKey, error) {
	rows, err := r.q.QueryContext(ctx, foreignKeysQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []ForeignKey
	for rows.Next() {
		var fk ForeignKey
		if err := rows.Scan(&fk.Child.Schema, &fk.Child.Name, &fk.Parent.Schema, &fk.Parent.Name); err != nil {
			return nil, fmt.Errorf("failed to scan foreign key: %w", err)
		}
		if strings.EqualFold(fk.Child.String(), fk.Parent.String()) {
			continue
		}
		fks = append(fks, fk)
	}
	return fks, rows.Err()
}
