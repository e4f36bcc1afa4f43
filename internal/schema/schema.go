// Package schema reflects SQL Server table metadata and renders equivalent
// destination table definitions for every supported dialect.
package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dbsmedya/ctsync/internal/dialect"
)

// Querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SchemaIntrospectionError is returned when a table's shape cannot be determined.
type SchemaIntrospectionError struct {
	Table  string
	Reason string
	Err    error
}

func (e *SchemaIntrospectionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schema introspection failed for %s: %s: %v", e.Table, e.Reason, e.Err)
	}
	return fmt.Sprintf("schema introspection failed for %s: %s", e.Table, e.Reason)
}

func (e *SchemaIntrospectionError) Unwrap() error { return e.Err }

// TableDef is the reflected shape of one source table.
type TableDef struct {
	Table      dialect.Table
	Columns    []dialect.Column // ordinal order
	PrimaryKey []string         // key ordinal order
}

// Column returns the named column (case-insensitive).
func (d *TableDef) Column(name string) (dialect.Column, bool) {
	for _, c := range d.Columns {
		if strings.EqualFold(c.Name, name) {
			return c, true
		}
	}
	return dialect.Column{}, false
}

// IsKey reports whether name is part of the primary key.
func (d *TableDef) IsKey(name string) bool {
	for _, k := range d.PrimaryKey {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

// HasIdentity reports whether any column is an identity column.
func (d *TableDef) HasIdentity() bool {
	for _, c := range d.Columns {
		if c.Identity {
			return true
		}
	}
	return false
}

// Project narrows the definition to the replicated shape of spec: its keys
// become the primary key and only its columns are kept.
func (d *TableDef) Project(spec *TableSpec) *TableDef {
	out := &TableDef{Table: d.Table, PrimaryKey: append([]string(nil), spec.Keys...)}
	for _, name := range spec.AllColumns() {
		if c, ok := d.Column(name); ok {
			c.Name = name
			out.Columns = append(out.Columns, c)
		}
	}
	return out
}

// ForeignKey is one child -> parent reference between two tables.
type ForeignKey struct {
	Child  dialect.Table
	Parent dialect.Table
}
