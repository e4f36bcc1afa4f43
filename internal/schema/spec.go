package schema

import (
	"context"
	"strings"

	"github.com/dbsmedya/ctsync/internal/config"
	"github.com/dbsmedya/ctsync/internal/dialect"
)

// TableSpec is the effective replicated shape of a table: reflection plus any
// TableColumns override.
type TableSpec struct {
	Name        string // as configured, e.g. "dbo.Orders"
	Table       dialect.Table
	Keys        []string
	Columns     []string // non-key payload columns
	HasIdentity bool
	DataTypes   map[string]string // lowercase column name -> SQL Server type
}

// AllColumns returns keys followed by payload columns.
func (s *TableSpec) AllColumns() []string {
	out := make([]string, 0, len(s.Keys)+len(s.Columns))
	out = append(out, s.Keys...)
	return append(out, s.Columns...)
}

// DataType returns the source type of column, or "" when unknown.
func (s *TableSpec) DataType(column string) string {
	return s.DataTypes[strings.ToLower(column)]
}

// Resolve builds the TableSpec for name. Reflection always runs so that column
// types are known; override, when non-nil, decides keys, columns and identity.
func Resolve(ctx context.Context, r *Reflector, name string, override *config.TableColumns) (*TableSpec, *TableDef, error) {
	t := dialect.ParseTable(name)
	def, err := r.Reflect(ctx, t)
	if err != nil {
		return nil, nil, err
	}
	spec, err := SpecFromDef(name, def, override)
	if err != nil {
		return nil, nil, err
	}
	return spec, def, nil
}

// SpecFromDef derives a TableSpec from an already reflected definition.
func SpecFromDef(name string, def *TableDef, override *config.TableColumns) (*TableSpec, error) {
	spec := &TableSpec{
		Name:      name,
		Table:     def.Table,
		DataTypes: make(map[string]string, len(def.Columns)),
	}
	for _, c := range def.Columns {
		spec.DataTypes[strings.ToLower(c.Name)] = c.DataType
	}

	if override != nil {
		spec.Keys = append(spec.Keys, override.Keys...)
		spec.HasIdentity = override.HasIdentity
		if len(override.Columns) > 0 {
			for _, c := range override.Columns {
				if !containsFold(spec.Keys, c) {
					spec.Columns = append(spec.Columns, c)
				}
			}
			return spec, nil
		}
	} else {
		spec.Keys = append(spec.Keys, def.PrimaryKey...)
		spec.HasIdentity = def.HasIdentity()
	}

	if len(spec.Keys) == 0 {
		return nil, &SchemaIntrospectionError{
			Table:  name,
			Reason: "no primary key; declare keys under table_columns",
		}
	}

	for _, c := range def.Columns {
		if !containsFold(spec.Keys, c.Name) {
			spec.Columns = append(spec.Columns, c.Name)
		}
	}
	return spec, nil
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
