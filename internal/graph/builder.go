package graph

import (
	"strings"

	"github.com/dbsmedya/ctsync/internal/dialect"
	"github.com/dbsmedya/ctsync/internal/schema"
)

// Build creates the dependency graph of tables from foreign key metadata.
// Tables are matched case-insensitively; a configured name without a schema
// matches a key in any schema. Keys leaving the table scope are ignored.
func Build(tables []string, fks []schema.ForeignKey) *Graph {
	g := NewGraph(tables)

	parsed := make([]dialect.Table, len(tables))
	for i, t := range tables {
		parsed[i] = dialect.ParseTable(t)
	}

	lookup := func(t dialect.Table) (string, bool) {
		for i, p := range parsed {
			if !strings.EqualFold(p.Name, t.Name) {
				continue
			}
			if p.Schema == "" || t.Schema == "" || strings.EqualFold(p.Schema, t.Schema) {
				return tables[i], true
			}
		}
		return "", false
	}

	for _, fk := range fks {
		child, ok := lookup(fk.Child)
		if !ok {
			continue
		}
		parent, ok := lookup(fk.Parent)
		if !ok || parent == child {
			continue
		}
		g.AddEdge(parent, child)
	}

	return g
}
