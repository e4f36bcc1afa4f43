package tracking

import (
	"context"
	"fmt"

	"github.com/dbsmedya/ctsync/internal/config"
	"github.com/dbsmedya/ctsync/internal/schema"
)

// Scope is the resolved table scope of a replication set, in configured order.
type Scope struct {
	Specs []*schema.TableSpec
	Defs  []*schema.TableDef
}

// Names returns the configured table names.
func (s *Scope) Names() []string {
	out := make([]string, len(s.Specs))
	for i, spec := range s.Specs {
		out[i] = spec.Name
	}
	return out
}

// Lookup returns the spec and definition of a configured table name.
func (s *Scope) Lookup(name string) (*schema.TableSpec, *schema.TableDef, bool) {
	for i, spec := range s.Specs {
		if spec.Name == name {
			return spec, s.Defs[i], true
		}
	}
	return nil, nil, false
}

// Reorder returns a copy of s with tables in the given order.
func (s *Scope) Reorder(names []string) *Scope {
	out := &Scope{}
	for _, n := range names {
		if spec, def, ok := s.Lookup(n); ok {
			out.Specs = append(out.Specs, spec)
			out.Defs = append(out.Defs, def)
		}
	}
	return out
}

// TableNames returns rs.Tables, or every change tracked table when the set
// lists none.
func (s *Source) TableNames(ctx context.Context, rs *config.ReplicationSet) ([]string, error) {
	if len(rs.Tables) > 0 {
		return rs.Tables, nil
	}
	names, err := s.TrackedTables(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Debugw("Discovered change tracked tables", "set", rs.Name, "count", len(names))
	return names, nil
}

// ResolveScope reflects every table of rs and applies its overrides.
// An empty result is not an error.
func (s *Source) ResolveScope(ctx context.Context, rs *config.ReplicationSet) (*Scope, error) {
	names, err := s.TableNames(ctx, rs)
	if err != nil {
		return nil, err
	}

	r, err := schema.NewReflector(s.db)
	if err != nil {
		return nil, err
	}

	scope := &Scope{}
	for _, name := range names {
		spec, def, err := schema.Resolve(ctx, r, name, rs.ColumnsFor(name))
		if err != nil {
			return nil, fmt.Errorf("failed to resolve table %s: %w", name, err)
		}
		scope.Specs = append(scope.Specs, spec)
		scope.Defs = append(scope.Defs, def)
	}
	return scope, nil
}

// ForeignKeys lists the source database's foreign keys.
func (s *Source) ForeignKeys(ctx context.Context) ([]schema.ForeignKey, error) {
	r, err := schema.NewReflector(s.db)
	if err != nil {
		return nil, err
	}
	return r.ForeignKeys(ctx)
}
