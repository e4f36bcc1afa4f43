// Package apply turns a change batch into destination statements and runs
// them in one transaction together with the version marker advance.
package apply

import (
	"fmt"

	"github.com/dbsmedya/ctsync/internal/dialect"
	"github.com/dbsmedya/ctsync/internal/tracking"
)

// Step is one statement of a plan.
type Step struct {
	Table     string
	Operation tracking.Operation
	SQL       string // empty when the change has nothing to write
	Args      []any
}

// Plan is the ordered statement list for one batch on one destination dialect.
type Plan struct {
	Version int64
	Steps   []Step
}

// BuildPlan renders info into statements for d, preserving fetch order.
//
// Inserts become upserts so that re-applying a batch converges. Updates touch
// only payload columns; an update of a key-only table has nothing to write
// and produces a step without SQL.
func BuildPlan(d dialect.Dialect, info *tracking.ChangeInfo) (*Plan, error) {
	plan := &Plan{Version: info.Version, Steps: make([]Step, 0, len(info.Changes))}

	for i := range info.Changes {
		ch := &info.Changes[i]
		spec := info.Spec(ch.Table)
		if spec == nil {
			return nil, fmt.Errorf("change %d references unknown table %s", i, ch.Table)
		}

		keys := make([]any, 0, len(spec.Keys))
		for _, k := range spec.Keys {
			v, ok := ch.Keys.Get(k)
			if !ok {
				return nil, fmt.Errorf("change of %s is missing key column %s", ch.Table, k)
			}
			keys = append(keys, v)
		}

		step := Step{Table: ch.Table, Operation: ch.Operation}
		switch ch.Operation {
		case tracking.OpInsert:
			step.SQL = d.UpsertSQL(spec.Table, spec.Keys, spec.Columns, spec.HasIdentity)
			step.Args = append(keys, payload(ch, spec.Columns)...)
		case tracking.OpUpdate:
			if len(spec.Columns) > 0 {
				step.SQL = d.UpdateSQL(spec.Table, spec.Keys, spec.Columns)
				step.Args = append(payload(ch, spec.Columns), keys...)
			}
		case tracking.OpDelete:
			step.SQL = d.DeleteSQL(spec.Table, spec.Keys)
			step.Args = keys
		default:
			return nil, fmt.Errorf("unknown operation %q for %s", ch.Operation, ch.Table)
		}
		plan.Steps = append(plan.Steps, step)
	}

	return plan, nil
}

func payload(ch *tracking.Change, cols []string) []any {
	out := make([]any, len(cols))
	if ch.Values == nil {
		return out
	}
	for i, c := range cols {
		out[i], _ = ch.Values.Get(c)
	}
	return out
}
