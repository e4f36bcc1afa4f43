// Package tracking reads the SQL Server change tracking log and administers
// change tracking on a source database.
package tracking

import (
	"errors"
	"fmt"
	"strings"

	"github.com/elliotchance/orderedmap/v2"

	"github.com/dbsmedya/ctsync/internal/schema"
)

// ErrTrackingDisabled is returned when the source database has no change tracking.
var ErrTrackingDisabled = errors.New("change tracking is not enabled on the source database")

// TableNotTrackedError is returned for a table without change tracking.
type TableNotTrackedError struct {
	Table string
}

func (e *TableNotTrackedError) Error() string {
	return fmt.Sprintf("change tracking is not enabled for table %s", e.Table)
}

// ChangeTrackingExpiredError is returned when the floor version predates the
// retention window of a table. The destination must be bootstrapped again.
type ChangeTrackingExpiredError struct {
	Table    string
	Floor    int64
	MinValid int64
}

func (e *ChangeTrackingExpiredError) Error() string {
	return fmt.Sprintf("change tracking expired for table %s: version %d is older than minimum valid version %d (re-bootstrap required)",
		e.Table, e.Floor, e.MinValid)
}

// Operation is the net row operation reported by change tracking.
type Operation string

const (
	OpInsert Operation = "I"
	OpUpdate Operation = "U"
	OpDelete Operation = "D"
)

// String returns the operation name used in logs and reports.
func (o Operation) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return string(o)
	}
}

// ParseOperation converts SYS_CHANGE_OPERATION to an Operation.
func ParseOperation(s string) (Operation, error) {
	switch op := Operation(strings.TrimSpace(s)); op {
	case OpInsert, OpUpdate, OpDelete:
		return op, nil
	default:
		return "", fmt.Errorf("unknown change operation %q", s)
	}
}

// Change is one net row mutation.
type Change struct {
	Table           string // configured table name
	Operation       Operation
	Version         int64
	CreationVersion int64
	Keys            *orderedmap.OrderedMap[string, any]
	Values          *orderedmap.OrderedMap[string, any] // nil for deletes
}

// ChangeInfo is the result of one fetch: every change after the floor, in
// change version order, and the version the destination reaches once all of
// them are applied.
type ChangeInfo struct {
	Version int64
	Changes []Change
	Tables  []*schema.TableSpec
}

// Spec returns the TableSpec for a configured table name.
func (c *ChangeInfo) Spec(table string) *schema.TableSpec {
	for _, s := range c.Tables {
		if s.Name == table {
			return s
		}
	}
	return nil
}

// Counts returns the number of changes per operation.
func (c *ChangeInfo) Counts() map[Operation]int {
	out := make(map[Operation]int, 3)
	for _, ch := range c.Changes {
		out[ch.Operation]++
	}
	return out
}
