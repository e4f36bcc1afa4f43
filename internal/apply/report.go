package apply

import (
	"github.com/elliotchance/orderedmap/v2"

	"github.com/dbsmedya/ctsync/internal/tracking"
)

// TableCounts counts the statements of one table.
type TableCounts struct {
	Inserts int
	Updates int
	Deletes int
	Missing int // updates and deletes that matched no row
}

// Report describes what a batch did, or would do, on one destination.
type Report struct {
	Destination string
	FromVersion int64
	ToVersion   int64
	DryRun      bool
	Skipped     bool // stored version already covered the batch
	Tables      *orderedmap.OrderedMap[string, *TableCounts]
}

func newReport(destination string, from, to int64, dryRun bool) *Report {
	return &Report{
		Destination: destination,
		FromVersion: from,
		ToVersion:   to,
		DryRun:      dryRun,
		Tables:      orderedmap.NewOrderedMap[string, *TableCounts](),
	}
}

func (r *Report) add(table string, op tracking.Operation, missing bool) {
	tc, ok := r.Tables.Get(table)
	if !ok {
		tc = &TableCounts{}
		r.Tables.Set(table, tc)
	}
	switch op {
	case tracking.OpInsert:
		tc.Inserts++
	case tracking.OpUpdate:
		tc.Updates++
	case tracking.OpDelete:
		tc.Deletes++
	}
	if missing {
		tc.Missing++
	}
}

// Totals sums the counts across tables.
func (r *Report) Totals() TableCounts {
	var t TableCounts
	for el := r.Tables.Front(); el != nil; el = el.Next() {
		t.Inserts += el.Value.Inserts
		t.Updates += el.Value.Updates
		t.Deletes += el.Value.Deletes
		t.Missing += el.Value.Missing
	}
	return t
}

// Changes returns the number of statements counted.
func (r *Report) Changes() int {
	t := r.Totals()
	return t.Inserts + t.Updates + t.Deletes
}

// Advanced reports whether the marker moved (or would move).
func (r *Report) Advanced() bool {
	return !r.Skipped && r.ToVersion > r.FromVersion
}
