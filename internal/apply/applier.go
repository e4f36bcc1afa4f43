package apply

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dbsmedya/ctsync/internal/dialect"
	"github.com/dbsmedya/ctsync/internal/logger"
	"github.com/dbsmedya/ctsync/internal/tracking"
	"github.com/dbsmedya/ctsync/internal/version"
)

// Applier writes change batches into one destination.
type Applier struct {
	name   string
	db     *sql.DB
	d      dialect.Dialect
	logger *logger.Logger
}

// NewApplier creates an Applier. name is the destination's display name.
func NewApplier(name string, db *sql.DB, d dialect.Dialect, log *logger.Logger) (*Applier, error) {
	if db == nil {
		return nil, fmt.Errorf("destination database is nil")
	}
	if d == nil {
		return nil, fmt.Errorf("dialect is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Applier{name: name, db: db, d: d, logger: log}, nil
}

// Apply runs info inside one transaction: lock the marker, skip when it
// already covers info.Version, execute every statement in order, advance the
// marker and commit. Nothing is written when any step fails.
func (a *Applier) Apply(ctx context.Context, info *tracking.ChangeInfo) (*Report, error) {
	start := time.Now()

	plan, err := BuildPlan(a.d, info)
	if err != nil {
		return nil, err
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin destination transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				a.logger.Errorf("Failed to rollback transaction: %v", rbErr)
			}
		}
	}()

	stored, err := version.LockForUpdate(ctx, tx, a.d)
	if err != nil {
		return nil, err
	}

	report := newReport(a.name, stored, info.Version, false)
	if stored >= info.Version {
		report.Skipped = true
		report.ToVersion = stored
		a.logger.Debugw("Batch already applied", "stored", stored, "batch", info.Version)
		return report, nil
	}

	for i, step := range plan.Steps {
		if step.SQL == "" {
			report.add(step.Table, step.Operation, false)
			continue
		}
		res, err := tx.ExecContext(ctx, step.SQL, step.Args...)
		if err != nil {
			return nil, fmt.Errorf("failed to apply %s to %s (change %d of %d): %w",
				step.Operation, step.Table, i+1, len(plan.Steps), err)
		}

		missing := false
		if step.Operation != tracking.OpInsert {
			if n, err := res.RowsAffected(); err == nil && n == 0 {
				missing = true
			}
		}
		report.add(step.Table, step.Operation, missing)
	}

	if _, err := version.Advance(ctx, tx, a.d, info.Version); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit destination transaction: %w", err)
	}
	tx = nil

	totals := report.Totals()
	a.logger.Infow("Batch applied",
		"from", stored,
		"to", info.Version,
		"inserts", totals.Inserts,
		"updates", totals.Updates,
		"deletes", totals.Deletes,
		"missing", totals.Missing,
		"duration", time.Since(start))
	for el := report.Tables.Front(); el != nil; el = el.Next() {
		tc := el.Value
		a.logger.WithTable(el.Key).Debugw("Table changes applied",
			"inserts", tc.Inserts, "updates", tc.Updates, "deletes", tc.Deletes, "missing", tc.Missing)
	}

	return report, nil
}

// Preview builds the same plan as Apply and reports it without touching the
// destination. stored is the destination's current marker.
func (a *Applier) Preview(info *tracking.ChangeInfo, stored int64) (*Report, error) {
	plan, err := BuildPlan(a.d, info)
	if err != nil {
		return nil, err
	}

	report := newReport(a.name, stored, info.Version, true)
	if stored >= info.Version {
		report.Skipped = true
		report.ToVersion = stored
		return report, nil
	}
	for _, step := range plan.Steps {
		report.add(step.Table, step.Operation, false)
	}
	return report, nil
}
