package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/elliotchance/orderedmap/v2"

	"github.com/dbsmedya/ctsync/internal/bulk"
	"github.com/dbsmedya/ctsync/internal/config"
	"github.com/dbsmedya/ctsync/internal/dialect"
	"github.com/dbsmedya/ctsync/internal/graph"
	"github.com/dbsmedya/ctsync/internal/logger"
	"github.com/dbsmedya/ctsync/internal/schema"
	"github.com/dbsmedya/ctsync/internal/tracking"
	"github.com/dbsmedya/ctsync/internal/version"
)

// Opener opens database endpoints; *database.Manager satisfies it.
type Opener interface {
	Open(ctx context.Context, info config.DatabaseInfo) (*sql.DB, error)
}

// ConfirmFunc asks the operator a yes/no question.
type ConfirmFunc func(prompt string) bool

// Options controls one bootstrap run.
type Options struct {
	Stages            []Stage
	Confirm           ConfirmFunc // nil confirms everything
	RetentionDays     int
	SnapshotIsolation bool
	BatchSize         int
	Timeout           time.Duration // per database operation, 0 = none
}

// OptionsFromConfig derives Options from the configuration's init codes and settings.
func OptionsFromConfig(cfg *config.Config, confirm ConfirmFunc) (Options, error) {
	stages, err := ParseStages(cfg.Init)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Stages:            stages,
		Confirm:           confirm,
		RetentionDays:     cfg.RetentionDays,
		SnapshotIsolation: cfg.SnapshotIsolation,
		BatchSize:         cfg.BulkBatchSize,
		Timeout:           time.Duration(cfg.Timeout) * time.Second,
	}, nil
}

// Report summarizes a bootstrap run of one replication set.
type Report struct {
	Set       string
	Completed []Stage
	Declined  []Stage
	Baseline  int64 // source version recorded by stage 3, 0 when not run
	Created   []string
	// Seeded maps "destination/table" to rows loaded by stage 4.
	Seeded *orderedmap.OrderedMap[string, int64]
}

// Coordinator runs bootstrap stages against one replication set.
type Coordinator struct {
	dbs    Opener
	logger *logger.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(dbs Opener, log *logger.Logger) (*Coordinator, error) {
	if dbs == nil {
		return nil, fmt.Errorf("database opener is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Coordinator{dbs: dbs, logger: log}, nil
}

// run holds the state shared by the stages of one Run.
type run struct {
	rs     *config.ReplicationSet
	opts   Options
	log    *logger.Logger
	srcDB  *sql.DB
	source *tracking.Source
	scope  *tracking.Scope
	report *Report
}

// Run executes opts.Stages in declared order. The first failing stage aborts
// the rest. A declined confirmation skips only that stage.
func (c *Coordinator) Run(ctx context.Context, rs *config.ReplicationSet, opts Options) (*Report, error) {
	if len(opts.Stages) == 0 {
		return nil, fmt.Errorf("no bootstrap stages requested")
	}
	stages, err := ParseStages(stageCodes(opts.Stages))
	if err != nil {
		return nil, err
	}

	log := c.logger.WithSet(rs.Name)
	r := &run{
		rs:   rs,
		opts: opts,
		log:  log,
		report: &Report{
			Set:    rs.Name,
			Seeded: orderedmap.NewOrderedMap[string, int64](),
		},
	}

	r.srcDB, err = c.dbs.Open(ctx, rs.Source)
	if err != nil {
		return r.report, fmt.Errorf("failed to open source %s: %w", rs.Source.Name, err)
	}
	r.source, err = tracking.NewSource(r.srcDB, log, opts.SnapshotIsolation)
	if err != nil {
		return r.report, err
	}

	log.Infow("Starting bootstrap", "stages", stages)

	for _, stage := range stages {
		if stage.NeedsConfirmation() && !r.confirm(fmt.Sprintf("Run bootstrap stage %d (%s) for replication set %q?", int(stage), stage, rs.Name)) {
			log.Warnw("Bootstrap stage declined", "stage", stage.String())
			r.report.Declined = append(r.report.Declined, stage)
			continue
		}

		start := time.Now()
		var err error
		switch stage {
		case StageEnableTracking:
			err = c.enableTracking(ctx, r)
		case StageEnsureSchema:
			err = c.ensureSchema(ctx, r)
		case StageRecordBaseline:
			err = c.recordBaseline(ctx, r)
		case StageSeedData:
			err = c.seedData(ctx, r)
		}
		if err != nil {
			return r.report, fmt.Errorf("bootstrap stage %d (%s) failed: %w", int(stage), stage, err)
		}

		r.report.Completed = append(r.report.Completed, stage)
		log.Infow("Bootstrap stage complete", "stage", stage.String(), "duration", time.Since(start))
	}

	return r.report, nil
}

func stageCodes(stages []Stage) []int {
	out := make([]int, len(stages))
	for i, s := range stages {
		out[i] = int(s)
	}
	return out
}

func (r *run) confirm(prompt string) bool {
	if r.opts.Confirm == nil {
		return true
	}
	return r.opts.Confirm(prompt)
}

func (r *run) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.opts.Timeout)
}

// loadScope resolves the set's tables once per run and orders them parents
// first. A dependency cycle keeps the configured order.
func (c *Coordinator) loadScope(ctx context.Context, r *run) (*tracking.Scope, error) {
	if r.scope != nil {
		return r.scope, nil
	}

	scope, err := r.source.ResolveScope(ctx, r.rs)
	if err != nil {
		return nil, err
	}
	if len(scope.Specs) == 0 {
		r.log.Warn("Replication set has no tables (none configured and none tracked)")
		r.scope = scope
		return scope, nil
	}

	fks, err := r.source.ForeignKeys(ctx)
	if err != nil {
		return nil, err
	}
	order, err := graph.Build(scope.Names(), fks).CreateOrder()
	switch {
	case errors.Is(err, graph.ErrCycleDetected):
		r.log.Warnw("Foreign key cycle among tables; using configured order", "error", err)
	case err != nil:
		return nil, err
	default:
		scope = scope.Reorder(order)
	}

	r.log.Debugw("Table order", "tables", scope.Names())
	r.scope = scope
	return scope, nil
}

func (c *Coordinator) enableTracking(ctx context.Context, r *run) error {
	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	if err := r.source.EnableDatabase(opCtx, r.opts.RetentionDays); err != nil {
		return err
	}
	if r.opts.SnapshotIsolation {
		if err := r.source.EnableSnapshotIsolation(opCtx); err != nil {
			return err
		}
	}

	names, err := r.source.TableNames(opCtx, r.rs)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		r.log.Warn("No tables to enable change tracking on")
	}
	for _, name := range names {
		if err := r.source.EnableTable(opCtx, dialect.ParseTable(name)); err != nil {
			return err
		}
	}
	return nil
}

func (c *Coordinator) ensureSchema(ctx context.Context, r *run) error {
	scope, err := c.loadScope(ctx, r)
	if err != nil {
		return err
	}

	for _, dst := range r.rs.Destinations {
		log := r.log.WithDestination(dst.Name)
		d, db, err := c.openDestination(ctx, dst)
		if err != nil {
			return err
		}

		for i, spec := range scope.Specs {
			exists, err := tableExists(ctx, r, db, d, spec.Table)
			if err != nil {
				return fmt.Errorf("%s: %w", dst.Name, err)
			}
			if exists {
				log.Debugw("Destination table exists", "table", spec.Name)
				continue
			}

			if r.rs.ConfirmTable && !r.confirm(fmt.Sprintf("Create table %s on %s?", spec.Name, dst.Name)) {
				log.Warnw("Table creation declined", "table", spec.Name)
				continue
			}

			ddl := schema.RenderCreateTable(d, spec.Table, scope.Defs[i].Project(spec))
			opCtx, cancel := r.withTimeout(ctx)
			_, err = db.ExecContext(opCtx, ddl)
			cancel()
			if err != nil {
				return fmt.Errorf("failed to create %s on %s: %w", spec.Name, dst.Name, err)
			}

			r.report.Created = append(r.report.Created, dst.Name+"/"+spec.Name)
			log.Infow("Destination table created", "table", spec.Name)
		}
	}
	return nil
}

func tableExists(ctx context.Context, r *run, db *sql.DB, d dialect.Dialect, t dialect.Table) (bool, error) {
	opCtx, cancel := r.withTimeout(ctx)
	defer cancel()

	query, args := d.TableExistsQuery(t)
	var n int
	if err := db.QueryRowContext(opCtx, query, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to check for table %s: %w", t, err)
	}
	return n > 0, nil
}

func (c *Coordinator) recordBaseline(ctx context.Context, r *run) error {
	opCtx, cancel := r.withTimeout(ctx)
	current, ok, err := r.source.CurrentVersion(opCtx)
	cancel()
	if err != nil {
		return err
	}
	if !ok {
		r.log.Warn("Source reports no change tracking version; baseline not recorded")
		return nil
	}

	for _, dst := range r.rs.Destinations {
		d, db, err := c.openDestination(ctx, dst)
		if err != nil {
			return err
		}
		store, err := version.NewStore(db, d, r.log.WithDestination(dst.Name))
		if err != nil {
			return err
		}

		opCtx, cancel := r.withTimeout(ctx)
		_, err = store.Baseline(opCtx, current)
		cancel()
		if err != nil {
			return fmt.Errorf("%s: %w", dst.Name, err)
		}
	}

	r.report.Baseline = current
	return nil
}

func (c *Coordinator) seedData(ctx context.Context, r *run) error {
	scope, err := c.loadScope(ctx, r)
	if err != nil {
		return err
	}

	for _, dst := range r.rs.Destinations {
		log := r.log.WithDestination(dst.Name)
		d, db, err := c.openDestination(ctx, dst)
		if err != nil {
			return err
		}
		loader, err := bulk.NewLoader(db, d, r.opts.BatchSize, log)
		if err != nil {
			return err
		}

		for _, spec := range scope.Specs {
			// one table can take far longer than a single statement; the
			// operation timeout does not apply here
			stats, err := loader.Copy(ctx, r.srcDB, spec)
			if err != nil {
				return fmt.Errorf("%s: %w", dst.Name, err)
			}
			r.report.Seeded.Set(dst.Name+"/"+spec.Name, stats.Rows)
		}
	}
	return nil
}

func (c *Coordinator) openDestination(ctx context.Context, dst config.DatabaseInfo) (dialect.Dialect, *sql.DB, error) {
	d, err := dialect.Lookup(dst.DriverName())
	if err != nil {
		return nil, nil, fmt.Errorf("destination %s: %w", dst.Name, err)
	}
	db, err := c.dbs.Open(ctx, dst)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open destination %s: %w", dst.Name, err)
	}
	return d, db, nil
}
