// Package preflight runs read-only environment checks for every replication
// set before a sync: source change tracking state, table scope, foreign key
// order and destination version markers.
package preflight

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dbsmedya/ctsync/internal/config"
	"github.com/dbsmedya/ctsync/internal/dialect"
	"github.com/dbsmedya/ctsync/internal/graph"
	"github.com/dbsmedya/ctsync/internal/logger"
	"github.com/dbsmedya/ctsync/internal/tracking"
	"github.com/dbsmedya/ctsync/internal/version"
)

// Check names.
const (
	CheckSourceConnection  = "SOURCE_CONNECTION"
	CheckDatabaseTracking  = "DATABASE_CHANGE_TRACKING"
	CheckSnapshotIsolation = "SNAPSHOT_ISOLATION"
	CheckTableTracking     = "TABLE_CHANGE_TRACKING"
	CheckTableShape        = "TABLE_SHAPE"
	CheckForeignKeyOrder   = "FOREIGN_KEY_ORDER"
	CheckDestination       = "DESTINATION_CONNECTION"
	CheckVersionMarker     = "VERSION_MARKER"
)

// Severity grades a finding.
type Severity int

const (
	Passed Severity = iota
	Warning
	Failed
)

func (s Severity) String() string {
	switch s {
	case Passed:
		return "PASS"
	case Warning:
		return "WARN"
	default:
		return "FAIL"
	}
}

// Finding is the result of one check against one endpoint.
type Finding struct {
	Set      string
	Check    string
	Endpoint string
	Severity Severity
	Message  string
	Tables   []string
}

// Error reports a failed finding.
type Error struct {
	Findings []Finding
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Findings))
	for _, f := range e.Findings {
		msg := fmt.Sprintf("%s %s (%s): %s", f.Set, f.Check, f.Endpoint, f.Message)
		if len(f.Tables) > 0 {
			msg += fmt.Sprintf(" (tables: %v)", f.Tables)
		}
		msgs = append(msgs, msg)
	}
	return fmt.Sprintf("preflight failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// Report collects every finding of a run in check order.
type Report struct {
	Findings []Finding
}

func (r *Report) add(f Finding) {
	r.Findings = append(r.Findings, f)
}

// Failures returns the failed findings.
func (r *Report) Failures() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == Failed {
			out = append(out, f)
		}
	}
	return out
}

// Warnings returns the findings graded as warnings.
func (r *Report) Warnings() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == Warning {
			out = append(out, f)
		}
	}
	return out
}

// Err returns an *Error when any check failed.
func (r *Report) Err() error {
	if failures := r.Failures(); len(failures) > 0 {
		return &Error{Findings: failures}
	}
	return nil
}

// Opener opens database endpoints; *database.Manager satisfies it.
type Opener interface {
	Open(ctx context.Context, info config.DatabaseInfo) (*sql.DB, error)
}

// Checker runs the checks. It never writes to any database.
type Checker struct {
	cfg    *config.Config
	dbs    Opener
	logger *logger.Logger
}

// NewChecker creates a Checker.
func NewChecker(cfg *config.Config, dbs Opener, log *logger.Logger) (*Checker, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if dbs == nil {
		return nil, fmt.Errorf("database opener is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Checker{cfg: cfg, dbs: dbs, logger: log}, nil
}

// Run checks every replication set. Failing checks do not stop the run.
func (c *Checker) Run(ctx context.Context) *Report {
	c.logger.Info("Running preflight checks...")

	report := &Report{}
	for i := range c.cfg.ReplicationSets {
		rs := &c.cfg.ReplicationSets[i]
		c.checkSource(ctx, rs, report)
		for _, dst := range rs.Destinations {
			c.checkDestination(ctx, rs, dst, report)
		}
	}

	if n := len(report.Failures()); n > 0 {
		c.logger.Errorw("Preflight checks FAILED", "failures", n, "warnings", len(report.Warnings()))
	} else {
		c.logger.Infow("All preflight checks PASSED", "warnings", len(report.Warnings()))
	}
	return report
}

func (c *Checker) checkSource(ctx context.Context, rs *config.ReplicationSet, report *Report) {
	finding := func(check string, sev Severity, msg string, tables ...string) {
		report.add(Finding{Set: rs.Name, Check: check, Endpoint: rs.Source.Name, Severity: sev, Message: msg, Tables: tables})
	}

	db, err := c.dbs.Open(ctx, rs.Source)
	if err != nil {
		finding(CheckSourceConnection, Failed, err.Error())
		return
	}
	src, err := tracking.NewSource(db, c.logger.WithSet(rs.Name), c.cfg.SnapshotIsolation)
	if err != nil {
		finding(CheckSourceConnection, Failed, err.Error())
		return
	}
	finding(CheckSourceConnection, Passed, "connected")

	tracked, err := src.DatabaseTracked(ctx)
	switch {
	case err != nil:
		finding(CheckDatabaseTracking, Failed, err.Error())
		return
	case !tracked:
		finding(CheckDatabaseTracking, c.bootstrapGrade(bootstrapEnables), "change tracking is not enabled on the source database (bootstrap stage 1)")
		return
	default:
		finding(CheckDatabaseTracking, Passed, "enabled")
	}

	if c.cfg.SnapshotIsolation {
		on, err := src.SnapshotIsolationEnabled(ctx)
		switch {
		case err != nil:
			finding(CheckSnapshotIsolation, Failed, err.Error())
		case !on:
			finding(CheckSnapshotIsolation, c.bootstrapGrade(bootstrapEnables), "snapshot isolation is not allowed on the source database")
		default:
			finding(CheckSnapshotIsolation, Passed, "allowed")
		}
	}

	trackedTables, err := src.TrackedTables(ctx)
	if err != nil {
		finding(CheckTableTracking, Failed, err.Error())
		return
	}
	if len(rs.Tables) == 0 {
		if len(trackedTables) == 0 {
			finding(CheckTableTracking, Warning, "no tables configured and none are change tracked; syncs will do nothing")
			return
		}
		finding(CheckTableTracking, Passed, fmt.Sprintf("%d tracked tables discovered", len(trackedTables)))
	} else if missing := untracked(rs.Tables, trackedTables); len(missing) > 0 {
		finding(CheckTableTracking, c.bootstrapGrade(bootstrapEnables), "tables are not change tracked", missing...)
	} else {
		finding(CheckTableTracking, Passed, fmt.Sprintf("%d tables tracked", len(rs.Tables)))
	}

	scope, err := src.ResolveScope(ctx, rs)
	if err != nil {
		finding(CheckTableShape, Failed, err.Error())
		return
	}
	finding(CheckTableShape, Passed, fmt.Sprintf("%d tables resolved", len(scope.Specs)))

	fks, err := src.ForeignKeys(ctx)
	if err != nil {
		finding(CheckForeignKeyOrder, Failed, err.Error())
		return
	}
	violations := graph.Build(scope.Names(), fks).OrderViolations()
	if len(violations) == 0 {
		finding(CheckForeignKeyOrder, Passed, "configured order respects foreign keys")
		return
	}
	var tables []string
	for _, e := range violations {
		tables = append(tables, e.To+" before "+e.From)
	}
	finding(CheckForeignKeyOrder, Warning, "child tables are listed before their parents; a batch may violate destination foreign keys", tables...)
}

func (c *Checker) checkDestination(ctx context.Context, rs *config.ReplicationSet, dst config.DatabaseInfo, report *Report) {
	finding := func(check string, sev Severity, msg string) {
		report.add(Finding{Set: rs.Name, Check: check, Endpoint: dst.Name, Severity: sev, Message: msg})
	}

	d, err := dialect.Lookup(dst.DriverName())
	if err != nil {
		finding(CheckDestination, Failed, err.Error())
		return
	}
	db, err := c.dbs.Open(ctx, dst)
	if err != nil {
		finding(CheckDestination, Failed, err.Error())
		return
	}
	finding(CheckDestination, Passed, "connected")

	store, err := version.NewStore(db, d, c.logger.WithDestination(dst.Name))
	if err != nil {
		finding(CheckVersionMarker, Failed, err.Error())
		return
	}
	v, err := store.Read(ctx)
	switch {
	case errors.Is(err, version.ErrMarkerMissing):
		finding(CheckVersionMarker, c.bootstrapGrade(bootstrapBaselines), err.Error())
	case err != nil:
		finding(CheckVersionMarker, Failed, err.Error())
	default:
		finding(CheckVersionMarker, Passed, fmt.Sprintf("version %d", v))
	}
}

const (
	bootstrapEnables   = 1
	bootstrapBaselines = 3
)

// bootstrapGrade downgrades a missing prerequisite to a warning when the
// configured init stages will create it.
func (c *Checker) bootstrapGrade(stage int) Severity {
	for _, s := range c.cfg.Init {
		if s == stage {
			return Warning
		}
	}
	return Failed
}

// untracked returns the configured tables absent from tracked. A configured
// name without a schema matches a tracked table in any schema.
func untracked(configured, tracked []string) []string {
	var out []string
	for _, name := range configured {
		want := dialect.ParseTable(name)
		found := false
		for _, t := range tracked {
			have := dialect.ParseTable(t)
			if strings.EqualFold(want.Name, have.Name) &&
				(want.Schema == "" || strings.EqualFold(want.Schema, have.Schema)) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, name)
		}
	}
	return out
}
