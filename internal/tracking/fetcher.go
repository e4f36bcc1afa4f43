package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/elliotchance/orderedmap/v2"

	"github.com/dbsmedya/ctsync/internal/dialect"
	"github.com/dbsmedya/ctsync/internal/logger"
	"github.com/dbsmedya/ctsync/internal/schema"
)

var mssql = dialect.MustLookup(dialect.SQLServer)

// Source wraps a change tracked SQL Server database.
type Source struct {
	db       *sql.DB
	logger   *logger.Logger
	snapshot bool
}

// NewSource creates a Source. With snapshot set, fetches run inside a
// SNAPSHOT transaction so every table is read at the same point in time.
func NewSource(db *sql.DB, log *logger.Logger, snapshot bool) (*Source, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}
	if log == nil {
		log = logger.NewDefault()
	}
	return &Source{db: db, logger: log, snapshot: snapshot}, nil
}

// DB returns the underlying handle.
func (s *Source) DB() *sql.DB { return s.db }

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func currentVersion(ctx context.Context, q queryRower) (int64, bool, error) {
	var v sql.NullInt64
	if err := q.QueryRowContext(ctx, "SELECT CHANGE_TRACKING_CURRENT_VERSION()").Scan(&v); err != nil {
		return 0, false, fmt.Errorf("failed to read current change tracking version: %w", err)
	}
	return v.Int64, v.Valid, nil
}

func minValidVersion(ctx context.Context, q queryRower, table string) (int64, bool, error) {
	var v sql.NullInt64
	err := q.QueryRowContext(ctx, "SELECT CHANGE_TRACKING_MIN_VALID_VERSION(OBJECT_ID(@p1))", table).Scan(&v)
	if err != nil {
		return 0, false, fmt.Errorf("failed to read minimum valid version of %s: %w", table, err)
	}
	return v.Int64, v.Valid, nil
}

// CurrentVersion returns the source's change tracking version. ok is false
// when the database has no change tracking.
func (s *Source) CurrentVersion(ctx context.Context) (version int64, ok bool, err error) {
	return currentVersion(ctx, s.db)
}

// MinValidVersion returns the oldest version changes of table can be read
// from. ok is false when the table is not tracked.
func (s *Source) MinValidVersion(ctx context.Context, table string) (version int64, ok bool, err error) {
	return minValidVersion(ctx, s.db, table)
}

// Fetch returns every net change of tables with a version after floor.
//
// Changes are ordered by change version; changes with the same version keep
// the order of tables. With no changes the returned version equals floor.
// Otherwise it is the current version read before the tables. Rows changed
// after that read are returned with their newer version and replayed by the
// next fetch, which the applier's upserts absorb.
func (s *Source) Fetch(ctx context.Context, tables []*schema.TableSpec, floor int64) (*ChangeInfo, error) {
	var opts *sql.TxOptions
	if s.snapshot {
		opts = &sql.TxOptions{Isolation: sql.LevelSnapshot}
	}

	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to begin fetch transaction: %w", err)
	}
	// read only; nothing to commit
	defer func() { _ = tx.Rollback() }()

	current, ok, err := currentVersion(ctx, tx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrTrackingDisabled
	}

	for _, spec := range tables {
		minValid, tracked, err := minValidVersion(ctx, tx, spec.Name)
		if err != nil {
			return nil, err
		}
		if !tracked {
			return nil, &TableNotTrackedError{Table: spec.Name}
		}
		if floor < minValid {
			return nil, &ChangeTrackingExpiredError{Table: spec.Name, Floor: floor, MinValid: minValid}
		}
	}

	info := &ChangeInfo{Version: floor, Tables: tables}
	if current <= floor {
		s.logger.Debugw("No new change tracking version", "floor", floor, "current", current)
		return info, nil
	}

	for _, spec := range tables {
		changes, err := s.fetchTable(ctx, tx, spec, floor)
		if err != nil {
			return nil, err
		}
		info.Changes = append(info.Changes, changes...)
	}

	if len(info.Changes) == 0 {
		return info, nil
	}

	sort.SliceStable(info.Changes, func(i, j int) bool {
		return info.Changes[i].Version < info.Changes[j].Version
	})
	info.Version = current

	return info, nil
}

// ChangesQuery renders the CHANGETABLE query for spec. Argument: floor.
func ChangesQuery(spec *schema.TableSpec) string {
	table := mssql.QuoteTable(spec.Table)

	cols := []string{"ct.SYS_CHANGE_VERSION", "COALESCE(ct.SYS_CHANGE_CREATION_VERSION, 0)", "ct.SYS_CHANGE_OPERATION"}
	join := make([]string, len(spec.Keys))
	for i, k := range spec.Keys {
		q := mssql.QuoteIdent(k)
		cols = append(cols, "ct."+q)
		join[i] = "t." + q + " = ct." + q
	}
	for _, c := range spec.Columns {
		cols = append(cols, "t."+mssql.QuoteIdent(c))
	}

	return fmt.Sprintf("SELECT %s FROM CHANGETABLE(CHANGES %s, @p1) AS ct LEFT OUTER JOIN %s AS t ON %s ORDER BY ct.SYS_CHANGE_VERSION",
		strings.Join(cols, ", "), table, table, strings.Join(join, " AND "))
}

func (s *Source) fetchTable(ctx context.Context, tx *sql.Tx, spec *schema.TableSpec, floor int64) ([]Change, error) {
	rows, err := tx.QueryContext(ctx, ChangesQuery(spec), floor)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes of %s: %w", spec.Name, err)
	}
	defer rows.Close()

	nKeys, nCols := len(spec.Keys), len(spec.Columns)
	var changes []Change

	for rows.Next() {
		var (
			ch  = Change{Table: spec.Name}
			op  string
			raw = make([]any, nKeys+nCols)
		)
		dest := []any{&ch.Version, &ch.CreationVersion, &op}
		for i := range raw {
			dest = append(dest, &raw[i])
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan change of %s: %w", spec.Name, err)
		}

		if ch.Operation, err = ParseOperation(op); err != nil {
			return nil, fmt.Errorf("%s: %w", spec.Name, err)
		}

		ch.Keys = orderedmap.NewOrderedMap[string, any]()
		for i, k := range spec.Keys {
			ch.Keys.Set(k, schema.Normalize(spec.DataType(k), raw[i]))
		}
		if ch.Operation != OpDelete {
			ch.Values = orderedmap.NewOrderedMap[string, any]()
			for i, c := range spec.Columns {
				ch.Values.Set(c, schema.Normalize(spec.DataType(c), raw[nKeys+i]))
			}
		}
		changes = append(changes, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read changes of %s: %w", spec.Name, err)
	}

	if len(changes) > 0 {
		s.logger.Debugw("Fetched changes", "table", spec.Name, "count", len(changes))
	}
	return changes, nil
}

// IsExpired reports whether err is a ChangeTrackingExpiredError.
func IsExpired(err error) bool {
	var expired *ChangeTrackingExpiredError
	return errors.As(err, &expired)
}
