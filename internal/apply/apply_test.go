package apply

import (
	"context"
	"database/sql"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/elliotchance/orderedmap/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	_ "modernc.org/sqlite"

	"github.com/dbsmedya/ctsync/internal/dialect"
	"github.com/dbsmedya/ctsync/internal/logger"
	"github.com/dbsmedya/ctsync/internal/schema"
	"github.com/dbsmedya/ctsync/internal/tracking"
	"github.com/dbsmedya/ctsync/internal/version"
)

var itemsSpec = &schema.TableSpec{
	Name:      "Items",
	Table:     dialect.Table{Name: "Items"},
	Keys:      []string{"Id"},
	Columns:   []string{"Name"},
	DataTypes: map[string]string{"id": "int", "name": "nvarchar"},
}

func change(op tracking.Operation, v, id int64, name any) tracking.Change {
	keys := orderedmap.NewOrderedMap[string, any]()
	keys.Set("Id", id)
	ch := tracking.Change{Table: "Items", Operation: op, Version: v, Keys: keys}
	if op != tracking.OpDelete {
		ch.Values = orderedmap.NewOrderedMap[string, any]()
		ch.Values.Set("Name", name)
	}
	return ch
}

func batch(v int64, changes ...tracking.Change) *tracking.ChangeInfo {
	return &tracking.ChangeInfo{Version: v, Changes: changes, Tables: []*schema.TableSpec{itemsSpec}}
}

type destination struct {
	db      *sql.DB
	applier *Applier
}

func newDestination(t *testing.T, baseline int64) *destination {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "dest.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(`CREATE TABLE "Items" ("Id" INTEGER NOT NULL PRIMARY KEY, "Name" TEXT NULL)`)
	require.NoError(t, err)

	d := dialect.MustLookup(dialect.SQLite)
	store, err := version.NewStore(db, d, logger.NewNop())
	require.NoError(t, err)
	_, err = store.Baseline(context.Background(), baseline)
	require.NoError(t, err)

	a, err := NewApplier("replica", db, d, logger.NewNop())
	require.NoError(t, err)
	return &destination{db: db, applier: a}
}

func (d *destination) rows(t *testing.T) map[int64]string {
	t.Helper()
	rows, err := d.db.Query(`SELECT "Id", "Name" FROM "Items"`)
	require.NoError(t, err)
	defer rows.Close()

	out := make(map[int64]string)
	for rows.Next() {
		var (
			id   int64
			name sql.NullString
		)
		require.NoError(t, rows.Scan(&id, &name))
		out[id] = name.String
	}
	require.NoError(t, rows.Err())
	return out
}

func (d *destination) marker(t *testing.T) int64 {
	t.Helper()
	var v int64
	require.NoError(t, d.db.QueryRow(`SELECT "Version" FROM "SyncInfo" WHERE "Id" = 1`).Scan(&v))
	return v
}

func TestApply_LogsPerTableCounts(t *testing.T) {
	dest := newDestination(t, 1)
	core, logs := observer.New(zapcore.DebugLevel)
	dest.applier.logger = logger.FromZap(zap.New(core))

	_, err := dest.applier.Apply(context.Background(), batch(3,
		change(tracking.OpInsert, 2, 1, "a"),
		change(tracking.OpUpdate, 3, 1, "b"),
	))
	require.NoError(t, err)

	entries := logs.FilterMessage("Table changes applied").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "Items", fields["table"])
	assert.EqualValues(t, 1, fields["inserts"])
	assert.EqualValues(t, 1, fields["updates"])
}

func TestBuildPlan(t *testing.T) {
	d := dialect.MustLookup(dialect.MySQL)
	plan, err := BuildPlan(d, batch(9,
		change(tracking.OpInsert, 7, 1, "a"),
		change(tracking.OpUpdate, 8, 1, "b"),
		change(tracking.OpDelete, 9, 2, nil),
	))
	require.NoError(t, err)
	require.Len(t, plan.Steps, 3)
	assert.Equal(t, int64(9), plan.Version)

	assert.Equal(t, "INSERT INTO `Items` (`Id`, `Name`) VALUES (?, ?) ON DUPLICATE KEY UPDATE `Name` = VALUES(`Name`)", plan.Steps[0].SQL)
	assert.Equal(t, []any{int64(1), "a"}, plan.Steps[0].Args)
	assert.Equal(t, "UPDATE `Items` SET `Name` = ? WHERE `Id` = ?", plan.Steps[1].SQL)
	assert.Equal(t, []any{"b", int64(1)}, plan.Steps[1].Args)
	assert.Equal(t, "DELETE FROM `Items` WHERE `Id` = ?", plan.Steps[2].SQL)
	assert.Equal(t, []any{int64(2)}, plan.Steps[2].Args)
}

func TestBuildPlan_UnknownTable(t *testing.T) {
	info := batch(2, change(tracking.OpInsert, 2, 1, "a"))
	info.Changes[0].Table = "Other"
	_, err := BuildPlan(dialect.MustLookup(dialect.SQLite), info)
	assert.Error(t, err)
}

func TestBuildPlan_KeyOnlyUpdateHasNoStatement(t *testing.T) {
	spec := &schema.TableSpec{Name: "Tags", Table: dialect.Table{Name: "Tags"}, Keys: []string{"Id"}}
	keys := orderedmap.NewOrderedMap[string, any]()
	keys.Set("Id", int64(4))
	info := &tracking.ChangeInfo{
		Version: 3,
		Tables:  []*schema.TableSpec{spec},
		Changes: []tracking.Change{{Table: "Tags", Operation: tracking.OpUpdate, Keys: keys, Values: orderedmap.NewOrderedMap[string, any]()}},
	}
	plan, err := BuildPlan(dialect.MustLookup(dialect.Postgres), info)
	require.NoError(t, err)
	assert.Empty(t, plan.Steps[0].SQL)
}

func TestApply_OrderInsertUpdateDelete(t *testing.T) {
	dest := newDestination(t, 10)
	_, err := dest.db.Exec(`INSERT INTO "Items" VALUES (2, 'b')`)
	require.NoError(t, err)

	report, err := dest.applier.Apply(context.Background(), batch(14,
		change(tracking.OpInsert, 11, 1, "first"),
		change(tracking.OpUpdate, 12, 1, "second"),
		change(tracking.OpDelete, 14, 2, nil),
	))
	require.NoError(t, err)

	assert.Equal(t, map[int64]string{1: "second"}, dest.rows(t))
	assert.Equal(t, int64(14), dest.marker(t))

	assert.False(t, report.Skipped)
	assert.True(t, report.Advanced())
	assert.Equal(t, TableCounts{Inserts: 1, Updates: 1, Deletes: 1}, report.Totals())
	assert.Equal(t, 3, report.Changes())
}

func TestApply_SkipsCoveredBatch(t *testing.T) {
	dest := newDestination(t, 20)

	report, err := dest.applier.Apply(context.Background(), batch(15, change(tracking.OpInsert, 15, 1, "x")))
	require.NoError(t, err)

	assert.True(t, report.Skipped)
	assert.False(t, report.Advanced())
	assert.Empty(t, dest.rows(t))
	assert.Equal(t, int64(20), dest.marker(t))
}

func TestApply_RepeatedBatchConverges(t *testing.T) {
	dest := newDestination(t, 10)
	info := batch(13,
		change(tracking.OpInsert, 11, 1, "a"),
		change(tracking.OpInsert, 12, 2, "b"),
		change(tracking.OpDelete, 13, 3, nil),
	)

	_, err := dest.applier.Apply(context.Background(), info)
	require.NoError(t, err)
	first := dest.rows(t)

	// force the marker back as if the commit acknowledgement had been lost
	_, err = dest.db.Exec(`UPDATE "SyncInfo" SET "Version" = 10`)
	require.NoError(t, err)

	report, err := dest.applier.Apply(context.Background(), info)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, first, dest.rows(t))
	assert.Equal(t, int64(13), dest.marker(t))
	assert.Equal(t, 1, report.Totals().Missing)
}

func TestApply_MissingRowsTolerated(t *testing.T) {
	dest := newDestination(t, 1)

	report, err := dest.applier.Apply(context.Background(), batch(3,
		change(tracking.OpUpdate, 2, 8, "ghost"),
		change(tracking.OpDelete, 3, 9, nil),
	))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Totals().Missing)
	assert.Equal(t, int64(3), dest.marker(t))
}

func TestApply_FailureLeavesNothing(t *testing.T) {
	dest := newDestination(t, 5)

	info := batch(7,
		change(tracking.OpInsert, 6, 1, "a"),
		change(tracking.OpInsert, 7, 2, "b"),
	)
	info.Tables = []*schema.TableSpec{{
		Name:    "Items",
		Table:   dialect.Table{Name: "Items"},
		Keys:    []string{"Id"},
		Columns: []string{"NoSuchColumn"},
	}}
	info.Changes[0].Values.Set("NoSuchColumn", 1)

	_, err := dest.applier.Apply(context.Background(), info)
	require.Error(t, err)
	assert.Empty(t, dest.rows(t))
	assert.Equal(t, int64(5), dest.marker(t))
}

func TestApply_MarkerMissing(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "bare.db"))
	require.NoError(t, err)
	defer db.Close()
	db.SetMaxOpenConns(1)

	d := dialect.MustLookup(dialect.SQLite)
	_, err = db.Exec(version.CreateTableSQL(d))
	require.NoError(t, err)

	a, err := NewApplier("bare", db, d, logger.NewNop())
	require.NoError(t, err)

	_, err = a.Apply(context.Background(), batch(2, change(tracking.OpInsert, 2, 1, "a")))
	assert.ErrorIs(t, err, version.ErrMarkerMissing)
}

func TestApply_CommitFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	d := dialect.MustLookup(dialect.SQLServer)
	a, err := NewApplier("mock", db, d, logger.NewNop())
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT [Version] FROM [SyncInfo] WITH (UPDLOCK, HOLDLOCK)")).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"Version"}).AddRow(int64(4)))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM [Items]")).
		WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE [SyncInfo] SET [Version] = @p1")).
		WithArgs(int64(6), 1, int64(6)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(sql.ErrConnDone)

	_, err = a.Apply(context.Background(), batch(6, change(tracking.OpDelete, 6, 3, nil)))
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPreview(t *testing.T) {
	a, err := NewApplier("dry", &sql.DB{}, dialect.MustLookup(dialect.Postgres), logger.NewNop())
	require.NoError(t, err)

	info := batch(9,
		change(tracking.OpInsert, 7, 1, "a"),
		change(tracking.OpDelete, 9, 2, nil),
	)

	report, err := a.Preview(info, 5)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, []string{"Items"}, report.Tables.Keys())
	assert.Equal(t, TableCounts{Inserts: 1, Deletes: 1}, report.Totals())

	report, err = a.Preview(info, 9)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Zero(t, report.Changes())
}

// fetchItems runs one Fetch of Items through a mocked source that reports
// current and returns rows from CHANGETABLE.
func fetchItems(t *testing.T, floor, current int64, rows *sqlmock.Rows) *tracking.ChangeInfo {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT CHANGE_TRACKING_CURRENT_VERSION()")).
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(current))
	mock.ExpectQuery(regexp.QuoteMeta("CHANGE_TRACKING_MIN_VALID_VERSION(OBJECT_ID(@p1))")).
		WithArgs("Items").
		WillReturnRows(sqlmock.NewRows([]string{"v"}).AddRow(int64(1)))
	mock.ExpectQuery(regexp.QuoteMeta(tracking.ChangesQuery(itemsSpec))).
		WithArgs(floor).
		WillReturnRows(rows)
	mock.ExpectRollback()

	src, err := tracking.NewSource(db, logger.NewNop(), false)
	require.NoError(t, err)
	info, err := src.Fetch(context.Background(), []*schema.TableSpec{itemsSpec}, floor)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
	return info
}

func TestApply_RowUpdatedDuringFetchIsNotLost(t *testing.T) {
	dest := newDestination(t, 10)
	cols := []string{"v", "cv", "op", "Id", "Name"}

	// Id 1 is inserted at 11 and updated at 13 after the fetch read the
	// current version 12.
	first := fetchItems(t, 10, 12, sqlmock.NewRows(cols).
		AddRow(int64(12), int64(12), "I", int64(2), "two").
		AddRow(int64(13), int64(11), "I", int64(1), "one"))
	report, err := dest.applier.Apply(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, TableCounts{Inserts: 2}, report.Totals())
	assert.Equal(t, int64(12), dest.marker(t))

	// the next pass sees Id 1 as an update since it was created before 12
	second := fetchItems(t, 12, 13, sqlmock.NewRows(cols).
		AddRow(int64(13), int64(11), "U", int64(1), "one"))
	report, err = dest.applier.Apply(context.Background(), second)
	require.NoError(t, err)
	assert.Zero(t, report.Totals().Missing)

	assert.Equal(t, map[int64]string{1: "one", 2: "two"}, dest.rows(t))
	assert.Equal(t, int64(13), dest.marker(t))
}
