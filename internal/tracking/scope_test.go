package tracking

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbsmedya/ctsync/internal/config"
	"github.com/dbsmedya/ctsync/internal/schema"
)

var columnHeader = []string{"COLUMN_NAME", "DATA_TYPE", "LEN", "PREC", "SCALE", "IS_NULLABLE", "IDENT", "ORD"}

func expectTable(mock sqlmock.Sqlmock, schemaName, table string, pk string, cols ...string) {
	rows := sqlmock.NewRows(columnHeader)
	for i, c := range cols {
		rows.AddRow(c, "int", 0, 10, 0, "NO", 0, i+1)
	}
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.COLUMNS").WithArgs(schemaName, table).WillReturnRows(rows)
	mock.ExpectQuery("PRIMARY KEY").WithArgs(schemaName, table).
		WillReturnRows(sqlmock.NewRows([]string{"COLUMN_NAME"}).AddRow(pk))
}

func TestResolveScope_ConfiguredTables(t *testing.T) {
	src, mock := newSource(t)
	expectTable(mock, "dbo", "Orders", "Id", "Id", "Total")
	expectTable(mock, "dbo", "Lines", "LineId", "LineId", "OrderId", "Qty")

	rs := &config.ReplicationSet{
		Name:   "sales",
		Tables: []string{"dbo.Orders", "dbo.Lines"},
		TableColumns: []config.TableColumns{
			{TableName: "dbo.Lines", Keys: []string{"LineId"}, Columns: []string{"LineId", "Qty"}},
		},
	}

	scope, err := src.ResolveScope(context.Background(), rs)
	require.NoError(t, err)
	assert.Equal(t, []string{"dbo.Orders", "dbo.Lines"}, scope.Names())

	lines, def, ok := scope.Lookup("dbo.Lines")
	require.True(t, ok)
	assert.Equal(t, []string{"Qty"}, lines.Columns)
	assert.Len(t, def.Columns, 3)

	reordered := scope.Reorder([]string{"dbo.Lines", "dbo.Orders"})
	assert.Equal(t, []string{"dbo.Lines", "dbo.Orders"}, reordered.Names())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveScope_DiscoversTrackedTables(t *testing.T) {
	src, mock := newSource(t)
	mock.ExpectQuery("FROM sys.change_tracking_tables").
		WillReturnRows(sqlmock.NewRows([]string{"schema", "name"}).AddRow("dbo", "Orders"))
	expectTable(mock, "dbo", "Orders", "Id", "Id", "Total")

	scope, err := src.ResolveScope(context.Background(), &config.ReplicationSet{Name: "all"})
	require.NoError(t, err)
	assert.Equal(t, []string{"dbo.Orders"}, scope.Names())
}

func TestResolveScope_EmptyDiscovery(t *testing.T) {
	src, mock := newSource(t)
	mock.ExpectQuery("FROM sys.change_tracking_tables").
		WillReturnRows(sqlmock.NewRows([]string{"schema", "name"}))

	scope, err := src.ResolveScope(context.Background(), &config.ReplicationSet{Name: "all"})
	require.NoError(t, err)
	assert.Empty(t, scope.Specs)
}

func TestResolveScope_MissingTable(t *testing.T) {
	src, mock := newSource(t)
	mock.ExpectQuery("FROM INFORMATION_SCHEMA.COLUMNS").
		WillReturnRows(sqlmock.NewRows(columnHeader))

	_, err := src.ResolveScope(context.Background(), &config.ReplicationSet{Name: "s", Tables: []string{"dbo.Gone"}})
	var introspection *schema.SchemaIntrospectionError
	assert.True(t, errors.As(err, &introspection))
}
