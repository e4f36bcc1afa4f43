package dialect

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orders = Table{Schema: "dbo", Name: "Orders"}

func TestLookup(t *testing.T) {
	for _, name := range Names() {
		d, err := Lookup(name)
		require.NoError(t, err)
		assert.Equal(t, name, d.Name())
	}

	d, err := Lookup("SQLServer")
	require.NoError(t, err)
	assert.Equal(t, SQLServer, d.Name())

	_, err = Lookup("oracle")
	assert.True(t, errors.Is(err, ErrUnknownDialect))

	assert.Panics(t, func() { MustLookup("db2") })
}

func TestParseTable(t *testing.T) {
	assert.Equal(t, Table{Schema: "dbo", Name: "Orders"}, ParseTable("dbo.Orders"))
	assert.Equal(t, Table{Name: "Orders"}, ParseTable("Orders"))
	assert.Equal(t, Table{Schema: "sales", Name: "Order Items"}, ParseTable("[sales].[Order Items]"))
	assert.Equal(t, "dbo.Orders", orders.String())
	assert.Equal(t, "Orders", Table{Name: "Orders"}.String())
}

func TestQuoteTableAndPlaceholders(t *testing.T) {
	tests := []struct {
		dialect string
		table   string
		p3      string
	}{
		{SQLServer, "[dbo].[Orders]", "@p3"},
		{MySQL, "`Orders`", "?"},
		{Postgres, `"Orders"`, "$3"},
		{SQLite, `"Orders"`, "?"},
	}

	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			d := MustLookup(tt.dialect)
			assert.Equal(t, tt.table, d.QuoteTable(orders))
			assert.Equal(t, tt.p3, d.Placeholder(3))
			assert.Greater(t, d.MaxParams(), 0)
		})
	}

	assert.Equal(t, "[Orders]", MustLookup(SQLServer).QuoteTable(Table{Name: "Orders"}))
}

func TestUpsertSQL(t *testing.T) {
	keys := []string{"Id"}
	cols := []string{"Name", "Total"}

	tests := []struct {
		name     string
		dialect  string
		cols     []string
		identity bool
		want     string
	}{
		{
			name:    "sqlserver",
			dialect: SQLServer,
			cols:    cols,
			want: "IF EXISTS (SELECT 1 FROM [dbo].[Orders] WITH (UPDLOCK, HOLDLOCK) WHERE [Id] = @p1) " +
				"UPDATE [dbo].[Orders] SET [Name] = @p2, [Total] = @p3 WHERE [Id] = @p1 " +
				"ELSE INSERT INTO [dbo].[Orders] ([Id], [Name], [Total]) VALUES (@p1, @p2, @p3);",
		},
		{
			name:     "sqlserver identity",
			dialect:  SQLServer,
			cols:     nil,
			identity: true,
			want: "SET IDENTITY_INSERT [dbo].[Orders] ON; " +
				"IF NOT EXISTS (SELECT 1 FROM [dbo].[Orders] WITH (UPDLOCK, HOLDLOCK) WHERE [Id] = @p1) " +
				"INSERT INTO [dbo].[Orders] ([Id]) VALUES (@p1); " +
				"SET IDENTITY_INSERT [dbo].[Orders] OFF;",
		},
		{
			name:    "mysql",
			dialect: MySQL,
			cols:    cols,
			want: "INSERT INTO `Orders` (`Id`, `Name`, `Total`) VALUES (?, ?, ?) " +
				"ON DUPLICATE KEY UPDATE `Name` = VALUES(`Name`), `Total` = VALUES(`Total`)",
		},
		{
			name:    "mysql keys only",
			dialect: MySQL,
			want:    "INSERT IGNORE INTO `Orders` (`Id`) VALUES (?)",
		},
		{
			name:    "postgres",
			dialect: Postgres,
			cols:    cols,
			want: `INSERT INTO "Orders" ("Id", "Name", "Total") VALUES ($1, $2, $3) ` +
				`ON CONFLICT ("Id") DO UPDATE SET "Name" = EXCLUDED."Name", "Total" = EXCLUDED."Total"`,
		},
		{
			name:    "sqlite keys only",
			dialect: SQLite,
			want:    `INSERT INTO "Orders" ("Id") VALUES (?) ON CONFLICT ("Id") DO NOTHING`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MustLookup(tt.dialect).UpsertSQL(orders, keys, tt.cols, tt.identity)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUpdateAndDeleteSQL(t *testing.T) {
	keys := []string{"OrderId", "Line"}

	ss := MustLookup(SQLServer)
	assert.Equal(t,
		"UPDATE [dbo].[Orders] SET [Qty] = @p1 WHERE [OrderId] = @p2 AND [Line] = @p3",
		ss.UpdateSQL(orders, keys, []string{"Qty"}))
	assert.Equal(t,
		"DELETE FROM [dbo].[Orders] WHERE [OrderId] = @p1 AND [Line] = @p2",
		ss.DeleteSQL(orders, keys))

	pg := MustLookup(Postgres)
	assert.Equal(t,
		`UPDATE "Orders" SET "Qty" = $1 WHERE "OrderId" = $2 AND "Line" = $3`,
		pg.UpdateSQL(orders, keys, []string{"Qty"}))
	assert.Equal(t, "DELETE FROM `Orders` WHERE `OrderId` = ? AND `Line` = ?",
		MustLookup(MySQL).DeleteSQL(orders, keys))
}

func TestLockingRead(t *testing.T) {
	marker := Table{Name: "SyncInfo"}

	assert.Equal(t, "SELECT [Version] FROM [SyncInfo] WITH (UPDLOCK, HOLDLOCK) WHERE [Id] = @p1",
		MustLookup(SQLServer).LockingRead(marker, "Version", "Id"))
	assert.Equal(t, "SELECT `Version` FROM `SyncInfo` WHERE `Id` = ? FOR UPDATE",
		MustLookup(MySQL).LockingRead(marker, "Version", "Id"))
	assert.Equal(t, `SELECT "Version" FROM "SyncInfo" WHERE "Id" = $1 FOR UPDATE`,
		MustLookup(Postgres).LockingRead(marker, "Version", "Id"))
	assert.Equal(t, `SELECT "Version" FROM "SyncInfo" WHERE "Id" = ?`,
		MustLookup(SQLite).LockingRead(marker, "Version", "Id"))
}

func TestCreateTableIfMissing(t *testing.T) {
	assert.Equal(t,
		"IF OBJECT_ID(N'[dbo].[Orders]', N'U') IS NULL CREATE TABLE [dbo].[Orders] ([Id] int NOT NULL)",
		MustLookup(SQLServer).CreateTableIfMissing(orders, "[Id] int NOT NULL"))
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "Orders" ("Id" INTEGER NOT NULL)`,
		MustLookup(SQLite).CreateTableIfMissing(orders, `"Id" INTEGER NOT NULL`))
}

func TestTableExistsQuery(t *testing.T) {
	q, args := MustLookup(SQLServer).TableExistsQuery(orders)
	assert.Contains(t, q, "TABLE_SCHEMA = @p1")
	assert.Equal(t, []any{"dbo", "Orders"}, args)

	q, args = MustLookup(SQLServer).TableExistsQuery(Table{Name: "Orders"})
	assert.Contains(t, q, "SCHEMA_NAME()")
	assert.Equal(t, []any{"Orders"}, args)

	_, args = MustLookup(MySQL).TableExistsQuery(orders)
	assert.Equal(t, []any{"Orders"}, args)
}

func TestColumnType(t *testing.T) {
	tests := []struct {
		col       Column
		sqlserver string
		mysql     string
		postgres  string
		sqlite    string
	}{
		{Column{DataType: "int"}, "int", "INT", "INTEGER", "INTEGER"},
		{Column{DataType: "bit"}, "bit", "TINYINT(1)", "BOOLEAN", "INTEGER"},
		{Column{DataType: "nvarchar", MaxLength: 50}, "nvarchar(50)", "VARCHAR(50)", "VARCHAR(50)", "TEXT"},
		{Column{DataType: "nvarchar", MaxLength: -1}, "nvarchar(max)", "LONGTEXT", "TEXT", "TEXT"},
		{Column{DataType: "char", MaxLength: 3}, "char(3)", "CHAR(3)", "CHAR(3)", "TEXT"},
		{Column{DataType: "decimal", Precision: 18, Scale: 2}, "decimal(18,2)", "DECIMAL(18,2)", "NUMERIC(18,2)", "NUMERIC"},
		{Column{DataType: "money"}, "money", "DECIMAL(19,4)", "NUMERIC(19,4)", "NUMERIC"},
		{Column{DataType: "uniqueidentifier"}, "uniqueidentifier", "CHAR(36)", "UUID", "TEXT"},
		{Column{DataType: "datetime2"}, "datetime2", "DATETIME(6)", "TIMESTAMP", "TEXT"},
		{Column{DataType: "varbinary", MaxLength: -1}, "varbinary(max)", "LONGBLOB", "BYTEA", "BLOB"},
		{Column{DataType: "float"}, "float", "DOUBLE", "DOUBLE PRECISION", "REAL"},
		{Column{DataType: "geography"}, "geography", "LONGTEXT", "TEXT", "TEXT"},
	}

	for _, tt := range tests {
		t.Run(tt.col.DataType, func(t *testing.T) {
			assert.Equal(t, tt.sqlserver, MustLookup(SQLServer).ColumnType(tt.col))
			assert.Equal(t, tt.mysql, MustLookup(MySQL).ColumnType(tt.col))
			assert.Equal(t, tt.postgres, MustLookup(Postgres).ColumnType(tt.col))
			assert.Equal(t, tt.sqlite, MustLookup(SQLite).ColumnType(tt.col))
		})
	}
}

func TestIdentityClause(t *testing.T) {
	assert.Equal(t, "IDENTITY(1,1)", MustLookup(SQLServer).IdentityClause(false))
	assert.Equal(t, "AUTO_INCREMENT", MustLookup(MySQL).IdentityClause(true))
	assert.Equal(t, "", MustLookup(MySQL).IdentityClause(false))
	assert.Equal(t, "GENERATED BY DEFAULT AS IDENTITY", MustLookup(Postgres).IdentityClause(true))
	assert.Equal(t, "", MustLookup(SQLite).IdentityClause(true))
}
