// Package config provides configuration structures and loading for ctsync.
package config

import "strings"

// Supported database drivers. The source of a replication set is always a SQL Server
// database with change tracking; destinations may use any of them.
const (
	DriverSQLServer = "sqlserver"
	DriverMySQL     = "mysql"
	DriverPostgres  = "postgres"
	DriverSQLite    = "sqlite"
)

// Config represents the complete application configuration.
type Config struct {
	ReplicationSets   []ReplicationSet `yaml:"replication_sets" mapstructure:"replication_sets" validate:"dive"`
	Loop              bool             `yaml:"loop" mapstructure:"loop"`
	Interval          int              `yaml:"interval" mapstructure:"interval" validate:"gte=0"` // seconds between loop passes
	Timeout           int              `yaml:"timeout" mapstructure:"timeout" validate:"gte=0"`   // per-operation seconds, 0 = none
	DryRun            bool             `yaml:"dry_run" mapstructure:"dry_run"`
	Init              []int            `yaml:"init" mapstructure:"init"` // bootstrap stage codes, empty = incremental sync
	Workers           int              `yaml:"workers" mapstructure:"workers" validate:"gte=0"`
	SnapshotIsolation bool             `yaml:"snapshot_isolation" mapstructure:"snapshot_isolation"`
	RetentionDays     int              `yaml:"retention_days" mapstructure:"retention_days" validate:"gte=0"`
	BulkBatchSize     int              `yaml:"bulk_batch_size" mapstructure:"bulk_batch_size" validate:"gte=0"`
	Logging           LoggingConfig    `yaml:"logging" mapstructure:"logging"`
	Metrics           MetricsConfig    `yaml:"metrics" mapstructure:"metrics"`
}

// ReplicationSet pairs one source database with one or more destinations plus the
// table scope replicated between them.
type ReplicationSet struct {
	Name         string         `yaml:"name" mapstructure:"name" validate:"required"`
	Source       DatabaseInfo   `yaml:"source" mapstructure:"source"`
	Destinations []DatabaseInfo `yaml:"destinations" mapstructure:"destinations" validate:"min=1,dive"`
	Tables       []string       `yaml:"tables" mapstructure:"tables" validate:"dive,required"`
	TableColumns []TableColumns `yaml:"table_columns" mapstructure:"table_columns" validate:"dive"`
	ConfirmTable bool           `yaml:"confirm_table" mapstructure:"confirm_table"` // ask before creating destination tables
}

// DatabaseInfo identifies one database endpoint. Name is used solely for logs.
type DatabaseInfo struct {
	Name               string `yaml:"name" mapstructure:"name" validate:"required"`
	Driver             string `yaml:"driver" mapstructure:"driver" validate:"omitempty,oneof=sqlserver mysql postgres sqlite"`
	ConnectionString   string `yaml:"connection_string" mapstructure:"connection_string" validate:"required"`
	MaxConnections     int    `yaml:"max_connections" mapstructure:"max_connections" validate:"gte=0"`
	MaxIdleConnections int    `yaml:"max_idle_connections" mapstructure:"max_idle_connections" validate:"gte=0"`
}

// TableColumns narrows a table to an explicit column and key list. When present it
// overrides reflection for the table's shape.
type TableColumns struct {
	TableName   string   `yaml:"table_name" mapstructure:"table_name" validate:"required"`
	Columns     []string `yaml:"columns" mapstructure:"columns"`
	Keys        []string `yaml:"keys" mapstructure:"keys" validate:"min=1"`
	HasIdentity bool     `yaml:"has_identity" mapstructure:"has_identity"`
}

// LoggingConfig represents logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // json or text
	Output string `yaml:"output" mapstructure:"output"` // stdout, stderr, or file path
}

// MetricsConfig controls the Prometheus endpoint served by the sync command.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled" mapstructure:"enabled"`
	ListenAddress string `yaml:"listen_address" mapstructure:"listen_address"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		Loop:          false,
		Interval:      30,
		Timeout:       0,
		DryRun:        false,
		Workers:       4,
		RetentionDays: 2,
		BulkBatchSize: 500,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: ":9187",
		},
	}
}

// DriverName returns the configured driver, defaulting to SQL Server.
func (d DatabaseInfo) DriverName() string {
	if d.Driver == "" {
		return DriverSQLServer
	}
	return strings.ToLower(d.Driver)
}

// Key identifies the physical endpoint independently of its display name. Two
// DatabaseInfo values with the same key point at the same database.
func (d DatabaseInfo) Key() string {
	return d.DriverName() + "|" + d.ConnectionString
}

// GetSet retrieves a replication set by name.
func (c *Config) GetSet(name string) (*ReplicationSet, bool) {
	for i := range c.ReplicationSets {
		if c.ReplicationSets[i].Name == name {
			return &c.ReplicationSets[i], true
		}
	}
	return nil, false
}

// SetNames returns the replication set names in configuration order.
func (c *Config) SetNames() []string {
	names := make([]string, 0, len(c.ReplicationSets))
	for _, rs := range c.ReplicationSets {
		names = append(names, rs.Name)
	}
	return names
}

// ColumnsFor returns the TableColumns override for a table, or nil. Table names are
// compared case-insensitively, as SQL Server does by default.
func (rs *ReplicationSet) ColumnsFor(table string) *TableColumns {
	for i := range rs.TableColumns {
		if strings.EqualFold(rs.TableColumns[i].TableName, table) {
			return &rs.TableColumns[i]
		}
	}
	return nil
}
