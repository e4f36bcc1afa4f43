package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/ctsync/internal/config"
	"github.com/dbsmedya/ctsync/internal/database"
	"github.com/dbsmedya/ctsync/internal/logger"
)

// Version information (set via ldflags at build time)
var (
	Version = "0.0.1-dev"
	Commit  = "unknown"
)

// newManager builds the connection manager commands use, can be overridden in tests
var newManager = database.NewManager

// CLI flags that override config file values
var (
	cfgFile   string
	logLevel  string
	logFormat string
)

var rootCmd = &cobra.Command{
	Use:   "ctsync",
	Short: "SQL Server change tracking replicator",
	Long: `ctsync replicates tables from a SQL Server source with change tracking
enabled to one or more destination databases (SQL Server, MySQL, PostgreSQL
or SQLite).

Features:
  - Staged bootstrap: enable tracking, create tables, record baseline, seed data
  - Incremental sync: one fetch per replication set, applied to every destination
  - Per-destination version markers committed with the applied changes
  - Partial failure isolation and a cooperative sync loop
  - Preflight checks, lag status and row count verification`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "ctsync.yaml",
		"Path to configuration file")

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "",
		"Override log format (json, text)")
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// GetCLIOverrides returns the persistent flag overrides. Commands add their
// own flags on top.
func GetCLIOverrides() config.Overrides {
	return config.Overrides{
		LogLevel:  logLevel,
		LogFormat: logFormat,
	}
}

// loadConfig loads and validates the configuration with o applied, and builds
// the logger it describes.
func loadConfig(o config.Overrides) (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyOverrides(o)

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

// selectSets returns every replication set, or only the named one.
func selectSets(cfg *config.Config, name string) ([]*config.ReplicationSet, error) {
	if name != "" {
		rs, ok := cfg.GetSet(name)
		if !ok {
			return nil, fmt.Errorf("replication set %q not found in configuration", name)
		}
		return []*config.ReplicationSet{rs}, nil
	}
	sets := make([]*config.ReplicationSet, len(cfg.ReplicationSets))
	for i := range cfg.ReplicationSets {
		sets[i] = &cfg.ReplicationSets[i]
	}
	return sets, nil
}
