package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/ctsync/internal/database"
	"github.com/dbsmedya/ctsync/internal/preflight"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and run preflight checks",
	Long: `Validate checks the configuration file and runs read-only preflight
checks against every source and destination.

Checks performed:
  - Configuration syntax and required fields
  - Database connectivity (sources and destinations)
  - Change tracking on the source database and on every configured table
  - Snapshot isolation, when enabled in the configuration
  - Table shape (columns and primary keys) of every configured table
  - Configured table order against foreign keys
  - Version marker on every destination

Missing prerequisites that the configured init stages will create are
reported as warnings.

Example:
  ctsync validate --config ctsync.yaml`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(GetCLIOverrides())
	if err != nil {
		fmt.Fprintf(outputWriter, "%s Configuration invalid\n", failMark())
		return err
	}
	defer log.Sync()

	fmt.Fprintf(outputWriter, "\n=== Configuration Validation ===\n")
	fmt.Fprintf(outputWriter, "Config file: %s\n", GetConfigFile())
	fmt.Fprintf(outputWriter, "Replication sets found: %d\n", len(cfg.ReplicationSets))
	fmt.Fprintf(outputWriter, "%s Configuration valid\n", okMark())

	dbs := newManager()
	defer dbs.Close()

	checker, err := preflight.NewChecker(cfg, dbs, log)
	if err != nil {
		return fmt.Errorf("failed to create preflight checker: %w", err)
	}
	ctx := context.Background()
	report := checker.Run(ctx)
	printPreflightReport(report)

	if err := report.Err(); err != nil {
		return fmt.Errorf("validation failed: %d check(s) failed", len(report.Failures()))
	}
	if err := confirmConnections(ctx, dbs); err != nil {
		return err
	}

	fmt.Fprintln(outputWriter, "\n=== Validation Complete ===")
	fmt.Fprintf(outputWriter, "%s All replication sets validated successfully\n", okMark())
	return nil
}

// confirmConnections pings every connection the checks opened.
func confirmConnections(ctx context.Context, dbs *database.Manager) error {
	if err := dbs.Ping(ctx); err != nil {
		fmt.Fprintf(outputWriter, "%s Connections: %v\n", failMark(), err)
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Fprintf(outputWriter, "%s Connections alive\n", okMark())
	return nil
}

func printPreflightReport(report *preflight.Report) {
	set := ""
	for _, f := range report.Findings {
		if f.Set != set {
			set = f.Set
			fmt.Fprintf(outputWriter, "\n--- Replication set: %s ---\n", set)
		}

		mark := okMark()
		switch f.Severity {
		case preflight.Warning:
			mark = warnMark()
		case preflight.Failed:
			mark = failMark()
		}
		fmt.Fprintf(outputWriter, "%s %-24s %-12s %s\n", mark, f.Check, f.Endpoint, f.Message)
		if len(f.Tables) > 0 {
			fmt.Fprintf(outputWriter, "    tables: %s\n", strings.Join(f.Tables, ", "))
		}
	}
}
