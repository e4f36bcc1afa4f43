package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/ctsync/internal/config"
	"github.com/dbsmedya/ctsync/internal/graph"
	"github.com/dbsmedya/ctsync/internal/tracking"
)

var planSet string

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Show table order for a replication set",
	Long: `Plan resolves the table scope of a replication set on the source and
displays the order bootstrap creates and seeds tables in, based on the
source's foreign keys.

The plan shows:
  - Configured order (the order changes are fetched and applied in)
  - Bootstrap order (parent tables first)
  - Detected table relationships
  - Relationships the configured order violates

Example:
  ctsync plan --config ctsync.yaml --set sales`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planSet, "set", "s", "",
		"Only this replication set")

	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(GetCLIOverrides())
	if err != nil {
		return err
	}
	defer log.Sync()

	sets, err := selectSets(cfg, planSet)
	if err != nil {
		return err
	}

	dbs := newManager()
	defer dbs.Close()

	ctx := context.Background()
	for _, rs := range sets {
		db, err := dbs.Open(ctx, rs.Source)
		if err != nil {
			return fmt.Errorf("failed to open source %s: %w", rs.Source.Name, err)
		}
		src, err := tracking.NewSource(db, log.WithSet(rs.Name), cfg.SnapshotIsolation)
		if err != nil {
			return err
		}
		if err := printPlan(ctx, rs, src); err != nil {
			return fmt.Errorf("replication set %s: %w", rs.Name, err)
		}
	}
	return nil
}

func printPlan(ctx context.Context, rs *config.ReplicationSet, src *tracking.Source) error {
	scope, err := src.ResolveScope(ctx, rs)
	if err != nil {
		return err
	}
	fks, err := src.ForeignKeys(ctx)
	if err != nil {
		return err
	}
	g := graph.Build(scope.Names(), fks)

	fmt.Fprintln(outputWriter)
	printHeader("Execution Plan: %s", rs.Name)

	fmt.Fprintln(outputWriter)
	printSection("Overview")
	fmt.Fprintf(outputWriter, "  Source:       %s\n", rs.Source.Name)
	fmt.Fprintf(outputWriter, "  Destinations: %d\n", len(rs.Destinations))
	fmt.Fprintf(outputWriter, "  Tables:       %d\n", g.NodeCount())
	if len(rs.Tables) == 0 {
		fmt.Fprintln(outputWriter, "  Scope:        all change tracked tables")
	}

	fmt.Fprintln(outputWriter)
	printSection("Configured Order (sync)")
	for i, spec := range scope.Specs {
		fmt.Fprintf(outputWriter, "  [%d] %s | keys: %v\n", i+1, spec.Name, spec.Keys)
	}

	fmt.Fprintln(outputWriter)
	printSection("Bootstrap Order (parent tables first)")
	order, err := g.CreateOrder()
	switch {
	case errors.Is(err, graph.ErrCycleDetected):
		fmt.Fprintf(outputWriter, "  %s %v\n  configured order is used\n", warnMark(), err)
	case err != nil:
		return err
	default:
		for i, table := range order {
			fmt.Fprintf(outputWriter, "  [%d] %s\n", i+1, table)
		}
	}

	edges := g.AllEdges()
	if len(edges) > 0 {
		fmt.Fprintln(outputWriter)
		printSection("Detected Relationships")
		for _, e := range edges {
			fmt.Fprintf(outputWriter, "  • %s → %s\n", e.From, e.To)
		}
	}

	if violations := g.OrderViolations(); len(violations) > 0 {
		fmt.Fprintln(outputWriter)
		printSection("Order Warnings")
		for _, e := range violations {
			fmt.Fprintf(outputWriter, "  %s %s is listed before its parent %s\n", warnMark(), e.To, e.From)
		}
	}
	return nil
}
