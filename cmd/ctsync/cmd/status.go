package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/ctsync/internal/syncer"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the replication position of every destination",
	Long: `Status reads the source's current change tracking version and the
version marker of every destination, and prints the lag between them.
It also reports whether another instance is syncing the set. It never
writes and never holds a replication set lock.

Example:
  ctsync status --config ctsync.yaml`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(GetCLIOverrides())
	if err != nil {
		return err
	}
	defer log.Sync()

	dbs := newManager()
	defer dbs.Close()

	s, err := syncer.New(cfg, syncer.NewDatabaseEndpoints(dbs, cfg.SnapshotIsolation, log), syncer.OptionsFromConfig(cfg), log)
	if err != nil {
		return err
	}

	statuses := s.Status(context.Background())
	printStatus(statuses)

	for _, st := range statuses {
		if st.SourceErr != nil {
			return fmt.Errorf("replication set %s: %w", st.Set, st.SourceErr)
		}
		for _, d := range st.Destinations {
			if d.Err != nil {
				return fmt.Errorf("replication set %s destination %s: %w", st.Set, d.Name, d.Err)
			}
		}
	}
	return nil
}

func printStatus(statuses []syncer.SetStatus) {
	for _, st := range statuses {
		fmt.Fprintln(outputWriter)
		printHeader("Status: %s", st.Set)
		if st.SourceErr != nil {
			fmt.Fprintf(outputWriter, "  Source version: %s %v\n", failMark(), st.SourceErr)
		} else {
			fmt.Fprintf(outputWriter, "  Source version: %d\n", st.SourceVersion)
		}
		switch {
		case st.RunningErr != nil:
			fmt.Fprintf(outputWriter, "  Sync running:   %s %v\n", warnMark(), st.RunningErr)
		case st.Running:
			fmt.Fprintln(outputWriter, "  Sync running:   yes")
		case st.SourceErr == nil:
			fmt.Fprintln(outputWriter, "  Sync running:   no")
		}
		fmt.Fprintln(outputWriter)

		var rows [][]string
		for _, d := range st.Destinations {
			switch {
			case d.Err != nil:
				rows = append(rows, []string{failMark(), d.Name, "-", "-", d.Err.Error()})
			case d.Lag < 0:
				rows = append(rows, []string{warnMark(), d.Name, itoa(d.Stored), "?", ""})
			case d.Lag == 0:
				rows = append(rows, []string{okMark(), d.Name, itoa(d.Stored), "0", "up to date"})
			default:
				rows = append(rows, []string{okMark(), d.Name, itoa(d.Stored), itoa(d.Lag), ""})
			}
		}
		printTable([]string{"", "DESTINATION", "VERSION", "LAG", "NOTE"}, rows)
	}
}
