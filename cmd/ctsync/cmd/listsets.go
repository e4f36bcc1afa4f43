package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/ctsync/internal/config"
)

var listSetsCmd = &cobra.Command{
	Use:   "list-sets",
	Short: "List all replication sets defined in configuration",
	Long: `List-sets displays all replication sets defined in the configuration file
along with their source, destinations and table scope. It does not connect to
any database.

Example:
  ctsync list-sets --config ctsync.yaml`,
	RunE: runListSets,
}

func init() {
	rootCmd.AddCommand(listSetsCmd)
}

func runListSets(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if len(cfg.ReplicationSets) == 0 {
		cmd.Printf("No replication sets defined in %s\n", configFile)
		return nil
	}

	cmd.Printf("Replication sets defined in %s:\n\n", configFile)

	for i, rs := range cfg.ReplicationSets {
		cmd.Printf("%d. %s\n", i+1, rs.Name)
		cmd.Printf("   Source:        %s (%s)\n", rs.Source.Name, rs.Source.DriverName())

		cmd.Printf("   Destinations:  %d\n", len(rs.Destinations))
		for _, dst := range rs.Destinations {
			cmd.Printf("      - %s (%s)\n", dst.Name, dst.DriverName())
		}

		if len(rs.Tables) == 0 {
			cmd.Printf("   Tables:        (all change tracked tables)\n")
		} else {
			cmd.Printf("   Tables:        %s\n", strings.Join(rs.Tables, ", "))
		}

		for _, tc := range rs.TableColumns {
			cols := "(all)"
			if len(tc.Columns) > 0 {
				cols = strings.Join(tc.Columns, ", ")
			}
			cmd.Printf("      └─ %s columns: %s keys: %s\n", tc.TableName, cols, strings.Join(tc.Keys, ", "))
		}

		if rs.ConfirmTable {
			cmd.Printf("   Confirm Table: yes\n")
		}

		if i < len(cfg.ReplicationSets)-1 {
			cmd.Println()
		}
	}

	if len(cfg.Init) > 0 {
		cmd.Printf("\nInit stages pending: %v (run 'ctsync bootstrap')\n", cfg.Init)
	}
	cmd.Printf("\nTotal: %d replication set(s)\n", len(cfg.ReplicationSets))
	return nil
}
