package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/ctsync/internal/config"
)

var dryrunSet string

var dryrunCmd = &cobra.Command{
	Use:   "dry-run",
	Short: "Show what a sync pass would apply without writing",
	Long: `Dry-run fetches pending changes exactly like sync and reports, per
destination, how many inserts, updates and deletes would be applied.
Nothing is written and no version marker moves.

Example:
  ctsync dry-run --config ctsync.yaml
  ctsync dry-run --config ctsync.yaml --set sales`,
	RunE: runDryrun,
}

func init() {
	dryrunCmd.Flags().StringVarP(&dryrunSet, "set", "s", "",
		"Only this replication set")

	rootCmd.AddCommand(dryrunCmd)
}

func runDryrun(cmd *cobra.Command, args []string) error {
	o := GetCLIOverrides()
	o.DryRun = true

	cfg, log, err := loadConfig(o)
	if err != nil {
		return err
	}
	defer log.Sync()

	if dryrunSet != "" {
		rs, err := selectSets(cfg, dryrunSet)
		if err != nil {
			return err
		}
		cfg.ReplicationSets = []config.ReplicationSet{*rs[0]}
	}
	cfg.Loop = false

	return executeSync(context.Background(), cfg, log, true)
}
