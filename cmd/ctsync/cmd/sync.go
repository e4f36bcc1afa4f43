package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/dbsmedya/ctsync/internal/bootstrap"
	"github.com/dbsmedya/ctsync/internal/config"
	"github.com/dbsmedya/ctsync/internal/database"
	"github.com/dbsmedya/ctsync/internal/logger"
	"github.com/dbsmedya/ctsync/internal/metrics"
	"github.com/dbsmedya/ctsync/internal/syncer"
)

var (
	syncLoop     bool
	syncDryRun   bool
	syncInterval int
	syncTimeout  int
	syncWorkers  int
	syncForce    bool
	syncYes      bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Apply source changes to every destination",
	Long: `Sync runs one incremental pass over every replication set, or keeps
running passes when loop mode is enabled.

Each pass, per replication set:
  1. Reads the version marker of every destination
  2. Fetches the changes after the lowest marker once from the source
  3. Applies the batch to every destination, advancing its marker in the
     same transaction

A destination that fails does not affect the others; it is retried on the
next pass.

When the configuration lists init stages, sync runs those bootstrap stages
instead of a pass and asks for confirmation like the bootstrap command
(--yes skips the questions). Clear init before the first incremental sync.

Example:
  ctsync sync --config ctsync.yaml
  ctsync sync --config ctsync.yaml --loop --interval 15`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncLoop, "loop", false,
		"Keep running passes until interrupted")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false,
		"Report what would be applied without writing")
	syncCmd.Flags().IntVar(&syncInterval, "interval", 0,
		"Override seconds between loop passes")
	syncCmd.Flags().IntVar(&syncTimeout, "timeout", 0,
		"Override per-operation timeout in seconds")
	syncCmd.Flags().IntVar(&syncWorkers, "workers", 0,
		"Override concurrent destinations per replication set")
	syncCmd.Flags().BoolVar(&syncForce, "force", false,
		"Run even if another instance holds the replication set lock (use with caution)")
	syncCmd.Flags().BoolVarP(&syncYes, "yes", "y", false,
		"Do not ask for confirmation when init stages run")

	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	o := GetCLIOverrides()
	o.Loop = syncLoop
	o.DryRun = syncDryRun
	o.Interval = syncInterval
	o.Timeout = syncTimeout
	o.Workers = syncWorkers

	cfg, log, err := loadConfig(o)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := database.SetupSignalHandlerWithCallback(func(sig os.Signal) {
		log.Warnw("Received shutdown signal - finishing current pass...", "signal", sig.String())
	})

	if len(cfg.Init) > 0 {
		log.Infow("Configuration lists init stages; running bootstrap instead of sync", "stages", cfg.Init)
		var confirm bootstrap.ConfirmFunc
		if !syncYes {
			confirm = promptConfirm(cmd.InOrStdin(), cmd.OutOrStdout())
		}
		sets, _ := selectSets(cfg, "")
		return executeBootstrap(ctx, cfg, log, sets, confirm)
	}

	return executeSync(ctx, cfg, log, syncForce)
}

func executeSync(ctx context.Context, cfg *config.Config, log *logger.Logger, force bool) error {
	dbs := newManager()
	defer dbs.Close()

	opts := syncer.OptionsFromConfig(cfg)
	opts.Force = force
	if force && !cfg.DryRun {
		log.Warn("Skipping replication set locks (--force flag used)")
	}
	opts.Notifier = func(n syncer.Notification) {
		log.WithSet(n.ReplicationSet).Infow("Replication set advanced", "version", n.Version)
	}

	if cfg.Metrics.Enabled {
		reg := metrics.NewRegistry()
		opts.Metrics = reg
		go func() {
			if err := reg.Serve(ctx, cfg.Metrics.ListenAddress); err != nil {
				log.Errorw("Metrics endpoint stopped", "error", err)
			}
		}()
		log.Infow("Serving metrics", "address", cfg.Metrics.ListenAddress)
	}

	s, err := syncer.New(cfg, syncer.NewDatabaseEndpoints(dbs, cfg.SnapshotIsolation, log), opts, log)
	if err != nil {
		return fmt.Errorf("failed to create synchronizer: %w", err)
	}

	if cfg.Loop {
		return s.Loop(ctx)
	}

	result := s.SyncOnce(ctx)
	printPassResult(result)

	if outcome := result.Outcome(); outcome != syncer.Succeeded {
		return fmt.Errorf("sync pass %s: %w", outcome, result.Err())
	}
	return nil
}

// printPassResult prints one block per replication set with a row per
// destination.
func printPassResult(result *syncer.PassResult) {
	for _, set := range result.Sets {
		title := "Sync"
		if set.DryRun {
			title = "Dry Run"
		}
		fmt.Fprintln(outputWriter)
		printHeader("%s: %s", title, set.Set)
		fmt.Fprintf(outputWriter, "  Outcome:  %s\n", outcomeLabel(set.Outcome))
		fmt.Fprintf(outputWriter, "  Versions: %d -> %d (%d changes)\n", set.Floor, set.Version, set.Changes)
		fmt.Fprintf(outputWriter, "  Duration: %s\n", set.Duration)
		if set.Err != nil {
			fmt.Fprintf(outputWriter, "  %s %v\n", failMark(), set.Err)
		}
		if len(set.Destinations) == 0 {
			continue
		}

		fmt.Fprintln(outputWriter)
		var rows [][]string
		for _, d := range set.Destinations {
			rows = append(rows, destinationRow(d))
		}
		printTable([]string{"", "DESTINATION", "FROM", "TO", "INSERTS", "UPDATES", "DELETES", "MISSING", "NOTE"}, rows)
	}
}

func destinationRow(d syncer.DestinationResult) []string {
	switch {
	case d.Err != nil:
		return []string{failMark(), d.Name, "-", "-", "-", "-", "-", "-", d.Err.Error()}
	case d.Report == nil:
		return []string{warnMark(), d.Name, itoa(d.Stored), "-", "-", "-", "-", "-", "not applied"}
	}

	r := d.Report
	totals := r.Totals()
	note := ""
	switch {
	case r.Skipped:
		note = "up to date"
	case r.DryRun:
		note = "dry run"
	}
	return []string{
		okMark(), d.Name,
		itoa(r.FromVersion), itoa(r.ToVersion),
		strconv.Itoa(totals.Inserts), strconv.Itoa(totals.Updates), strconv.Itoa(totals.Deletes), strconv.Itoa(totals.Missing),
		note,
	}
}

func outcomeLabel(o syncer.Outcome) string {
	switch o {
	case syncer.Succeeded:
		return color.Green.Sprint(o.String())
	case syncer.PartiallyFailed:
		return color.Yellow.Sprint(o.String())
	default:
		return color.Red.Sprint(o.String())
	}
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
