package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dbsmedya/ctsync/internal/bootstrap"
	"github.com/dbsmedya/ctsync/internal/config"
	"github.com/dbsmedya/ctsync/internal/database"
	"github.com/dbsmedya/ctsync/internal/logger"
)

var (
	bootstrapStages string
	bootstrapSet    string
	bootstrapYes    bool
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Prepare source and destinations for incremental sync",
	Long: `Bootstrap runs the initialization stages listed in the configuration's
init key, or the ones given with --stages, in this order:

  1 enable-tracking   enable change tracking on the source database and tables
  2 ensure-schema     create missing destination tables from the source schema
  3 record-baseline   store the source's current version on every destination
  4 seed-data         bulk copy every table into every destination

Stages 1 and 4 ask for confirmation unless --yes is given; a declined stage
is skipped. Run stage 3 before stage 4 so that changes made during seeding
are replayed by the first sync.

Example:
  ctsync bootstrap --config ctsync.yaml
  ctsync bootstrap --config ctsync.yaml --stages 2,3 --set sales`,
	RunE: runBootstrap,
}

func init() {
	bootstrapCmd.Flags().StringVar(&bootstrapStages, "stages", "",
		"Comma separated stage numbers or names (default: init from config)")
	bootstrapCmd.Flags().StringVarP(&bootstrapSet, "set", "s", "",
		"Only this replication set")
	bootstrapCmd.Flags().BoolVarP(&bootstrapYes, "yes", "y", false,
		"Do not ask for confirmation")

	rootCmd.AddCommand(bootstrapCmd)
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(GetCLIOverrides())
	if err != nil {
		return err
	}
	defer log.Sync()

	if bootstrapStages != "" {
		codes, err := bootstrap.ParseStageList(bootstrapStages)
		if err != nil {
			return err
		}
		cfg.Init = codes
	}
	if len(cfg.Init) == 0 {
		return fmt.Errorf("no bootstrap stages requested: set init in %s or pass --stages", GetConfigFile())
	}

	var confirm bootstrap.ConfirmFunc
	if !bootstrapYes {
		confirm = promptConfirm(cmd.InOrStdin(), cmd.OutOrStdout())
	}

	sets, err := selectSets(cfg, bootstrapSet)
	if err != nil {
		return err
	}

	return executeBootstrap(database.SetupSignalHandler(), cfg, log, sets, confirm)
}

// executeBootstrap runs the stages listed in cfg.Init for every set in sets
// and prints a report per set.
func executeBootstrap(ctx context.Context, cfg *config.Config, log *logger.Logger, sets []*config.ReplicationSet, confirm bootstrap.ConfirmFunc) error {
	opts, err := bootstrap.OptionsFromConfig(cfg, confirm)
	if err != nil {
		return err
	}

	dbs := newManager()
	defer dbs.Close()

	coord, err := bootstrap.NewCoordinator(dbs, log)
	if err != nil {
		return err
	}

	var failed []string
	for _, rs := range sets {
		report, err := coord.Run(ctx, rs, opts)
		printBootstrapReport(rs, report, err)
		if err != nil {
			failed = append(failed, rs.Name)
		}
	}

	if len(failed) > 0 {
		return fmt.Errorf("bootstrap failed for replication set(s): %s", strings.Join(failed, ", "))
	}
	fmt.Fprintf(outputWriter, "\n%s Bootstrap complete. Remove init from %s before running sync.\n", okMark(), GetConfigFile())
	return nil
}

func printBootstrapReport(rs *config.ReplicationSet, report *bootstrap.Report, err error) {
	fmt.Fprintln(outputWriter)
	printHeader("Bootstrap: %s", rs.Name)
	if report == nil {
		fmt.Fprintf(outputWriter, "  %s %v\n", failMark(), err)
		return
	}

	for _, s := range report.Completed {
		fmt.Fprintf(outputWriter, "  %s stage %d %s\n", okMark(), int(s), s)
	}
	for _, s := range report.Declined {
		fmt.Fprintf(outputWriter, "  %s stage %d %s (declined)\n", warnMark(), int(s), s)
	}
	if err != nil {
		fmt.Fprintf(outputWriter, "  %s %v\n", failMark(), err)
	}

	if len(report.Created) > 0 {
		fmt.Fprintln(outputWriter)
		printSection("Created Tables")
		for _, t := range report.Created {
			fmt.Fprintf(outputWriter, "  %s\n", t)
		}
	}
	if report.Baseline > 0 {
		fmt.Fprintf(outputWriter, "\n  Baseline version: %d\n", report.Baseline)
	}
	if report.Seeded != nil && report.Seeded.Len() > 0 {
		fmt.Fprintln(outputWriter)
		printSection("Seeded Rows")
		var rows [][]string
		for el := report.Seeded.Front(); el != nil; el = el.Next() {
			rows = append(rows, []string{el.Key, itoa(el.Value)})
		}
		printTable([]string{"DESTINATION/TABLE", "ROWS"}, rows)
	}
}

// promptConfirm asks on out and reads a y/N answer from in. End of input
// declines.
func promptConfirm(in io.Reader, out io.Writer) bootstrap.ConfirmFunc {
	reader := bufio.NewReader(in)
	return func(prompt string) bool {
		fmt.Fprintf(out, "%s [y/N]: ", prompt)
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(out)
			return false
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true
		default:
			return false
		}
	}
}
