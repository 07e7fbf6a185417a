package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"flowsync/internal/app"
	"flowsync/internal/domain/reconcile"
	"flowsync/internal/snapshot"
)

type syncFlags struct {
	snapshotPath string
	force        bool
	dryRun       bool
}

func newSyncCommand(global *globalFlags, std streams) *cobra.Command {
	flags := &syncFlags{}

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push the local bank snapshot to the remote store",
		Long: `Sync reads the local JSON snapshot of banks and bank operations and
reconciles it with the remote store in a single atomic commit.

Banks missing remotely are created; banks already present are skipped
unless --force is given. Bank operations are created once and never
rewritten.`,
		Example: `  flowsync sync --snapshot datos/bancos.json
  flowsync sync --force
  flowsync sync --dry-run --store memory`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := setup(global, std)
			if err != nil {
				return err
			}

			path := cfg.Sync.SnapshotPath
			if cmd.Flags().Changed("snapshot") {
				path = flags.snapshotPath
			}
			opts := reconcile.Options{
				ForceOverwritePrimary: cfg.Sync.ForceOverwrite,
				DryRun:                cfg.Sync.DryRun,
			}
			if cmd.Flags().Changed("force") {
				opts.ForceOverwritePrimary = flags.force
			}
			if cmd.Flags().Changed("dry-run") {
				opts.DryRun = flags.dryRun
			}

			snap, err := snapshot.LoadFile(path)
			if err != nil {
				return err
			}
			log.Info("snapshot: loaded", "path", path, "banks", len(snap.Banks), "operations", len(snap.Operations))

			application, err := app.New(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer func() {
				if err := application.Close(); err != nil {
					log.Error("app: close failed", "err", err)
				}
			}()

			result, err := application.Reconciler().Reconcile(cmd.Context(), snap, opts)
			if err != nil {
				return err
			}

			return printSummary(std.out, result)
		},
	}

	cmd.Flags().StringVarP(&flags.snapshotPath, "snapshot", "s", "", "path to the snapshot JSON (default from SYNC_SNAPSHOT_PATH)")
	cmd.Flags().BoolVarP(&flags.force, "force", "f", false, "overwrite banks that already exist remotely")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "check and stage everything but do not commit")

	return cmd
}

func printSummary(out io.Writer, result *reconcile.Result) error {
	title := "Sync completed"
	if result.DryRun {
		title = "Dry run completed, nothing was written"
	}
	fmt.Fprintf(out, "%s (run %s)\n\n", title, result.RunID)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "COLLECTION\tCREATED\tUPDATED\tSKIPPED")
	fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", reconcile.KindBanks, result.Created, result.Updated, result.SkippedBanks)
	fmt.Fprintf(w, "%s\t%d\t%d\t%d\n", reconcile.KindOperations, result.OperationsCreated, 0, result.SkippedOperations)
	if err := w.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(out, "\n%d writes in %s\n", result.Staged, result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))
	return err
}
