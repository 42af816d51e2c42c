package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"caseimport/internal/bootstrap"
	"caseimport/internal/bootstrap/logging"
	"caseimport/internal/errs"
	"caseimport/internal/usecase/importer"
)

const waitPollInterval = 200 * time.Millisecond

var submitCmd = &cobra.Command{
	Use:   "submit <file>",
	Short: "Submit a CSV file for import",
	Long: "Submit a CSV file for import. Jobs run as dry run unless --live is set and\n" +
		"import.live_writes is enabled. With the memory queue the job is processed\n" +
		"in this process and the command waits for it.",
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, svc *importer.Service, pool *importer.Pool) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		sub := importer.Submission{FilePath: cmd.Flags().Arg(0)}
		sub.Filename, _ = cmd.Flags().GetString("filename")
		sub.Checksum, _ = cmd.Flags().GetString("checksum")
		sub.UserID, _ = cmd.Flags().GetString("user")
		sub.BatchID, _ = cmd.Flags().GetString("batch-id")
		if live, _ := cmd.Flags().GetBool("live"); live {
			dryRun := false
			sub.DryRun = &dryRun
		}

		inProcess := strings.EqualFold(app.Config.Queue.Driver, "memory")
		if inProcess {
			pool.Start(ctx)
			defer stopPool(ctx, pool, 10*time.Second)
		}

		res, err := svc.Submit(ctx, sub)
		if err != nil {
			return errs.Wrap(err, "submit import job")
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "batch %s accepted (dry_run=%t checksum=%s)\n", res.BatchID, res.DryRun, res.Checksum); err != nil {
			return errs.Wrap(err, "write submit output")
		}

		wait, _ := cmd.Flags().GetBool("wait")
		if !wait && !inProcess {
			return nil
		}
		view, err := waitForBatch(ctx, svc, res.BatchID)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprint(cmd.OutOrStdout(), renderBatch(view)); err != nil {
			return errs.Wrap(err, "write status output")
		}
		return nil
	}),
}

// waitForBatch polls until the batch is terminal or ctx ends.
func waitForBatch(ctx context.Context, svc *importer.Service, batchID string) (importer.BatchStatusView, error) {
	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		view, err := svc.Status(ctx, batchID)
		if err != nil {
			return importer.BatchStatusView{}, errs.Wrap(err, "query batch status")
		}
		if view.Status.IsTerminal() {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return view, errs.Wrap(ctx.Err(), "wait for batch")
		case <-ticker.C:
		}
	}
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().String("filename", "", "Display name, defaults to the file base name")
	submitCmd.Flags().String("checksum", "", "Content fingerprint, defaults to the file SHA-256")
	submitCmd.Flags().String("user", "", "Submitting user id, defaults to the system user")
	submitCmd.Flags().String("batch-id", "", "Batch id, generated when empty")
	submitCmd.Flags().Bool("live", false, "Write to the case store (requires import.live_writes)")
	submitCmd.Flags().Bool("wait", false, "Wait until the batch is finalized")
}
