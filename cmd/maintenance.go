package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"caseimport/internal/bootstrap"
	"caseimport/internal/bootstrap/logging"
	"caseimport/internal/errs"
	"caseimport/internal/usecase/importer"
)

var maintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Administrative corrections",
}

var repairBatchesCmd = &cobra.Command{
	Use:   "repair-batches",
	Short: "Rewrite batches stored as COMPLETED without successful rows to FAILED",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *importer.Service, _ *importer.Pool) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		ids, err := svc.RepairBatches(ctx)
		if err != nil {
			logging.Error(ctx, "repair batches failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "repair batches")
		}
		for _, id := range ids {
			if _, err := fmt.Fprintln(cmd.OutOrStdout(), id); err != nil {
				return errs.Wrap(err, "write repair output")
			}
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "repaired %d batches\n", len(ids)); err != nil {
			return errs.Wrap(err, "write repair output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(maintenanceCmd)
	maintenanceCmd.AddCommand(repairBatchesCmd)
}
