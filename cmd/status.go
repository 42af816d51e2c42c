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

var statusCmd = &cobra.Command{
	Use:   "status <batch-id>",
	Short: "Show the status of an import batch",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *importer.Service, _ *importer.Pool) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		view, err := svc.Status(ctx, cmd.Flags().Arg(0))
		if err != nil {
			return errs.Wrap(err, "query batch status")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), view)
		}
		if _, err := fmt.Fprint(cmd.OutOrStdout(), renderBatch(view)); err != nil {
			return errs.Wrap(err, "write status output")
		}
		return nil
	}),
}

var errorsCmd = &cobra.Command{
	Use:   "errors <batch-id>",
	Short: "List the row errors of an import batch",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *importer.Service, _ *importer.Pool) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		page, _ := cmd.Flags().GetInt("page")
		pageSize, _ := cmd.Flags().GetInt("page-size")
		out, err := svc.ListErrors(ctx, cmd.Flags().Arg(0), page, pageSize)
		if err != nil {
			return errs.Wrap(err, "list batch errors")
		}
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), out)
		}
		if err := writeErrorPage(cmd.OutOrStdout(), out); err != nil {
			return errs.Wrap(err, "write errors output")
		}
		return nil
	}),
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue depth, active jobs and broker health",
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *importer.Service, _ *importer.Pool) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		stats := svc.Stats(ctx)
		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			return writeJSON(cmd.OutOrStdout(), stats)
		}
		if _, err := fmt.Fprint(cmd.OutOrStdout(), renderStats(stats)); err != nil {
			return errs.Wrap(err, "write stats output")
		}
		return nil
	}),
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <batch-id>",
	Short: "Cancel a pending or running import batch",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *importer.Service, _ *importer.Pool) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		res, err := svc.Cancel(ctx, cmd.Flags().Arg(0))
		if err != nil {
			return errs.Wrap(err, "cancel batch")
		}
		msg := "batch %s cancelled (%s)\n"
		if res.Signalled {
			msg = "batch %s signalled to stop (%s)\n"
		}
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), msg, res.BatchID, res.Status); err != nil {
			return errs.Wrap(err, "write cancel output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(errorsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(cancelCmd)

	statusCmd.Flags().Bool("json", false, "Print JSON")
	statsCmd.Flags().Bool("json", false, "Print JSON")
	errorsCmd.Flags().Bool("json", false, "Print JSON")
	errorsCmd.Flags().Int("page", 1, "Page number")
	errorsCmd.Flags().Int("page-size", 50, "Errors per page")
}
