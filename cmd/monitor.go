package cmd

import (
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"caseimport/internal/bootstrap"
	"caseimport/internal/bootstrap/logging"
	"caseimport/internal/errs"
	"caseimport/internal/usecase/importer"
	"caseimport/internal/usecase/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor <batch-id>...",
	Short: "Watch import batches and queue health in a terminal dashboard",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, _ *bootstrap.App, svc *importer.Service, _ *importer.Pool) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		refreshInterval, _ := cmd.Flags().GetDuration("refresh-interval")
		exitWhenDone, _ := cmd.Flags().GetBool("exit-when-done")

		model := monitor.NewModel(ctx, svc, monitor.Options{
			BatchIDs:        cmd.Flags().Args(),
			RefreshInterval: refreshInterval,
			ExitWhenDone:    exitWhenDone,
		})
		program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
		if _, err := program.Run(); err != nil {
			return errs.Wrap(err, "run monitor")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().Duration("refresh-interval", 2*time.Second, "Auto refresh interval")
	monitorCmd.Flags().Bool("exit-when-done", false, "Quit once every batch is terminal")
}
