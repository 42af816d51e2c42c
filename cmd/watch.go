package cmd

import (
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"caseimport/internal/bootstrap"
	"caseimport/internal/bootstrap/logging"
	"caseimport/internal/errs"
	"caseimport/internal/interfaces/dropfolder"
	"caseimport/internal/usecase/importer"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Submit CSV files dropped into a directory",
	Long: "Watch a directory and submit every new .csv file. The directory must be\n" +
		"inside import.base_dir. With the memory queue the jobs are processed here.",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, svc *importer.Service, pool *importer.Pool) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = app.Config.Watch.Dir
		}
		live, _ := cmd.Flags().GetBool("live")

		w, err := dropfolder.New(dropfolder.Config{Dir: dir, Debounce: app.Config.Watch.Debounce, Live: live}, svc)
		if err != nil {
			return errs.Wrap(err, "create drop folder watcher")
		}
		if strings.EqualFold(app.Config.Queue.Driver, "memory") {
			pool.Start(ctx)
			defer stopPool(ctx, pool, 30*time.Second)
		}
		return w.Run(ctx)
	}),
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("dir", "", "Directory to watch, defaults to watch.dir")
	watchCmd.Flags().Bool("live", false, "Submit with dryRun=false (requires import.live_writes)")
}
