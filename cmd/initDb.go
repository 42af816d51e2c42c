/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
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

// initDbCmd represents the initDb command
var initDbCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create or migrate the case store schema",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, _ *importer.Service, _ *importer.Pool) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))
		logging.Info(ctx, "start init-db")

		if err := app.InitSchema(ctx); err != nil {
			logging.Error(ctx, "initialize schema failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "initialize schema")
		}

		version, err := app.RowSchemaVersion(ctx)
		if err != nil {
			return errs.Wrap(err, "read row schema version")
		}
		logging.Info(ctx, "init-db finished",
			slog.String("database_driver", app.Config.Database.Driver),
			slog.String("row_schema", version),
		)
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "schema ready: driver=%s row_schema=%s\n", app.Config.Database.Driver, version); err != nil {
			return errs.Wrap(err, "write init-db output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(initDbCmd)
}
