package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"caseimport/internal/bootstrap"
	"caseimport/internal/bootstrap/logging"
	"caseimport/internal/domain/importing"
	"caseimport/internal/errs"
	sqliterepo "caseimport/internal/infrastructure/persistence/sqlite/repository"
	"caseimport/internal/usecase/importer"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage submitting users",
}

var userAddCmd = &cobra.Command{
	Use:   "add <username>",
	Short: "Register a user that can be named with submit --user",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App, _ *importer.Service, _ *importer.Pool) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		displayName, _ := cmd.Flags().GetString("display-name")
		user, err := sqliterepo.NewUserRepository(app.DB).CreateUser(ctx, importing.User{
			Username:    cmd.Flags().Arg(0),
			DisplayName: displayName,
		})
		if err != nil {
			return errs.Wrap(err, "create user")
		}
		logging.Info(ctx, "user created", slog.String("user_id", user.ID), slog.String("username", user.Username))
		if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", user.ID, user.Username); err != nil {
			return errs.Wrap(err, "write user output")
		}
		return nil
	}),
}

func init() {
	rootCmd.AddCommand(userCmd)
	userCmd.AddCommand(userAddCmd)
	userAddCmd.Flags().String("display-name", "", "Display name")
}
