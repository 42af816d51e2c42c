package cmd

import (
	"github.com/spf13/cobra"

	"caseimport/internal/errs"
	"caseimport/internal/usecase/importer"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the submission descriptor",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := writeJSON(cmd.OutOrStdout(), importer.SubmissionSchema()); err != nil {
			return errs.Wrap(err, "write schema")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
