package main

import (
	"github.com/spf13/cobra"

	"nmhealth-go/internal/alert"
)

func newTokensCommand() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "tokens",
		Short: "List the configuration tokens the alert reads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			formatter, _, err := newFormatter(outputFormat)
			if err != nil {
				return err
			}
			return writeData(cmd.OutOrStdout(), formatter, alert.Tokens())
		},
	}
	cmd.Flags().StringVarP(&outputFormat, "output", "o", "", "Output format: table, json, yaml")
	return cmd
}
