package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newHealthCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the service is up and print its face model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceUsage = true

			model, err := root.client().Health(cmd.Context())
			if err != nil {
				return err
			}

			if model == "" {
				model = "unknown"
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "ok model=%s\n", model)
			return err
		},
	}
}
