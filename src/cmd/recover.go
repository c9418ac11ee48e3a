package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Blackdeer1524/txkernel/src/app"
)

func newRecoverCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Roll back unfinished transactions and write a checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd.Context(), true, func(e *app.Entrypoint) error {
				db := e.DB()
				if err := db.Recover(); err != nil {
					return err
				}

				fmt.Fprintf(cmd.OutOrStdout(), "recovered %s, log durable up to LSN %d\n",
					e.Config.Dir, db.Stats().FlushedLSN)
				return nil
			})
		},
	}
}
