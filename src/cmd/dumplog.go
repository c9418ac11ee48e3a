package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Blackdeer1524/txkernel/src/app"
)

func newDumpLogCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dump-log",
		Short: "Print the durable log, newest record first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd.Context(), true, func(e *app.Entrypoint) error {
				n, err := e.DB().DumpLog(cmd.OutOrStdout())
				if err != nil {
					return fmt.Errorf("log dump stopped after %d records: %w", n, err)
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%d records\n", n)
				return nil
			})
		},
	}
}
