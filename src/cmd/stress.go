package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Blackdeer1524/txkernel/src/app"
)

func newStressCommand() *cobra.Command {
	opts := app.StressOptions{}

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run concurrent transfer transactions and check the total balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withDatabase(cmd.Context(), false, func(e *app.Entrypoint) error {
				report, err := app.RunStress(cmd.Context(), e.DB(), opts)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Run finished, takes %s\n", report.Elapsed)
				fmt.Fprintf(out, "committed: %d\n", report.Committed)
				fmt.Fprintf(out, "lock timeouts: %d\n", report.LockTimeouts)
				fmt.Fprintf(out, "buffer exhaustions: %d\n", report.BufferExhaustions)
				fmt.Fprintf(out, "gave up: %d\n", report.GaveUp)
				fmt.Fprintf(out, "total balance: %d\n", report.Total)
				fmt.Fprintln(out, "***************** metrics *****************")
				return app.WriteMetrics(out, e.Registry())
			})
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.Accounts, "accounts", 1000, "number of accounts")
	flags.IntVar(&opts.Txns, "txns", 1000, "number of transfers")
	flags.IntVarP(&opts.Workers, "threads", "t", 8, "number of concurrent workers")
	flags.IntVar(&opts.Retries, "retries", 20, "retries of an aborted transfer")
	flags.Int64Var(&opts.Seed, "seed", time.Now().UnixNano(), "random seed")
	flags.DurationVarP(&opts.Interval, "interval", "i", 10*time.Second, "progress report interval")

	return cmd
}
