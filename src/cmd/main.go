package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Blackdeer1524/txkernel/src/app"
)

const closeTimeout = 15 * time.Second

var configPath string

// withDatabase opens the configured database, runs fn and closes it.
func withDatabase(ctx context.Context, skipRecovery bool, fn func(*app.Entrypoint) error) (err error) {
	e := &app.Entrypoint{ConfigPath: configPath, SkipRecovery: skipRecovery}
	defer func() {
		if closeErr := e.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if err := e.Init(ctx); err != nil {
		return err
	}
	return fn(e)
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sc
		fmt.Fprintf(os.Stderr, "\nGot signal [%v] to exit.\n", sig)
		cancel()

		select {
		case <-sc:
			os.Exit(1)
		case <-time.After(closeTimeout):
			fmt.Fprint(os.Stderr, "\nWaited too long for close, force exit\n")
			os.Exit(1)
		}
	}()

	rootCmd := &cobra.Command{
		Use:           "txkernel",
		Short:         "Transactional storage kernel tools",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")

	rootCmd.AddCommand(
		newRecoverCommand(),
		newDumpLogCommand(),
		newStressCommand(),
	)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
