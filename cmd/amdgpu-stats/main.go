package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "amdgpu-stats",
		Short: "Live telemetry for AMD GPUs",
		Long: `amdgpu-stats reads clocks, voltages, power, fan speed, temperatures and
utilization of AMD GPUs from the amdgpu driver's sysfs files.

Without a subcommand it opens an interactive stats screen for one card.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runTUI,
	}

	rootCmd.PersistentFlags().AddFlagSet(globalFlags())

	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(snapshotCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(versionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
