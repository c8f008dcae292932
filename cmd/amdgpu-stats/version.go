package main

import (
	"fmt"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/amdgpu-stats/amdgpu-stats/pkg/gpu"
)

var (
	// Set via ldflags at build time
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("amdgpu-stats version %s\n", version)
			fmt.Printf("  commit:     %s\n", commit)
			fmt.Printf("  built:      %s\n", buildDate)
			fmt.Printf("  go version: %s\n", runtime.Version())
			fmt.Printf("  platform:   %s/%s\n", runtime.GOOS, runtime.GOARCH)
			if kernel := gpu.KernelRelease(); kernel != "" {
				fmt.Printf("  kernel:     %s\n", kernel)
			}
		},
	}
}

// buildInfo reports the running version as a constant 1 gauge.
func buildInfo() prometheus.Collector {
	labels := prometheus.Labels{
		"version":   version,
		"commit":    commit,
		"goversion": runtime.Version(),
	}
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name:        "amdgpu_stats_build_info",
		Help:        "Version of the running amdgpu-stats exporter.",
		ConstLabels: labels,
	}, func() float64 { return 1 })
}
