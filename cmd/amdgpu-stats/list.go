package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/amdgpu-stats/amdgpu-stats/pkg/gpu"
)

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List AMD GPUs and their monitor directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx, cmd.Flags(), consoleHandler)
			if err != nil {
				return err
			}
			defer s.Close()

			devices, err := s.locator.DiscoverDevices(ctx)
			if gpu.IsNoDevice(err) {
				return fmt.Errorf("could not find an AMD GPU: %w", err)
			}
			if err != nil {
				return err
			}

			output, _ := cmd.Flags().GetString("output")
			switch output {
			case "json":
				return outputJSON(os.Stdout, devices)
			case "table":
				return outputDevices(os.Stdout, devices)
			default:
				return fmt.Errorf("unsupported output format: %s", output)
			}
		},
	}
}

func outputJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputDevices(w io.Writer, devices []gpu.Device) error {
	table := tablewriter.NewWriter(w)
	table.Header([]string{"Card", "PCI Slot", "Vendor", "Product", "Hwmon", "Monitored"})

	for _, d := range devices {
		if err := table.Append([]string{
			d.ID,
			orDash(d.PCISlot),
			orDash(d.Vendor),
			orDash(d.Product),
			hwmonName(d),
			formatMonitored(d.Monitored()),
		}); err != nil {
			return err
		}
	}

	return table.Render()
}

func hwmonName(d gpu.Device) string {
	if d.HwmonPath == "" {
		return "-"
	}
	return filepath.Base(d.HwmonPath)
}

func formatMonitored(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
