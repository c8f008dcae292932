package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/amdgpu-stats/amdgpu-stats/pkg/alert"
	"github.com/amdgpu-stats/amdgpu-stats/pkg/gpu"
	"github.com/amdgpu-stats/amdgpu-stats/pkg/retry"
)

// section is one titled group of metrics in the printed snapshot.
type section struct {
	title      string
	categories []gpu.Category
}

var sections = []section{
	{"Clocks", []gpu.Category{gpu.CategoryClock, gpu.CategoryVoltage}},
	{"Power", []gpu.Category{gpu.CategoryPower}},
	{"Temperatures", []gpu.Category{gpu.CategoryTemperature}},
	{"Misc", []gpu.Category{gpu.CategoryUtilization, gpu.CategoryFan, gpu.CategoryMemory}},
}

func snapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot",
		Short: "Read every metric of one card once and print it",
		Long: `Read every metric of one card once and print it.

Metrics that are missing or unreadable are shown with a placeholder; the
command still succeeds.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := newSession(ctx, cmd.Flags(), consoleHandler)
			if err != nil {
				return err
			}
			defer s.Close()

			dev, cat, err := s.acquire(ctx, retry.Config{MaxAttempts: 1})
			if err != nil {
				return err
			}
			p := s.newPoller(nil)
			p.SetTarget(dev, cat)
			snap, err := p.Snapshot(ctx)
			if err != nil {
				return err
			}

			output, _ := cmd.Flags().GetString("output")
			switch output {
			case "json":
				return outputJSON(os.Stdout, snap)
			case "table":
				evaluator, err := s.evaluator()
				if err != nil {
					return err
				}
				return printSnapshot(snap, evaluator.Evaluate(ctx, snap))
			default:
				return fmt.Errorf("unsupported output format: %s", output)
			}
		},
	}
}

func printSnapshot(snap *gpu.Snapshot, result *alert.Result) error {
	dev := snap.Device()
	title := dev.ID
	if dev.Product != "" {
		title += "  " + dev.Product
	}
	pterm.DefaultHeader.WithBackgroundStyle(pterm.NewStyle(pterm.BgDarkGray)).
		WithTextStyle(pterm.NewStyle(pterm.FgLightRed, pterm.Bold)).
		Println(title)
	pterm.Info.Printfln("PCI slot %s, read in %s, units %s",
		orDash(dev.PCISlot), snap.Duration().Round(time.Microsecond), snap.Mode())

	for _, sec := range sections {
		data := sectionData(snap, sec)
		if len(data) == 1 {
			continue
		}
		pterm.DefaultSection.Println(sec.title)
		if err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render(); err != nil {
			return err
		}
	}

	for _, o := range snap.Omissions() {
		pterm.Warning.Printfln("temperature sensor %d skipped: %s", o.Index, o.Reason)
	}
	printAlerts(result)
	return nil
}

// sectionData returns the table rows of one section, header first.
func sectionData(snap *gpu.Snapshot, sec section) pterm.TableData {
	data := pterm.TableData{{"Metric", "Value", "Status"}}
	for _, cat := range sec.categories {
		for _, e := range snap.ByCategory(cat) {
			data = append(data, []string{e.Title(), e.Text(), statusText(e)})
		}
	}
	return data
}

func statusText(e gpu.Entry) string {
	switch e.Status {
	case gpu.StatusOK:
		return pterm.Green(string(e.Status))
	case gpu.StatusAbsent:
		return pterm.Gray(string(e.Status))
	default:
		if e.Error != "" {
			return pterm.Red(string(e.Status) + ": " + e.Error)
		}
		return pterm.Red(string(e.Status))
	}
}

func printAlerts(result *alert.Result) {
	if result == nil || !result.Firing() {
		pterm.Success.Println("No alerts")
		return
	}
	names := make([]string, 0, len(result.Matches))
	for _, m := range result.Matches {
		names = append(names, fmt.Sprintf("%s (%s)", m.Rule, m.Severity))
	}
	msg := "Alerts: " + strings.Join(names, ", ")
	if result.Severity == alert.SeverityCritical {
		pterm.Error.Println(msg)
		return
	}
	pterm.Warning.Println(msg)
}
