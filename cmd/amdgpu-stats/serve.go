package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/amdgpu-stats/amdgpu-stats/pkg/alert"
	"github.com/amdgpu-stats/amdgpu-stats/pkg/exporter"
	"github.com/amdgpu-stats/amdgpu-stats/pkg/gpu"
	"github.com/amdgpu-stats/amdgpu-stats/pkg/retry"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll a card and export its metrics for Prometheus",
		Long: `Poll a card on every interval and serve the latest snapshot on
/metrics in the Prometheus text format. /healthz reports whether a snapshot
has been taken.

At startup serve waits for the amdgpu driver to bind, retrying discovery
with backoff.`,
		RunE: runServe,
	}
	cmd.Flags().String("listen", "", "Address for the metrics server (default :9101)")
	cmd.Flags().String("alerts", "", "Alert policy file (default built-in policy)")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := newSession(ctx, cmd.Flags(), consoleHandler)
	if err != nil {
		return err
	}
	defer s.Close()

	evaluator, err := s.evaluator()
	if err != nil {
		return err
	}

	dev, cat, err := s.acquire(ctx, retry.DiscoveryConfig())
	if err != nil {
		return err
	}

	p := s.newPoller(alertLogger(ctx, evaluator, s.logger))
	p.SetTarget(dev, cat)

	collector := exporter.NewCollector(p, exporter.WithEvaluator(evaluator))
	server := exporter.NewServer(s.cfg.Listen, collector, s.logger)
	server.Registry().MustRegister(buildInfo())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.Run(ctx) })
	g.Go(func() error { return server.ListenAndServe(ctx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.logger.Info("stopped")
	return nil
}

// alertLogger returns a snapshot callback that logs whenever the alert
// severity changes. It is called from the polling goroutine only.
func alertLogger(ctx context.Context, evaluator *alert.Evaluator, logger *slog.Logger) func(*gpu.Snapshot) {
	last := alert.SeverityOK
	return func(snap *gpu.Snapshot) {
		result := evaluator.Evaluate(ctx, snap)
		if result.Severity == last {
			return
		}
		last = result.Severity

		rules := make([]string, 0, len(result.Matches))
		for _, m := range result.Matches {
			rules = append(rules, m.Rule)
		}
		attrs := []any{
			slog.String("card", snap.Device().ID),
			slog.String("severity", string(result.Severity)),
			slog.Any("rules", rules),
			slog.String("snapshot", snap.ID().String()),
		}
		if result.Firing() {
			logger.Warn("alert firing", attrs...)
			return
		}
		logger.Info("alerts cleared", attrs...)
	}
}
