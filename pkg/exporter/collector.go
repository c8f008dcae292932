// Package exporter publishes telemetry snapshots as Prometheus metrics.
package exporter

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/amdgpu-stats/amdgpu-stats/pkg/alert"
	"github.com/amdgpu-stats/amdgpu-stats/pkg/gpu"
	"github.com/amdgpu-stats/amdgpu-stats/pkg/poller"
)

// Source provides the latest snapshot and poll counters.
type Source interface {
	Latest() *gpu.Snapshot
	Stats() poller.Stats
}

// Collector is a prometheus.Collector over a Source. Values are taken from
// the latest snapshot at scrape time; scrapes never trigger a poll.
type Collector struct {
	source    Source
	evaluator *alert.Evaluator

	// mu serializes concurrent scrapes, which share the vectors below.
	mu sync.Mutex

	metricValue       *prometheus.GaugeVec
	metricStatus      *prometheus.GaugeVec
	snapshotTimestamp *prometheus.GaugeVec
	alertSeverity     *prometheus.GaugeVec

	pollsTotal   *prometheus.Desc
	skippedTotal *prometheus.Desc
}

// Option configures a Collector.
type Option func(*Collector)

// WithEvaluator exports alert rule matches for each scrape.
func WithEvaluator(e *alert.Evaluator) Option {
	return func(c *Collector) { c.evaluator = e }
}

// NewCollector creates a Collector.
func NewCollector(source Source, opts ...Option) *Collector {
	c := &Collector{
		source: source,
		metricValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "amdgpu_stats_metric_value",
				Help: "Latest metric value in base units (celsius, volts, watts, hertz, rpm, percent, bytes)",
			},
			[]string{"card", "metric", "category", "unit"},
		),
		metricStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "amdgpu_stats_metric_status",
				Help: "Read status of each metric (1 for the current status)",
			},
			[]string{"card", "metric", "status"},
		),
		snapshotTimestamp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "amdgpu_stats_snapshot_timestamp_seconds",
				Help: "Unix time of the latest snapshot",
			},
			[]string{"card"},
		),
		alertSeverity: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "amdgpu_stats_alert_severity",
				Help: "Matching alert rules (1=warning, 2=critical)",
			},
			[]string{"card", "rule", "severity"},
		),
		pollsTotal: prometheus.NewDesc(
			"amdgpu_stats_polls_total",
			"Total number of completed polls",
			nil, nil,
		),
		skippedTotal: prometheus.NewDesc(
			"amdgpu_stats_polls_skipped_total",
			"Total number of ticks skipped because a poll was still running",
			nil, nil,
		),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.metricValue.Describe(ch)
	c.metricStatus.Describe(ch)
	c.snapshotTimestamp.Describe(ch)
	c.alertSeverity.Describe(ch)
	ch <- c.pollsTotal
	ch <- c.skippedTotal
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.source.Latest()
	c.collectSnapshot(snap)
	c.collectAlerts(snap)

	c.metricValue.Collect(ch)
	c.metricStatus.Collect(ch)
	c.snapshotTimestamp.Collect(ch)
	c.alertSeverity.Collect(ch)

	stats := c.source.Stats()
	ch <- prometheus.MustNewConstMetric(c.pollsTotal, prometheus.CounterValue, float64(stats.Polls))
	ch <- prometheus.MustNewConstMetric(c.skippedTotal, prometheus.CounterValue, float64(stats.Skipped))
}

func (c *Collector) collectSnapshot(snap *gpu.Snapshot) {
	c.metricValue.Reset()
	c.metricStatus.Reset()
	c.snapshotTimestamp.Reset()
	if snap == nil {
		return
	}

	card := snap.Device().ID
	c.snapshotTimestamp.WithLabelValues(card).Set(float64(snap.Timestamp().UnixMilli()) / 1e3)
	for _, e := range snap.Entries() {
		c.metricStatus.WithLabelValues(card, e.Name, string(e.Status)).Set(1)
		if e.OK() {
			c.metricValue.WithLabelValues(card, e.Name, string(e.Category), e.Unit.BaseName()).Set(e.Value)
		}
	}
}

func (c *Collector) collectAlerts(snap *gpu.Snapshot) {
	c.alertSeverity.Reset()
	if c.evaluator == nil || snap == nil {
		return
	}

	card := snap.Device().ID
	result := c.evaluator.Evaluate(context.Background(), snap)
	for _, m := range result.Matches {
		c.alertSeverity.WithLabelValues(card, m.Rule, string(m.Severity)).Set(severityValue(m.Severity))
	}
}

func severityValue(s alert.Severity) float64 {
	switch s {
	case alert.SeverityCritical:
		return 2
	case alert.SeverityWarning:
		return 1
	default:
		return 0
	}
}
