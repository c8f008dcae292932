package alert

// DefaultPolicy returns thresholds suited to recent Radeon cards. Junction
// temperature throttling starts around 110°C on RDNA parts.
func DefaultPolicy() *Policy {
	return &Policy{
		Rules: []Rule{
			{
				Name:      "junction-critical",
				Condition: `has(metrics.junction_temp) && metrics.junction_temp >= 105.0`,
				Severity:  SeverityCritical,
				Priority:  100,
			},
			{
				Name:      "edge-critical",
				Condition: `has(metrics.edge_temp) && metrics.edge_temp >= 100.0`,
				Severity:  SeverityCritical,
				Priority:  100,
			},
			{
				Name:      "edge-hot",
				Condition: `has(metrics.edge_temp) && metrics.edge_temp >= 90.0`,
				Severity:  SeverityWarning,
				Priority:  50,
			},
			{
				Name:      "memory-hot",
				Condition: `has(metrics.mem_temp) && metrics.mem_temp >= 100.0`,
				Severity:  SeverityWarning,
				Priority:  50,
			},
			{
				Name:      "power-over-limit",
				Condition: `has(metrics.power_average) && has(metrics.power_limit) && metrics.power_limit > 0.0 && metrics.power_average > metrics.power_limit`,
				Severity:  SeverityWarning,
				Priority:  40,
			},
			{
				Name:      "fan-stalled",
				Condition: `has(metrics.fan_rpm) && has(metrics.fan_target) && metrics.fan_target > 0.0 && metrics.fan_rpm == 0.0`,
				Severity:  SeverityWarning,
				Priority:  40,
			},
		},
	}
}
