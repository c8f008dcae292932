// Package poller drives periodic snapshot collection for the active device.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/amdgpu-stats/amdgpu-stats/pkg/clock"
	"github.com/amdgpu-stats/amdgpu-stats/pkg/gpu"
	"github.com/amdgpu-stats/amdgpu-stats/pkg/retry"
)

// DefaultInterval is the refresh period of the original tool.
const DefaultInterval = time.Second

// Config configures a Poller.
type Config struct {
	// Interval between polls.
	Interval time.Duration

	// Mode selects how clock frequencies are formatted.
	Mode gpu.FormatMode

	// OnSnapshot, if set, receives every completed snapshot from the
	// polling goroutine.
	OnSnapshot func(*gpu.Snapshot)

	Clock  clock.Clock
	Logger *slog.Logger
}

// Stats counts poll outcomes.
type Stats struct {
	Polls   uint64
	Skipped uint64
}

// target is the device and catalog polled together. A new target replaces
// the old one whole.
type target struct {
	device  gpu.Device
	catalog *gpu.Catalog
}

// Poller runs at most one poll at a time.
type Poller struct {
	builder *gpu.Builder
	config  Config
	clock   clock.Clock
	logger  *slog.Logger

	target atomic.Pointer[target]
	latest atomic.Pointer[gpu.Snapshot]

	// polling is held for the duration of a poll.
	polling sync.Mutex
	// last is the previous status of each metric, guarded by polling.
	last map[string]gpu.Status

	polls   atomic.Uint64
	skipped atomic.Uint64
}

// New creates a Poller.
func New(builder *gpu.Builder, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Poller{
		builder: builder,
		config:  cfg,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		last:    make(map[string]gpu.Status),
	}
}

// SetTarget replaces the device and catalog being polled. A poll already in
// flight finishes against the previous pair.
func (p *Poller) SetTarget(dev gpu.Device, cat *gpu.Catalog) {
	p.target.Store(&target{device: dev, catalog: cat})
	p.logger.Info("polling device",
		slog.String("card", dev.ID),
		slog.String("hwmon", dev.HwmonPath),
		slog.Int("metrics", cat.Len()),
	)
	for _, d := range cat.Descriptors() {
		p.logger.Debug("metric source", slog.String("metric", d.Name), slog.String("path", d.Path))
	}
	for _, o := range cat.Omissions {
		p.logger.Warn("temperature sensor skipped",
			slog.String("card", dev.ID),
			slog.Int("index", o.Index),
			slog.String("reason", o.Reason),
		)
	}
}

// Target returns the current device and catalog.
func (p *Poller) Target() (gpu.Device, *gpu.Catalog, bool) {
	t := p.target.Load()
	if t == nil {
		return gpu.Device{}, nil, false
	}
	return t.device, t.catalog, true
}

// Latest returns the most recent snapshot, or nil before the first poll.
func (p *Poller) Latest() *gpu.Snapshot {
	return p.latest.Load()
}

// Stats returns poll counters.
func (p *Poller) Stats() Stats {
	return Stats{Polls: p.polls.Load(), Skipped: p.skipped.Load()}
}

// Mode returns the frequency format mode.
func (p *Poller) Mode() gpu.FormatMode {
	return p.config.Mode
}

// PollOnce takes one snapshot of the current target. It returns false without
// polling when there is no target or another poll is still running.
func (p *Poller) PollOnce(ctx context.Context) (*gpu.Snapshot, bool) {
	t := p.target.Load()
	if t == nil {
		return nil, false
	}
	if !p.polling.TryLock() {
		p.skipped.Add(1)
		p.logger.Debug("poll still running, skipping tick", slog.String("card", t.device.ID))
		return nil, false
	}
	defer p.polling.Unlock()

	snap := p.builder.Poll(ctx, t.device, t.catalog, p.config.Mode)
	p.polls.Add(1)
	p.logTransitions(snap)
	p.latest.Store(snap)

	if p.config.OnSnapshot != nil {
		p.config.OnSnapshot(snap)
	}
	return snap, true
}

// Run polls immediately and then on every tick until ctx is cancelled.
// Ticks that arrive while a poll is running are dropped.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.PollOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			p.PollOnce(ctx)
		}
	}
}

// logTransitions logs metrics whose status changed since the last poll.
// Caller holds p.polling.
func (p *Poller) logTransitions(snap *gpu.Snapshot) {
	current := make(map[string]gpu.Status, snap.Len())
	for _, e := range snap.Entries() {
		current[e.Name] = e.Status
		prev, seen := p.last[e.Name]
		if seen && prev == e.Status {
			continue
		}
		if !seen && e.Status == gpu.StatusOK {
			continue
		}
		switch e.Status {
		case gpu.StatusError:
			p.logger.Warn("metric read failed",
				slog.String("metric", e.Name),
				slog.String("snapshot", snap.ID().String()),
				slog.String("error", e.Error),
			)
		case gpu.StatusAbsent:
			p.logger.Debug("metric not exposed", slog.String("metric", e.Name))
		case gpu.StatusOK:
			p.logger.Info("metric recovered", slog.String("metric", e.Name))
		}
	}
	p.last = current
}

// Acquire selects a device and builds its catalog, retrying while no device
// is found. Any other discovery error is returned immediately.
func Acquire(ctx context.Context, loc *gpu.Locator, id string, cfg retry.Config) (gpu.Device, *gpu.Catalog, error) {
	if cfg.RetryableFunc == nil {
		cfg.RetryableFunc = gpu.IsNoDevice
	}
	dev, err := retry.DoWithValue(ctx, cfg, func(ctx context.Context) (gpu.Device, error) {
		return loc.SelectDevice(ctx, id)
	})
	if err != nil {
		return gpu.Device{}, nil, err
	}
	return dev, gpu.BuildCatalog(dev), nil
}

// Cycle switches to the next monitored device after the current one,
// wrapping around. It returns the newly selected device.
func (p *Poller) Cycle(ctx context.Context, loc *gpu.Locator) (gpu.Device, error) {
	devices, err := loc.DiscoverDevices(ctx)
	if err != nil {
		return gpu.Device{}, fmt.Errorf("discovering devices: %w", err)
	}

	var monitored []gpu.Device
	for _, d := range devices {
		if d.Monitored() {
			monitored = append(monitored, d)
		}
	}
	if len(monitored) == 0 {
		return gpu.Device{}, &gpu.MonitorUnavailableError{DeviceID: devices[0].ID, Path: devices[0].DevicePath}
	}

	next := monitored[0]
	if cur, _, ok := p.Target(); ok {
		for i, d := range monitored {
			if d.ID == cur.ID {
				next = monitored[(i+1)%len(monitored)]
				break
			}
		}
	}

	p.SetTarget(next, gpu.BuildCatalog(next))
	return next, nil
}

// ErrNoTarget is returned by Snapshot when no device has been set.
var ErrNoTarget = errors.New("no device selected")

// Snapshot polls once, waiting for any running poll to finish first.
func (p *Poller) Snapshot(ctx context.Context) (*gpu.Snapshot, error) {
	t := p.target.Load()
	if t == nil {
		return nil, ErrNoTarget
	}
	p.polling.Lock()
	defer p.polling.Unlock()

	snap := p.builder.Poll(ctx, t.device, t.catalog, p.config.Mode)
	p.polls.Add(1)
	p.logTransitions(snap)
	p.latest.Store(snap)
	return snap, nil
}
