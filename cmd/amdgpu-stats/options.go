package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/amdgpu-stats/amdgpu-stats/pkg/alert"
	"github.com/amdgpu-stats/amdgpu-stats/pkg/config"
	"github.com/amdgpu-stats/amdgpu-stats/pkg/gpu"
	"github.com/amdgpu-stats/amdgpu-stats/pkg/poller"
	"github.com/amdgpu-stats/amdgpu-stats/pkg/retry"
)

// globalFlags returns the flags shared by every command. Flags left unset do
// not override the config file or the environment.
func globalFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("global", pflag.ContinueOnError)
	flags.String("config", "", "Path to a YAML config file")
	flags.String("card", "", "Card name (card0) or PCI slot (env: AMDGPU_STATS_CARD)")
	flags.Duration("interval", 0, "Refresh interval (default 1s)")
	flags.String("units", "", "Clock units: adaptive, hz, khz, mhz or ghz")
	flags.String("sysfs-root", "", "DRM class directory (default /sys/class/drm)")
	flags.String("log-level", "", "Log level: debug, info, warn or error")
	flags.Int("fake", 0, "Simulate this many cards instead of reading sysfs")
	flags.StringP("output", "o", "table", "Output format (table, json)")
	return flags
}

// stringFlags maps flag names to the config fields they override.
func stringFlags(cfg *config.Config) map[string]*string {
	return map[string]*string{
		"card":       &cfg.Card,
		"units":      &cfg.Units,
		"sysfs-root": &cfg.SysfsRoot,
		"log-level":  &cfg.LogLevel,
		"listen":     &cfg.Listen,
		"alerts":     &cfg.Alerts,
	}
}

// applyFlags overrides cfg with every flag the user set explicitly.
func applyFlags(cfg *config.Config, flags *pflag.FlagSet) error {
	for name, field := range stringFlags(cfg) {
		if !flags.Changed(name) {
			continue
		}
		value, err := flags.GetString(name)
		if err != nil {
			return fmt.Errorf("--%s: %w", name, err)
		}
		*field = strings.TrimSpace(value)
	}

	if flags.Changed("interval") {
		interval, err := flags.GetDuration("interval")
		if err != nil {
			return fmt.Errorf("--interval: %w", err)
		}
		cfg.Interval = interval
	}

	cfg.Units = strings.ToLower(cfg.Units)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	return nil
}

// loadConfig resolves the configuration: defaults, config file, environment,
// then flags.
func loadConfig(flags *pflag.FlagSet) (*config.Config, error) {
	path, _ := flags.GetString("config")
	cfg, err := config.Resolve(path)
	if err != nil {
		return nil, err
	}
	if err := applyFlags(cfg, flags); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid flags: %w", err)
	}
	return cfg, nil
}

// session holds what every command needs to read a card.
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	locator *gpu.Locator
	builder *gpu.Builder

	closers []func()
}

// newSession resolves configuration, starts the simulated tree when --fake is
// set, and builds the locator and snapshot builder. handler receives log
// records in addition to the optional log file.
func newSession(ctx context.Context, flags *pflag.FlagSet, handler func(slog.Leveler) slog.Handler) (*session, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg}
	logger, closeLog, err := newLogger(cfg, handler(cfg.SlogLevel()))
	if err != nil {
		return nil, err
	}
	s.logger = logger
	s.closers = append(s.closers, closeLog)

	if cards, _ := flags.GetInt("fake"); cards > 0 {
		root, stop, err := startFake(ctx, cards, cfg.Interval, logger)
		if err != nil {
			s.Close()
			return nil, err
		}
		cfg.SysfsRoot = root
		s.closers = append(s.closers, stop)
	}

	s.locator = gpu.NewLocator(
		gpu.WithRoot(cfg.SysfsRoot),
		gpu.WithDriver(cfg.Driver),
		gpu.WithLogger(logger),
	)
	s.builder = gpu.NewBuilder(
		gpu.NewReader(gpu.WithTimeout(cfg.ReadTimeout)),
		gpu.WithConcurrency(cfg.Concurrency),
		gpu.WithBuilderLogger(logger),
	)
	return s, nil
}

// Close releases the log file and the simulated tree, in reverse order.
func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// acquire selects the configured card.
func (s *session) acquire(ctx context.Context, rc retry.Config) (gpu.Device, *gpu.Catalog, error) {
	rc.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Warn("waiting for GPU",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)
	}
	dev, cat, err := poller.Acquire(ctx, s.locator, s.cfg.Card, rc)
	if gpu.IsNoDevice(err) {
		return gpu.Device{}, nil, fmt.Errorf("could not find an AMD GPU (driver %s under %s): %w",
			s.locator.Driver(), s.locator.Root(), err)
	}
	if err != nil {
		return gpu.Device{}, nil, err
	}
	return dev, cat, nil
}

// newPoller creates a poller using the session's settings.
func (s *session) newPoller(onSnapshot func(*gpu.Snapshot)) *poller.Poller {
	return poller.New(s.builder, poller.Config{
		Interval:   s.cfg.Interval,
		Mode:       s.cfg.FormatMode(),
		OnSnapshot: onSnapshot,
		Logger:     s.logger,
	})
}

// evaluator compiles the configured alert policy.
func (s *session) evaluator() (*alert.Evaluator, error) {
	policy := alert.DefaultPolicy()
	if s.cfg.Alerts != "" {
		var err error
		if policy, err = alert.LoadPolicy(s.cfg.Alerts); err != nil {
			return nil, err
		}
	}
	return alert.NewEvaluator(policy)
}

// startFake builds a simulated card tree in a temporary directory and varies
// its readings every interval until ctx is done.
func startFake(ctx context.Context, cards int, interval time.Duration, logger *slog.Logger) (string, func(), error) {
	dir, err := os.MkdirTemp("", "amdgpu-stats-fake-")
	if err != nil {
		return "", nil, fmt.Errorf("creating fake sysfs: %w", err)
	}
	tree, err := gpu.NewFakeTree(dir)
	if err != nil {
		os.RemoveAll(dir)
		return "", nil, err
	}
	for i := range cards {
		if err := tree.AddAMDCard(i, i); err != nil {
			os.RemoveAll(dir)
			return "", nil, fmt.Errorf("creating fake card%d: %w", i, err)
		}
	}
	logger.Info("using simulated cards", slog.Int("cards", cards), slog.String("root", tree.Root()))

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rng := rand.New(rand.NewSource(time.Now().UnixNano()))
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for i := range cards {
					if err := tree.Jitter(i, rng); err != nil {
						logger.Debug("jitter failed", slog.Int("card", i), slog.String("error", err.Error()))
					}
				}
			}
		}
	}()

	stop := func() {
		cancel()
		<-done
		os.RemoveAll(dir)
	}
	return tree.Root(), stop, nil
}
