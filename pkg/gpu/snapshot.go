package gpu

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/amdgpu-stats/amdgpu-stats/pkg/clock"
)

// Placeholders shown for metrics without a value.
const (
	PlaceholderAbsent = "--"
	PlaceholderError  = "err"
)

// Entry is one metric's state within a Snapshot.
type Entry struct {
	Name     string   `json:"name"`
	Category Category `json:"category"`
	Unit     Unit     `json:"unit"`
	Label    string   `json:"label,omitempty"`
	Status   Status   `json:"status"`

	// Raw is the integer read from the file.
	Raw int64 `json:"raw"`

	// Value is Raw converted to the display unit (°C, V, W, Hz, RPM, %, bytes).
	Value float64 `json:"value"`

	// Display is the formatted value. Empty unless Status is ok.
	Display string `json:"display,omitempty"`

	Error string `json:"error,omitempty"`
}

// OK reports whether the entry holds a value.
func (e Entry) OK() bool {
	return e.Status == StatusOK
}

// Text returns the formatted value or a placeholder.
func (e Entry) Text() string {
	switch e.Status {
	case StatusOK:
		return e.Display
	case StatusAbsent:
		return PlaceholderAbsent
	default:
		return PlaceholderError
	}
}

var titles = map[string]string{
	"core_clock":          "GPU clock",
	"memory_clock":        "Memory clock",
	"core_voltage":        "GPU voltage",
	"northbridge_voltage": "NB voltage",
	"gpu_busy":            "GPU busy",
	"memory_busy":         "Memory busy",
	"power_average":       "Power",
	"power_input":         "Power input",
	"power_limit":         "Power limit",
	"power_default":       "Default limit",
	"power_cap":           "Max limit",
	"fan_rpm":             "Fan",
	"fan_target":          "Fan target",
	"vram_used":           "VRAM used",
	"vram_total":          "VRAM total",
}

// Title returns a human-readable name for the entry.
func (e Entry) Title() string {
	if e.Category == CategoryTemperature && e.Label != "" {
		return e.Label + " temp"
	}
	if t, ok := titles[e.Name]; ok {
		return t
	}
	return e.Name
}

// Snapshot is the complete, timestamped result of one poll. Every metric in
// the catalog it was built from has exactly one entry. A Snapshot is not
// modified after construction; accessors return copies.
type Snapshot struct {
	id        uuid.UUID
	device    Device
	timestamp time.Time
	duration  time.Duration
	mode      FormatMode
	entries   []Entry
	index     map[string]int
	omissions []Omission
}

// NewSnapshot assembles a snapshot from entries in catalog order.
func NewSnapshot(dev Device, ts time.Time, mode FormatMode, entries []Entry, omissions []Omission) *Snapshot {
	s := &Snapshot{
		id:        uuid.New(),
		device:    dev,
		timestamp: ts,
		mode:      mode,
		entries:   append([]Entry(nil), entries...),
		index:     make(map[string]int, len(entries)),
		omissions: append([]Omission(nil), omissions...),
	}
	for i, e := range s.entries {
		s.index[e.Name] = i
	}
	return s
}

func (s *Snapshot) ID() uuid.UUID { return s.id }
func (s *Snapshot) Device() Device { return s.device }
func (s *Snapshot) Timestamp() time.Time { return s.timestamp }
func (s *Snapshot) Duration() time.Duration { return s.duration }
func (s *Snapshot) Mode() FormatMode { return s.mode }
func (s *Snapshot) Len() int { return len(s.entries) }
func (s *Snapshot) Omissions() []Omission { return append([]Omission(nil), s.omissions...) }
func (s *Snapshot) Entries() []Entry { return append([]Entry(nil), s.entries...) }

// Get returns the entry for a metric name.
func (s *Snapshot) Get(name string) (Entry, bool) {
	i, ok := s.index[name]
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

// Text returns the display text for a metric, or the absent placeholder when
// the metric is not in the snapshot.
func (s *Snapshot) Text(name string) string {
	e, ok := s.Get(name)
	if !ok {
		return PlaceholderAbsent
	}
	return e.Text()
}

// ByCategory returns the entries of one category in catalog order.
func (s *Snapshot) ByCategory(cat Category) []Entry {
	var out []Entry
	for _, e := range s.entries {
		if e.Category == cat {
			out = append(out, e)
		}
	}
	return out
}

// Values maps each metric holding a value to its scaled value.
func (s *Snapshot) Values() map[string]float64 {
	out := make(map[string]float64, len(s.entries))
	for _, e := range s.entries {
		if e.OK() {
			out[e.Name] = e.Value
		}
	}
	return out
}

// Counts returns how many entries are ok, absent and errored.
func (s *Snapshot) Counts() (ok, absent, errored int) {
	for _, e := range s.entries {
		switch e.Status {
		case StatusOK:
			ok++
		case StatusAbsent:
			absent++
		default:
			errored++
		}
	}
	return ok, absent, errored
}

func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID        string     `json:"id"`
		Device    Device     `json:"device"`
		Timestamp time.Time  `json:"timestamp"`
		Duration  string     `json:"duration"`
		Units     string     `json:"units"`
		Metrics   []Entry    `json:"metrics"`
		Omissions []Omission `json:"omissions,omitempty"`
	}{
		ID:        s.id.String(),
		Device:    s.device,
		Timestamp: s.timestamp,
		Duration:  s.duration.String(),
		Units:     s.mode.String(),
		Metrics:   s.entries,
		Omissions: s.omissions,
	})
}

// DefaultConcurrency is the number of files read in parallel during a poll.
const DefaultConcurrency = 4

// Builder performs polls.
type Builder struct {
	reader      *Reader
	concurrency int
	clock       clock.Clock
	logger      *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithConcurrency bounds how many files are read at once.
func WithConcurrency(n int) BuilderOption {
	return func(b *Builder) { b.concurrency = n }
}

// WithBuilderClock sets the clock used to timestamp snapshots.
func WithBuilderClock(c clock.Clock) BuilderOption {
	return func(b *Builder) { b.clock = c }
}

// WithBuilderLogger sets the logger.
func WithBuilderLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) { b.logger = logger }
}

// NewBuilder creates a Builder that reads through r.
func NewBuilder(r *Reader, opts ...BuilderOption) *Builder {
	b := &Builder{
		reader:      r,
		concurrency: DefaultConcurrency,
		clock:       clock.Real(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.concurrency < 1 {
		b.concurrency = 1
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Poll reads every metric in the catalog once and returns the snapshot.
// Each read is bounded by the reader's timeout, so one slow file cannot hold
// back the rest for longer than that.
func (b *Builder) Poll(ctx context.Context, dev Device, cat *Catalog, mode FormatMode) *Snapshot {
	start := b.clock.Now()
	descs := cat.Descriptors()
	entries := make([]Entry, len(descs))

	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i, d := range descs {
		g.Go(func() error {
			entries[i] = b.entry(ctx, d, mode)
			return nil
		})
	}
	_ = g.Wait()

	snap := NewSnapshot(dev, start, mode, entries, cat.Omissions)
	snap.duration = b.clock.Since(start)

	b.logger.Debug("poll complete",
		slog.String("card", dev.ID),
		slog.String("snapshot", snap.id.String()),
		slog.Int("metrics", len(entries)),
		slog.Duration("duration", snap.duration),
	)
	return snap
}

func (b *Builder) entry(ctx context.Context, d MetricDescriptor, mode FormatMode) (e Entry) {
	e = Entry{
		Name:     d.Name,
		Category: d.Category,
		Unit:     d.Unit,
		Label:    d.Label,
	}

	defer func() {
		if r := recover(); r != nil {
			e.Status = StatusError
			e.Display = ""
			e.Error = fmt.Sprintf("panic reading %s: %v", d.Name, r)
		}
	}()

	reading := b.reader.ReadMetric(ctx, d)
	e.Status = reading.Status
	switch reading.Status {
	case StatusOK:
		e.Raw = reading.Raw
		e.Value = float64(reading.Raw) / d.Unit.Scale()
		if d.Unit == UnitHertz {
			e.Display = FormatFrequency(reading.Raw, mode)
		} else {
			e.Display = FormatValue(reading.Raw, d.Unit)
		}
	case StatusError:
		if reading.Err != nil {
			e.Error = reading.Err.Error()
		}
	}
	return e
}
