package gpu

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

// Base says which directory a descriptor's RelativePath is relative to.
type Base int

const (
	// BaseHwmon is the hardware-monitor directory.
	BaseHwmon Base = iota
	// BaseDevice is the PCI device directory.
	BaseDevice
)

// MetricDescriptor binds a metric name to the file that exposes it.
type MetricDescriptor struct {
	Name         string   `json:"name"`
	Category     Category `json:"category"`
	Unit         Unit     `json:"unit"`
	Base         Base     `json:"-"`
	RelativePath string   `json:"file"`

	// Path is the resolved absolute path. Empty when the base directory is
	// missing.
	Path string `json:"path"`

	// Optional metrics report absent rather than error when the file is missing.
	Optional bool `json:"optional"`

	// Label is the sensor label for discovered temperatures.
	Label string `json:"label,omitempty"`
}

// Omission records a temperature sensor skipped during discovery.
type Omission struct {
	Index  int    `json:"index"`
	File   string `json:"file,omitempty"`
	Reason string `json:"reason"`
}

// fixedMetrics is the table of metrics every amdgpu card may expose.
// Scale factors follow the kernel hwmon ABI.
var fixedMetrics = []MetricDescriptor{
	{Name: "core_clock", Category: CategoryClock, Unit: UnitHertz, Base: BaseHwmon, RelativePath: "freq1_input"},
	{Name: "memory_clock", Category: CategoryClock, Unit: UnitHertz, Base: BaseHwmon, RelativePath: "freq2_input", Optional: true},
	{Name: "core_voltage", Category: CategoryVoltage, Unit: UnitMillivolt, Base: BaseHwmon, RelativePath: "in0_input"},
	{Name: "northbridge_voltage", Category: CategoryVoltage, Unit: UnitMillivolt, Base: BaseHwmon, RelativePath: "in1_input", Optional: true},
	{Name: "gpu_busy", Category: CategoryUtilization, Unit: UnitPercent, Base: BaseDevice, RelativePath: "gpu_busy_percent"},
	{Name: "memory_busy", Category: CategoryUtilization, Unit: UnitPercent, Base: BaseDevice, RelativePath: "mem_busy_percent", Optional: true},
	{Name: "power_average", Category: CategoryPower, Unit: UnitMicrowatt, Base: BaseHwmon, RelativePath: "power1_average", Optional: true},
	{Name: "power_input", Category: CategoryPower, Unit: UnitMicrowatt, Base: BaseHwmon, RelativePath: "power1_input", Optional: true},
	{Name: "power_limit", Category: CategoryPower, Unit: UnitMicrowatt, Base: BaseHwmon, RelativePath: "power1_cap"},
	{Name: "power_default", Category: CategoryPower, Unit: UnitMicrowatt, Base: BaseHwmon, RelativePath: "power1_cap_default", Optional: true},
	{Name: "power_cap", Category: CategoryPower, Unit: UnitMicrowatt, Base: BaseHwmon, RelativePath: "power1_cap_max", Optional: true},
	{Name: "fan_rpm", Category: CategoryFan, Unit: UnitRPM, Base: BaseHwmon, RelativePath: "fan1_input", Optional: true},
	{Name: "fan_target", Category: CategoryFan, Unit: UnitRPM, Base: BaseHwmon, RelativePath: "fan1_target", Optional: true},
	{Name: "vram_used", Category: CategoryMemory, Unit: UnitByte, Base: BaseDevice, RelativePath: "mem_info_vram_used", Optional: true},
	{Name: "vram_total", Category: CategoryMemory, Unit: UnitByte, Base: BaseDevice, RelativePath: "mem_info_vram_total", Optional: true},
}

// Catalog is the set of metrics polled for one device. It is built once per
// device selection and not modified afterwards.
type Catalog struct {
	Device       Device
	Temperatures []MetricDescriptor
	Fixed        []MetricDescriptor
	Omissions    []Omission
}

// BuildCatalog discovers the device's temperature sensors and resolves the
// fixed metric table against its directories. It never fails: problems are
// recorded as omissions or surface later as absent or error readings.
func BuildCatalog(dev Device) *Catalog {
	c := &Catalog{Device: dev}
	c.Temperatures, c.Omissions = discoverTemperatures(dev.HwmonPath)

	c.Fixed = make([]MetricDescriptor, len(fixedMetrics))
	for i, d := range fixedMetrics {
		d.Path = resolvePath(dev, d.Base, d.RelativePath)
		c.Fixed[i] = d
	}
	return c
}

// Descriptors returns temperatures followed by fixed metrics.
func (c *Catalog) Descriptors() []MetricDescriptor {
	out := make([]MetricDescriptor, 0, len(c.Temperatures)+len(c.Fixed))
	out = append(out, c.Temperatures...)
	return append(out, c.Fixed...)
}

// Len returns the number of metrics in the catalog.
func (c *Catalog) Len() int {
	return len(c.Temperatures) + len(c.Fixed)
}

// Lookup returns the descriptor with the given name.
func (c *Catalog) Lookup(name string) (MetricDescriptor, bool) {
	for _, d := range c.Temperatures {
		if d.Name == name {
			return d, true
		}
	}
	for _, d := range c.Fixed {
		if d.Name == name {
			return d, true
		}
	}
	return MetricDescriptor{}, false
}

// discoverTemperatures probes temp1_input, temp2_input, ... and stops at the
// first missing index.
func discoverTemperatures(hwmon string) ([]MetricDescriptor, []Omission) {
	if hwmon == "" {
		return nil, []Omission{{Reason: "device has no hardware monitor directory"}}
	}

	var temps []MetricDescriptor
	var omissions []Omission
	seen := make(map[string]bool)

	for i := 1; ; i++ {
		input := fmt.Sprintf("temp%d_input", i)
		if _, err := os.Stat(filepath.Join(hwmon, input)); err != nil {
			break
		}

		labelFile := fmt.Sprintf("temp%d_label", i)
		raw, err := os.ReadFile(filepath.Join(hwmon, labelFile))
		if err != nil {
			omissions = append(omissions, Omission{Index: i, File: input, Reason: "label unreadable"})
			continue
		}

		label := strings.TrimSpace(string(raw))
		slug := labelSlug(label)
		if slug == "" {
			omissions = append(omissions, Omission{Index: i, File: input, Reason: "empty label"})
			continue
		}

		name := slug + "_temp"
		if seen[name] {
			omissions = append(omissions, Omission{Index: i, File: input, Reason: fmt.Sprintf("duplicate label %q", label)})
			continue
		}
		seen[name] = true

		temps = append(temps, MetricDescriptor{
			Name:         name,
			Category:     CategoryTemperature,
			Unit:         UnitMillidegreeCelsius,
			Base:         BaseHwmon,
			RelativePath: input,
			Path:         filepath.Join(hwmon, input),
			Label:        label,
		})
	}

	return temps, omissions
}

func resolvePath(dev Device, base Base, rel string) string {
	dir := dev.HwmonPath
	if base == BaseDevice {
		dir = dev.DevicePath
	}
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, rel)
}

// labelSlug lower-cases a sensor label and joins its alphanumeric runs with
// underscores: "Tdie" -> "tdie", "GPU Junction" -> "gpu_junction".
func labelSlug(label string) string {
	fields := strings.FieldsFunc(strings.ToLower(label), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, "_")
}
