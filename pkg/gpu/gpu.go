// Package gpu reads AMD GPU telemetry from the Linux DRM/hwmon sysfs export.
//
// A Locator finds the card bound to the amdgpu driver and resolves its
// hardware-monitor directory. BuildCatalog maps metric names to the files that
// expose them. A Builder reads every cataloged file once per poll and
// assembles an immutable Snapshot in which each metric is either a value,
// absent, or an error.
package gpu

import (
	"errors"
	"fmt"
)

// Device identifies one GPU and the sysfs directories its telemetry lives in.
// A Device is a value: reselection produces a new one.
type Device struct {
	// ID is the DRM card name, e.g. "card0".
	ID string `json:"id"`

	// Driver is the kernel driver bound to the card.
	Driver string `json:"driver"`

	// Path is the DRM class entry, e.g. /sys/class/drm/card0.
	Path string `json:"path"`

	// DevicePath is the PCI device directory behind the card.
	DevicePath string `json:"device_path"`

	// HwmonPath is the hardware-monitor directory. Empty when the device
	// exposes none.
	HwmonPath string `json:"hwmon_path,omitempty"`

	PCISlot string `json:"pci_slot,omitempty"`
	Vendor  string `json:"vendor,omitempty"`
	Product string `json:"product,omitempty"`
}

// Monitored reports whether the device has a hardware-monitor directory.
func (d Device) Monitored() bool {
	return d.HwmonPath != ""
}

func (d Device) String() string {
	if d.PCISlot == "" {
		return d.ID
	}
	return fmt.Sprintf("%s (%s)", d.ID, d.PCISlot)
}

// NoDeviceFoundError is returned when no card bound to the target driver
// exists, or when an explicitly requested card is not among them.
type NoDeviceFoundError struct {
	Driver string
	ID     string
}

func (e *NoDeviceFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("no %s device matching %q", e.Driver, e.ID)
	}
	return fmt.Sprintf("no %s device found", e.Driver)
}

// MonitorUnavailableError is returned when a matching card exposes no
// hardware-monitor directory.
type MonitorUnavailableError struct {
	DeviceID string
	Path     string
}

func (e *MonitorUnavailableError) Error() string {
	return fmt.Sprintf("device %s has no hardware monitor under %s", e.DeviceID, e.Path)
}

// IsNoDevice reports whether err is, or wraps, a NoDeviceFoundError.
func IsNoDevice(err error) bool {
	var nd *NoDeviceFoundError
	return errors.As(err, &nd)
}

// Category groups metrics for display.
type Category string

const (
	CategoryTemperature Category = "temperature"
	CategoryClock       Category = "clock"
	CategoryVoltage     Category = "voltage"
	CategoryPower       Category = "power"
	CategoryFan         Category = "fan"
	CategoryUtilization Category = "utilization"
	CategoryMemory      Category = "memory"
)

// Unit is the unit a metric file reports its raw integer in.
type Unit string

const (
	UnitMillidegreeCelsius Unit = "millidegree_celsius"
	UnitHertz              Unit = "hertz"
	UnitMillivolt          Unit = "millivolt"
	UnitMicrowatt          Unit = "microwatt"
	UnitRPM                Unit = "rpm"
	UnitPercent            Unit = "percent"
	UnitByte               Unit = "byte"
)

// Scale is the divisor that converts a raw reading into the display unit.
func (u Unit) Scale() float64 {
	switch u {
	case UnitMillidegreeCelsius, UnitMillivolt:
		return 1e3
	case UnitMicrowatt:
		return 1e6
	default:
		return 1
	}
}

// Symbol is the display unit after scaling.
func (u Unit) Symbol() string {
	switch u {
	case UnitMillidegreeCelsius:
		return "°C"
	case UnitHertz:
		return "Hz"
	case UnitMillivolt:
		return "V"
	case UnitMicrowatt:
		return "W"
	case UnitRPM:
		return "RPM"
	case UnitPercent:
		return "%"
	case UnitByte:
		return "B"
	default:
		return ""
	}
}

// BaseName names the scaled unit, suitable for metric labels.
func (u Unit) BaseName() string {
	switch u {
	case UnitMillidegreeCelsius:
		return "celsius"
	case UnitHertz:
		return "hertz"
	case UnitMillivolt:
		return "volts"
	case UnitMicrowatt:
		return "watts"
	case UnitRPM:
		return "rpm"
	case UnitPercent:
		return "percent"
	case UnitByte:
		return "bytes"
	default:
		return string(u)
	}
}
