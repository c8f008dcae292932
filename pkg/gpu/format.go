package gpu

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
)

// FrequencyUnit is a display unit for clock frequencies.
type FrequencyUnit int

const (
	Hz FrequencyUnit = iota
	KHz
	MHz
	GHz
)

func (u FrequencyUnit) String() string {
	switch u {
	case KHz:
		return "kHz"
	case MHz:
		return "MHz"
	case GHz:
		return "GHz"
	default:
		return "Hz"
	}
}

func (u FrequencyUnit) factor() int64 {
	switch u {
	case KHz:
		return 1_000
	case MHz:
		return 1_000_000
	case GHz:
		return 1_000_000_000
	default:
		return 1
	}
}

// fixedDecimals is the precision used when a unit is forced.
func (u FrequencyUnit) fixedDecimals() int {
	if u == GHz {
		return 2
	}
	return 0
}

// significantDigits is the precision of adaptive frequency output.
const significantDigits = 3

// FormatMode selects how clock frequencies are rendered.
// The zero value is adaptive.
type FormatMode struct {
	fixed bool
	unit  FrequencyUnit
}

// Adaptive picks the largest unit the value reaches.
func Adaptive() FormatMode {
	return FormatMode{}
}

// Fixed always renders in the given unit.
func Fixed(unit FrequencyUnit) FormatMode {
	return FormatMode{fixed: true, unit: unit}
}

// IsAdaptive reports whether the unit is chosen per value.
func (m FormatMode) IsAdaptive() bool {
	return !m.fixed
}

func (m FormatMode) String() string {
	if !m.fixed {
		return "adaptive"
	}
	return strings.ToLower(m.unit.String())
}

// ParseFormatMode parses "adaptive", "hz", "khz", "mhz" or "ghz".
func ParseFormatMode(s string) (FormatMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "adaptive", "auto":
		return Adaptive(), nil
	case "hz":
		return Fixed(Hz), nil
	case "khz":
		return Fixed(KHz), nil
	case "mhz":
		return Fixed(MHz), nil
	case "ghz":
		return Fixed(GHz), nil
	default:
		return FormatMode{}, fmt.Errorf("unknown frequency unit %q (want adaptive, hz, khz, mhz or ghz)", s)
	}
}

// FormatFrequency renders a frequency in Hz.
//
// In adaptive mode the unit is chosen by comparing the integer value against
// the unit thresholds, so a given input always lands in the same unit, and the
// number is rounded half-up to three significant digits. 999999999 renders as
// "1000 MHz" and 1000000000 as "1.00 GHz". Zero and negative values render as
// "0" in the base unit.
func FormatFrequency(hz int64, mode FormatMode) string {
	unit := mode.unit
	if !mode.fixed {
		unit = adaptiveUnit(hz)
	}
	if hz <= 0 {
		return "0 " + unit.String()
	}

	decimals := unit.fixedDecimals()
	if !mode.fixed {
		decimals = significantDigits - countDigits(hz/unit.factor())
		if decimals < 0 {
			decimals = 0
		}
	}

	return roundHalfUp(hz, unit.factor(), decimals) + " " + unit.String()
}

func adaptiveUnit(hz int64) FrequencyUnit {
	switch {
	case hz >= 1_000_000_000:
		return GHz
	case hz >= 1_000_000:
		return MHz
	case hz >= 1_000:
		return KHz
	default:
		return Hz
	}
}

func countDigits(n int64) int {
	if n <= 0 {
		return 1
	}
	digits := 0
	for n > 0 {
		n /= 10
		digits++
	}
	return digits
}

// roundHalfUp renders raw/divisor rounded half-up to the given number of
// decimals. The arithmetic stays in integers so exact halves always round up.
// raw must be non-negative.
func roundHalfUp(raw, divisor int64, decimals int) string {
	pow := int64(1)
	for range decimals {
		pow *= 10
	}
	q := raw/divisor*pow + ((raw%divisor)*pow+divisor/2)/divisor
	if decimals == 0 {
		return strconv.FormatInt(q, 10)
	}
	digits := strconv.FormatInt(q, 10)
	if pad := decimals + 1 - len(digits); pad > 0 {
		digits = strings.Repeat("0", pad) + digits
	}
	cut := len(digits) - decimals
	return digits[:cut] + "." + digits[cut:]
}

// FormatValue renders a raw non-clock reading in its display unit:
// 45000 m°C is "45.0°C", 850 mV is "0.85 V", 150000000 µW is "150.0 W".
// Zero and negative values render as "0" in the display unit.
func FormatValue(raw int64, unit Unit) string {
	if unit == UnitHertz {
		return FormatFrequency(raw, Adaptive())
	}

	sep := " "
	if unit == UnitMillidegreeCelsius || unit == UnitPercent {
		sep = ""
	}
	if raw <= 0 {
		return "0" + sep + unit.Symbol()
	}

	switch unit {
	case UnitMillidegreeCelsius:
		return roundHalfUp(raw, 1_000, 1) + sep + unit.Symbol()
	case UnitMillivolt:
		return roundHalfUp(raw, 1_000, 2) + sep + unit.Symbol()
	case UnitMicrowatt:
		return roundHalfUp(raw, 1_000_000, 1) + sep + unit.Symbol()
	case UnitByte:
		return humanize.Bytes(uint64(raw))
	default:
		return strconv.FormatInt(raw, 10) + sep + unit.Symbol()
	}
}
