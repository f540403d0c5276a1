// Package units provides shared constants and table-driven conversion for
// the measurement units emitted by battery cyclers. Canonical units are
// seconds, volts, amps and amp-hours; every conversion is an explicit table
// entry, never inferred from column names.
package units

import "fmt"

// Unit constants as they appear in adapter mapping tables.
const (
	Second      = "s"
	Hour        = "h"
	Millisecond = "ms"
	Volt        = "V"
	Millivolt   = "mV"
	Amp         = "A"
	Milliamp    = "mA"
	AmpHour     = "Ah"
	MilliampH   = "mAh"
)

// factors maps a source unit to the multiplier that converts it to the
// canonical unit of its dimension (s, V, A, Ah).
var factors = map[string]float64{
	Second:      1,
	Hour:        3600,
	Millisecond: 0.001,
	Volt:        1,
	Millivolt:   0.001,
	Amp:         1,
	Milliamp:    0.001,
	AmpHour:     1,
	MilliampH:   0.001,
}

// IsValid checks if the given unit has a conversion entry.
func IsValid(unit string) bool {
	_, ok := factors[unit]
	return ok
}

// Factor returns the multiplier that converts a value in unit to the
// canonical unit of its dimension. Unknown units are an error: callers must
// declare every unit in their mapping tables.
func Factor(unit string) (float64, error) {
	f, ok := factors[unit]
	if !ok {
		return 0, fmt.Errorf("no conversion declared for unit %q", unit)
	}
	return f, nil
}

// Convert converts a value from the given unit to the canonical unit of its
// dimension.
func Convert(value float64, unit string) (float64, error) {
	f, err := Factor(unit)
	if err != nil {
		return 0, err
	}
	return value * f, nil
}
