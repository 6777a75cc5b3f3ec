// Package units converts length, area, volume and mass values between
// the unit systems found in CAD files. Lengths normalize through
// millimeters, masses through kilograms.
package units

import (
	"fmt"
	"sort"
)

const BaseLength = "mm"

const BaseMass = "kg"

// lengthFactors maps a linear unit to its size in millimeters.
var lengthFactors = map[string]float64{
	"mm": 1.0,
	"cm": 10.0,
	"m":  1000.0,
	"km": 1_000_000.0,
	"um": 0.001,
	"nm": 0.000001,
	"in": 25.4,
	"ft": 304.8,
	"yd": 914.4,
	"mi": 1_609_344.0,
}

// massFactors maps a mass unit to its size in kilograms.
var massFactors = map[string]float64{
	"kg": 1.0,
	"g":  0.001,
	"mg": 0.000001,
	"lb": 0.453592,
	"oz": 0.0283495,
}

var unitNames = map[string]string{
	"mm": "Millimeters",
	"cm": "Centimeters",
	"m":  "Meters",
	"km": "Kilometers",
	"um": "Micrometers (µm)",
	"nm": "Nanometers",
	"in": "Inches",
	"ft": "Feet",
	"yd": "Yards",
	"mi": "Miles",
}

func factors(from, to string) (float64, float64, error) {
	fromFactor, ok := lengthFactors[from]
	if !ok {
		return 0, 0, fmt.Errorf("unsupported source unit: %s", from)
	}
	toFactor, ok := lengthFactors[to]
	if !ok {
		return 0, 0, fmt.Errorf("unsupported target unit: %s", to)
	}
	return fromFactor, toFactor, nil
}

// Length converts a linear value between units. Converting a unit to
// itself returns the value untouched, not a multiply-then-divide round
// trip.
func Length(value float64, from, to string) (float64, error) {
	fromFactor, toFactor, err := factors(from, to)
	if err != nil {
		return 0, err
	}
	if from == to {
		return value, nil
	}
	return value * fromFactor / toFactor, nil
}

// Area converts using squared linear factors.
func Area(value float64, from, to string) (float64, error) {
	fromFactor, toFactor, err := factors(from, to)
	if err != nil {
		return 0, err
	}
	if from == to {
		return value, nil
	}
	return value * (fromFactor * fromFactor) / (toFactor * toFactor), nil
}

// Volume converts using cubed linear factors.
func Volume(value float64, from, to string) (float64, error) {
	fromFactor, toFactor, err := factors(from, to)
	if err != nil {
		return 0, err
	}
	if from == to {
		return value, nil
	}
	return value * (fromFactor * fromFactor * fromFactor) / (toFactor * toFactor * toFactor), nil
}

// Mass converts between mass units. The mass table is independent of the
// length table; "mm" is not a mass unit and "kg" is not a length.
func Mass(value float64, from, to string) (float64, error) {
	fromFactor, ok := massFactors[from]
	if !ok {
		return 0, fmt.Errorf("unsupported source mass unit: %s", from)
	}
	toFactor, ok := massFactors[to]
	if !ok {
		return 0, fmt.Errorf("unsupported target mass unit: %s", to)
	}
	if from == to {
		return value, nil
	}
	return value * fromFactor / toFactor, nil
}

// ScaleFactor returns the multiplier taking linear values in from-units
// to to-units.
func ScaleFactor(from, to string) (float64, error) {
	return Length(1.0, from, to)
}

// ToBase normalizes a value of the given measurement kind into base
// units (mm, mm², mm³ or kg).
func ToBase(value float64, unit, kind string) (float64, error) {
	switch kind {
	case "length":
		return Length(value, unit, BaseLength)
	case "area":
		return Area(value, unit, BaseLength)
	case "volume":
		return Volume(value, unit, BaseLength)
	case "mass":
		return Mass(value, unit, BaseMass)
	default:
		return 0, fmt.Errorf("unsupported measurement type: %s", kind)
	}
}

// Valid reports whether the unit is a supported length unit.
func Valid(unit string) bool {
	_, ok := lengthFactors[unit]
	return ok
}

// Supported returns the supported length units in stable order.
func Supported() []string {
	out := make([]string, 0, len(lengthFactors))
	for u := range lengthFactors {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Name returns the display name of a unit, falling back to the symbol.
func Name(unit string) string {
	if n, ok := unitNames[unit]; ok {
		return n
	}
	return unit
}

// FormatDimension renders a value with its unit symbol, e.g. "25.400 mm".
func FormatDimension(value float64, unit string, precision int) string {
	if precision < 0 {
		precision = 3
	}
	return fmt.Sprintf("%.*f %s", precision, value, unit)
}
