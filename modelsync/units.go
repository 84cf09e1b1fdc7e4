package modelsync

import (
	"fmt"
	"math"
)

// all stored parameter values are canonical SI. preferred-unit conversion
// and significant-digit rounding are presentation transforms applied when a
// value is read for display, never mutating the stored value.

type unitFamily struct {
	canonical string
	// unit -> multiplier from canonical
	factors map[string]float64
}

var unitFamilies = map[string]*unitFamily{
	"mass": {
		canonical: "kg",
		factors: map[string]float64{
			"kg": 1,
			"g":  1e3,
			"mg": 1e6,
			"t":  1e-3,
			"lb": 2.2046226218487757,
		},
	},
	"power": {
		canonical: "W",
		factors: map[string]float64{
			"W":  1,
			"mW": 1e3,
			"kW": 1e-3,
		},
	},
	"data_rate": {
		canonical: "bit/s",
		factors: map[string]float64{
			"bit/s":  1,
			"kbit/s": 1e-3,
			"Mbit/s": 1e-6,
			"Gbit/s": 1e-9,
		},
	},
	"length": {
		canonical: "m",
		factors: map[string]float64{
			"m":  1,
			"mm": 1e3,
			"cm": 1e2,
			"km": 1e-3,
		},
	},
	"temperature_delta": {
		canonical: "K",
		factors: map[string]float64{
			"K": 1,
		},
	},
}

func CanonicalUnit(dimension string) (string, bool) {
	family, ok := unitFamilies[dimension]
	if !ok {
		return "", false
	}
	return family.canonical, true
}

// convert a stored canonical value for display
func ConvertForDisplay(value float64, dimension string, preferredUnit string) (float64, error) {
	if dimension == "" || preferredUnit == "" {
		return value, nil
	}
	family, ok := unitFamilies[dimension]
	if !ok {
		return 0, fmt.Errorf("unknown dimension %q", dimension)
	}
	factor, ok := family.factors[preferredUnit]
	if !ok {
		return 0, fmt.Errorf("unit %q is not in the %q family", preferredUnit, dimension)
	}
	return value * factor, nil
}

func RoundSignificant(value float64, digits int) float64 {
	if digits <= 0 || value == 0 || math.IsNaN(value) || math.IsInf(value, 0) {
		return value
	}
	magnitude := math.Ceil(math.Log10(math.Abs(value)))
	scale := math.Pow(10, float64(digits)-magnitude)
	return math.Round(value*scale) / scale
}
