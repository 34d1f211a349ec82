// Package units converts real-world distances to the angular distances used
// by great-circle neighborhood queries.
package units

import (
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
)

// Canonical unit names.
const (
	Kilometers = "kilometers"
	Meters     = "meters"
	Miles      = "miles"
	Feet       = "feet"
)

// ErrInvalidUnit is returned for unit names that have no Earth radius.
var ErrInvalidUnit = eris.New("units: invalid unit")

// Earth radius expressed in each supported unit.
var earthRadius = map[string]float64{
	Kilometers: 6372.8,
	Meters:     6372800,
	Miles:      3959.87433,
	Feet:       20908136.4624,
}

var aliases = map[string]string{
	"km": Kilometers,
	"m":  Meters,
	"mi": Miles,
	"ft": Feet,
}

// Canonical returns the canonical name for a unit or alias.
func Canonical(unit string) (string, error) {
	name := cases.Fold().String(strings.TrimSpace(unit))
	if alias, ok := aliases[name]; ok {
		name = alias
	}
	if _, ok := earthRadius[name]; !ok {
		return "", eris.Wrapf(ErrInvalidUnit, "%q (want one of %s)", unit, strings.Join(Names(), ", "))
	}
	return name, nil
}

// EarthRadius returns the Earth radius in the given unit.
func EarthRadius(unit string) (float64, error) {
	name, err := Canonical(unit)
	if err != nil {
		return 0, err
	}
	return earthRadius[name], nil
}

// ToAngular converts a distance in unit to radians of arc.
func ToAngular(distance float64, unit string) (float64, error) {
	r, err := EarthRadius(unit)
	if err != nil {
		return 0, err
	}
	return distance / r, nil
}

// FromAngular converts radians of arc back to a distance in unit.
func FromAngular(angle float64, unit string) (float64, error) {
	r, err := EarthRadius(unit)
	if err != nil {
		return 0, err
	}
	return angle * r, nil
}

// Names returns the canonical unit names in sorted order.
func Names() []string {
	names := make([]string, 0, len(earthRadius))
	for name := range earthRadius {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
