package geom

import (
	"fmt"
	"math"
	"strings"
)

// AngleUnit is the number of radians in one unit of an angular coordinate
// column. Multiplying a column value by its AngleUnit yields radians.
type AngleUnit float64

const (
	Radians AngleUnit = 1
	Hours   AngleUnit = math.Pi / 12
	Degrees AngleUnit = math.Pi / 180
	ArcMin  AngleUnit = math.Pi / (180 * 60)
	ArcSec  AngleUnit = math.Pi / (180 * 3600)
)

// ParseAngleUnit converts a unit name from a configuration file into an
// AngleUnit.
func ParseAngleUnit(name string) (AngleUnit, error) {
	switch strings.ToLower(name) {
	case "", "radians", "rad":
		return Radians, nil
	case "hours", "hrs", "hr":
		return Hours, nil
	case "degrees", "deg":
		return Degrees, nil
	case "arcmin", "arcminutes":
		return ArcMin, nil
	case "arcsec", "arcseconds":
		return ArcSec, nil
	}
	return 0, fmt.Errorf("Unrecognized angle unit '%s'.", name)
}

// ToRadians converts a value in this unit to radians.
func (u AngleUnit) ToRadians(val float64) float64 { return val * float64(u) }
