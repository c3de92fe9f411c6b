package scanner

import (
	"fmt"
	"math"
)

// TenthOfDegree is an angle expressed in tenths of a degree, the unit used on
// the wire and throughout the scanner configuration.
type TenthOfDegree int32

// FromDegrees converts degrees to the nearest tenth of a degree.
func FromDegrees(deg float64) TenthOfDegree {
	return TenthOfDegree(math.Round(deg * 10))
}

// FromRadians converts radians to the nearest tenth of a degree.
func FromRadians(rad float64) TenthOfDegree {
	return FromDegrees(rad * 180 / math.Pi)
}

// Degrees returns the angle in degrees.
func (a TenthOfDegree) Degrees() float64 { return float64(a) / 10 }

// Radians returns the angle in radians.
func (a TenthOfDegree) Radians() float64 { return a.Degrees() * math.Pi / 180 }

func (a TenthOfDegree) String() string {
	return fmt.Sprintf("%.1f°", a.Degrees())
}

// ScanRange is the angular window [Start, End] of a scan.
type ScanRange struct {
	Start TenthOfDegree
	End   TenthOfDegree
}

// Width returns End - Start.
func (r ScanRange) Width() TenthOfDegree { return r.End - r.Start }

// Contains reports whether a lies within the range, inclusive.
func (r ScanRange) Contains(a TenthOfDegree) bool {
	return a >= r.Start && a <= r.End
}

func (r ScanRange) String() string {
	return fmt.Sprintf("[%s, %s]", r.Start, r.End)
}
