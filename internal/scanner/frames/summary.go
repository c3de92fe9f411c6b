package frames

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/safety.scanner/internal/scanner"
)

// Summary holds range statistics over the beams of one scan that returned an
// echo.
type Summary struct {
	Beams     int // total beams
	Valid     int // beams with a finite range
	MinRange  float64
	MaxRange  float64
	MeanRange float64
	StdDev    float64
	// NearestAngle is the angle of the closest echo.
	NearestAngle scanner.TenthOfDegree
}

// Summarize computes range statistics for scan. Statistics are zero when no
// beam returned an echo.
func Summarize(scan scanner.LaserScan) Summary {
	s := Summary{Beams: len(scan.Ranges)}

	valid := make([]float64, 0, len(scan.Ranges))
	nearest := -1
	for i, r := range scan.Ranges {
		if math.IsInf(r, 0) || math.IsNaN(r) {
			continue
		}
		valid = append(valid, r)
		if nearest < 0 || r < scan.Ranges[nearest] {
			nearest = i
		}
	}
	s.Valid = len(valid)
	if s.Valid == 0 {
		return s
	}

	s.MinRange = floats.Min(valid)
	s.MaxRange = floats.Max(valid)
	s.MeanRange, s.StdDev = stat.MeanStdDev(valid, nil)
	if s.Valid == 1 {
		s.StdDev = 0
	}
	s.NearestAngle = scan.AngleAt(nearest)
	return s
}
