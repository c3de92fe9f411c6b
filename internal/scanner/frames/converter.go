package frames

import (
	"time"

	"github.com/banshee-data/safety.scanner/internal/scanner"
	"github.com/banshee-data/safety.scanner/internal/scanner/protocol"
)

// ToLaserScan converts a monitoring frame into a LaserScan stamped with ts.
// Frames without measurements produce no scan and ok is false.
func ToLaserScan(frame protocol.MonitoringFrame, ts time.Time) (scan scanner.LaserScan, ok bool) {
	n := len(frame.Measurements)
	if n == 0 {
		return scanner.LaserScan{}, false
	}

	scan = scanner.LaserScan{
		AngleMin:      frame.FromTheta,
		AngleMax:      frame.FromTheta + frame.Resolution*scanner.TenthOfDegree(n-1),
		Resolution:    frame.Resolution,
		Timestamp:     ts,
		ScanCounter:   frame.ScanCounter,
		Ranges:        append([]float64(nil), frame.Measurements...),
		ActiveZoneset: frame.ActiveZoneset,
	}
	if len(frame.Intensities) > 0 {
		scan.Intensities = append([]float64(nil), frame.Intensities...)
	}
	if frame.IOState != nil {
		scan.IOState = *frame.IOState
	}
	return scan, true
}
