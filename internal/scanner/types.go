package scanner

import "time"

// PinState is the state of a single logical input or output pin of the device.
type PinState struct {
	ID    uint32
	Name  string
	State bool
}

// IOState is the snapshot of the device's pins carried by a monitoring frame.
// Pin order is the order reported by the device.
type IOState struct {
	LogicalInputs []PinState
	Outputs       []PinState
}

// Empty reports whether the snapshot carries no pins.
func (s IOState) Empty() bool {
	return len(s.LogicalInputs) == 0 && len(s.Outputs) == 0
}

// LaserScan is the scanner-agnostic measurement result produced from one
// non-empty monitoring frame.
type LaserScan struct {
	// AngleMin is the angle of the first range.
	AngleMin TenthOfDegree
	// AngleMax is the angle of the last range.
	AngleMax TenthOfDegree
	// Resolution is the angular distance between consecutive ranges.
	Resolution TenthOfDegree

	Timestamp   time.Time
	ScanCounter uint32

	// Ranges are distances in meters, one per beam, ordered by angle.
	Ranges []float64
	// Intensities are either empty or the same length as Ranges.
	Intensities []float64

	ActiveZoneset uint8
	IOState       IOState
}

// AngleAt returns the angle of the i-th range.
func (s LaserScan) AngleAt(i int) TenthOfDegree {
	return s.AngleMin + s.Resolution*TenthOfDegree(i)
}

// LaserScanHandler receives every scan produced while a session is active.
// It is called from the receive goroutine, one scan at a time.
type LaserScanHandler func(LaserScan)
