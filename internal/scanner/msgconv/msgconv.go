// Package msgconv maps scanner results onto the message shapes published to
// the host middleware. The mapping is field for field; the only rule it
// enforces is that a stamp is a non-negative count of nanoseconds.
package msgconv

import (
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/banshee-data/safety.scanner/internal/scanner"
)

// Header is the common message header.
type Header struct {
	Stamp   *timestamppb.Timestamp
	FrameID string
}

// InputPinStateMsg describes one logical input pin.
type InputPinStateMsg struct {
	PinID uint32
	Name  string
	State bool
}

// OutputPinStateMsg describes one output pin.
type OutputPinStateMsg struct {
	PinID uint32
	Name  string
	State bool
}

// IOStateMsg is the published IO snapshot.
type IOStateMsg struct {
	Header       Header
	LogicalInput []InputPinStateMsg
	Output       []OutputPinStateMsg
}

// LaserScanMsg is the published scan. Angles are in radians, ranges in meters.
type LaserScanMsg struct {
	Header         Header
	AngleMin       float64
	AngleMax       float64
	AngleIncrement float64
	TimeIncrement  float64
	ScanTime       float64
	RangeMin       float64
	RangeMax       float64
	Ranges         []float64
	Intensities    []float64
}

// Fixed range limits of the device, in meters.
const (
	RANGE_MIN = 0.0
	RANGE_MAX = 40.0
)

// Timing of one scanner revolution.
const (
	SCAN_TIME = 0.03
	// Time between two consecutive beams of a full 0.1 degree revolution.
	TIME_PER_TENTH_DEGREE = SCAN_TIME / 3600
)

func header(frameID string, stamp int64) (Header, error) {
	if stamp < 0 {
		return Header{}, status.Errorf(codes.InvalidArgument, "Laserscan message has an invalid timestamp: %d", stamp)
	}
	return Header{
		Stamp:   timestamppb.New(time.Unix(0, stamp)),
		FrameID: frameID,
	}, nil
}

// ToIOStateMsg converts io. stamp is in nanoseconds since the epoch; a
// negative stamp yields an InvalidArgument status error.
func ToIOStateMsg(io scanner.IOState, frameID string, stamp int64) (IOStateMsg, error) {
	h, err := header(frameID, stamp)
	if err != nil {
		return IOStateMsg{}, err
	}
	msg := IOStateMsg{
		Header:       h,
		LogicalInput: make([]InputPinStateMsg, 0, len(io.LogicalInputs)),
		Output:       make([]OutputPinStateMsg, 0, len(io.Outputs)),
	}
	for _, pin := range io.LogicalInputs {
		msg.LogicalInput = append(msg.LogicalInput, InputPinStateMsg{PinID: pin.ID, Name: pin.Name, State: pin.State})
	}
	for _, pin := range io.Outputs {
		msg.Output = append(msg.Output, OutputPinStateMsg{PinID: pin.ID, Name: pin.Name, State: pin.State})
	}
	return msg, nil
}

// ToLaserScanMsg converts scan, stamping it with the scan's own timestamp.
func ToLaserScanMsg(scan scanner.LaserScan, frameID string) (LaserScanMsg, error) {
	stamp := int64(-1)
	if !scan.Timestamp.IsZero() {
		stamp = scan.Timestamp.UnixNano()
	}
	h, err := header(frameID, stamp)
	if err != nil {
		return LaserScanMsg{}, err
	}
	msg := LaserScanMsg{
		Header:         h,
		AngleMin:       scan.AngleMin.Radians(),
		AngleMax:       scan.AngleMax.Radians(),
		AngleIncrement: scan.Resolution.Radians(),
		TimeIncrement:  TIME_PER_TENTH_DEGREE * float64(scan.Resolution),
		ScanTime:       SCAN_TIME,
		RangeMin:       RANGE_MIN,
		RangeMax:       RANGE_MAX,
		Ranges:         append([]float64(nil), scan.Ranges...),
	}
	if len(scan.Intensities) > 0 {
		msg.Intensities = append([]float64(nil), scan.Intensities...)
	}
	return msg, nil
}
