package main

import (
	"context"
	"encoding/json"
	"io"
	"math"

	"github.com/banshee-data/safety.scanner/internal/monitoring"
	"github.com/banshee-data/safety.scanner/internal/scanner"
	"github.com/banshee-data/safety.scanner/internal/scanner/msgconv"
)

// printedScan is one line of --print output. JSON has no infinity, so beams
// without an echo print as null.
type printedScan struct {
	FrameID        string              `json:"frame_id"`
	Stamp          string              `json:"stamp"`
	AngleMin       float64             `json:"angle_min"`
	AngleMax       float64             `json:"angle_max"`
	AngleIncrement float64             `json:"angle_increment"`
	ScanTime       float64             `json:"scan_time"`
	RangeMin       float64             `json:"range_min"`
	RangeMax       float64             `json:"range_max"`
	Ranges         []*float64          `json:"ranges"`
	Intensities    []float64           `json:"intensities,omitempty"`
	IOState        *msgconv.IOStateMsg `json:"io_state,omitempty"`
}

func finite(values []float64) []*float64 {
	out := make([]*float64, len(values))
	for i := range values {
		if !math.IsInf(values[i], 0) && !math.IsNaN(values[i]) {
			out[i] = &values[i]
		}
	}
	return out
}

func toPrinted(scan scanner.LaserScan, frameID string) (printedScan, error) {
	msg, err := msgconv.ToLaserScanMsg(scan, frameID)
	if err != nil {
		return printedScan{}, err
	}
	p := printedScan{
		FrameID:        msg.Header.FrameID,
		Stamp:          msg.Header.Stamp.AsTime().Format("2006-01-02T15:04:05.000000000Z07:00"),
		AngleMin:       msg.AngleMin,
		AngleMax:       msg.AngleMax,
		AngleIncrement: msg.AngleIncrement,
		ScanTime:       msg.ScanTime,
		RangeMin:       msg.RangeMin,
		RangeMax:       msg.RangeMax,
		Ranges:         finite(msg.Ranges),
		Intensities:    msg.Intensities,
	}
	if !scan.IOState.Empty() {
		ioMsg, err := msgconv.ToIOStateMsg(scan.IOState, frameID, scan.Timestamp.UnixNano())
		if err != nil {
			return printedScan{}, err
		}
		p.IOState = &ioMsg
	}
	return p, nil
}

// printMessages writes one JSON line per scan until ch is closed or ctx is
// done.
func printMessages(ctx context.Context, ch <-chan scanner.LaserScan, frameID string, w io.Writer) error {
	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case scan, ok := <-ch:
			if !ok {
				return nil
			}
			p, err := toPrinted(scan, frameID)
			if err != nil {
				monitoring.Warnf("skipping scan %d: %v", scan.ScanCounter, err)
				continue
			}
			if err := enc.Encode(p); err != nil {
				return err
			}
		}
	}
}
