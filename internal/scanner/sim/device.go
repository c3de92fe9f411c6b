// Package sim simulates the device side of a scanner session: it answers
// start and stop requests and produces synthetic monitoring frames.
package sim

import (
	"fmt"
	"math"
	"net/netip"
	"sync"

	"github.com/banshee-data/safety.scanner/internal/scanner"
	"github.com/banshee-data/safety.scanner/internal/scanner/protocol"
)

// Synthetic scene
const (
	WALL_DISTANCE   = 6.0  // meters
	OBJECT_DISTANCE = 1.2  // meters
	OBJECT_WIDTH    = 50   // tenths of degree
	OBJECT_STEP     = 10   // tenths of degree per frame
	NO_ECHO_PERIOD  = 97   // every n-th beam returns no echo
	PROTECTIVE_ZONE = 1.5  // meters
	WARNING_ZONE    = 3.0  // meters
	INTENSITY_SCALE = 1000 // intensity of an echo at 1m
)

// Device is an in-memory scanner. It is safe for concurrent use.
type Device struct {
	mu        sync.Mutex
	streaming bool
	request   protocol.Request
	counter   uint32

	// RefuseStart makes the device refuse start requests.
	RefuseStart bool
	// Zoneset is reported as the active zoneset.
	Zoneset uint8
	// Diagnostics are attached to every frame when requested.
	Diagnostics []protocol.DiagnosticMessage
}

func NewDevice() *Device {
	return &Device{}
}

// HandleRequest decodes a control request, applies it and returns the
// serialized reply.
func (d *Device) HandleRequest(data []byte) ([]byte, error) {
	req, err := protocol.ParseRequest(data)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	reply := protocol.Reply{Seq: req.Seq, Opcode: req.Opcode}
	switch req.Opcode {
	case protocol.OpcodeStart:
		if d.RefuseStart || req.Resolution <= 0 || req.ScanRange.End <= req.ScanRange.Start {
			reply.Result = protocol.REPLY_RESULT_REFUSED
			break
		}
		d.request = req
		d.streaming = true
		d.counter = 0
	case protocol.OpcodeStop:
		d.streaming = false
	}
	return reply.Serialize(), nil
}

// Streaming reports whether a start request was accepted and not yet
// stopped.
func (d *Device) Streaming() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.streaming
}

// Target returns the host data address named by the last accepted start
// request.
func (d *Device) Target() (netip.AddrPort, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.streaming {
		return netip.AddrPort{}, fmt.Errorf("device is not streaming")
	}
	return netip.AddrPortFrom(d.request.HostIP, d.request.HostDataPort), nil
}

// NextFrame produces the next frame of the current scan configuration. It
// returns false when the device is not streaming.
func (d *Device) NextFrame() (protocol.MonitoringFrame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.streaming {
		return protocol.MonitoringFrame{}, false
	}
	d.counter++
	return d.frameLocked(), true
}

func (d *Device) frameLocked() protocol.MonitoringFrame {
	req := d.request
	n := int((req.ScanRange.End-req.ScanRange.Start)/req.Resolution) + 1

	width := int32(req.ScanRange.Width())
	object := req.ScanRange.Start
	if width > 0 {
		object += scanner.TenthOfDegree((int32(d.counter) * OBJECT_STEP) % width)
	}

	f := protocol.MonitoringFrame{
		ScannerID:     0,
		FromTheta:     req.ScanRange.Start,
		Resolution:    req.Resolution,
		ScanCounter:   d.counter,
		ActiveZoneset: d.Zoneset,
		Measurements:  make([]float64, n),
	}
	if req.Intensities {
		f.Intensities = make([]float64, n)
	}

	nearest := math.Inf(1)
	for i := range n {
		angle := req.ScanRange.Start + req.Resolution*scanner.TenthOfDegree(i)
		r := wallRange(angle)
		if off := angle - object; off >= 0 && off < OBJECT_WIDTH {
			r = OBJECT_DISTANCE
		}
		if (i+int(d.counter))%NO_ECHO_PERIOD == 0 {
			r = math.Inf(1)
		}
		// the wire carries whole millimeters
		if !math.IsInf(r, 0) {
			r = math.Round(r*protocol.MILLIMETERS_PER_METER) / protocol.MILLIMETERS_PER_METER
		}
		f.Measurements[i] = r
		nearest = math.Min(nearest, r)
		if f.Intensities != nil && !math.IsInf(r, 0) {
			f.Intensities[i] = math.Round(INTENSITY_SCALE / math.Max(r*r, 1))
		}
	}

	f.IOState = &scanner.IOState{
		LogicalInputs: []scanner.PinState{
			protocol.InputPin(protocol.INPUT_ZONE_SET_SWITCH_1, d.Zoneset == 0),
			protocol.InputPin(protocol.INPUT_RESET_ACTIVATED, false),
		},
		Outputs: []scanner.PinState{
			protocol.OutputPin(protocol.OUTPUT_SAFETY_1_INTRUSION, nearest < PROTECTIVE_ZONE),
			protocol.OutputPin(protocol.OUTPUT_WARNING_1_INTRUSION, nearest < WARNING_ZONE),
		},
	}
	if req.Diagnostics && len(d.Diagnostics) > 0 {
		f.Diagnostics = append([]protocol.DiagnosticMessage(nil), d.Diagnostics...)
	}
	return f
}

// wallRange places the scanner in a square room of half-width WALL_DISTANCE.
func wallRange(angle scanner.TenthOfDegree) float64 {
	rad := angle.Radians()
	c := math.Max(math.Abs(math.Cos(rad)), math.Abs(math.Sin(rad)))
	return WALL_DISTANCE / c
}
