package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/banshee-data/safety.scanner/internal/scanner"
)

// MonitoringFrame is one decoded datagram from the data channel.
type MonitoringFrame struct {
	DeviceStatus uint32
	WorkingMode  uint32
	ScannerID    uint8

	FromTheta  scanner.TenthOfDegree
	Resolution scanner.TenthOfDegree

	ScanCounter   uint32
	ActiveZoneset uint8

	// Measurements are ranges in meters ordered by angle. Beams without an
	// echo decode as +Inf.
	Measurements []float64
	Intensities  []float64

	IOState     *scanner.IOState
	Diagnostics []DiagnosticMessage
}

// ParseMonitoringFrame decodes a monitoring frame. A frame with zero
// measurements is valid.
func ParseMonitoringFrame(data []byte) (MonitoringFrame, error) {
	if len(data) < FRAME_HEADER_SIZE {
		return MonitoringFrame{}, fmt.Errorf("%w: frame too short: %d bytes", ErrDecode, len(data))
	}
	if op := Opcode(binary.LittleEndian.Uint32(data[4:8])); op != OpcodeMonitoring {
		return MonitoringFrame{}, fmt.Errorf("%w: unexpected frame opcode 0x%02x", ErrDecode, uint32(op))
	}
	if tt := binary.LittleEndian.Uint32(data[12:16]); tt != TRANSACTION_MONITORING {
		return MonitoringFrame{}, fmt.Errorf("%w: unexpected transaction type 0x%02x", ErrDecode, tt)
	}

	f := MonitoringFrame{
		DeviceStatus: binary.LittleEndian.Uint32(data[0:4]),
		WorkingMode:  binary.LittleEndian.Uint32(data[8:12]),
		ScannerID:    data[16],
		FromTheta:    scanner.TenthOfDegree(binary.LittleEndian.Uint16(data[17:19])),
		Resolution:   scanner.TenthOfDegree(binary.LittleEndian.Uint16(data[19:21])),
	}
	if f.Resolution == 0 {
		return MonitoringFrame{}, fmt.Errorf("%w: frame resolution is zero", ErrDecode)
	}

	off := FRAME_HEADER_SIZE
	for off < len(data) {
		if len(data)-off < FIELD_HEADER_SIZE {
			return MonitoringFrame{}, fmt.Errorf("%w: truncated field header at offset %d", ErrDecode, off)
		}
		id := data[off]
		length := int(binary.LittleEndian.Uint16(data[off+1 : off+3]))
		off += FIELD_HEADER_SIZE
		if len(data)-off < length {
			return MonitoringFrame{}, fmt.Errorf("%w: field 0x%02x length %d exceeds remaining %d bytes", ErrDecode, id, length, len(data)-off)
		}
		payload := data[off : off+length]
		off += length

		var err error
		switch id {
		case FIELD_END_OF_FRAME:
			if err := f.checkIntensities(); err != nil {
				return MonitoringFrame{}, err
			}
			return f, nil
		case FIELD_SCAN_COUNTER:
			if length != 4 {
				err = fmt.Errorf("scan counter field must be 4 bytes, got %d", length)
				break
			}
			f.ScanCounter = binary.LittleEndian.Uint32(payload)
		case FIELD_ZONESET:
			if length != 1 {
				err = fmt.Errorf("zoneset field must be 1 byte, got %d", length)
				break
			}
			f.ActiveZoneset = payload[0]
		case FIELD_MEASUREMENTS:
			f.Measurements, err = decodeMeasurements(payload)
		case FIELD_INTENSITIES:
			f.Intensities, err = decodeIntensities(payload)
		case FIELD_IO_PINS:
			var io scanner.IOState
			io, err = decodeIOPins(payload)
			f.IOState = &io
		case FIELD_DIAGNOSTICS:
			f.Diagnostics, err = decodeDiagnostics(payload)
		}
		if err != nil {
			return MonitoringFrame{}, fmt.Errorf("%w: %v", ErrDecode, err)
		}
	}
	if err := f.checkIntensities(); err != nil {
		return MonitoringFrame{}, err
	}
	return f, nil
}

// checkIntensities requires one intensity per measurement when a frame
// carries both.
func (f MonitoringFrame) checkIntensities() error {
	if len(f.Measurements) > 0 && len(f.Intensities) > 0 && len(f.Intensities) != len(f.Measurements) {
		return fmt.Errorf("%w: %d intensities for %d measurements", ErrDecode, len(f.Intensities), len(f.Measurements))
	}
	return nil
}

func decodeMeasurements(p []byte) ([]float64, error) {
	if len(p)%2 != 0 {
		return nil, fmt.Errorf("measurements field has odd length %d", len(p))
	}
	out := make([]float64, len(p)/2)
	for i := range out {
		raw := binary.LittleEndian.Uint16(p[2*i:])
		if raw >= RANGE_NO_SIGNAL {
			out[i] = math.Inf(1)
			continue
		}
		out[i] = float64(raw) / MILLIMETERS_PER_METER
	}
	return out, nil
}

func decodeIntensities(p []byte) ([]float64, error) {
	if len(p)%2 != 0 {
		return nil, fmt.Errorf("intensities field has odd length %d", len(p))
	}
	out := make([]float64, len(p)/2)
	for i := range out {
		out[i] = float64(binary.LittleEndian.Uint16(p[2*i:]) & INTENSITY_MASK)
	}
	return out, nil
}

func decodePins(p []byte, name func(uint32) string) ([]scanner.PinState, []byte, error) {
	if len(p) < 1 {
		return nil, nil, fmt.Errorf("io pin field truncated")
	}
	n := int(p[0])
	p = p[1:]
	if len(p) < 3*n {
		return nil, nil, fmt.Errorf("io pin field declares %d pins but has %d bytes", n, len(p))
	}
	pins := make([]scanner.PinState, n)
	for i := range pins {
		id := uint32(binary.LittleEndian.Uint16(p[3*i:]))
		pins[i] = scanner.PinState{ID: id, Name: name(id), State: p[3*i+2] != 0}
	}
	return pins, p[3*n:], nil
}

func decodeIOPins(p []byte) (scanner.IOState, error) {
	inputs, rest, err := decodePins(p, LogicalInputName)
	if err != nil {
		return scanner.IOState{}, err
	}
	outputs, _, err := decodePins(rest, OutputName)
	if err != nil {
		return scanner.IOState{}, err
	}
	return scanner.IOState{LogicalInputs: inputs, Outputs: outputs}, nil
}

func decodeDiagnostics(p []byte) ([]DiagnosticMessage, error) {
	if len(p) < 1 {
		return nil, fmt.Errorf("diagnostics field truncated")
	}
	n := int(p[0])
	p = p[1:]
	if len(p) < 3*n {
		return nil, fmt.Errorf("diagnostics field declares %d entries but has %d bytes", n, len(p))
	}
	out := make([]DiagnosticMessage, n)
	for i := range out {
		out[i] = DiagnosticMessage{ScannerID: p[3*i], Code: binary.LittleEndian.Uint16(p[3*i+1:])}
	}
	return out, nil
}

// Serialize encodes the frame. Intensities, IO pins and diagnostics are only
// written when present. The device simulator and tests use it.
func (f MonitoringFrame) Serialize() []byte {
	buf := make([]byte, 0, FRAME_HEADER_SIZE+64+4*len(f.Measurements))
	buf = binary.LittleEndian.AppendUint32(buf, f.DeviceStatus)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(OpcodeMonitoring))
	buf = binary.LittleEndian.AppendUint32(buf, f.WorkingMode)
	buf = binary.LittleEndian.AppendUint32(buf, TRANSACTION_MONITORING)
	buf = append(buf, f.ScannerID)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(f.FromTheta))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(f.Resolution))

	buf = appendField(buf, FIELD_SCAN_COUNTER, binary.LittleEndian.AppendUint32(nil, f.ScanCounter))
	buf = appendField(buf, FIELD_ZONESET, []byte{f.ActiveZoneset})

	if f.IOState != nil {
		p := appendPins(nil, f.IOState.LogicalInputs)
		p = appendPins(p, f.IOState.Outputs)
		buf = appendField(buf, FIELD_IO_PINS, p)
	}
	if len(f.Diagnostics) > 0 {
		p := []byte{byte(len(f.Diagnostics))}
		for _, d := range f.Diagnostics {
			p = append(p, d.ScannerID)
			p = binary.LittleEndian.AppendUint16(p, d.Code)
		}
		buf = appendField(buf, FIELD_DIAGNOSTICS, p)
	}

	p := make([]byte, 0, 2*len(f.Measurements))
	for _, m := range f.Measurements {
		raw := uint16(RANGE_NO_SIGNAL)
		if !math.IsInf(m, 0) && !math.IsNaN(m) {
			raw = uint16(math.Max(0, math.Min(math.Round(m*MILLIMETERS_PER_METER), RANGE_NO_SIGNAL-1)))
		}
		p = binary.LittleEndian.AppendUint16(p, raw)
	}
	buf = appendField(buf, FIELD_MEASUREMENTS, p)

	if len(f.Intensities) > 0 {
		p := make([]byte, 0, 2*len(f.Intensities))
		for _, v := range f.Intensities {
			p = binary.LittleEndian.AppendUint16(p, uint16(v)&INTENSITY_MASK)
		}
		buf = appendField(buf, FIELD_INTENSITIES, p)
	}

	return appendField(buf, FIELD_END_OF_FRAME, nil)
}

func appendField(buf []byte, id byte, payload []byte) []byte {
	buf = append(buf, id)
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(payload)))
	return append(buf, payload...)
}

func appendPins(buf []byte, pins []scanner.PinState) []byte {
	buf = append(buf, byte(len(pins)))
	for _, pin := range pins {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(pin.ID))
		buf = append(buf, b2u(pin.State))
	}
	return buf
}
