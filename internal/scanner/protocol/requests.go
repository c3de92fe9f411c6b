package protocol

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/banshee-data/safety.scanner/internal/config"
	"github.com/banshee-data/safety.scanner/internal/scanner"
)

// StartRequest asks the device to start streaming monitoring frames to the
// host data port. Serialize is deterministic: equal requests produce equal
// bytes, so a retry resends exactly what was sent first.
type StartRequest struct {
	Config config.SessionConfig
	Seq    uint32
}

// NewStartRequest builds a start request for cfg with sequence number seq.
func NewStartRequest(cfg config.SessionConfig, seq uint32) StartRequest {
	return StartRequest{Config: cfg, Seq: seq}
}

// Serialize encodes the request including its checksum.
func (r StartRequest) Serialize() []byte {
	cfg := r.Config
	buf := make([]byte, CRC_SIZE, START_REQUEST_SIZE)
	buf = binary.LittleEndian.AppendUint32(buf, r.Seq)
	buf = append(buf, make([]byte, RESERVED_SIZE)...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(OpcodeStart))

	ip := cfg.HostIP.As4()
	buf = append(buf, ip[:]...)
	buf = binary.LittleEndian.AppendUint16(buf, cfg.HostDataPort)

	buf = append(buf,
		1,                           // device enabled
		b2u(cfg.IntensitiesEnabled), // intensities
		0,                           // point in safety
		1,                           // active zoneset
		1,                           // io pins
		1,                           // scan counter
		0,                           // speed encoder
		b2u(cfg.DiagnosticsEnabled), // diagnostics
	)

	buf = binary.LittleEndian.AppendUint16(buf, uint16(cfg.ScanRange.Start))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(cfg.ScanRange.End))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(cfg.Resolution))
	buf = append(buf, make([]byte, SCAN_SETTINGS_SIZE*SLAVE_SCANS)...)

	binary.LittleEndian.PutUint32(buf[:CRC_SIZE], checksum(buf))
	return buf
}

// StopRequest asks the device to stop streaming.
type StopRequest struct {
	Seq uint32
}

// NewStopRequest builds a stop request with sequence number seq.
func NewStopRequest(seq uint32) StopRequest {
	return StopRequest{Seq: seq}
}

// Serialize encodes the request including its checksum.
func (r StopRequest) Serialize() []byte {
	buf := make([]byte, CRC_SIZE, STOP_REQUEST_SIZE)
	buf = binary.LittleEndian.AppendUint32(buf, r.Seq)
	buf = append(buf, make([]byte, RESERVED_SIZE)...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(OpcodeStop))
	binary.LittleEndian.PutUint32(buf[:CRC_SIZE], checksum(buf))
	return buf
}

// Request is a decoded control request as seen by the device. Only start
// requests populate the fields after Opcode.
type Request struct {
	Seq    uint32
	Opcode Opcode

	HostIP       netip.Addr
	HostDataPort uint16
	ScanRange    scanner.ScanRange
	Resolution   scanner.TenthOfDegree
	Intensities  bool
	Diagnostics  bool
}

// ParseRequest decodes a start or stop request. It is the device side of
// StartRequest.Serialize and StopRequest.Serialize.
func ParseRequest(data []byte) (Request, error) {
	if len(data) < CONTROL_HEADER_SIZE {
		return Request{}, fmt.Errorf("%w: request too short: %d bytes", ErrDecode, len(data))
	}
	if got, want := binary.LittleEndian.Uint32(data[:CRC_SIZE]), checksum(data); got != want {
		return Request{}, fmt.Errorf("%w: request crc mismatch: got 0x%08x, want 0x%08x", ErrDecode, got, want)
	}

	req := Request{
		Seq:    binary.LittleEndian.Uint32(data[4:8]),
		Opcode: Opcode(binary.LittleEndian.Uint32(data[16:20])),
	}
	switch req.Opcode {
	case OpcodeStop:
		if len(data) != STOP_REQUEST_SIZE {
			return Request{}, fmt.Errorf("%w: stop request must be %d bytes, got %d", ErrDecode, STOP_REQUEST_SIZE, len(data))
		}
		return req, nil
	case OpcodeStart:
		if len(data) != START_REQUEST_SIZE {
			return Request{}, fmt.Errorf("%w: start request must be %d bytes, got %d", ErrDecode, START_REQUEST_SIZE, len(data))
		}
	default:
		return Request{}, fmt.Errorf("%w: unexpected request opcode 0x%02x", ErrDecode, uint32(req.Opcode))
	}

	off := CONTROL_HEADER_SIZE
	req.HostIP = netip.AddrFrom4([4]byte(data[off : off+4]))
	off += 4
	req.HostDataPort = binary.LittleEndian.Uint16(data[off:])
	off += 2
	flags := data[off : off+ENABLE_FLAGS_SIZE]
	req.Intensities = flags[1] != 0
	req.Diagnostics = flags[7] != 0
	off += ENABLE_FLAGS_SIZE
	req.ScanRange.Start = scanner.TenthOfDegree(binary.LittleEndian.Uint16(data[off:]))
	req.ScanRange.End = scanner.TenthOfDegree(binary.LittleEndian.Uint16(data[off+2:]))
	req.Resolution = scanner.TenthOfDegree(binary.LittleEndian.Uint16(data[off+4:]))
	return req, nil
}

func b2u(b bool) byte {
	if b {
		return 1
	}
	return 0
}
