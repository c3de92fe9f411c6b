package protocol

import (
	"errors"
	"hash/crc32"
)

// Opcode identifies a control or data message.
type Opcode uint32

const (
	OpcodeStart      Opcode = 0x35
	OpcodeStop       Opcode = 0x36
	OpcodeMonitoring Opcode = 0xCA
)

func (o Opcode) String() string {
	switch o {
	case OpcodeStart:
		return "start"
	case OpcodeStop:
		return "stop"
	case OpcodeMonitoring:
		return "monitoring"
	default:
		return "unknown"
	}
}

// Control message layout
const (
	CRC_SIZE              = 4
	RESERVED_SIZE         = 8
	CONTROL_HEADER_SIZE   = CRC_SIZE + 4 + RESERVED_SIZE + 4 // crc, seq, reserved, opcode
	ENABLE_FLAGS_SIZE     = 8
	SCAN_SETTINGS_SIZE    = 3 * 2                                                                                // start, end, resolution
	SLAVE_SCANS           = 3                                                                                    // unused slave scanner slots
	START_REQUEST_SIZE    = CONTROL_HEADER_SIZE + 4 + 2 + ENABLE_FLAGS_SIZE + SCAN_SETTINGS_SIZE*(1+SLAVE_SCANS) // 58 bytes
	STOP_REQUEST_SIZE     = CONTROL_HEADER_SIZE                                                                  // 20 bytes
	REPLY_SIZE            = 16
	REPLY_RESULT_ACCEPTED = 0x00
	REPLY_RESULT_REFUSED  = 0xEB
)

// Monitoring frame layout
const (
	FRAME_HEADER_SIZE      = 4 + 4 + 4 + 4 + 1 + 2 + 2 // 21 bytes
	FIELD_HEADER_SIZE      = 1 + 2                     // id + length
	TRANSACTION_MONITORING = 0x05

	FIELD_IO_PINS      = 0x01
	FIELD_SCAN_COUNTER = 0x02
	FIELD_DIAGNOSTICS  = 0x04
	FIELD_MEASUREMENTS = 0x05
	FIELD_INTENSITIES  = 0x06
	FIELD_ZONESET      = 0x08
	FIELD_END_OF_FRAME = 0x09

	MILLIMETERS_PER_METER = 1000   // measurements are millimetres on the wire
	RANGE_NO_SIGNAL       = 59992  // raw values at or above this carry no distance
	INTENSITY_MASK        = 0x3FFF // upper two bits are flags
)

// ErrDecode is wrapped by every parse error in this package.
var ErrDecode = errors.New("protocol decode error")

var crcTable = crc32.MakeTable(crc32.IEEE)

// checksum covers everything after the CRC field.
func checksum(msg []byte) uint32 {
	return crc32.Checksum(msg[CRC_SIZE:], crcTable)
}
