/*
Package protocol is the wire codec between the host and the safety laser
scanner. It is pure: no sockets, no clocks, no state.

All multi-byte integers are little-endian. Control messages carry a CRC32
(IEEE) of every byte after the checksum field.

START REQUEST (58 bytes, host → device control port):
├── crc32            u32
├── sequence number  u32
├── reserved         [8]
├── opcode           u32  0x35
├── host ip          [4]  IPv4 octets, network order
├── host data port   u16  where the device sends monitoring frames
├── enable flags     8×u8 device, intensities, point-in-safety, active zoneset,
│                         io pins, scan counter, speed encoder, diagnostics
├── master scan      3×u16 start, end, resolution (tenths of a degree)
└── slave scans      9×u16 unused, zero

STOP REQUEST (20 bytes): crc32, sequence number, reserved [8], opcode 0x36.

REPLY (16 bytes, device → host control port):
crc32, sequence number (echoed), opcode (echoed), result (0 accepted).

MONITORING FRAME (device → host data port, no checksum):
├── device status     u32
├── opcode            u32  0xCA
├── working mode      u32
├── transaction type  u32  0x05
├── scanner id        u8
├── from theta        u16  tenths of a degree
├── resolution        u16  tenths of a degree
└── additional fields, repeated: id u8, length u16, payload[length]

	0x01 io pins       u8 n, n×{u16 id, u8 state} for inputs then outputs
	0x02 scan counter  u32
	0x04 diagnostics   u8 n, n×{u8 scanner id, u16 code}
	0x05 measurements  u16 per beam, millimetres
	0x06 intensities   u16 per beam, low 14 bits significant
	0x08 zoneset       u8 active zoneset
	0x09 end of frame  length 0

Unknown additional fields are skipped. Every decode failure wraps ErrDecode.
*/
package protocol
