package protocol

import (
	"encoding/binary"
	"fmt"
)

// Reply is the device's answer to a start or stop request. Seq and Opcode
// echo the request being answered.
type Reply struct {
	Seq    uint32
	Opcode Opcode
	Result uint32
}

// Accepted reports whether the device accepted the request.
func (r Reply) Accepted() bool { return r.Result == REPLY_RESULT_ACCEPTED }

// Answers reports whether r is the reply to a request with the given opcode
// and sequence number.
func (r Reply) Answers(op Opcode, seq uint32) bool {
	return r.Opcode == op && r.Seq == seq
}

// ParseReply decodes a reply datagram. Replies with a bad checksum are
// rejected.
func ParseReply(data []byte) (Reply, error) {
	if len(data) != REPLY_SIZE {
		return Reply{}, fmt.Errorf("%w: reply must be %d bytes, got %d", ErrDecode, REPLY_SIZE, len(data))
	}
	if got, want := binary.LittleEndian.Uint32(data[:CRC_SIZE]), checksum(data); got != want {
		return Reply{}, fmt.Errorf("%w: reply crc mismatch: got 0x%08x, want 0x%08x", ErrDecode, got, want)
	}
	r := Reply{
		Seq:    binary.LittleEndian.Uint32(data[4:8]),
		Opcode: Opcode(binary.LittleEndian.Uint32(data[8:12])),
		Result: binary.LittleEndian.Uint32(data[12:16]),
	}
	if r.Opcode != OpcodeStart && r.Opcode != OpcodeStop {
		return Reply{}, fmt.Errorf("%w: unexpected reply opcode 0x%02x", ErrDecode, uint32(r.Opcode))
	}
	return r, nil
}

// Serialize encodes the reply. The device simulator and tests use it.
func (r Reply) Serialize() []byte {
	buf := make([]byte, CRC_SIZE, REPLY_SIZE)
	buf = binary.LittleEndian.AppendUint32(buf, r.Seq)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(r.Opcode))
	buf = binary.LittleEndian.AppendUint32(buf, r.Result)
	binary.LittleEndian.PutUint32(buf[:CRC_SIZE], checksum(buf))
	return buf
}
