// Package wire is the fixed client/server encoding: a 4-byte device header
// sent as the call payload, the operation discriminant, and the reply count.
//
//	byte 0  7-bit device address (bit 7 clear)
//	byte 1  controller id
//	byte 2  port index, 0xFF when absent
//	byte 3  0x80 | mux<<4 | segment when a mux is present, else 0x00
package wire

import (
	"encoding/binary"

	"i2cserver-go/errcode"
	"i2cserver-go/types"
)

const (
	HeaderLen = 4
	CountLen  = 4

	portAbsent = 0xFF
	muxPresent = 0x80
)

// Op is the operation discriminant carried as the call op code.
type Op uint16

const (
	OpWriteRead      Op = 1
	OpWriteReadBlock Op = 2

	// Controller-level service operations. The header names only the
	// controller; the address byte is ignored.
	OpRecover Op = 16
	OpReset   Op = 17
	OpStats   Op = 18
)

func (o Op) String() string {
	switch o {
	case OpWriteRead:
		return "write_read"
	case OpWriteReadBlock:
		return "write_read_block"
	case OpRecover:
		return "recover"
	case OpReset:
		return "reset"
	case OpStats:
		return "stats"
	default:
		return "unknown"
	}
}

// Valid reports whether o is a known operation.
func (o Op) Valid() bool { return o.String() != "unknown" }

// Transfer reports whether o moves bytes to or from a device.
func (o Op) Transfer() bool { return o == OpWriteRead || o == OpWriteReadBlock }

// Kind maps a transfer op onto the shared operation kind.
func (o Op) Kind() types.OpKind {
	if o == OpWriteReadBlock {
		return types.OpWriteReadBlock
	}
	return types.OpWriteRead
}

var errHeader = &errcode.E{C: errcode.BadDeviceHeader, Op: "encode"}

// Encode writes the header for id into dst, which must hold HeaderLen bytes.
func Encode(dst []byte, id types.DeviceIdentity) error {
	if len(dst) < HeaderLen {
		return errHeader
	}
	if id.Address > 0x7F || (id.HasPort && id.Port == portAbsent) {
		return errHeader
	}
	dst[0] = id.Address
	dst[1] = byte(id.Controller)
	dst[2] = portAbsent
	if id.HasPort {
		dst[2] = byte(id.Port)
	}
	dst[3] = 0
	if id.Mux.Present {
		if id.Mux.Mux > types.MaxMuxID || id.Mux.Segment > types.MaxSegmentID {
			return errHeader
		}
		dst[3] = muxPresent | byte(id.Mux.Mux)<<4 | byte(id.Mux.Segment)
	}
	return nil
}

// Header is Encode into a fixed array.
func Header(id types.DeviceIdentity) ([HeaderLen]byte, error) {
	var h [HeaderLen]byte
	err := Encode(h[:], id)
	return h, err
}

// ControllerHeader addresses a controller-level operation.
func ControllerHeader(c types.ControllerID) [HeaderLen]byte {
	return [HeaderLen]byte{0, byte(c), portAbsent, 0}
}

// Decode parses a header. Decode(Encode(id)) == id for every valid id.
func Decode(b []byte) (types.DeviceIdentity, error) {
	var id types.DeviceIdentity
	if len(b) != HeaderLen {
		return id, &errcode.E{C: errcode.BadDeviceHeader, Op: "decode", Msg: "length"}
	}
	if b[0]&0x80 != 0 {
		return id, &errcode.E{C: errcode.BadDeviceHeader, Op: "decode", Msg: "address"}
	}
	id.Address = b[0]
	id.Controller = types.ControllerID(b[1])
	if b[2] != portAbsent {
		id.Port, id.HasPort = types.PortIndex(b[2]), true
	}
	switch {
	case b[3]&muxPresent != 0:
		id.Mux = types.Seg(types.MuxID(b[3]>>4&0x07), types.SegmentID(b[3]&0x0F))
	case b[3] != 0:
		return id, &errcode.E{C: errcode.BadDeviceHeader, Op: "decode", Msg: "mux"}
	}
	return id, nil
}

// PutCount writes the reply byte count.
func PutCount(dst []byte, n int) {
	binary.LittleEndian.PutUint32(dst, uint32(n))
}

// Count parses a reply produced by PutCount.
func Count(b []byte) (int, error) {
	if len(b) < CountLen {
		return 0, &errcode.E{C: errcode.BadOperation, Op: "count", Msg: "short reply"}
	}
	return int(binary.LittleEndian.Uint32(b)), nil
}
