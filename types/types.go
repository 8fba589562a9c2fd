package types

import "strconv"

// ------------------------
// Addressing
// ------------------------

// ControllerID names one physical bus controller (I2C1, I2C2, ...).
type ControllerID uint8

// PortIndex selects one pin set of a controller.
type PortIndex uint8

// MuxID names a multiplexer attached to a port. Valid values are 0..7.
type MuxID uint8

// SegmentID names one downstream segment of a multiplexer. Valid values are 0..15.
type SegmentID uint8

const (
	MaxMuxID     MuxID     = 7
	MaxSegmentID SegmentID = 15
)

func (c ControllerID) String() string { return "i2c" + strconv.Itoa(int(c)) }

// MuxSegment is an optional (mux, segment) pair. The zero value means
// "no multiplexer".
type MuxSegment struct {
	Mux     MuxID
	Segment SegmentID
	Present bool
}

// Seg builds a present MuxSegment.
func Seg(m MuxID, s SegmentID) MuxSegment { return MuxSegment{Mux: m, Segment: s, Present: true} }

func (m MuxSegment) String() string {
	if !m.Present {
		return "-"
	}
	return "mux" + strconv.Itoa(int(m.Mux)) + "." + strconv.Itoa(int(m.Segment))
}

// DeviceIdentity is the full path to one target device. It is a pure value;
// it owns no hardware.
type DeviceIdentity struct {
	Controller ControllerID
	Port       PortIndex
	HasPort    bool // false: the controller's default port
	Mux        MuxSegment
	Address    uint8 // 7-bit
}

// Device builds an identity on the controller's default port with no mux.
func Device(c ControllerID, addr uint8) DeviceIdentity {
	return DeviceIdentity{Controller: c, Address: addr}
}

// OnPort returns a copy bound to an explicit port.
func (d DeviceIdentity) OnPort(p PortIndex) DeviceIdentity {
	d.Port, d.HasPort = p, true
	return d
}

// Behind returns a copy placed behind a mux segment.
func (d DeviceIdentity) Behind(m MuxID, s SegmentID) DeviceIdentity {
	d.Mux = Seg(m, s)
	return d
}

func (d DeviceIdentity) String() string {
	s := d.Controller.String()
	if d.HasPort {
		s += "/p" + strconv.Itoa(int(d.Port))
	}
	if d.Mux.Present {
		s += "/" + d.Mux.String()
	}
	return s + "/0x" + strconv.FormatUint(uint64(d.Address), 16)
}

// Reserved7Bit reports whether a 7-bit address falls in one of the
// reserved blocks 0x00..0x07 or 0x78..0x7F.
func Reserved7Bit(addr uint8) bool {
	return addr <= 0x07 || (addr >= 0x78 && addr <= 0x7F)
}

// ------------------------
// Operations
// ------------------------

// OpKind is the transaction shape requested by a client.
type OpKind uint8

const (
	OpWriteRead OpKind = iota + 1
	OpWriteReadBlock
)

func (o OpKind) String() string {
	switch o {
	case OpWriteRead:
		return "write_read"
	case OpWriteReadBlock:
		return "write_read_block"
	default:
		return "op(" + strconv.Itoa(int(o)) + ")"
	}
}
