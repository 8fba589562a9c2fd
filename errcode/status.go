package errcode

// Numeric status words carried in IPC replies. Zero is success.
// Values are stable; append only.
var statusOf = map[Code]uint32{
	OK:                0,
	Error:             1,
	ReservedAddress:   2,
	UnknownController: 3,
	UnknownPort:       4,
	UnknownMux:        5,
	UnknownSegment:    6,
	BadDeviceHeader:   7,
	BadOperation:      8,
	BadLeaseCount:     9,
	TooMuchData:       10,
	BadBlockLength:    11,
	BusLocked:         12,
	AddressNack:       13,
	DataNack:          14,
	ArbitrationLost:   15,
	MuxMissing:        16,
	BusTimeout:        17,
	BusError:          18,
	StuckBus:          19,
	ControllerDown:    20,
	LeaseRevoked:      21,
	LeaseOverlap:      22,
	LeaseOutOfRange:   23,
	LeasePermission:   24,
	Unsupported:       25,
	InvalidConfig:     26,
	InvalidParams:     27,

	// Runtime-defined statuses sit at the top of the range.
	TaskFault: 0xFFFF_FF00,
	TaskDead:  0xFFFF_FF01,
}

var codeOf = func() map[uint32]Code {
	m := make(map[uint32]Code, len(statusOf))
	for c, s := range statusOf {
		m[s] = c
	}
	return m
}()

// Status returns the wire status for c. Unregistered codes map to Error.
func Status(c Code) uint32 {
	if s, ok := statusOf[c]; ok {
		return s
	}
	return statusOf[Error]
}

// FromStatus is the inverse of Status. Unknown words map to Error.
func FromStatus(s uint32) Code {
	if c, ok := codeOf[s]; ok {
		return c
	}
	return Error
}

// StatusOf is Status(Of(err)).
func StatusOf(err error) uint32 { return Status(Of(err)) }
