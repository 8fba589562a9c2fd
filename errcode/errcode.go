package errcode

import (
	"errors"
	"time"
)

// Code is a stable, wire-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK    Code = "ok"
	Error Code = "error" // generic fallback

	// Configuration: rejected before any hardware access.
	ReservedAddress   Code = "reserved_address"
	UnknownController Code = "unknown_controller"
	UnknownPort       Code = "unknown_port"
	UnknownMux        Code = "unknown_mux"
	UnknownSegment    Code = "unknown_segment"
	BadDeviceHeader   Code = "bad_device_header"
	BadOperation      Code = "bad_operation"
	BadLeaseCount     Code = "bad_lease_count"
	TooMuchData       Code = "too_much_data"
	BadBlockLength    Code = "bad_block_length"
	InvalidConfig     Code = "invalid_config"
	InvalidParams     Code = "invalid_params"

	// Concurrency.
	BusLocked Code = "bus_locked"

	// Protocol (hardware-reported).
	AddressNack     Code = "address_nack"
	DataNack        Code = "data_nack"
	ArbitrationLost Code = "arbitration_lost"
	MuxMissing      Code = "mux_missing"

	// Electrical.
	BusTimeout     Code = "bus_timeout"
	BusError       Code = "bus_error"
	StuckBus       Code = "stuck_bus"
	ControllerDown Code = "controller_down"

	// Lease / transport.
	TaskFault       Code = "task_fault"
	TaskDead        Code = "task_dead"
	LeaseRevoked    Code = "lease_revoked"
	LeaseOverlap    Code = "lease_overlap"
	LeaseOutOfRange Code = "lease_out_of_range"
	LeasePermission Code = "lease_permission"
	Unsupported     Code = "unsupported"
)

// Class groups codes by how a caller is expected to react.
type Class uint8

const (
	ClassNone Class = iota
	ClassConfiguration
	ClassConcurrency
	ClassProtocol
	ClassElectrical
	ClassTransport
	ClassOther
)

func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassConfiguration:
		return "configuration"
	case ClassConcurrency:
		return "concurrency"
	case ClassProtocol:
		return "protocol"
	case ClassElectrical:
		return "electrical"
	case ClassTransport:
		return "transport"
	default:
		return "other"
	}
}

// ClassOf reports the class of a code.
func ClassOf(c Code) Class {
	switch c {
	case OK:
		return ClassNone
	case ReservedAddress, UnknownController, UnknownPort, UnknownMux, UnknownSegment,
		BadDeviceHeader, BadOperation, BadLeaseCount, TooMuchData, BadBlockLength,
		InvalidConfig, InvalidParams, Unsupported:
		return ClassConfiguration
	case BusLocked:
		return ClassConcurrency
	case AddressNack, DataNack, ArbitrationLost, MuxMissing:
		return ClassProtocol
	case BusTimeout, BusError, StuckBus, ControllerDown:
		return ClassElectrical
	case TaskFault, TaskDead, LeaseRevoked, LeaseOverlap, LeaseOutOfRange, LeasePermission:
		return ClassTransport
	default:
		return ClassOther
	}
}

// IsUnknownComponent reports whether c names a component missing from the
// static topology.
func IsUnknownComponent(c Code) bool {
	switch c {
	case UnknownController, UnknownPort, UnknownMux, UnknownSegment:
		return true
	}
	return false
}

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is lets errors.Is(err, SomeCode) match a wrapped E.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// Wrap attaches an operation name to a code.
func Wrap(c Code, op string, cause error) error {
	return &E{C: c, Op: op, Err: cause}
}

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	switch e := err.(type) {
	case nil:
		return OK
	case Code:
		return e
	case *E:
		return e.C
	}
	// The outermost E wins over any code it wraps.
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Error
}

// IsDeviceNotFound reports codes that mean nothing answered at the address.
func IsDeviceNotFound(c Code) bool {
	return c == AddressNack || c == MuxMissing
}

// IsTemporary reports codes a caller may reasonably retry.
func IsTemporary(c Code) bool {
	switch c {
	case BusLocked, BusTimeout, ArbitrationLost:
		return true
	}
	return false
}

// RetryDelay suggests a pause before retrying a temporary error.
func RetryDelay(c Code) (time.Duration, bool) {
	switch c {
	case BusLocked:
		return 10 * time.Millisecond, true
	case BusTimeout:
		return 100 * time.Millisecond, true
	case ArbitrationLost:
		return time.Millisecond, true
	}
	return 0, false
}
