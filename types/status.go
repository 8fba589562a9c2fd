package types

// ------------------------
// Controller state (retained diagnostics)
// ------------------------

// ControllerState is the arbiter's per-controller state machine position.
type ControllerState uint8

const (
	StateIdle ControllerState = iota
	StateBusy
	StateError
	StateRecovering
)

func (s ControllerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBusy:
		return "busy"
	case StateError:
		return "error"
	case StateRecovering:
		return "recovering"
	default:
		return "unknown"
	}
}

// RecoveryStats are monotonic counters owned by the recovery engine.
type RecoveryStats struct {
	Attempts  uint32 `cbor:"1,keyasint" json:"attempts"`
	Successes uint32 `cbor:"2,keyasint" json:"successes"`
	Failures  uint32 `cbor:"3,keyasint" json:"failures"`
	Pulses    uint32 `cbor:"4,keyasint" json:"pulses"` // total SCL pulses driven
}

// ControllerStatus is published retained on i2c/ctrl/<id>/status and
// returned by the Stats operation.
type ControllerStatus struct {
	Controller   ControllerID      `cbor:"1,keyasint" json:"controller"`
	State        string            `cbor:"2,keyasint" json:"state"`
	Terminal     bool              `cbor:"3,keyasint,omitempty" json:"terminal,omitempty"`
	Port         uint8             `cbor:"4,keyasint" json:"port"`
	ActiveMux    string            `cbor:"5,keyasint,omitempty" json:"active_mux,omitempty"`
	Transactions uint64            `cbor:"6,keyasint" json:"transactions"`
	Errors       map[string]uint32 `cbor:"7,keyasint,omitempty" json:"errors,omitempty"`
	LastOpMs     int64             `cbor:"8,keyasint" json:"last_op_ms"`
	Recovery     RecoveryStats     `cbor:"9,keyasint" json:"recovery"`
}

// RecoveryEvent is published (not retained) after each recovery attempt.
type RecoveryEvent struct {
	Controller ControllerID `json:"controller"`
	OK         bool         `json:"ok"`
	Pulses     int          `json:"pulses"`
	Auto       bool         `json:"auto"`
	TSms       int64        `json:"ts_ms"`
}
