package types

// ------------------------
// Hardware collaborators
// ------------------------

// Transfer is one bus transaction handed to the hardware driver: an optional
// write phase followed by an optional repeated-start read phase.
type Transfer struct {
	Addr  uint8
	Write []byte
	Read  []byte
	// Block asks the driver to treat the first received byte as an SMBus
	// length prefix. Read then receives the payload only (no prefix).
	Block bool
}

// Completion is posted by the driver when a transfer finishes.
// Err is nil or one of the protocol/electrical errcode values.
type Completion struct {
	N   int
	Err error
}

// HardwareTransfer is the narrow capability a target implements to move bytes
// on a controller. BeginTransfer must not block on the bus; completion is
// signalled on the controller's notification channel.
type HardwareTransfer interface {
	BeginTransfer(c ControllerID, t Transfer) error
	Completions(c ControllerID) <-chan Completion
	// Abort cancels an in-flight transfer after a timeout. A completion for
	// the aborted transfer may still arrive and must be discarded by the caller.
	Abort(c ControllerID)
}

// PortSelector is implemented by drivers that route one controller to
// several pin sets.
type PortSelector interface {
	SelectPort(c ControllerID, p PortIndex) error
}

// PinMode is the electrical configuration of a GPIO used for bus recovery.
type PinMode uint8

const (
	PinPeripheral     PinMode = iota // owned by the I2C block
	PinInput                         // floating input, external pull-up
	PinOutputOpenDrain               // driven low or released high
)

func (m PinMode) String() string {
	switch m {
	case PinPeripheral:
		return "peripheral"
	case PinInput:
		return "input"
	case PinOutputOpenDrain:
		return "output_od"
	default:
		return "unknown"
	}
}

// Pin is a GPIO number in the platform's numbering scheme.
type Pin uint16

// PinControl is the GPIO service used by bus recovery to bit-bang SCL and
// sample SDA.
type PinControl interface {
	ConfigurePin(p Pin, mode PinMode) error
	ReadPin(p Pin) bool
	SetPin(p Pin)
	ResetPin(p Pin)
}

// BusPins names the two lines of a port.
type BusPins struct {
	SCL Pin
	SDA Pin
}
