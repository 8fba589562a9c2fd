//go:build rp2040 || rp2350

package platform

import (
	"machine"

	"tinygo.org/x/drivers"

	"i2cserver-go/errcode"
	"i2cserver-go/types"
)

// ----------------------------- I²C (RP2) -------------------------------------

// Port is one pin pair a controller may be routed to.
type Port struct {
	Index types.PortIndex
	Pins  types.BusPins
}

// RP2Buses owns the RP2 I²C blocks. Controller 0 is i2c0 and controller 1 is
// i2c1. Each controller may be routed to several pin pairs.
type RP2Buses struct {
	freq  uint32
	buses map[types.ControllerID]*machine.I2C
	ports map[types.ControllerID][]Port
}

var _ types.PortSelector = (*RP2Buses)(nil)

// NewRP2Buses configures each listed controller on its first port.
func NewRP2Buses(freqHz uint32, ports map[types.ControllerID][]Port) (*RP2Buses, error) {
	if freqHz == 0 {
		freqHz = 400 * machine.KHz
	}
	r := &RP2Buses{freq: freqHz, buses: map[types.ControllerID]*machine.I2C{}, ports: ports}
	for c, ps := range ports {
		var b *machine.I2C
		switch c {
		case 0:
			b = machine.I2C0
		case 1:
			b = machine.I2C1
		default:
			return nil, &errcode.E{C: errcode.UnknownController, Op: "rp2 i2c"}
		}
		if len(ps) == 0 {
			return nil, &errcode.E{C: errcode.InvalidConfig, Op: "rp2 i2c", Msg: "controller without ports"}
		}
		if err := r.configure(b, ps[0].Pins); err != nil {
			return nil, err
		}
		r.buses[c] = b
	}
	return r, nil
}

func (r *RP2Buses) configure(b *machine.I2C, p types.BusPins) error {
	return b.Configure(machine.I2CConfig{
		Frequency: r.freq,
		SDA:       machine.Pin(p.SDA),
		SCL:       machine.Pin(p.SCL),
	})
}

// Transfer wraps the buses for the arbiter.
func (r *RP2Buses) Transfer() *TxTransfer {
	m := make(map[types.ControllerID]drivers.I2C, len(r.buses))
	for c, b := range r.buses {
		m[c] = b
	}
	return NewTxTransfer(m)
}

// SelectPort re-routes controller c. The arbiter only calls it between
// transfers.
func (r *RP2Buses) SelectPort(c types.ControllerID, p types.PortIndex) error {
	b, ok := r.buses[c]
	if !ok {
		return errcode.UnknownController
	}
	for _, port := range r.ports[c] {
		if port.Index == p {
			return r.configure(b, port.Pins)
		}
	}
	return errcode.UnknownPort
}

// ----------------------------- GPIO (RP2) ------------------------------------

// RP2Lines drives recovery pins. Open drain is emulated: a released line is
// an input with pull-up, a driven line is an output held low.
type RP2Lines struct{}

var _ types.PinControl = RP2Lines{}

func (RP2Lines) ConfigurePin(p types.Pin, m types.PinMode) error {
	if p > 29 {
		return errcode.InvalidParams
	}
	pin := machine.Pin(p)
	switch m {
	case types.PinPeripheral:
		pin.Configure(machine.PinConfig{Mode: machine.PinI2C})
	case types.PinInput:
		pin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	case types.PinOutputOpenDrain:
		pin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	default:
		return errcode.InvalidParams
	}
	return nil
}

func (RP2Lines) ReadPin(p types.Pin) bool { return machine.Pin(p).Get() }

func (RP2Lines) SetPin(p types.Pin) {
	machine.Pin(p).Configure(machine.PinConfig{Mode: machine.PinInputPullup})
}

func (RP2Lines) ResetPin(p types.Pin) {
	pin := machine.Pin(p)
	pin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	pin.Low()
}
