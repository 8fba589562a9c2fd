// Package recovery frees a bus held low by a target that lost track of a
// transfer: it bit-bangs SCL until the target releases SDA, then issues a
// stop condition and hands the pins back to the I2C peripheral.
package recovery

import (
	"log/slog"
	"sync"
	"time"

	"i2cserver-go/errcode"
	"i2cserver-go/types"
	"i2cserver-go/x/logx"
)

// MaxPulses bounds the clock pulses of one recovery attempt. Nine pulses let
// any target finish shifting out a byte and its acknowledge bit.
const MaxPulses = 9

// DefaultHalfPeriod gives a 100 kHz recovery clock.
const DefaultHalfPeriod = 5 * time.Microsecond

// PinMap locates the recovery pins of a port.
type PinMap interface {
	Pins(c types.ControllerID, p types.PortIndex) (types.BusPins, bool)
}

type Options struct {
	HalfPeriod time.Duration
	// Delay sleeps for one half period. Tests inject a no-op.
	Delay func(time.Duration)
}

// Result describes one recovery attempt.
type Result struct {
	Pulses   int
	Released bool
}

// Engine owns the recovery statistics of every controller.
type Engine struct {
	pins PinMap
	gpio types.PinControl
	half time.Duration
	wait func(time.Duration)
	log  *slog.Logger

	mu    sync.Mutex
	stats map[types.ControllerID]*types.RecoveryStats
}

func New(pins PinMap, gpio types.PinControl, opts Options) *Engine {
	e := &Engine{
		pins:  pins,
		gpio:  gpio,
		half:  opts.HalfPeriod,
		wait:  opts.Delay,
		log:   logx.For(logx.ComponentRecovery),
		stats: make(map[types.ControllerID]*types.RecoveryStats),
	}
	if e.half <= 0 {
		e.half = DefaultHalfPeriod
	}
	if e.wait == nil {
		e.wait = time.Sleep
	}
	return e
}

// IsStuck reports SDA held low while SCL is high on an idle bus.
func (e *Engine) IsStuck(c types.ControllerID, p types.PortIndex) bool {
	pins, ok := e.pins.Pins(c, p)
	if !ok {
		return false
	}
	return e.gpio.ReadPin(pins.SCL) && !e.gpio.ReadPin(pins.SDA)
}

// Recover runs one bounded attempt: at most MaxPulses clock pulses and one
// stop condition. It fails with StuckBus when SDA is still low after the
// last pulse.
func (e *Engine) Recover(c types.ControllerID, p types.PortIndex) (Result, error) {
	pins, ok := e.pins.Pins(c, p)
	if !ok {
		return Result{}, &errcode.E{C: errcode.UnknownPort, Op: "recover"}
	}

	e.mu.Lock()
	st := e.statsLocked(c)
	st.Attempts++
	e.mu.Unlock()

	res, err := e.run(pins)

	e.mu.Lock()
	st.Pulses += uint32(res.Pulses)
	if err == nil {
		st.Successes++
	} else {
		st.Failures++
	}
	snap := *st
	e.mu.Unlock()

	if err != nil {
		e.log.Warn("recovery failed", "ctrl", c, "port", p, "pulses", res.Pulses,
			"err", err, "attempts", snap.Attempts, "failures", snap.Failures)
		return res, err
	}
	e.log.Info("bus recovered", "ctrl", c, "port", p, "pulses", res.Pulses)
	return res, nil
}

func (e *Engine) run(pins types.BusPins) (res Result, err error) {
	g := e.gpio
	defer func() {
		rerr := g.ConfigurePin(pins.SCL, types.PinPeripheral)
		if serr := g.ConfigurePin(pins.SDA, types.PinPeripheral); rerr == nil {
			rerr = serr
		}
		if err == nil && rerr != nil {
			err = errcode.Wrap(errcode.BusError, "recover", rerr)
		}
	}()

	if err := g.ConfigurePin(pins.SDA, types.PinInput); err != nil {
		return res, errcode.Wrap(errcode.BusError, "recover", err)
	}
	if err := g.ConfigurePin(pins.SCL, types.PinOutputOpenDrain); err != nil {
		return res, errcode.Wrap(errcode.BusError, "recover", err)
	}
	g.SetPin(pins.SCL)

	for res.Pulses < MaxPulses {
		g.ResetPin(pins.SCL)
		e.wait(e.half)
		g.SetPin(pins.SCL)
		e.wait(e.half)
		res.Pulses++
		if g.ReadPin(pins.SDA) {
			res.Released = true
			break
		}
	}

	// Stop condition: SDA rises while SCL is high.
	if err := g.ConfigurePin(pins.SDA, types.PinOutputOpenDrain); err != nil {
		return res, errcode.Wrap(errcode.BusError, "recover", err)
	}
	g.ResetPin(pins.SCL)
	e.wait(e.half)
	g.ResetPin(pins.SDA)
	e.wait(e.half)
	g.SetPin(pins.SCL)
	e.wait(e.half)
	g.SetPin(pins.SDA)
	e.wait(e.half)

	if !res.Released {
		return res, &errcode.E{C: errcode.StuckBus, Op: "recover", Msg: "sda held low"}
	}
	return res, nil
}

func (e *Engine) statsLocked(c types.ControllerID) *types.RecoveryStats {
	st, ok := e.stats[c]
	if !ok {
		st = &types.RecoveryStats{}
		e.stats[c] = st
	}
	return st
}

// Stats returns a copy of a controller's counters.
func (e *Engine) Stats(c types.ControllerID) types.RecoveryStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.stats[c]; ok {
		return *st
	}
	return types.RecoveryStats{}
}
