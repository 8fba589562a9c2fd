// services/i2c/internal/platform/factories_host.go
//go:build !rp2040 && !rp2350

package platform

import (
	"sync"

	"tinygo.org/x/drivers"

	"i2cserver-go/errcode"
	"i2cserver-go/types"
)

// ----------------------------- I²C (host) ------------------------------------

// Target is a simulated device. Tx sees only the bytes addressed to it.
type Target interface {
	Tx(w, r []byte) error
}

// TxRecord is one transaction seen by a SimBus.
type TxRecord struct {
	Addr uint8
	W    []byte
	Rn   int
	Err  error
}

// SimBus implements drivers.I2C over a set of simulated targets, some of them
// behind PCA954x-style multiplexers.
type SimBus struct {
	mu      sync.Mutex
	targets map[uint8]Target
	muxes   map[uint8]*SimMux
	log     []TxRecord

	failNext []error
	hang     chan struct{}
}

var _ drivers.I2C = (*SimBus)(nil)

func NewSimBus() *SimBus {
	return &SimBus{targets: map[uint8]Target{}, muxes: map[uint8]*SimMux{}}
}

// Attach places t directly on the bus.
func (b *SimBus) Attach(addr uint8, t Target) {
	b.mu.Lock()
	b.targets[addr] = t
	b.mu.Unlock()
}

// AddMux places a bitmask multiplexer (PCA9548 family) with n downstream
// segments on the bus.
func (b *SimBus) AddMux(addr uint8, n int) *SimMux { return b.addMux(addr, n, false) }

// AddIndexedMux places a PCA9547-style multiplexer: control bit 3 enables,
// bits 0..2 pick the segment.
func (b *SimBus) AddIndexedMux(addr uint8, n int) *SimMux { return b.addMux(addr, n, true) }

func (b *SimBus) addMux(addr uint8, n int, indexed bool) *SimMux {
	m := &SimMux{segments: make([]map[uint8]Target, n), indexed: indexed}
	for i := range m.segments {
		m.segments[i] = map[uint8]Target{}
	}
	b.mu.Lock()
	b.muxes[addr] = m
	b.mu.Unlock()
	return m
}

// FailNext makes the next transactions fail with errs, in order.
func (b *SimBus) FailNext(errs ...error) {
	b.mu.Lock()
	b.failNext = append(b.failNext, errs...)
	b.mu.Unlock()
}

// Hang makes the next transaction block until Release.
func (b *SimBus) Hang() {
	b.mu.Lock()
	b.hang = make(chan struct{})
	b.mu.Unlock()
}

func (b *SimBus) Release() {
	b.mu.Lock()
	if b.hang != nil {
		close(b.hang)
		b.hang = nil
	}
	b.mu.Unlock()
}

// Log returns a copy of the transactions seen so far.
func (b *SimBus) Log() []TxRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]TxRecord(nil), b.log...)
}

func (b *SimBus) ResetLog() {
	b.mu.Lock()
	b.log = nil
	b.mu.Unlock()
}

func (b *SimBus) Tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	hang := b.hang
	b.mu.Unlock()
	if hang != nil {
		<-hang
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	rec := TxRecord{Addr: uint8(addr), W: append([]byte(nil), w...), Rn: len(r)}
	defer func() { b.log = append(b.log, rec) }()

	if len(b.failNext) > 0 {
		rec.Err = b.failNext[0]
		b.failNext = b.failNext[1:]
		return rec.Err
	}
	if addr > 0x7F {
		rec.Err = errcode.AddressNack
		return rec.Err
	}
	a := uint8(addr)
	if m, ok := b.muxes[a]; ok {
		rec.Err = m.Tx(w, r)
		return rec.Err
	}
	if t, ok := b.targets[a]; ok {
		rec.Err = t.Tx(w, r)
		return rec.Err
	}
	for _, m := range b.muxes {
		if t := m.find(a); t != nil {
			rec.Err = t.Tx(w, r)
			return rec.Err
		}
	}
	rec.Err = errcode.AddressNack
	return rec.Err
}

// SimMux is a one-byte control register switch in front of up to eight
// downstream segments.
type SimMux struct {
	mu       sync.Mutex
	control  byte
	indexed  bool
	segments []map[uint8]Target
	selects  int
}

// Attach places t on segment seg.
func (m *SimMux) Attach(seg int, addr uint8, t Target) {
	m.mu.Lock()
	m.segments[seg][addr] = t
	m.mu.Unlock()
}

func (m *SimMux) Tx(w, r []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(w) > 0 {
		m.control = w[len(w)-1]
		m.selects++
	}
	for i := range r {
		r[i] = m.control
	}
	return nil
}

// Control is the current enable mask.
func (m *SimMux) Control() byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.control
}

// Selects counts control-register writes.
func (m *SimMux) Selects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selects
}

func (m *SimMux) find(addr uint8) Target {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, seg := range m.segments {
		if !m.enabled(i) {
			continue
		}
		if t, ok := seg[addr]; ok {
			return t
		}
	}
	return nil
}

func (m *SimMux) enabled(i int) bool {
	if i >= 8 {
		return false
	}
	if m.indexed {
		return m.control&0x08 != 0 && int(m.control&0x07) == i
	}
	return m.control&(1<<i) != 0
}

// RegisterDevice is a target with a 256-byte register file and an
// auto-incrementing pointer: the first written byte sets the pointer,
// further bytes are stored; reads stream from the pointer.
type RegisterDevice struct {
	mu   sync.Mutex
	Regs [256]byte
	ptr  uint8
}

func (d *RegisterDevice) Tx(w, r []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(w) > 0 {
		d.ptr = w[0]
		for _, v := range w[1:] {
			d.Regs[d.ptr] = v
			d.ptr++
		}
	}
	for i := range r {
		r[i] = d.Regs[d.ptr]
		d.ptr++
	}
	return nil
}

// Set writes registers directly, bypassing the bus.
func (d *RegisterDevice) Set(reg uint8, vals ...byte) {
	d.mu.Lock()
	for i, v := range vals {
		d.Regs[reg+uint8(i)] = v
	}
	d.mu.Unlock()
}

func (d *RegisterDevice) Get(reg uint8) byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Regs[reg]
}

// SHTC3 answers the measure command of a Sensirion SHTC3 with fixed raw
// readings.
type SHTC3 struct {
	mu      sync.Mutex
	RawTemp uint16
	RawHum  uint16
	awake   bool
	cmds    int
}

func (s *SHTC3) Tx(w, r []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(w) == 2 {
		s.cmds++
		switch string(w) {
		case "\x35\x17":
			s.awake = true
			return nil
		case "\xB0\x98":
			s.awake = false
			return nil
		case "\x7C\xA2":
			if !s.awake {
				return errcode.AddressNack
			}
			out := [6]byte{
				byte(s.RawTemp >> 8), byte(s.RawTemp), 0,
				byte(s.RawHum >> 8), byte(s.RawHum), 0,
			}
			copy(r, out[:])
			return nil
		}
	}
	return errcode.DataNack
}

func (s *SHTC3) Awake() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awake
}

// AHT20 answers the status, trigger and read sequence of an Aosong AHT20.
// A triggered conversion reads busy BusyReads times before completing.
type AHT20 struct {
	mu          sync.Mutex
	RawHum      uint32
	RawTemp     uint32
	BusyReads   int
	calibrated  bool
	pendingBusy int
}

func (a *AHT20) Tx(w, r []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	status := byte(0x10)
	if a.calibrated {
		status |= 0x08
	}
	switch {
	case len(w) == 1 && w[0] == 0x71:
		if len(r) > 0 {
			r[0] = status
		}
	case len(w) == 3 && w[0] == 0xBE:
		a.calibrated = true
	case len(w) == 3 && w[0] == 0xAC:
		a.pendingBusy = a.BusyReads
	case len(w) == 1 && w[0] == 0xBA:
		a.calibrated = false
	case len(w) == 0 && len(r) > 0:
		if a.pendingBusy > 0 {
			a.pendingBusy--
			status |= 0x80
		}
		f := [7]byte{
			status,
			byte(a.RawHum >> 12), byte(a.RawHum >> 4), byte(a.RawHum<<4) | byte(a.RawTemp>>16&0x0F),
			byte(a.RawTemp >> 8), byte(a.RawTemp),
		}
		f[6] = sensirionCRC(f[:6])
		copy(r, f[:])
	default:
		return errcode.DataNack
	}
	return nil
}

func sensirionCRC(b []byte) byte {
	c := byte(0xFF)
	for _, v := range b {
		c ^= v
		for i := 0; i < 8; i++ {
			if c&0x80 != 0 {
				c = c<<1 ^ 0x31
			} else {
				c <<= 1
			}
		}
	}
	return c
}

// ----------------------------- GPIO (host) -----------------------------------

// StuckTarget models a device holding SDA low until it has seen enough SCL
// rising edges.
type StuckTarget struct {
	SCL, SDA types.Pin
	// ReleaseAfter is the rising edge count that frees SDA. Above MaxPulses
	// (9) the target never lets go within one recovery attempt.
	ReleaseAfter int

	edges   int
	holding bool
}

// FakeLines implements PinControl for host-side tests with open-drain
// semantics: a line is high unless the controller drives it low or a
// simulated target holds it.
type FakeLines struct {
	mu      sync.Mutex
	modes   map[types.Pin]types.PinMode
	low     map[types.Pin]bool
	targets []*StuckTarget
	rises   map[types.Pin]int
	configs int
}

var _ types.PinControl = (*FakeLines)(nil)

func NewFakeLines() *FakeLines {
	return &FakeLines{
		modes: map[types.Pin]types.PinMode{},
		low:   map[types.Pin]bool{},
		rises: map[types.Pin]int{},
	}
}

// Stick makes a target hold sda low. It lets go after releaseAfter SCL
// rising edges.
func (f *FakeLines) Stick(scl, sda types.Pin, releaseAfter int) *StuckTarget {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &StuckTarget{SCL: scl, SDA: sda, ReleaseAfter: releaseAfter, holding: true}
	f.targets = append(f.targets, t)
	return t
}

func (f *FakeLines) levelLocked(p types.Pin) bool {
	if f.low[p] {
		return false
	}
	for _, t := range f.targets {
		if t.holding && t.SDA == p {
			return false
		}
	}
	return true
}

func (f *FakeLines) ConfigurePin(p types.Pin, m types.PinMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.modes[p] = m
	f.configs++
	if m != types.PinOutputOpenDrain {
		f.low[p] = false
	}
	return nil
}

func (f *FakeLines) ReadPin(p types.Pin) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.levelLocked(p)
}

func (f *FakeLines) SetPin(p types.Pin) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.modes[p] != types.PinOutputOpenDrain {
		return
	}
	was := f.levelLocked(p)
	f.low[p] = false
	if !was && f.levelLocked(p) {
		f.rises[p]++
		for _, t := range f.targets {
			if t.SCL == p && t.holding {
				t.edges++
				if t.edges >= t.ReleaseAfter {
					t.holding = false
				}
			}
		}
	}
}

func (f *FakeLines) ResetPin(p types.Pin) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.modes[p] != types.PinOutputOpenDrain {
		return
	}
	f.low[p] = true
}

// Mode reports the last configured mode of p.
func (f *FakeLines) Mode(p types.Pin) types.PinMode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.modes[p]
}

// Rises counts rising edges driven on p.
func (f *FakeLines) Rises(p types.Pin) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rises[p]
}

// Touched reports whether any pin was ever reconfigured.
func (f *FakeLines) Touched() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configs > 0
}
