// Package arbiter owns the per-controller state machines. An Arbiter is
// confined to the server loop goroutine: nothing in it locks.
//
//	Idle --start--> Busy --complete--> Idle
//	Busy --electrical failure/timeout--> Error
//	Error --recover--> Recovering --ok--> Idle
//	Recovering --failed--> Error (terminal until Reset)
package arbiter

import (
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"i2cserver-go/errcode"
	"i2cserver-go/services/i2c/internal/muxdrv"
	"i2cserver-go/services/i2c/internal/recovery"
	"i2cserver-go/services/i2c/internal/topology"
	"i2cserver-go/types"
	"i2cserver-go/x/logx"
)

const DefaultTimeout = 100 * time.Millisecond

// Recoverer is the bus recovery engine as seen by the arbiter.
type Recoverer interface {
	IsStuck(c types.ControllerID, p types.PortIndex) bool
	Recover(c types.ControllerID, p types.PortIndex) (recovery.Result, error)
	Stats(c types.ControllerID) types.RecoveryStats
}

// Observer is told about everything worth publishing. Calls happen on the
// arbiter's goroutine and must not block.
type Observer interface {
	StateChanged(c types.ControllerID, from, to types.ControllerState, terminal bool)
	Transaction(c types.ControllerID, op types.OpKind, err error, elapsed time.Duration)
	Recovery(ev types.RecoveryEvent, err error)
}

type nopObserver struct{}

func (nopObserver) StateChanged(types.ControllerID, types.ControllerState, types.ControllerState, bool) {
}
func (nopObserver) Transaction(types.ControllerID, types.OpKind, error, time.Duration) {}
func (nopObserver) Recovery(types.RecoveryEvent, error)                              {}

type Options struct {
	DefaultTimeout time.Duration
	// AutoRecoverEvery and AutoRecoverBurst pace automatic recovery per
	// controller. Zero AutoRecoverEvery disables it: a controller in Error
	// then needs an explicit Recover.
	AutoRecoverEvery time.Duration
	AutoRecoverBurst int
	Ports            types.PortSelector // optional
	Observer         Observer           // optional
	Now              func() time.Time   // optional
}

type muxCache struct {
	valid bool
	port  types.PortIndex
	id    types.MuxID
	seg   types.SegmentID
	addr  uint8
	off   byte
}

// controller is one arena slot; its index matches the topology table.
type controller struct {
	id       types.ControllerID
	state    types.ControllerState
	terminal bool

	port      types.PortIndex
	portValid bool
	mux       muxCache

	transactions uint64
	errors       map[errcode.Code]uint32
	lastOpMs     int64

	limiter *rate.Limiter
	timer   *time.Timer

	ctl  [1]byte
	wbuf [MaxTransfer]byte
	rbuf [MaxTransfer]byte
}

type Arbiter struct {
	topo   *topology.Resolver
	hw     types.HardwareTransfer
	rec    Recoverer
	ports  types.PortSelector
	obs    Observer
	now    func() time.Time
	tmo    time.Duration
	log    *slog.Logger
	ctrls  []controller
	models map[string]muxdrv.Model
}

// New validates the mux models of topo and allocates one controller slot per
// configured controller.
func New(topo *topology.Resolver, hw types.HardwareTransfer, rec Recoverer, opts Options) (*Arbiter, error) {
	a := &Arbiter{
		topo:   topo,
		hw:     hw,
		rec:    rec,
		ports:  opts.Ports,
		obs:    opts.Observer,
		now:    opts.Now,
		tmo:    opts.DefaultTimeout,
		log:    logx.For(logx.ComponentArbiter),
		models: map[string]muxdrv.Model{},
	}
	if a.obs == nil {
		a.obs = nopObserver{}
	}
	if a.now == nil {
		a.now = time.Now
	}
	if a.tmo <= 0 {
		a.tmo = DefaultTimeout
	}

	for _, mc := range topo.Muxes() {
		m, err := muxdrv.Lookup(mc.Model)
		if err != nil {
			return nil, err
		}
		if err := m.Check(mc.Segments); err != nil {
			return nil, err
		}
		a.models[mc.Model] = m
	}

	ids := topo.Controllers()
	a.ctrls = make([]controller, len(ids))
	for i, id := range ids {
		c := &a.ctrls[i]
		c.id = id
		c.errors = make(map[errcode.Code]uint32)
		c.timer = time.NewTimer(time.Hour)
		c.timer.Stop()
		if opts.AutoRecoverEvery > 0 {
			burst := opts.AutoRecoverBurst
			if burst <= 0 {
				burst = 1
			}
			c.limiter = rate.NewLimiter(rate.Every(opts.AutoRecoverEvery), burst)
		}
	}
	return a, nil
}

// Topology exposes the resolver built from the static tables.
func (a *Arbiter) Topology() *topology.Resolver { return a.topo }

func (a *Arbiter) lookup(id types.ControllerID) (*controller, error) {
	i, ok := a.topo.IndexOf(id)
	if !ok {
		return nil, errcode.UnknownController
	}
	return &a.ctrls[i], nil
}

func (a *Arbiter) setState(c *controller, to types.ControllerState) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	if to == types.StateError {
		a.log.Warn("controller error", "ctrl", c.id, "terminal", c.terminal)
	} else {
		a.log.Debug("state", "ctrl", c.id, "from", from, "to", to)
	}
	a.obs.StateChanged(c.id, from, to, c.terminal)
}

func (a *Arbiter) count(c *controller, err error) {
	c.lastOpMs = a.now().UnixMilli()
	if err == nil {
		c.transactions++
		return
	}
	c.errors[errcode.Of(err)]++
}

// Execute runs one transaction to completion. It never queues: a controller
// that is not Idle rejects the request.
func (a *Arbiter) Execute(req *Request) (n int, err error) {
	start := a.now()
	path, err := a.topo.Resolve(req.Device)
	if err != nil {
		return 0, err
	}
	if err := req.validate(); err != nil {
		return 0, err
	}
	c := &a.ctrls[path.Index]
	defer func() { a.obs.Transaction(c.id, req.Op, err, a.now().Sub(start)) }()

	if err := a.admit(c, path.Port); err != nil {
		a.count(c, err)
		return 0, err
	}

	if a.rec.IsStuck(c.id, path.Port) {
		a.setState(c, types.StateError)
		a.count(c, errcode.StuckBus)
		_ = a.autoRecover(c, path.Port)
		return 0, errcode.StuckBus
	}

	a.setState(c, types.StateBusy)
	n, err = a.run(c, &path, req)
	a.finish(c, err)
	return n, err
}

// admit checks the state machine before touching the bus.
func (a *Arbiter) admit(c *controller, port types.PortIndex) error {
	switch c.state {
	case types.StateIdle:
		return nil
	case types.StateBusy, types.StateRecovering:
		return errcode.BusLocked
	default:
		if c.terminal {
			return errcode.ControllerDown
		}
		return a.autoRecover(c, port)
	}
}

func (a *Arbiter) autoRecover(c *controller, port types.PortIndex) error {
	if c.terminal || c.limiter == nil || !c.limiter.AllowN(a.now(), 1) {
		return errcode.ControllerDown
	}
	return a.recover(c, port, true)
}

func (a *Arbiter) run(c *controller, path *topology.Path, req *Request) (int, error) {
	tmo := req.Timeout
	if tmo <= 0 {
		tmo = a.tmo
	}
	if err := a.selectPort(c, path.Port); err != nil {
		return 0, err
	}
	if path.Mux.Present {
		if err := a.selectMux(c, path, tmo); err != nil {
			return 0, err
		}
	}
	total := 0
	for _, p := range req.Pairs {
		n, err := a.transfer(c, path.Address, p, req.Op == types.OpWriteReadBlock, tmo)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (a *Arbiter) finish(c *controller, err error) {
	a.count(c, err)
	if err != nil && errcode.ClassOf(errcode.Of(err)) == errcode.ClassElectrical {
		a.setState(c, types.StateError)
		return
	}
	a.setState(c, types.StateIdle)
}

func (a *Arbiter) selectPort(c *controller, p types.PortIndex) error {
	if c.portValid && c.port == p {
		return nil
	}
	if a.ports != nil {
		if err := a.ports.SelectPort(c.id, p); err != nil {
			c.portValid = false
			return err
		}
	}
	c.port, c.portValid = p, true
	c.mux.valid = false
	return nil
}

func (a *Arbiter) selectMux(c *controller, path *topology.Path, tmo time.Duration) error {
	hop := &path.Mux
	if c.mux.valid && c.mux.port == path.Port && c.mux.id == hop.ID && c.mux.seg == hop.Segment {
		return nil
	}
	m := a.models[hop.Model]
	ctl, err := m.Control(hop.Segment)
	if err != nil {
		return err
	}

	// Another mux on this port may still have a segment open.
	if c.mux.valid && c.mux.port == path.Port && c.mux.id != hop.ID {
		c.ctl[0] = c.mux.off
		if _, err := a.raw(c, c.mux.addr, c.ctl[:], 0, false, tmo); err != nil {
			c.mux.valid = false
			return muxErr(err)
		}
	}

	c.mux.valid = false
	c.ctl[0] = ctl
	if _, err := a.raw(c, hop.Address, c.ctl[:], 0, false, tmo); err != nil {
		return muxErr(err)
	}
	c.mux = muxCache{valid: true, port: path.Port, id: hop.ID, seg: hop.Segment, addr: hop.Address, off: m.Off()}
	return nil
}

func muxErr(err error) error {
	if errcode.Of(err) == errcode.AddressNack {
		return &errcode.E{C: errcode.MuxMissing, Op: "mux_select", Err: err}
	}
	return err
}

func (a *Arbiter) transfer(c *controller, addr uint8, p Pair, block bool, tmo time.Duration) (int, error) {
	nw := 0
	if p.Write != nil {
		nw = p.Write.Len()
		if _, err := p.Write.ReadAt(c.wbuf[:nw], 0); err != nil {
			return 0, err
		}
	}
	nr := 0
	if p.Read != nil {
		nr = p.Read.Len()
	}

	n, err := a.raw(c, addr, c.wbuf[:nw], nr, block, tmo)
	if err != nil {
		return 0, err
	}
	if block && n > nr {
		return 0, errcode.BadBlockLength
	}
	if n > nr {
		n = nr
	}
	if n > 0 {
		if _, err := p.Read.WriteAt(c.rbuf[:n], 0); err != nil {
			return 0, err
		}
	}
	return n, nil
}

// raw runs one hardware transfer bounded by tmo. The read phase lands in the
// controller's scratch buffer.
func (a *Arbiter) raw(c *controller, addr uint8, w []byte, nr int, block bool, tmo time.Duration) (int, error) {
	done := a.hw.Completions(c.id)
	for {
		select {
		case <-done:
			continue
		default:
		}
		break
	}

	t := types.Transfer{Addr: addr, Write: w, Read: c.rbuf[:nr], Block: block}
	if err := a.hw.BeginTransfer(c.id, t); err != nil {
		return 0, err
	}

	c.timer.Reset(tmo)
	select {
	case comp := <-done:
		c.timer.Stop()
		if comp.Err != nil {
			return 0, comp.Err
		}
		return comp.N, nil
	case <-c.timer.C:
		a.hw.Abort(c.id)
		return 0, &errcode.E{C: errcode.BusTimeout, Op: "transfer"}
	}
}

// Recover is the explicit recovery request. On an Idle controller it is a
// no-op that does not touch the pins.
func (a *Arbiter) Recover(id types.ControllerID) error {
	c, err := a.lookup(id)
	if err != nil {
		return err
	}
	switch c.state {
	case types.StateIdle:
		return nil
	case types.StateBusy, types.StateRecovering:
		return errcode.BusLocked
	}
	if c.terminal {
		return errcode.ControllerDown
	}
	return a.recover(c, a.currentPort(c), false)
}

func (a *Arbiter) currentPort(c *controller) types.PortIndex {
	if c.portValid {
		return c.port
	}
	p, _ := a.topo.DefaultPort(c.id)
	return p
}

func (a *Arbiter) recover(c *controller, port types.PortIndex, auto bool) error {
	a.setState(c, types.StateRecovering)
	res, err := a.rec.Recover(c.id, port)
	c.mux.valid = false

	ev := types.RecoveryEvent{Controller: c.id, OK: err == nil, Pulses: res.Pulses, Auto: auto, TSms: a.now().UnixMilli()}
	if err != nil {
		c.terminal = true
		a.setState(c, types.StateError)
		a.obs.Recovery(ev, err)
		return err
	}
	a.setState(c, types.StateIdle)
	a.obs.Recovery(ev, nil)
	return nil
}

// Reset forces a controller back to Idle, clearing a terminal failure and
// the mux cache.
func (a *Arbiter) Reset(id types.ControllerID) error {
	c, err := a.lookup(id)
	if err != nil {
		return err
	}
	if c.state == types.StateBusy {
		return errcode.BusLocked
	}
	a.hw.Abort(c.id)
	c.terminal = false
	c.mux.valid = false
	a.setState(c, types.StateIdle)
	a.log.Info("controller reset", "ctrl", c.id)
	return nil
}

// Fault is called when the serving loop crashed mid-call. Any controller
// left Busy has an orphaned transfer: it is aborted and the controller moves
// to Error.
func (a *Arbiter) Fault() {
	for i := range a.ctrls {
		c := &a.ctrls[i]
		if c.state != types.StateBusy {
			continue
		}
		a.hw.Abort(c.id)
		c.mux.valid = false
		c.errors[errcode.TaskFault]++
		a.setState(c, types.StateError)
	}
}

// State reports a controller's state and terminal flag.
func (a *Arbiter) State(id types.ControllerID) (types.ControllerState, bool, error) {
	c, err := a.lookup(id)
	if err != nil {
		return 0, false, err
	}
	return c.state, c.terminal, nil
}

// Snapshot is the diagnostic view of a controller.
func (a *Arbiter) Snapshot(id types.ControllerID) (types.ControllerStatus, error) {
	c, err := a.lookup(id)
	if err != nil {
		return types.ControllerStatus{}, err
	}
	st := types.ControllerStatus{
		Controller:   c.id,
		State:        c.state.String(),
		Terminal:     c.terminal,
		Port:         uint8(a.currentPort(c)),
		Transactions: c.transactions,
		LastOpMs:     c.lastOpMs,
		Recovery:     a.rec.Stats(c.id),
	}
	if c.mux.valid {
		st.ActiveMux = types.Seg(c.mux.id, c.mux.seg).String()
	}
	if len(c.errors) > 0 {
		st.Errors = make(map[string]uint32, len(c.errors))
		for code, n := range c.errors {
			st.Errors[string(code)] = n
		}
	}
	return st, nil
}

// Controllers lists controllers in table order.
func (a *Arbiter) Controllers() []types.ControllerID { return a.topo.Controllers() }
