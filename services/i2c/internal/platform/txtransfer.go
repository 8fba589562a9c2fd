package platform

import (
	"sync"
	"sync/atomic"

	"tinygo.org/x/drivers"

	"i2cserver-go/errcode"
	"i2cserver-go/types"
	"i2cserver-go/x/logx"
)

// MaxTransfer bounds each phase of a transfer, plus one byte for an SMBus
// block length prefix.
const MaxTransfer = 256

// job is one transfer posted to a controller owner.
type job struct {
	seq   uint64
	addr  uint8
	nw    int
	read  []byte
	block bool
}

// owner hosts the single goroutine allowed to touch one controller.
type owner struct {
	id   types.ControllerID
	hw   drivers.I2C
	reqs chan job
	done chan types.Completion // buffered(1)
	quit chan struct{}

	busy atomic.Bool
	seq  uint64 // written only by BeginTransfer

	mu      sync.Mutex
	aborted uint64

	wbuf [MaxTransfer]byte
	rbuf [MaxTransfer + 1]byte
}

func newOwner(id types.ControllerID, hw drivers.I2C) *owner {
	o := &owner{
		id:   id,
		hw:   hw,
		reqs: make(chan job, 1),
		done: make(chan types.Completion, 1),
		quit: make(chan struct{}),
	}
	go o.loop()
	return o
}

func (o *owner) loop() {
	for {
		select {
		case j := <-o.reqs:
			o.run(j)
		case <-o.quit:
			return
		}
	}
}

func (o *owner) run(j job) {
	defer o.busy.Store(false)

	nr := len(j.read)
	if j.block {
		nr++
	}
	err := o.hw.Tx(uint16(j.addr), o.wbuf[:j.nw], o.rbuf[:nr])

	o.mu.Lock()
	defer o.mu.Unlock()
	if j.seq <= o.aborted {
		return
	}
	c := types.Completion{Err: mapErr(err)}
	if err == nil {
		if j.block {
			c.N = int(o.rbuf[0])
			copy(j.read, o.rbuf[1:1+min(c.N, len(j.read))])
		} else {
			c.N = copy(j.read, o.rbuf[:nr])
		}
	}
	// best-effort post; the arbiter drains before each transfer
	select {
	case o.done <- c:
	default:
	}
}

// mapErr keeps coded errors and folds anything else into BusError.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errcode.Of(err) != errcode.Error {
		return err
	}
	return errcode.Wrap(errcode.BusError, "tx", err)
}

// TxTransfer adapts blocking drivers.I2C buses to the asynchronous
// HardwareTransfer contract: one owner goroutine per controller runs Tx and
// posts the completion.
type TxTransfer struct {
	owners map[types.ControllerID]*owner
}

var _ types.HardwareTransfer = (*TxTransfer)(nil)

func NewTxTransfer(buses map[types.ControllerID]drivers.I2C) *TxTransfer {
	x := &TxTransfer{owners: make(map[types.ControllerID]*owner, len(buses))}
	for id, hw := range buses {
		x.owners[id] = newOwner(id, hw)
	}
	logx.For(logx.ComponentPlatform).Debug("tx transfer ready", "controllers", len(buses))
	return x
}

// BeginTransfer posts t without waiting for the bus. It fails with BusLocked
// while an earlier transfer, aborted or not, still occupies the controller.
func (x *TxTransfer) BeginTransfer(c types.ControllerID, t types.Transfer) error {
	o, ok := x.owners[c]
	if !ok {
		return errcode.UnknownController
	}
	if len(t.Write) > MaxTransfer || len(t.Read) > MaxTransfer {
		return &errcode.E{C: errcode.TooMuchData, Op: "begin_transfer"}
	}
	if !o.busy.CompareAndSwap(false, true) {
		return &errcode.E{C: errcode.BusLocked, Op: "begin_transfer"}
	}
	o.seq++
	j := job{seq: o.seq, addr: t.Addr, nw: copy(o.wbuf[:], t.Write), read: t.Read, block: t.Block}
	o.reqs <- j
	return nil
}

func (x *TxTransfer) Completions(c types.ControllerID) <-chan types.Completion {
	if o, ok := x.owners[c]; ok {
		return o.done
	}
	return nil
}

// Abort disowns the in-flight transfer: its completion is dropped and its
// read buffer is never written after Abort returns.
func (x *TxTransfer) Abort(c types.ControllerID) {
	o, ok := x.owners[c]
	if !ok {
		return
	}
	o.mu.Lock()
	o.aborted = o.seq
	o.mu.Unlock()
}

// Close stops every owner goroutine.
func (x *TxTransfer) Close() {
	for _, o := range x.owners {
		close(o.quit)
	}
}
