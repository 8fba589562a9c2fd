package i2c

import (
	"time"

	"tinygo.org/x/drivers"

	"i2cserver-go/errcode"
	"i2cserver-go/ipc"
	"i2cserver-go/services/i2c/internal/arbiter"
	"i2cserver-go/services/i2c/internal/wire"
	"i2cserver-go/types"
)

// MaxTransfer bounds each write or read phase of a Device call.
const MaxTransfer = arbiter.MaxTransfer

// ErrorKind is the coarse classification drivers usually care about.
type ErrorKind uint8

const (
	KindOther ErrorKind = iota
	KindNoAcknowledgeAddress
	KindNoAcknowledgeData
	KindBus
	KindArbitrationLoss
)

func (k ErrorKind) String() string {
	switch k {
	case KindNoAcknowledgeAddress:
		return "no_ack_address"
	case KindNoAcknowledgeData:
		return "no_ack_data"
	case KindBus:
		return "bus"
	case KindArbitrationLoss:
		return "arbitration_loss"
	default:
		return "other"
	}
}

// Error is what a Device returns for a failed call.
type Error struct {
	Code errcode.Code
	Op   string
}

func (e *Error) Error() string { return "i2c " + e.Op + ": " + string(e.Code) }

// Unwrap exposes the code to errors.Is and errcode.Of.
func (e *Error) Unwrap() error { return e.Code }

func (e *Error) Kind() ErrorKind {
	switch e.Code {
	case errcode.AddressNack, errcode.MuxMissing:
		return KindNoAcknowledgeAddress
	case errcode.DataNack:
		return KindNoAcknowledgeData
	case errcode.BusError, errcode.BusTimeout, errcode.StuckBus, errcode.ControllerDown:
		return KindBus
	case errcode.ArbitrationLost:
		return KindArbitrationLoss
	default:
		return KindOther
	}
}

func (e *Error) IsDeviceNotFound() bool { return errcode.IsDeviceNotFound(e.Code) }
func (e *Error) IsTemporary() bool      { return errcode.IsTemporary(e.Code) }

func (e *Error) RetryDelay() (time.Duration, bool) { return errcode.RetryDelay(e.Code) }

// Device is a client task's handle for one target. It shares the task's
// single call slot, so like the ipc.Client it is not safe for concurrent use.
type Device struct {
	cli    *ipc.Client
	server ipc.TaskID
	id     types.DeviceIdentity
	hdr    [wire.HeaderLen]byte
	ctl    [wire.HeaderLen]byte
	cnt    [wire.CountLen]byte
	one    [1]byte
	two    [2]byte
	frame  [MaxTransfer]byte
	status [wire.MaxStatusLen]byte
}

var _ drivers.I2C = (*Device)(nil)

// NewDevice binds a client task to a device served by the server task.
func NewDevice(cli *ipc.Client, server ipc.TaskID, id types.DeviceIdentity) (*Device, error) {
	d := &Device{cli: cli, server: server, id: id}
	if err := wire.Encode(d.hdr[:], id); err != nil {
		return nil, err
	}
	d.ctl = wire.ControllerHeader(id.Controller)
	return d, nil
}

// NewSimple binds a device on the default port of c with no multiplexer.
func NewSimple(cli *ipc.Client, server ipc.TaskID, c types.ControllerID, addr SevenBitAddr) *Device {
	d, _ := NewDevice(cli, server, types.Device(c, uint8(addr)))
	return d
}

func (d *Device) Identity() types.DeviceIdentity { return d.id }

func (d *Device) call(name string, op wire.Op, hdr []byte, leases ...ipc.Lease) (int, error) {
	st, n := d.cli.Call(d.server, uint16(op), hdr, d.cnt[:], leases...)
	if st != 0 {
		return 0, &Error{Code: errcode.FromStatus(st), Op: name}
	}
	cnt, err := wire.Count(d.cnt[:n])
	if err != nil {
		return 0, &Error{Code: errcode.Of(err), Op: name}
	}
	return cnt, nil
}

// Write sends w in one write transaction.
func (d *Device) Write(w []byte) error {
	_, err := d.call("write", wire.OpWriteRead, d.hdr[:], ipc.ReadOnly(w))
	return err
}

// Read fills r in one read transaction and returns the bytes received.
func (d *Device) Read(r []byte) (int, error) {
	return d.call("read", wire.OpWriteRead, d.hdr[:], ipc.WriteOnly(r))
}

// WriteRead writes w then, after a repeated start, reads into r.
func (d *Device) WriteRead(w, r []byte) (int, error) {
	switch {
	case len(w) == 0 && len(r) == 0:
		return 0, &Error{Code: errcode.InvalidParams, Op: "write_read"}
	case len(w) == 0:
		return d.Read(r)
	case len(r) == 0:
		return 0, d.Write(w)
	}
	return d.call("write_read", wire.OpWriteRead, d.hdr[:], ipc.ReadOnly(w), ipc.WriteOnly(r))
}

// ReadReg reads one register.
func (d *Device) ReadReg(reg uint8) (byte, error) {
	d.two[0] = reg
	if _, err := d.call("read_register", wire.OpWriteRead, d.hdr[:],
		ipc.ReadOnly(d.two[:1]), ipc.WriteOnly(d.one[:])); err != nil {
		return 0, err
	}
	return d.one[0], nil
}

// ReadRegInto reads len(r) bytes starting at reg.
func (d *Device) ReadRegInto(reg uint8, r []byte) error {
	d.two[0] = reg
	_, err := d.call("optimized_register_read", wire.OpWriteRead, d.hdr[:],
		ipc.ReadOnly(d.two[:1]), ipc.WriteOnly(r))
	return err
}

// WriteReg writes one register.
func (d *Device) WriteReg(reg, v uint8) error {
	d.two[0], d.two[1] = reg, v
	_, err := d.call("write_register", wire.OpWriteRead, d.hdr[:], ipc.ReadOnly(d.two[:]))
	return err
}

// ReadBlock issues an SMBus block read of cmd. The length prefix is stripped;
// the returned count is the block length.
func (d *Device) ReadBlock(cmd uint8, r []byte) (int, error) {
	d.two[0] = cmd
	return d.call("smbus_block_read", wire.OpWriteReadBlock, d.hdr[:],
		ipc.ReadOnly(d.two[:1]), ipc.WriteOnly(r))
}

// Tx implements drivers.I2C so TinyGo drivers can run over the server. addr
// must be the bound device's address.
func (d *Device) Tx(addr uint16, w, r []byte) error {
	if addr != uint16(d.id.Address) {
		return &Error{Code: errcode.InvalidParams, Op: "tx"}
	}
	_, err := d.WriteRead(w, r)
	return err
}

// Tx10 runs a transfer to a 10-bit target through the bound device's
// channel. The two address frame bytes precede w in the write phase.
func (d *Device) Tx10(addr TenBitAddr, w, r []byte) error {
	if len(w)+2 > MaxTransfer {
		return &Error{Code: errcode.TooMuchData, Op: "tx10"}
	}
	f := addr.Frame()
	n := copy(d.frame[:], f[:])
	n += copy(d.frame[n:], w)
	if len(r) == 0 {
		_, err := d.call("tx10", wire.OpWriteRead, d.hdr[:], ipc.ReadOnly(d.frame[:n]))
		return err
	}
	_, err := d.call("tx10", wire.OpWriteRead, d.hdr[:], ipc.ReadOnly(d.frame[:n]), ipc.WriteOnly(r))
	return err
}

// Recover asks the server to recover the device's controller.
func (d *Device) Recover() error {
	_, err := d.call("recover", wire.OpRecover, d.ctl[:])
	return err
}

// Reset clears a terminal controller failure.
func (d *Device) Reset() error {
	_, err := d.call("reset", wire.OpReset, d.ctl[:])
	return err
}

// Stats fetches the controller's diagnostic snapshot.
func (d *Device) Stats() (types.ControllerStatus, error) {
	n, err := d.call("stats", wire.OpStats, d.ctl[:], ipc.WriteOnly(d.status[:]))
	if err != nil {
		return types.ControllerStatus{}, err
	}
	st, err := wire.DecodeStatus(d.status[:n])
	if err != nil {
		return st, &Error{Code: errcode.Of(err), Op: "stats"}
	}
	return st, nil
}
