// Package i2c is the bus server and its client side. A Server owns every
// configured controller and answers lease calls on one ipc endpoint; a Device
// is a client task's handle for one target.
package i2c

import (
	"context"
	"log/slog"
	"time"

	"i2cserver-go/bus"
	"i2cserver-go/errcode"
	"i2cserver-go/ipc"
	"i2cserver-go/services/i2c/internal/arbiter"
	"i2cserver-go/services/i2c/internal/metrics"
	"i2cserver-go/services/i2c/internal/recovery"
	"i2cserver-go/services/i2c/internal/topology"
	"i2cserver-go/services/i2c/internal/wire"
	"i2cserver-go/types"
	"i2cserver-go/x/logx"
)

// Static topology, re-exported for configuration loaders.
type (
	Topology         = topology.Config
	ControllerConfig = topology.ControllerConfig
	PortConfig       = topology.PortConfig
	MuxConfig        = topology.MuxConfig
)

// Config is the static server configuration.
type Config struct {
	Topology         Topology
	DefaultTimeout   time.Duration
	AutoRecoverEvery time.Duration
	AutoRecoverBurst int
	RecoveryHalf     time.Duration
}

// Options wires optional collaborators.
type Options struct {
	Bus      *bus.Bus           // diagnostics; nil disables publishing
	Metrics  *metrics.Collector // nil disables metrics
	Ports    types.PortSelector
	Diag     *ipc.Client // serves bus commands through the endpoint
	Now      func() time.Time
	PinDelay func(time.Duration) // recovery half-period sleep
}

type Server struct {
	ep   *ipc.Endpoint
	arb  *arbiter.Arbiter
	rec  *recovery.Engine
	conn *bus.Connection
	met  *metrics.Collector
	diag *ipc.Client
	log  *slog.Logger

	// per-call scratch; the endpoint runs one call at a time
	in      [ipc.MaxMessage]byte
	cnt     [wire.CountLen]byte
	stat    [wire.MaxStatusLen]byte
	borrows [ipc.MaxLeases]ipc.Borrow
	pairs   [arbiter.MaxPairs]arbiter.Pair
	req     arbiter.Request
}

// NewServer builds the topology, recovery engine and arbiter for cfg and
// binds them to ep.
func NewServer(ep *ipc.Endpoint, cfg Config, hw types.HardwareTransfer, gpio types.PinControl, opts Options) (*Server, error) {
	topo, err := topology.New(cfg.Topology)
	if err != nil {
		return nil, err
	}
	s := &Server{
		ep:   ep,
		met:  opts.Metrics,
		diag: opts.Diag,
		log:  logx.For(logx.ComponentServer),
	}
	if opts.Bus != nil {
		s.conn = opts.Bus.NewConnection("i2c-server")
	}
	s.rec = recovery.New(topo, gpio, recovery.Options{HalfPeriod: cfg.RecoveryHalf, Delay: opts.PinDelay})
	s.arb, err = arbiter.New(topo, hw, s.rec, arbiter.Options{
		DefaultTimeout:   cfg.DefaultTimeout,
		AutoRecoverEvery: cfg.AutoRecoverEvery,
		AutoRecoverBurst: cfg.AutoRecoverBurst,
		Ports:            opts.Ports,
		Observer:         events{s},
		Now:              opts.Now,
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Run starts the bus command bridge when configured, publishes the initial
// status of every controller, and serves calls until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	if s.conn != nil && s.diag != nil {
		ready := make(chan struct{})
		go s.bridge(ctx, ready)
		<-ready
	}
	for _, c := range s.arb.Controllers() {
		s.publishStatus(c)
	}
	s.log.Info("serving", "task", s.ep.Name(), "controllers", len(s.arb.Controllers()))
	return s.ep.Serve(ctx, s)
}

// Handle implements ipc.Handler.
func (s *Server) Handle(m *ipc.Message) {
	op := wire.Op(m.Op())
	defer func() {
		if r := recover(); r != nil {
			s.arb.Fault()
			if s.met != nil {
				s.met.RecordCall(op.String(), errcode.TaskFault)
			}
			panic(r)
		}
	}()

	n, err := s.serve(m, op)
	if err != nil {
		s.log.Debug("call failed", "op", op, "sender", m.Sender(), "err", err)
		_ = m.ReplyErr(err)
	} else {
		wire.PutCount(s.cnt[:], n)
		_ = m.Reply(0, s.cnt[:])
	}
	if s.met != nil {
		s.met.RecordCall(op.String(), errcode.Of(err))
	}
}

func (s *Server) serve(m *ipc.Message, op wire.Op) (int, error) {
	if !op.Valid() {
		return 0, &errcode.E{C: errcode.BadOperation, Op: "serve", Msg: "unknown op"}
	}
	id, err := wire.Decode(s.in[:m.Payload(s.in[:])])
	if err != nil {
		return 0, err
	}
	switch op {
	case wire.OpWriteRead, wire.OpWriteReadBlock:
		return s.transfer(m, id, op.Kind())
	case wire.OpRecover:
		return 0, s.arb.Recover(id.Controller)
	case wire.OpReset:
		return 0, s.arb.Reset(id.Controller)
	default:
		return s.stats(m, id.Controller)
	}
}

// transfer groups the call's leases into write/read pairs. A read-only lease
// opens a pair; a write-only lease closes the open pair or stands alone.
func (s *Server) transfer(m *ipc.Message, id types.DeviceIdentity, kind types.OpKind) (int, error) {
	nl := m.LeaseCount()
	if nl == 0 {
		return 0, errcode.BadLeaseCount
	}
	pairs := s.pairs[:0]
	open := false
	for i := 0; i < nl; i++ {
		b, err := m.Lease(i)
		if err != nil {
			return 0, err
		}
		s.borrows[i] = b
		bp := &s.borrows[i]
		if b.Perm() == ipc.PermWrite && open {
			pairs[len(pairs)-1].Read = bp
			open = false
			continue
		}
		if len(pairs) == arbiter.MaxPairs {
			return 0, errcode.BadLeaseCount
		}
		if b.Perm() == ipc.PermRead {
			pairs = append(pairs, arbiter.Pair{Write: bp})
			open = true
		} else {
			pairs = append(pairs, arbiter.Pair{Read: bp})
		}
	}
	s.req = arbiter.Request{Device: id, Op: kind, Pairs: pairs}
	return s.arb.Execute(&s.req)
}

func (s *Server) stats(m *ipc.Message, c types.ControllerID) (int, error) {
	st, err := s.arb.Snapshot(c)
	if err != nil {
		return 0, err
	}
	if m.LeaseCount() != 1 {
		return 0, errcode.BadLeaseCount
	}
	b, err := m.Lease(0)
	if err != nil {
		return 0, err
	}
	if b.Perm() != ipc.PermWrite {
		return 0, errcode.LeasePermission
	}
	n, err := wire.EncodeStatus(s.stat[:], st)
	if err != nil {
		return 0, err
	}
	if n > b.Len() {
		return 0, &errcode.E{C: errcode.TooMuchData, Op: "stats", Msg: "lease too small"}
	}
	if _, err := b.WriteAt(s.stat[:n], 0); err != nil {
		return 0, err
	}
	s.publish(StatusTopic(c), st, true)
	return n, nil
}

func (s *Server) publish(t bus.Topic, payload any, retained bool) {
	if s.conn == nil {
		return
	}
	s.conn.Publish(s.conn.NewMessage(t, payload, retained))
}

func (s *Server) publishStatus(c types.ControllerID) {
	if s.conn == nil {
		return
	}
	st, err := s.arb.Snapshot(c)
	if err != nil {
		return
	}
	s.publish(StatusTopic(c), st, true)
}

// events adapts arbiter notifications to metrics and bus publications. It
// runs on the endpoint goroutine.
type events struct{ s *Server }

func (e events) StateChanged(c types.ControllerID, from, to types.ControllerState, terminal bool) {
	if e.s.met != nil {
		e.s.met.StateChanged(c, from, to, terminal)
	}
	// Busy/Idle churn is the normal request path and is not republished.
	if to == types.StateBusy || from == types.StateBusy {
		if to != types.StateError {
			return
		}
	}
	e.s.publishStatus(c)
}

func (e events) Transaction(c types.ControllerID, op types.OpKind, err error, elapsed time.Duration) {
	if e.s.met != nil {
		e.s.met.Transaction(c, op, err, elapsed)
	}
	if err != nil {
		e.s.publishStatus(c)
	}
}

func (e events) Recovery(ev types.RecoveryEvent, err error) {
	if e.s.met != nil {
		e.s.met.Recovery(ev, err)
	}
	e.s.publish(RecoveryTopic(ev.Controller), ev, false)
}
