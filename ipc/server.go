package ipc

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"i2cserver-go/errcode"
	"i2cserver-go/x/logx"
)

// Handler processes one call. It must answer m with Reply before returning;
// a call left unanswered is replied with the generic error status.
type Handler interface {
	Handle(m *Message)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(m *Message)

func (f HandlerFunc) Handle(m *Message) { f(m) }

// Endpoint is the receive side of a server task. Calls are handled one at a
// time in arrival order.
type Endpoint struct {
	task *taskEntry
	reqs chan Message

	serving  atomic.Bool
	stopOnce sync.Once
	dead     chan struct{}

	faults atomic.Uint32
}

func newEndpoint(t *taskEntry, depth int) *Endpoint {
	return &Endpoint{
		task: t,
		reqs: make(chan Message, depth),
		dead: make(chan struct{}),
	}
}

func (e *Endpoint) ID() TaskID   { return e.task.spec.ID }
func (e *Endpoint) Name() string { return e.task.spec.Name }

// Faults counts handler panics since start.
func (e *Endpoint) Faults() uint32 { return e.faults.Load() }

// Dead reports whether Serve has returned.
func (e *Endpoint) Dead() bool {
	select {
	case <-e.dead:
		return true
	default:
		return false
	}
}

// Serve runs the receive loop until ctx is done. A panicking handler faults
// only the call in progress: it is answered with TaskFault and the loop
// restarts. Once Serve returns the endpoint is dead and callers get TaskDead.
func (e *Endpoint) Serve(ctx context.Context, h Handler) error {
	if !e.serving.CompareAndSwap(false, true) {
		return &errcode.E{C: errcode.BadOperation, Op: "serve", Msg: "already serving"}
	}
	log := logx.For(logx.ComponentIPC).With("task", e.task.spec.Name)
	defer e.stop()

	for {
		faulted := e.loop(ctx, h)
		if !faulted {
			return ctx.Err()
		}
		log.Warn("handler fault, restarting", "faults", e.faults.Load())
	}
}

// loop reports true when it exited because of a handler fault.
func (e *Endpoint) loop(ctx context.Context, h Handler) (faulted bool) {
	for {
		select {
		case <-ctx.Done():
			return false
		case m := <-e.reqs:
			if !e.dispatch(h, m) {
				return true
			}
		}
	}
}

func (e *Endpoint) dispatch(h Handler, m Message) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.faults.Add(1)
			logx.For(logx.ComponentIPC).Error("task fault",
				"task", e.task.spec.Name, "sender", m.Sender(), "panic", fmt.Sprint(r))
			m.s.finish(m.gen, errcode.Status(errcode.TaskFault), nil)
			ok = false
		}
	}()
	h.Handle(&m)
	if m.s.finish(m.gen, errcode.Status(errcode.Error), nil) {
		logx.For(logx.ComponentIPC).Warn("call left unanswered",
			"task", e.task.spec.Name, "sender", m.Sender())
	}
	return true
}

// stop marks the endpoint dead and answers anything still queued.
func (e *Endpoint) stop() {
	e.stopOnce.Do(func() {
		close(e.dead)
		for {
			select {
			case m := <-e.reqs:
				m.s.finish(m.gen, errcode.Status(errcode.TaskDead), nil)
			default:
				return
			}
		}
	})
}
