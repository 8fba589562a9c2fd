package ipc

import (
	"sync"
	"sync/atomic"

	"i2cserver-go/errcode"
)

// MaxMessage bounds the inline request payload. Bulk data travels in leases.
const MaxMessage = 64

// slot is a task's single preallocated call record. Everything the callee
// can reach goes through it, under mu.
type slot struct {
	mu      sync.Mutex
	gen     uint32
	active  bool
	pending atomic.Bool // owned by the calling goroutine

	sender TaskID
	op     uint16

	payload  [MaxMessage]byte
	nPayload int

	leases  [MaxLeases]Lease
	nLeases int

	in     []byte
	status uint32
	n      int

	done chan struct{} // buffered(1)
}

func newSlot(sender TaskID) *slot {
	return &slot{sender: sender, done: make(chan struct{}, 1)}
}

// arm loads a new call into the slot and opens a fresh generation.
func (s *slot) arm(op uint16, out, in []byte, leases []Lease) uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	s.active = true
	s.op = op
	s.nPayload = copy(s.payload[:], out)
	s.nLeases = copy(s.leases[:], leases)
	s.in = in
	s.status, s.n = 0, 0
	return s.gen
}

// finish answers the call unless it was already answered or abandoned.
// Borrows are revoked before the caller is released.
func (s *slot) finish(gen uint32, status uint32, data []byte) bool {
	s.mu.Lock()
	if !s.active || s.gen != gen {
		s.mu.Unlock()
		return false
	}
	s.n = copy(s.in, data)
	s.status = status
	s.active = false
	s.gen++
	for i := range s.leases[:s.nLeases] {
		s.leases[i] = Lease{}
	}
	s.nLeases = 0
	s.in = nil
	s.mu.Unlock()
	s.done <- struct{}{}
	return true
}

// abandon revokes an outstanding call from the caller side.
func (s *slot) abandon(gen uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.gen != gen {
		return false
	}
	s.active = false
	s.gen++
	for i := range s.leases[:s.nLeases] {
		s.leases[i] = Lease{}
	}
	s.nLeases = 0
	s.in = nil
	return true
}

// ------------------------
// Caller side
// ------------------------

// Client is a task's handle for issuing calls. A task has exactly one call
// outstanding at a time.
type Client struct {
	rt   *Runtime
	task *taskEntry
	slot *slot
}

func (c *Client) ID() TaskID   { return c.task.spec.ID }
func (c *Client) Name() string { return c.task.spec.Name }

// Call sends op and out to target and blocks until the reply. Leases are
// valid to the callee only until it replies. The reply data is copied into
// in; n is the number of bytes copied.
func (c *Client) Call(target TaskID, op uint16, out, in []byte, leases ...Lease) (status uint32, n int) {
	if err := c.precheck(target, out, leases); err != nil {
		return errcode.StatusOf(err), 0
	}
	ep := c.rt.endpoint(target)
	if ep == nil {
		return errcode.Status(errcode.TaskDead), 0
	}

	s := c.slot
	if !s.pending.CompareAndSwap(false, true) {
		return errcode.Status(errcode.BadOperation), 0
	}
	defer s.pending.Store(false)

	gen := s.arm(op, out, in, leases)

	select {
	case ep.reqs <- Message{s: s, gen: gen}:
	case <-ep.dead:
		s.abandon(gen)
		return errcode.Status(errcode.TaskDead), 0
	}

	select {
	case <-s.done:
	case <-ep.dead:
		if s.abandon(gen) {
			return errcode.Status(errcode.TaskDead), 0
		}
		// answered concurrently; the token is on its way
		<-s.done
	}
	return s.status, s.n
}

// Do is Call with the status mapped to an error.
func (c *Client) Do(target TaskID, op uint16, out, in []byte, leases ...Lease) (int, error) {
	st, n := c.Call(target, op, out, in, leases...)
	if st != 0 {
		return n, errcode.FromStatus(st)
	}
	return n, nil
}

func (c *Client) precheck(target TaskID, out []byte, leases []Lease) error {
	if !c.rt.started.Load() {
		return &errcode.E{C: errcode.TaskDead, Op: "call", Msg: "runtime not started"}
	}
	if !c.task.mayCall(target) {
		return &errcode.E{C: errcode.BadOperation, Op: "call", Msg: "undeclared call edge"}
	}
	if len(out) > MaxMessage {
		return &errcode.E{C: errcode.TooMuchData, Op: "call"}
	}
	return checkLeases(leases)
}

// ------------------------
// Callee side
// ------------------------

// Message is the callee's view of one received call. It is bound to one call
// generation: after Reply every accessor reports a revoked call, even once
// the caller's slot is reused.
type Message struct {
	s   *slot
	gen uint32
}

func (m *Message) Sender() TaskID { return m.s.sender }

func (m *Message) Op() uint16 {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if !m.s.active || m.s.gen != m.gen {
		return 0
	}
	return m.s.op
}

// Payload copies the inline request into dst and returns the count.
func (m *Message) Payload(dst []byte) int {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if !m.s.active || m.s.gen != m.gen {
		return 0
	}
	return copy(dst, m.s.payload[:m.s.nPayload])
}

// ReplyCap is the capacity of the caller's reply buffer.
func (m *Message) ReplyCap() int {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if !m.s.active || m.s.gen != m.gen {
		return 0
	}
	return len(m.s.in)
}

func (m *Message) LeaseCount() int {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if !m.s.active || m.s.gen != m.gen {
		return 0
	}
	return m.s.nLeases
}

// Lease borrows lease i of the pending call.
func (m *Message) Lease(i int) (Borrow, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if !m.s.active || m.s.gen != m.gen {
		return Borrow{}, &errcode.E{C: errcode.LeaseRevoked, Op: "lease"}
	}
	if i < 0 || i >= m.s.nLeases {
		return Borrow{}, &errcode.E{C: errcode.BadLeaseCount, Op: "lease"}
	}
	return Borrow{s: m.s, idx: uint8(i), gen: m.gen}, nil
}

// Pending reports whether the call still awaits a reply.
func (m *Message) Pending() bool {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	return m.s.active && m.s.gen == m.gen
}

var errNotPending = &errcode.E{C: errcode.BadOperation, Op: "reply", Msg: "no call pending"}

// Reply answers the call. All borrows are revoked before the caller resumes.
func (m *Message) Reply(status uint32, data []byte) error {
	if !m.s.finish(m.gen, status, data) {
		return errNotPending
	}
	return nil
}

// ReplyErr answers with the status of err (OK for nil) and no data.
func (m *Message) ReplyErr(err error) error {
	return m.Reply(errcode.StatusOf(err), nil)
}
