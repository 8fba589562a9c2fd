package ipc

import (
	"unsafe"

	"i2cserver-go/errcode"
)

// MaxLeases is the number of leases a single call may carry.
const MaxLeases = 4

// Perm is what the callee may do with a lease.
type Perm uint8

const (
	PermRead  Perm = 1 << iota // callee may read caller memory
	PermWrite                  // callee may write caller memory
)

func (p Perm) String() string {
	switch p {
	case PermRead:
		return "r"
	case PermWrite:
		return "w"
	case PermRead | PermWrite:
		return "rw"
	default:
		return "-"
	}
}

// Lease is a caller-side grant over a region of its own memory. It is valid
// only for the duration of the call that carries it.
type Lease struct {
	buf  []byte
	perm Perm
}

// ReadOnly lends b to the callee for reading.
func ReadOnly(b []byte) Lease { return Lease{buf: b, perm: PermRead} }

// WriteOnly lends b to the callee for writing.
func WriteOnly(b []byte) Lease { return Lease{buf: b, perm: PermWrite} }

func (l Lease) Len() int   { return len(l.buf) }
func (l Lease) Perm() Perm { return l.perm }

func (l Lease) span() (lo, hi uintptr) {
	if len(l.buf) == 0 {
		return 0, 0
	}
	lo = uintptr(unsafe.Pointer(unsafe.SliceData(l.buf)))
	return lo, lo + uintptr(len(l.buf))
}

func overlaps(a, b Lease) bool {
	alo, ahi := a.span()
	blo, bhi := b.span()
	if alo == ahi || blo == bhi {
		return false
	}
	return alo < bhi && blo < ahi
}

// checkLeases enforces the per-call lease rules: a bounded count, and no
// writable lease aliasing any other lease of the same call.
func checkLeases(ls []Lease) error {
	if len(ls) > MaxLeases {
		return &errcode.E{C: errcode.BadLeaseCount, Op: "call"}
	}
	for i := range ls {
		if ls[i].perm&PermWrite == 0 {
			continue
		}
		for j := range ls {
			if i != j && overlaps(ls[i], ls[j]) {
				return &errcode.E{C: errcode.LeaseOverlap, Op: "call"}
			}
		}
	}
	return nil
}

// Borrow is the callee's handle on one lease. It never exposes the
// underlying slice; every access is checked against the call generation, so
// a borrow kept past the reply is inert.
type Borrow struct {
	s   *slot
	idx uint8
	gen uint32
}

// lease returns the live lease or the reason it is unusable. Caller holds s.mu.
func (b Borrow) lease() (*Lease, error) {
	if b.s == nil || !b.s.active || b.s.gen != b.gen || int(b.idx) >= b.s.nLeases {
		return nil, errcode.LeaseRevoked
	}
	return &b.s.leases[b.idx], nil
}

// Valid reports whether the borrow still refers to a pending call.
func (b Borrow) Valid() bool {
	if b.s == nil {
		return false
	}
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	_, err := b.lease()
	return err == nil
}

// Len is the lease length, or 0 once revoked.
func (b Borrow) Len() int {
	if b.s == nil {
		return 0
	}
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	l, err := b.lease()
	if err != nil {
		return 0
	}
	return len(l.buf)
}

func (b Borrow) Perm() Perm {
	if b.s == nil {
		return 0
	}
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	l, err := b.lease()
	if err != nil {
		return 0
	}
	return l.perm
}

func (b Borrow) access(op string, p Perm, off, n int) (*Lease, error) {
	l, err := b.lease()
	if err != nil {
		return nil, &errcode.E{C: errcode.LeaseRevoked, Op: op}
	}
	if l.perm&p == 0 {
		return nil, &errcode.E{C: errcode.LeasePermission, Op: op}
	}
	if off < 0 || n < 0 || off > len(l.buf) || n > len(l.buf)-off {
		return nil, &errcode.E{C: errcode.LeaseOutOfRange, Op: op}
	}
	return l, nil
}

// ReadAt copies len(dst) bytes starting at off out of the caller's memory.
func (b Borrow) ReadAt(dst []byte, off int) (int, error) {
	if b.s == nil {
		return 0, errcode.LeaseRevoked
	}
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	l, err := b.access("lease_read", PermRead, off, len(dst))
	if err != nil {
		return 0, err
	}
	return copy(dst, l.buf[off:]), nil
}

// WriteAt copies src into the caller's memory at off.
func (b Borrow) WriteAt(src []byte, off int) (int, error) {
	if b.s == nil {
		return 0, errcode.LeaseRevoked
	}
	b.s.mu.Lock()
	defer b.s.mu.Unlock()
	l, err := b.access("lease_write", PermWrite, off, len(src))
	if err != nil {
		return 0, err
	}
	return copy(l.buf[off:], src), nil
}

func (b Borrow) ReadByteAt(off int) (byte, error) {
	var one [1]byte
	if _, err := b.ReadAt(one[:], off); err != nil {
		return 0, err
	}
	return one[0], nil
}

func (b Borrow) WriteByteAt(off int, v byte) error {
	one := [1]byte{v}
	_, err := b.WriteAt(one[:], off)
	return err
}
