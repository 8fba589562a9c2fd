package arbiter

import (
	"time"

	"i2cserver-go/errcode"
	"i2cserver-go/types"
)

// MaxTransfer bounds each write or read phase.
const MaxTransfer = 256

// MaxPairs is the number of write/read phases one request may chain.
const MaxPairs = 2

// Source is read-permission memory lent by a client (ipc.Borrow satisfies it).
type Source interface {
	Len() int
	ReadAt(dst []byte, off int) (int, error)
}

// Sink is write-permission memory lent by a client (ipc.Borrow satisfies it).
type Sink interface {
	Len() int
	WriteAt(src []byte, off int) (int, error)
}

// Pair is one write phase followed by a repeated-start read phase. Either
// side may be nil.
type Pair struct {
	Write Source
	Read  Sink
}

// Request is one call-scoped transaction.
type Request struct {
	Device  types.DeviceIdentity
	Op      types.OpKind
	Pairs   []Pair
	Timeout time.Duration // zero: the arbiter default
}

func (r *Request) validate() error {
	if r.Op != types.OpWriteRead && r.Op != types.OpWriteReadBlock {
		return errcode.BadOperation
	}
	if len(r.Pairs) == 0 || len(r.Pairs) > MaxPairs {
		return errcode.BadLeaseCount
	}
	for _, p := range r.Pairs {
		if p.Write != nil && p.Write.Len() > MaxTransfer {
			return errcode.TooMuchData
		}
		if p.Read != nil && p.Read.Len() > MaxTransfer {
			return errcode.TooMuchData
		}
		if p.Write == nil && p.Read == nil {
			return errcode.BadLeaseCount
		}
	}
	return nil
}

// Buf lends a plain byte slice as both Source and Sink.
type Buf []byte

func (b Buf) Len() int { return len(b) }

func (b Buf) ReadAt(dst []byte, off int) (int, error) {
	if off < 0 || off+len(dst) > len(b) {
		return 0, errcode.LeaseOutOfRange
	}
	return copy(dst, b[off:]), nil
}

func (b Buf) WriteAt(src []byte, off int) (int, error) {
	if off < 0 || off+len(src) > len(b) {
		return 0, errcode.LeaseOutOfRange
	}
	return copy(b[off:], src), nil
}
