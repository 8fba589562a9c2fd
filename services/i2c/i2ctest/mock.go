// Package i2ctest provides a scripted drivers.I2C for driver tests.
package i2ctest

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"tinygo.org/x/drivers"

	"i2cserver-go/errcode"
)

type expectation struct {
	addr  uint16
	write []byte
	read  []byte
	err   error
}

func (e expectation) String() string {
	return fmt.Sprintf("addr=0x%02x write=% x read=%d", e.addr, e.write, len(e.read))
}

// Mock replays expected transactions in order. A transaction that does not
// match the next expectation fails the test and returns InvalidParams.
type Mock struct {
	t   testing.TB
	mu  sync.Mutex
	exp []expectation
	pos int
}

var _ drivers.I2C = (*Mock)(nil)

func New(t testing.TB) *Mock { return &Mock{t: t} }

func (m *Mock) add(e expectation) *Mock {
	m.mu.Lock()
	m.exp = append(m.exp, e)
	m.mu.Unlock()
	return m
}

// ExpectWrite expects a write-only transaction.
func (m *Mock) ExpectWrite(addr uint16, w ...byte) *Mock {
	return m.add(expectation{addr: addr, write: w})
}

// ExpectRead expects a read-only transaction and answers it with r.
func (m *Mock) ExpectRead(addr uint16, r ...byte) *Mock {
	return m.add(expectation{addr: addr, read: r})
}

// ExpectWriteRead expects a combined transaction and answers with r.
func (m *Mock) ExpectWriteRead(addr uint16, w, r []byte) *Mock {
	return m.add(expectation{addr: addr, write: w, read: r})
}

// ExpectError makes the next transaction to addr, whatever its shape, fail
// with err.
func (m *Mock) ExpectError(addr uint16, err error) *Mock {
	return m.add(expectation{addr: addr, err: err})
}

func (m *Mock) Tx(addr uint16, w, r []byte) error {
	m.t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.pos >= len(m.exp) {
		m.t.Errorf("i2ctest: unexpected transaction addr=0x%02x write=% x read=%d", addr, w, len(r))
		return errcode.InvalidParams
	}
	e := m.exp[m.pos]
	m.pos++

	if !assert.Equal(m.t, e.addr, addr, "transaction %d address", m.pos) {
		return errcode.InvalidParams
	}
	if e.err != nil {
		return e.err
	}
	if !assert.Equal(m.t, len(e.write), len(w), "transaction %d write length (%s)", m.pos, e) ||
		(len(w) > 0 && !assert.Equal(m.t, e.write, w, "transaction %d write", m.pos)) {
		return errcode.InvalidParams
	}
	if !assert.Equal(m.t, len(e.read), len(r), "transaction %d read length (%s)", m.pos, e) {
		return errcode.InvalidParams
	}
	copy(r, e.read)
	return nil
}

// Done reports whether every expectation was consumed.
func (m *Mock) Done() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pos == len(m.exp)
}

// Verify fails the test if expectations remain.
func (m *Mock) Verify() {
	m.t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.exp[m.pos:] {
		m.t.Errorf("i2ctest: expectation not met: %s", e)
	}
}
