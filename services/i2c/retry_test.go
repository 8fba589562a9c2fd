package i2c_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"i2cserver-go/errcode"
	"i2cserver-go/services/i2c"
	"i2cserver-go/services/i2c/i2ctest"
)

func noSleep(log *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*log = append(*log, d)
		return nil
	}
}

func TestRetryingTemporaryThenSuccess(t *testing.T) {
	m := i2ctest.New(t).
		ExpectError(0x40, errcode.BusLocked).
		ExpectError(0x40, &i2c.Error{Code: errcode.ArbitrationLost, Op: "read"}).
		ExpectWriteRead(0x40, []byte{0x01}, []byte{0x9A})

	var slept []time.Duration
	r := i2c.NewRetrying(m, i2c.RetryOptions{Sleep: noSleep(&slept)})
	rd := make([]byte, 1)
	require.NoError(t, r.Tx(0x40, []byte{0x01}, rd))
	assert.Equal(t, byte(0x9A), rd[0])
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, slept)
	m.Verify()
}

func TestRetryingPermanentError(t *testing.T) {
	m := i2ctest.New(t).ExpectError(0x40, &i2c.Error{Code: errcode.AddressNack, Op: "read"})
	var slept []time.Duration
	r := i2c.NewRetrying(m, i2c.RetryOptions{Sleep: noSleep(&slept)})

	err := r.Tx(0x40, nil, make([]byte, 1))
	assert.Equal(t, errcode.AddressNack, errcode.Of(err))
	assert.Empty(t, slept)
	m.Verify()
}

func TestRetryingGivesUp(t *testing.T) {
	m := i2ctest.New(t)
	for i := 0; i < 4; i++ {
		m.ExpectError(0x40, errcode.BusTimeout)
	}
	var slept []time.Duration
	r := i2c.NewRetrying(m, i2c.RetryOptions{Attempts: 4, Backoff: time.Millisecond, Sleep: noSleep(&slept)})

	err := r.Tx(0x40, []byte{0}, nil)
	assert.ErrorIs(t, err, errcode.BusTimeout)
	assert.Equal(t, []time.Duration{time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond}, slept)
	m.Verify()
}

func TestRetryingBudget(t *testing.T) {
	budget := rate.NewLimiter(0, 1)
	m := i2ctest.New(t).
		ExpectError(0x40, errcode.BusLocked).
		ExpectWrite(0x40, 0x07).
		ExpectError(0x40, errcode.BusLocked)

	var slept []time.Duration
	r := i2c.NewRetrying(m, i2c.RetryOptions{Budget: budget, Sleep: noSleep(&slept)})
	require.NoError(t, r.Tx(0x40, []byte{0x07}, nil))

	// the single token is spent; the next failure comes straight back
	err := r.Tx(0x40, []byte{0x07}, nil)
	assert.ErrorIs(t, err, errcode.BusLocked)
	assert.Len(t, slept, 1)
	m.Verify()
}

func TestRetryingContextCancelled(t *testing.T) {
	m := i2ctest.New(t).ExpectError(0x40, errcode.BusLocked)
	r := i2c.NewRetrying(m, i2c.RetryOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.Do(ctx, func() error { return m.Tx(0x40, nil, make([]byte, 2)) })
	assert.ErrorIs(t, err, errcode.BusLocked)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		code      errcode.Code
		kind      i2c.ErrorKind
		notFound  bool
		temporary bool
	}{
		{errcode.AddressNack, i2c.KindNoAcknowledgeAddress, true, false},
		{errcode.MuxMissing, i2c.KindNoAcknowledgeAddress, true, false},
		{errcode.DataNack, i2c.KindNoAcknowledgeData, false, false},
		{errcode.StuckBus, i2c.KindBus, false, false},
		{errcode.BusTimeout, i2c.KindBus, false, true},
		{errcode.ArbitrationLost, i2c.KindArbitrationLoss, false, true},
		{errcode.BusLocked, i2c.KindOther, false, true},
		{errcode.TooMuchData, i2c.KindOther, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			e := &i2c.Error{Code: tt.code, Op: "read"}
			assert.Equal(t, tt.kind, e.Kind())
			assert.Equal(t, tt.notFound, e.IsDeviceNotFound())
			assert.Equal(t, tt.temporary, e.IsTemporary())
			_, ok := e.RetryDelay()
			assert.Equal(t, tt.temporary, ok)
			assert.ErrorIs(t, e, tt.code)
		})
	}
}
