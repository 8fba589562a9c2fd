package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i2cserver-go/errcode"
	"i2cserver-go/types"
)

func TestNewCollectorDefaultNamespace(t *testing.T) {
	c := NewCollector("")
	c.StateChanged(1, types.StateIdle, types.StateBusy, false)

	mfs, err := c.Registry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, mfs)
	assert.Equal(t, "i2c_controller_state", mfs[0].GetName())
}

func TestControllerStateGauges(t *testing.T) {
	c := NewCollector("test")
	c.StateChanged(1, types.StateBusy, types.StateError, true)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.controllerState.WithLabelValues("i2c1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.terminal.WithLabelValues("i2c1")))

	c.StateChanged(1, types.StateError, types.StateIdle, false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.terminal.WithLabelValues("i2c1")))
}

func TestTransactionCounters(t *testing.T) {
	c := NewCollector("test")
	c.Transaction(0, types.OpWriteRead, nil, time.Millisecond)
	c.Transaction(0, types.OpWriteRead, errcode.AddressNack, time.Millisecond)
	c.Transaction(0, types.OpWriteRead, errcode.AddressNack, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.txTotal.WithLabelValues("i2c0", "write_read", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.txTotal.WithLabelValues("i2c0", "write_read", "address_nack")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.txLatency))
}

func TestTransactionPathDoesNotAllocate(t *testing.T) {
	c := NewCollector("test")
	wrapped := &errcode.E{C: errcode.BusTimeout, Op: "transfer"}
	record := func() {
		c.StateChanged(1, types.StateIdle, types.StateBusy, false)
		c.Transaction(1, types.OpWriteRead, nil, time.Millisecond)
		c.Transaction(1, types.OpWriteRead, errcode.AddressNack, time.Millisecond)
		c.Transaction(1, types.OpWriteReadBlock, wrapped, time.Millisecond)
		c.StateChanged(1, types.StateBusy, types.StateIdle, false)
	}
	record()

	assert.Zero(t, testing.AllocsPerRun(100, record))
	assert.Equal(t, 102.0, testutil.ToFloat64(c.txTotal.WithLabelValues("i2c1", "write_read", "ok")))
	assert.Equal(t, 102.0, testutil.ToFloat64(c.txTotal.WithLabelValues("i2c1", "write_read_block", "bus_timeout")))
}

func TestRecoveryCounters(t *testing.T) {
	c := NewCollector("test")
	c.Recovery(types.RecoveryEvent{Controller: 2, OK: true, Pulses: 3, Auto: true}, nil)
	c.Recovery(types.RecoveryEvent{Controller: 2, OK: false, Pulses: 9}, errcode.StuckBus)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.recoveryTotal.WithLabelValues("i2c2", "auto", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.recoveryTotal.WithLabelValues("i2c2", "explicit", "failure")))
	assert.Equal(t, 12.0, testutil.ToFloat64(c.recoveryPulses.WithLabelValues("i2c2")))
}

func TestRecordCallCountsFaults(t *testing.T) {
	c := NewCollector("test")
	c.RecordCall("write_read", errcode.OK)
	c.RecordCall("write_read", errcode.TaskFault)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.faults))

	mfs, err := c.Registry().Gather()
	require.NoError(t, err)
	var calls *dto.MetricFamily
	for _, mf := range mfs {
		if mf.GetName() == "test_ipc_calls_total" {
			calls = mf
		}
	}
	require.NotNil(t, calls)
	assert.Len(t, calls.GetMetric(), 2)
	assert.Equal(t, dto.MetricType_COUNTER, calls.GetType())
}
