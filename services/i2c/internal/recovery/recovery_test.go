package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i2cserver-go/errcode"
	"i2cserver-go/services/i2c/internal/platform"
	"i2cserver-go/services/i2c/internal/topology"
	"i2cserver-go/types"
)

const (
	scl types.Pin = 5
	sda types.Pin = 4
)

func newEngine(t *testing.T) (*Engine, *platform.FakeLines) {
	t.Helper()
	topo, err := topology.New(topology.Config{Controllers: []topology.ControllerConfig{
		{ID: 0, Ports: []topology.PortConfig{{Index: 0, Pins: types.BusPins{SCL: scl, SDA: sda}}}},
	}})
	require.NoError(t, err)
	lines := platform.NewFakeLines()
	return New(topo, lines, Options{Delay: func(time.Duration) {}}), lines
}

func TestIsStuck(t *testing.T) {
	e, lines := newEngine(t)
	assert.False(t, e.IsStuck(0, 0))

	lines.Stick(scl, sda, 3)
	assert.True(t, e.IsStuck(0, 0))
	assert.False(t, e.IsStuck(0, 7), "unknown port has no pins to read")
}

func TestRecoverReleasesAfterPulses(t *testing.T) {
	e, lines := newEngine(t)
	lines.Stick(scl, sda, 3)

	res, err := e.Recover(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Pulses)
	assert.True(t, res.Released)
	assert.False(t, e.IsStuck(0, 0))

	// three pulses plus the stop condition
	assert.Equal(t, 4, lines.Rises(scl))
	assert.Equal(t, 1, lines.Rises(sda))

	assert.Equal(t, types.PinPeripheral, lines.Mode(scl))
	assert.Equal(t, types.PinPeripheral, lines.Mode(sda))

	st := e.Stats(0)
	assert.Equal(t, types.RecoveryStats{Attempts: 1, Successes: 1, Pulses: 3}, st)
}

func TestRecoverBoundedWhenStuckForever(t *testing.T) {
	e, lines := newEngine(t)
	lines.Stick(scl, sda, 1000)

	res, err := e.Recover(0, 0)
	require.Error(t, err)
	assert.Equal(t, errcode.StuckBus, errcode.Of(err))
	assert.Equal(t, MaxPulses, res.Pulses)
	assert.False(t, res.Released)
	assert.LessOrEqual(t, lines.Rises(scl), MaxPulses+1)

	assert.Equal(t, types.PinPeripheral, lines.Mode(scl), "pins go back to the peripheral even on failure")
	assert.Equal(t, types.PinPeripheral, lines.Mode(sda))

	st := e.Stats(0)
	assert.Equal(t, uint32(1), st.Failures)
	assert.Equal(t, uint32(MaxPulses), st.Pulses)
}

func TestRecoverHealthyBusStillIssuesStop(t *testing.T) {
	e, lines := newEngine(t)

	res, err := e.Recover(0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Pulses)
	assert.Equal(t, 1, lines.Rises(sda))
}

func TestRecoverUnknownPort(t *testing.T) {
	e, lines := newEngine(t)
	_, err := e.Recover(0, 3)
	assert.Equal(t, errcode.UnknownPort, errcode.Of(err))
	assert.False(t, lines.Touched())
	assert.Equal(t, types.RecoveryStats{}, e.Stats(0))
}
