package topology

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i2cserver-go/errcode"
	"i2cserver-go/types"
)

func testConfig() Config {
	return Config{Controllers: []ControllerConfig{
		{ID: 0, Ports: []PortConfig{{Index: 0, Pins: types.BusPins{SCL: 5, SDA: 4}}}},
		{ID: 1, Ports: []PortConfig{
			{Index: 2, Pins: types.BusPins{SCL: 7, SDA: 6}, Muxes: []MuxConfig{
				{ID: 1, Model: "pca9548", Address: 0x70, Segments: 8},
			}},
			{Index: 3, Pins: types.BusPins{SCL: 27, SDA: 26}},
		}},
	}}
}

func TestResolveDefaultPort(t *testing.T) {
	r, err := New(testConfig())
	require.NoError(t, err)

	p, err := r.Resolve(types.Device(1, 0x40))
	require.NoError(t, err)
	assert.Equal(t, types.PortIndex(2), p.Port, "absent port must pick the first configured port")
	assert.Equal(t, 1, p.Index)
	assert.False(t, p.Mux.Present)
}

func TestResolveThroughMux(t *testing.T) {
	r, err := New(testConfig())
	require.NoError(t, err)

	p, err := r.Resolve(types.Device(1, 0x68).Behind(1, 3))
	require.NoError(t, err)
	assert.True(t, p.Mux.Present)
	assert.Equal(t, uint8(0x70), p.Mux.Address)
	assert.Equal(t, types.SegmentID(3), p.Mux.Segment)
	assert.Equal(t, "i2c1/p2/mux1@0x70.3/0x68", p.String())
}

func TestResolveErrors(t *testing.T) {
	r, err := New(testConfig())
	require.NoError(t, err)

	cases := []struct {
		name string
		id   types.DeviceIdentity
		want errcode.Code
	}{
		{"reserved low", types.Device(0, 0x03), errcode.ReservedAddress},
		{"reserved high", types.Device(0, 0x7A), errcode.ReservedAddress},
		{"mux address", types.Device(1, 0x70), errcode.ReservedAddress},
		{"controller", types.Device(9, 0x40), errcode.UnknownController},
		{"port", types.Device(1, 0x40).OnPort(7), errcode.UnknownPort},
		{"mux", types.Device(1, 0x40).Behind(4, 0), errcode.UnknownMux},
		{"mux on other port", types.Device(1, 0x40).OnPort(3).Behind(1, 0), errcode.UnknownMux},
		{"segment", types.Device(1, 0x40).Behind(1, 8), errcode.UnknownSegment},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := r.Resolve(tc.id)
			assert.Equal(t, tc.want, errcode.Of(err))
		})
	}
}

func TestReservedRangesRejected(t *testing.T) {
	r, err := New(testConfig())
	require.NoError(t, err)

	for a := 0; a <= 0x7F; a++ {
		reserved := a <= 0x07 || a >= 0x78
		for _, id := range []types.DeviceIdentity{
			types.Device(0, uint8(a)),
			types.Device(1, uint8(a)).Behind(1, 2),
		} {
			_, err := r.Resolve(id)
			if reserved {
				assert.Equal(t, errcode.ReservedAddress, errcode.Of(err), "%s", id)
				continue
			}
			if a == 0x70 && id.Mux.Present {
				continue // the mux itself
			}
			assert.NoError(t, err, "%s", id)
		}
	}
}

func TestReservedCheckedFirst(t *testing.T) {
	r, err := New(testConfig())
	require.NoError(t, err)

	// Reserved addresses never reach topology lookup, even on an unknown controller.
	_, err = r.Resolve(types.Device(42, 0x00))
	assert.Equal(t, errcode.ReservedAddress, errcode.Of(err))
}

func TestNewRejectsBadTables(t *testing.T) {
	bad := map[string]Config{
		"dup controller": {Controllers: []ControllerConfig{
			{ID: 0, Ports: []PortConfig{{}}}, {ID: 0, Ports: []PortConfig{{}}},
		}},
		"no ports": {Controllers: []ControllerConfig{{ID: 0}}},
		"mux id":   {Controllers: []ControllerConfig{{ID: 0, Ports: []PortConfig{{Muxes: []MuxConfig{{ID: 8, Address: 0x70, Segments: 4}}}}}}},
		"segments": {Controllers: []ControllerConfig{{ID: 0, Ports: []PortConfig{{Muxes: []MuxConfig{{ID: 0, Address: 0x70, Segments: 17}}}}}}},
		"mux addr": {Controllers: []ControllerConfig{{ID: 0, Ports: []PortConfig{{Muxes: []MuxConfig{{ID: 0, Address: 0x7C, Segments: 4}}}}}}},
		"dup mux addr": {Controllers: []ControllerConfig{{ID: 0, Ports: []PortConfig{{Muxes: []MuxConfig{
			{ID: 0, Address: 0x70, Segments: 4}, {ID: 1, Address: 0x70, Segments: 4},
		}}}}}},
	}
	for name, cfg := range bad {
		t.Run(name, func(t *testing.T) {
			_, err := New(cfg)
			assert.Equal(t, errcode.InvalidConfig, errcode.Of(err))
		})
	}
}

func TestLookups(t *testing.T) {
	r, err := New(testConfig())
	require.NoError(t, err)

	assert.Equal(t, []types.ControllerID{0, 1}, r.Controllers())
	pins, ok := r.Pins(1, 3)
	require.True(t, ok)
	assert.Equal(t, types.BusPins{SCL: 27, SDA: 26}, pins)
	dp, ok := r.DefaultPort(1)
	require.True(t, ok)
	assert.Equal(t, types.PortIndex(2), dp)
	_, ok = r.IndexOf(5)
	assert.False(t, ok)
}
