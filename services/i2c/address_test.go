package i2c_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i2cserver-go/errcode"
	"i2cserver-go/services/i2c"
)

func TestSevenBitAddr(t *testing.T) {
	for _, a := range []uint8{0x00, 0x07, 0x78, 0x7F, 0x80, 0xFF} {
		_, err := i2c.NewSevenBit(a)
		assert.Equal(t, errcode.ReservedAddress, errcode.Of(err), "0x%02x", a)
	}
	a, err := i2c.NewSevenBit(0x08)
	require.NoError(t, err)
	assert.Equal(t, i2c.SevenBitAddr(0x08), a)
	a, err = i2c.SevenBitAddr(0).TryNew(0x77)
	require.NoError(t, err)
	assert.Equal(t, i2c.SevenBitAddr(0x77), a)
}

func TestTenBitAddr(t *testing.T) {
	_, err := i2c.NewTenBit(0x400)
	assert.Equal(t, errcode.InvalidParams, errcode.Of(err))

	for _, tt := range []struct {
		addr uint16
		want [2]byte
	}{
		{0x000, [2]byte{0xF0, 0x00}},
		{0x0FF, [2]byte{0xF0, 0xFF}},
		{0x100, [2]byte{0xF2, 0x00}},
		{0x3FF, [2]byte{0xF6, 0xFF}},
	} {
		a, err := i2c.NewTenBit(tt.addr)
		require.NoError(t, err)
		assert.Equal(t, tt.want, a.Frame(), "0x%03x", tt.addr)
	}
}
