package aht20

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i2cserver-go/errcode"
	"i2cserver-go/services/i2c/i2ctest"
)

// frame builds a measurement reply for the given raw readings.
func frame(status byte, hum, temp uint32) []byte {
	f := []byte{
		status,
		byte(hum >> 12), byte(hum >> 4), byte(hum<<4) | byte(temp>>16&0x0F),
		byte(temp >> 8), byte(temp),
		0,
	}
	f[6] = crc8(f[:6])
	return f
}

type sleeps struct{ total time.Duration }

func (s *sleeps) sleep(_ context.Context, d time.Duration) error {
	s.total += d
	return nil
}

func TestCRC8(t *testing.T) {
	assert.Equal(t, byte(0x92), crc8([]byte{0xBE, 0xEF}))
	assert.Equal(t, byte(0xFF), crc8(nil))
}

func TestReadCalibrated(t *testing.T) {
	m := i2ctest.New(t).
		ExpectWriteRead(Address, []byte{cmdStatus}, []byte{0x18}).
		ExpectWrite(Address, cmdTrigger, 0x33, 0x00).
		ExpectRead(Address, frame(0x98, 0x80000, 0x66666)...). // busy
		ExpectRead(Address, frame(0x18, 0x80000, 0x66666)...)

	var sl sleeps
	d := New(m, Config{Sleep: sl.sleep})
	s, err := d.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint32(0x80000), s.RawHumidity)
	assert.Equal(t, uint32(0x66666), s.RawTemp)
	assert.Equal(t, int32(500), s.DeciRelHumidity())
	assert.Equal(t, int32(299), s.DeciCelsius())
	assert.Equal(t, int32(29999), s.MilliCelsius())
	assert.Equal(t, s, d.Last())
	assert.Equal(t, 95*time.Millisecond, sl.total)
	m.Verify()
}

func TestInitCalibrates(t *testing.T) {
	m := i2ctest.New(t).
		ExpectWriteRead(Address, []byte{cmdStatus}, []byte{0x10}).
		ExpectWrite(Address, cmdInitialize, 0x08, 0x00)
	var sl sleeps
	d := New(m, Config{Sleep: sl.sleep})
	require.NoError(t, d.Init(context.Background()))
	assert.Equal(t, 10*time.Millisecond, sl.total)
	m.Verify()
}

func TestCollectRejectsBadCRC(t *testing.T) {
	f := frame(0x18, 1, 2)
	f[6] ^= 0xFF
	m := i2ctest.New(t).ExpectRead(Address, f...).ExpectRead(Address, f...)

	d := New(m, Config{})
	assert.ErrorIs(t, d.Collect(nil), ErrCRC)
	d = New(m, Config{SkipCRC: true})
	var s Sample
	require.NoError(t, d.Collect(&s))
	assert.Equal(t, uint32(2), s.RawTemp)
	m.Verify()
}

func TestReadTimesOut(t *testing.T) {
	m := i2ctest.New(t).
		ExpectWriteRead(Address, []byte{cmdStatus}, []byte{0x18}).
		ExpectWrite(Address, cmdTrigger, 0x33, 0x00)
	for i := 0; i < 3; i++ {
		m.ExpectRead(Address, frame(0x98, 0, 0)...)
	}
	var sl sleeps
	d := New(m, Config{PollInterval: 10 * time.Millisecond, CollectTimeout: 20 * time.Millisecond, Sleep: sl.sleep})
	_, err := d.Read(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	m.Verify()
}

func TestBusErrorsPassThrough(t *testing.T) {
	m := i2ctest.New(t).
		ExpectError(Address, errcode.AddressNack).
		ExpectError(0x39, errcode.BusTimeout)

	_, err := New(m, Config{}).Read(context.Background())
	assert.ErrorIs(t, err, errcode.AddressNack)

	err = New(m, Config{Address: 0x39}).Reset()
	assert.ErrorIs(t, err, errcode.BusTimeout)
	m.Verify()
}
