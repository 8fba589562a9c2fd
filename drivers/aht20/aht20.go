// Package aht20 drives the AHT20 temperature/humidity sensor over any
// drivers.I2C, including a bus-server client device. Measurement is two-phase:
//
//	d.Trigger()          // start a conversion
//	err := d.Collect(&s) // ErrNotReady while the sensor is busy
//
// Read does both with bounded polling. Conversions are fixed-point.
package aht20

import (
	"context"
	"errors"
	"time"

	"tinygo.org/x/drivers"
)

const Address = 0x38

const (
	cmdTrigger    = 0xAC
	cmdInitialize = 0xBE
	cmdSoftReset  = 0xBA
	cmdStatus     = 0x71

	statusBusy       = 0x80
	statusCalibrated = 0x08

	frameLen = 7 // status, 5 data bytes, crc
)

var (
	ErrTimeout  = errors.New("aht20: timeout")
	ErrNotReady = errors.New("aht20: not ready")
	ErrCRC      = errors.New("aht20: crc mismatch")
)

// Config is optional; zero values take the defaults.
type Config struct {
	Address        uint16        // 0x38
	PollInterval   time.Duration // 15ms between Collect attempts in Read
	CollectTimeout time.Duration // 250ms total wait in Read
	ConversionTime time.Duration // 80ms before the first Collect in Read
	SkipCRC        bool
	Sleep          func(context.Context, time.Duration) error
}

type Device struct {
	bus  drivers.I2C
	cfg  Config
	init bool
	cmd  [3]byte
	buf  [frameLen]byte
	last Sample
}

func New(bus drivers.I2C, cfg Config) *Device {
	if cfg.Address == 0 {
		cfg.Address = Address
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Millisecond
	}
	if cfg.CollectTimeout <= 0 {
		cfg.CollectTimeout = 250 * time.Millisecond
	}
	if cfg.ConversionTime <= 0 {
		cfg.ConversionTime = 80 * time.Millisecond
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleep
	}
	return &Device{bus: bus, cfg: cfg}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Init calibrates the sensor unless its status already says so.
func (d *Device) Init(ctx context.Context) error {
	st, err := d.Status()
	if err != nil {
		return err
	}
	if st&statusCalibrated == 0 {
		d.cmd = [3]byte{cmdInitialize, 0x08, 0x00}
		if err := d.bus.Tx(d.cfg.Address, d.cmd[:], nil); err != nil {
			return err
		}
		if err := d.cfg.Sleep(ctx, 10*time.Millisecond); err != nil {
			return err
		}
	}
	d.init = true
	return nil
}

// Reset issues a soft reset. The sensor needs about 20ms before the next
// command and must be initialised again.
func (d *Device) Reset() error {
	d.init = false
	d.cmd[0] = cmdSoftReset
	return d.bus.Tx(d.cfg.Address, d.cmd[:1], nil)
}

func (d *Device) Status() (byte, error) {
	d.cmd[0] = cmdStatus
	if err := d.bus.Tx(d.cfg.Address, d.cmd[:1], d.buf[:1]); err != nil {
		return 0, err
	}
	return d.buf[0], nil
}

// Trigger starts a conversion without waiting for it.
func (d *Device) Trigger() error {
	d.cmd = [3]byte{cmdTrigger, 0x33, 0x00}
	return d.bus.Tx(d.cfg.Address, d.cmd[:], nil)
}

// Collect reads one finished conversion into out and the device cache.
func (d *Device) Collect(out *Sample) error {
	data := d.buf[:]
	if err := d.bus.Tx(d.cfg.Address, nil, data); err != nil {
		return err
	}
	if data[0]&statusCalibrated == 0 || data[0]&statusBusy != 0 {
		return ErrNotReady
	}
	if !d.cfg.SkipCRC && crc8(data[:6]) != data[6] {
		return ErrCRC
	}
	s := Sample{
		RawHumidity: uint32(data[1])<<12 | uint32(data[2])<<4 | uint32(data[3])>>4,
		RawTemp:     uint32(data[3]&0x0F)<<16 | uint32(data[4])<<8 | uint32(data[5]),
	}
	d.last = s
	if out != nil {
		*out = s
	}
	return nil
}

// Read initialises the sensor on first use, triggers a conversion and polls
// until it completes or CollectTimeout passes.
func (d *Device) Read(ctx context.Context) (Sample, error) {
	if !d.init {
		if err := d.Init(ctx); err != nil {
			return Sample{}, err
		}
	}
	if err := d.Trigger(); err != nil {
		return Sample{}, err
	}
	if err := d.cfg.Sleep(ctx, d.cfg.ConversionTime); err != nil {
		return Sample{}, err
	}
	var waited time.Duration
	for {
		var s Sample
		err := d.Collect(&s)
		if !errors.Is(err, ErrNotReady) {
			return s, err
		}
		if waited >= d.cfg.CollectTimeout {
			return Sample{}, ErrTimeout
		}
		if err := d.cfg.Sleep(ctx, d.cfg.PollInterval); err != nil {
			return Sample{}, err
		}
		waited += d.cfg.PollInterval
	}
}

// Last is the most recent good sample.
func (d *Device) Last() Sample { return d.last }

// Sample holds 20-bit raw readings.
type Sample struct {
	RawHumidity uint32
	RawTemp     uint32
}

// DeciRelHumidity is tenths of %RH.
func (s Sample) DeciRelHumidity() int32 {
	return int32(uint64(s.RawHumidity) * 1000 >> 20)
}

// DeciCelsius is tenths of a degree.
func (s Sample) DeciCelsius() int32 {
	return int32(uint64(s.RawTemp)*2000>>20) - 500
}

// MilliCelsius matches the unit of other TinyGo temperature drivers.
func (s Sample) MilliCelsius() int32 {
	return int32(uint64(s.RawTemp)*200000>>20) - 50000
}

// crc8 uses polynomial 0x31, initial value 0xFF, no reflection.
func crc8(b []byte) byte {
	c := byte(0xFF)
	for _, v := range b {
		c ^= v
		for i := 0; i < 8; i++ {
			if c&0x80 != 0 {
				c = c<<1 ^ 0x31
			} else {
				c <<= 1
			}
		}
	}
	return c
}
