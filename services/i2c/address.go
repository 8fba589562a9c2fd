package i2c

import (
	"i2cserver-go/errcode"
	"i2cserver-go/types"
)

// SevenBitAddr is a validated 7-bit target address.
type SevenBitAddr uint8

// TryNew rejects addresses above 0x7F and the reserved ranges
// (0x00..0x07, 0x78..0x7F).
func (SevenBitAddr) TryNew(a uint8) (SevenBitAddr, error) {
	if a > 0x7F || types.Reserved7Bit(a) {
		return 0, &errcode.E{C: errcode.ReservedAddress, Op: "address"}
	}
	return SevenBitAddr(a), nil
}

// NewSevenBit is SevenBitAddr.TryNew.
func NewSevenBit(a uint8) (SevenBitAddr, error) { return SevenBitAddr(0).TryNew(a) }

// TenBitAddr is a 10-bit target address.
type TenBitAddr uint16

const maxTenBit = 0x3FF

func NewTenBit(a uint16) (TenBitAddr, error) {
	if a > maxTenBit {
		return 0, &errcode.E{C: errcode.InvalidParams, Op: "address", Msg: "10-bit address out of range"}
	}
	return TenBitAddr(a), nil
}

// Frame returns the two address bytes sent on the wire: 11110XX0 then the
// low eight bits.
func (a TenBitAddr) Frame() [2]byte {
	return [2]byte{0xF0 | uint8(a>>7)&0x06, uint8(a)}
}
