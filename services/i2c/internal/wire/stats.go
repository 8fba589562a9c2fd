package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"i2cserver-go/errcode"
	"i2cserver-go/types"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: cbor encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: cbor decoder mode: %v", err))
	}
}

// MaxStatusLen is the lease size a client should offer for OpStats.
const MaxStatusLen = 512

// EncodeStatus marshals st into dst and returns the length used.
func EncodeStatus(dst []byte, st types.ControllerStatus) (int, error) {
	b, err := encMode.Marshal(st)
	if err != nil {
		return 0, errcode.Wrap(errcode.Error, "encode_status", err)
	}
	if len(b) > len(dst) {
		return 0, &errcode.E{C: errcode.TooMuchData, Op: "encode_status"}
	}
	return copy(dst, b), nil
}

// DecodeStatus is the inverse of EncodeStatus.
func DecodeStatus(b []byte) (types.ControllerStatus, error) {
	var st types.ControllerStatus
	if err := decMode.Unmarshal(b, &st); err != nil {
		return st, errcode.Wrap(errcode.BadOperation, "decode_status", err)
	}
	return st, nil
}
