package value

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Values are encoded as the plain CBOR item for their payload: an integer,
// a float64, a boolean or a text string. Absent is encoded as CBOR null, so a
// map entry holding an absent value survives a round trip as "key present,
// no value".

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		// Doubles stay doubles on the wire so they never decode as integers.
		ShortestFloat: cbor.ShortestFloatNone,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	decMode, err = cbor.DecOptions{
		IntDec: cbor.IntDecConvertSigned,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

var (
	_ cbor.Marshaler   = Value{}
	_ cbor.Unmarshaler = (*Value)(nil)
)

// MarshalCBOR implements cbor.Marshaler.
func (v Value) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(v.Interface())
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (v *Value) UnmarshalCBOR(data []byte) error {
	var raw any
	if err := decMode.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}
	decoded, err := Of(raw)
	if err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}
	*v = decoded
	return nil
}
