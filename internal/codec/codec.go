package codec

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Decoded is the result of decoding a payload: either an Individual or an
// Object. The interface is sealed.
type Decoded interface {
	isDecoded()
}

// Individual is a payload carrying a single value.
type Individual struct {
	Value Scalar
}

// Object is an aggregate payload mapping field names to values.
type Object struct {
	Fields map[string]Scalar
}

func (Individual) isDecoded() {}
func (Object) isDecoded()     {}

// Codec converts device values to and from byte payloads.
type Codec interface {
	EncodeIndividual(v Scalar) ([]byte, error)
	EncodeObject(fields map[string]Scalar) ([]byte, error)
	Decode(data []byte) (Decoded, error)
}

// encMode is the CBOR encoder mode for payloads.
// Configured for deterministic encoding with integer keys.
var encMode cbor.EncMode

// decMode is the CBOR decoder mode for payloads.
var decMode cbor.DecMode

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthAllowed,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create CBOR decoder mode: %v", err))
	}
}

// envelope is the encoded form of a payload.
type envelope struct {
	Kind   Kind                 `cbor:"1,keyasint"`
	Value  cbor.RawMessage      `cbor:"2,keyasint,omitempty"`
	Fields map[string]fieldData `cbor:"3,keyasint,omitempty"`
}

type fieldData struct {
	Kind  Kind            `cbor:"1,keyasint"`
	Value cbor.RawMessage `cbor:"2,keyasint"`
}

// CBOR is a Codec backed by a deterministic CBOR envelope.
type CBOR struct{}

// NewCBOR returns the CBOR codec.
func NewCBOR() *CBOR {
	return &CBOR{}
}

// EncodeIndividual encodes a single value. Unset encodes to an empty payload.
func (c *CBOR) EncodeIndividual(v Scalar) ([]byte, error) {
	if v.IsUnset() {
		return []byte{}, nil
	}

	raw, err := encodeValue(v)
	if err != nil {
		return nil, err
	}
	data, err := encMode.Marshal(envelope{Kind: v.kind, Value: raw})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return data, nil
}

// EncodeObject encodes an aggregate. Fields may not be Unset.
func (c *CBOR) EncodeObject(fields map[string]Scalar) ([]byte, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: object has no fields", ErrEncode)
	}

	env := envelope{Kind: kindObject, Fields: make(map[string]fieldData, len(fields))}
	for name, v := range fields {
		if v.IsUnset() {
			return nil, fmt.Errorf("%w: field %q is unset", ErrEncode, name)
		}
		raw, err := encodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		env.Fields[name] = fieldData{Kind: v.kind, Value: raw}
	}

	data, err := encMode.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return data, nil
}

// Decode decodes a payload. An empty payload is Individual{Unset()}.
func (c *CBOR) Decode(data []byte) (Decoded, error) {
	if len(data) == 0 {
		return Individual{Value: Unset()}, nil
	}

	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	if env.Kind == kindObject {
		fields := make(map[string]Scalar, len(env.Fields))
		for name, f := range env.Fields {
			v, err := decodeValue(f.Kind, f.Value)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", name, err)
			}
			fields[name] = v
		}
		return Object{Fields: fields}, nil
	}

	v, err := decodeValue(env.Kind, env.Value)
	if err != nil {
		return nil, err
	}
	return Individual{Value: v}, nil
}

func encodeValue(v Scalar) (cbor.RawMessage, error) {
	if _, ok := kindNames[v.kind]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, v.kind)
	}
	raw, err := encMode.Marshal(v.value)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return raw, nil
}

func decodeValue(kind Kind, raw cbor.RawMessage) (Scalar, error) {
	if kind == KindUnset {
		return Scalar{}, fmt.Errorf("%w: unset value inside an envelope", ErrMalformed)
	}
	if len(raw) == 0 {
		return Scalar{}, fmt.Errorf("%w: missing value for %s", ErrMalformed, kind)
	}

	var (
		v   any
		err error
	)
	switch kind {
	case KindDouble:
		v, err = unmarshalAs[float64](raw)
	case KindInteger:
		v, err = unmarshalAs[int32](raw)
	case KindBoolean:
		v, err = unmarshalAs[bool](raw)
	case KindLongInteger:
		v, err = unmarshalAs[int64](raw)
	case KindString:
		v, err = unmarshalAs[string](raw)
	case KindBinaryBlob:
		v, err = unmarshalAs[[]byte](raw)
	case KindDateTime:
		v, err = unmarshalAs[time.Time](raw)
	case KindDoubleArray:
		v, err = unmarshalAs[[]float64](raw)
	case KindIntegerArray:
		v, err = unmarshalAs[[]int32](raw)
	case KindBooleanArray:
		v, err = unmarshalAs[[]bool](raw)
	case KindLongIntegerArray:
		v, err = unmarshalAs[[]int64](raw)
	case KindStringArray:
		v, err = unmarshalAs[[]string](raw)
	case KindBinaryBlobArray:
		v, err = unmarshalAs[[][]byte](raw)
	case KindDateTimeArray:
		v, err = unmarshalAs[[]time.Time](raw)
	default:
		return Scalar{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if err != nil {
		return Scalar{}, fmt.Errorf("%w: %s: %w", ErrMalformed, kind, err)
	}
	return Scalar{kind: kind, value: v}, nil
}

func unmarshalAs[T any](raw cbor.RawMessage) (T, error) {
	var v T
	err := decMode.Unmarshal(raw, &v)
	return v, err
}
