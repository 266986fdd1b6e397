package codec

import (
	"bytes"
	"fmt"
	"slices"
	"time"
)

// Kind identifies the type carried by a Scalar.
type Kind uint8

// Scalar kinds. The numeric values are part of the encoded form and must
// not be reordered.
const (
	KindUnset Kind = iota
	KindDouble
	KindInteger
	KindBoolean
	KindLongInteger
	KindString
	KindBinaryBlob
	KindDateTime
	KindDoubleArray
	KindIntegerArray
	KindBooleanArray
	KindLongIntegerArray
	KindStringArray
	KindBinaryBlobArray
	KindDateTimeArray
)

// kindObject tags an aggregate envelope. It is never the kind of a Scalar.
const kindObject Kind = 0xFF

var kindNames = map[Kind]string{
	KindUnset:            "unset",
	KindDouble:           "double",
	KindInteger:          "integer",
	KindBoolean:          "boolean",
	KindLongInteger:      "longinteger",
	KindString:           "string",
	KindBinaryBlob:       "binaryblob",
	KindDateTime:         "datetime",
	KindDoubleArray:      "doublearray",
	KindIntegerArray:     "integerarray",
	KindBooleanArray:     "booleanarray",
	KindLongIntegerArray: "longintegerarray",
	KindStringArray:      "stringarray",
	KindBinaryBlobArray:  "binaryblobarray",
	KindDateTimeArray:    "datetimearray",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Scalar is a single typed device value, or the explicit unset marker.
// The zero value is Unset.
type Scalar struct {
	kind  Kind
	value any
}

// Unset returns the marker for a property that was explicitly unset.
// It is distinct from a property that was never stored.
func Unset() Scalar { return Scalar{} }

// Constructors for each kind.

func Double(v float64) Scalar { return Scalar{KindDouble, v} }
func Integer(v int32) Scalar { return Scalar{KindInteger, v} }
func Boolean(v bool) Scalar { return Scalar{KindBoolean, v} }
func LongInteger(v int64) Scalar { return Scalar{KindLongInteger, v} }
func String(v string) Scalar { return Scalar{KindString, v} }
func BinaryBlob(v []byte) Scalar { return Scalar{KindBinaryBlob, v} }
func DateTime(v time.Time) Scalar { return Scalar{KindDateTime, v} }
func DoubleArray(v []float64) Scalar { return Scalar{KindDoubleArray, v} }
func IntegerArray(v []int32) Scalar { return Scalar{KindIntegerArray, v} }
func BooleanArray(v []bool) Scalar { return Scalar{KindBooleanArray, v} }
func LongIntegerArray(v []int64) Scalar { return Scalar{KindLongIntegerArray, v} }
func StringArray(v []string) Scalar { return Scalar{KindStringArray, v} }
func BinaryBlobArray(v [][]byte) Scalar { return Scalar{KindBinaryBlobArray, v} }
func DateTimeArray(v []time.Time) Scalar { return Scalar{KindDateTimeArray, v} }

// Kind reports the type of the value.
func (s Scalar) Kind() Kind { return s.kind }

// IsUnset reports whether s is the unset marker.
func (s Scalar) IsUnset() bool { return s.kind == KindUnset }

// Value returns the underlying Go value, or nil for Unset.
func (s Scalar) Value() any { return s.value }

// Equal reports whether two scalars have the same kind and value.
// Times compare by instant, not by location.
func (s Scalar) Equal(o Scalar) bool {
	if s.kind != o.kind {
		return false
	}

	switch a := s.value.(type) {
	case nil:
		return o.value == nil
	case []byte:
		return bytes.Equal(a, o.value.([]byte))
	case time.Time:
		return a.Equal(o.value.(time.Time))
	case []float64:
		return slices.Equal(a, o.value.([]float64))
	case []int32:
		return slices.Equal(a, o.value.([]int32))
	case []bool:
		return slices.Equal(a, o.value.([]bool))
	case []int64:
		return slices.Equal(a, o.value.([]int64))
	case []string:
		return slices.Equal(a, o.value.([]string))
	case [][]byte:
		return slices.EqualFunc(a, o.value.([][]byte), bytes.Equal)
	case []time.Time:
		return slices.EqualFunc(a, o.value.([]time.Time), time.Time.Equal)
	default:
		return s.value == o.value
	}
}

func (s Scalar) String() string {
	switch v := s.value.(type) {
	case nil:
		return "<unset>"
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case []byte:
		return fmt.Sprintf("<%d bytes>", len(v))
	default:
		return fmt.Sprint(v)
	}
}
