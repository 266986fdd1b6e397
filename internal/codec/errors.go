package codec

import "errors"

// Domain-specific errors for the codec.
var (
	// ErrEncode is returned when a value cannot be encoded.
	ErrEncode = errors.New("codec: encode failed")

	// ErrMalformed is returned when a payload cannot be decoded.
	ErrMalformed = errors.New("codec: malformed payload")

	// ErrUnknownKind is returned for a value kind the codec does not know.
	ErrUnknownKind = errors.New("codec: unknown value kind")
)
