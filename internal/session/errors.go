package session

import "errors"

// Domain-specific errors for property sessions.
var (
	// ErrUnknownInterface is returned for an interface that is not part of
	// the device introspection.
	ErrUnknownInterface = errors.New("session: interface not in introspection")

	// ErrOwnership is returned when a property is written by the side that
	// does not own its interface.
	ErrOwnership = errors.New("session: interface owned by the other side")

	// ErrInvalidPath is returned for a property path not starting with "/".
	ErrInvalidPath = errors.New("session: invalid property path")

	// ErrUnexpectedTopic is returned for messages outside the device topics.
	ErrUnexpectedTopic = errors.New("session: unexpected topic")

	// ErrMalformedPropertyList is returned when a producer or consumer
	// property list payload cannot be decoded.
	ErrMalformedPropertyList = errors.New("session: malformed property list")

	// ErrInvalidOptions is returned by New for an unusable configuration.
	ErrInvalidOptions = errors.New("session: invalid options")
)
