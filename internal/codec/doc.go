// Package codec converts typed device values to and from byte payloads.
//
// A payload decodes to either an Individual (one Scalar) or an Object (a set
// of named Scalars). An empty payload is the unset marker and decodes to
// Individual{Unset()}; encoding Unset yields an empty payload.
//
// The CBOR implementation wraps every value in a small envelope tagged with
// its Kind so the exact Go type survives a round trip (an int32 integer stays
// distinct from an int64 longinteger).
package codec
