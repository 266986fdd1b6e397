package session

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zlib"
)

// lengthPrefixSize is the size of the uncompressed-length header.
const lengthPrefixSize = 4

// maxPropertyListSize bounds the inflated size of a received list.
const maxPropertyListSize = 16 << 20

// encodePropertyList builds a control-topic property list payload.
func encodePropertyList(paths []string) ([]byte, error) {
	joined := strings.Join(paths, ";")

	var buf bytes.Buffer
	var header [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(joined))) //nolint:gosec // bounded by maxPropertyListSize in practice
	buf.Write(header[:])

	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write([]byte(joined)); err != nil {
		return nil, fmt.Errorf("compressing property list: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("compressing property list: %w", err)
	}

	return buf.Bytes(), nil
}

// decodePropertyList parses a control-topic property list payload into
// "iface/path" entries. An empty list yields no entries.
func decodePropertyList(payload []byte) ([]string, error) {
	if len(payload) < lengthPrefixSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the length header", ErrMalformedPropertyList, len(payload))
	}

	size := binary.BigEndian.Uint32(payload[:lengthPrefixSize])
	if size > maxPropertyListSize {
		return nil, fmt.Errorf("%w: declared size %d too large", ErrMalformedPropertyList, size)
	}
	if size == 0 {
		return nil, nil
	}

	zr, err := zlib.NewReader(bytes.NewReader(payload[lengthPrefixSize:]))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPropertyList, err)
	}
	defer zr.Close() //nolint:errcheck // read-only stream

	data, err := io.ReadAll(io.LimitReader(zr, int64(size)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPropertyList, err)
	}
	if len(data) != int(size) {
		return nil, fmt.Errorf("%w: inflated %d bytes, header says %d", ErrMalformedPropertyList, len(data), size)
	}

	var entries []string
	for _, entry := range strings.Split(string(data), ";") {
		if entry != "" {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}
