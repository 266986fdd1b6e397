package pairing

import (
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// GenerateDeviceID derives a stable device ID from a namespace and some
// device-unique data (serial number, MAC address). The same inputs always
// give the same ID.
func GenerateDeviceID(namespace uuid.UUID, data []byte) string {
	return encodeDeviceID(uuid.NewSHA1(namespace, data))
}

// RandomDeviceID returns a new random device ID.
func RandomDeviceID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("%w: generating device ID: %w", ErrCrypto, err)
	}
	return encodeDeviceID(id), nil
}

// encodeDeviceID renders a UUID as 22 characters of unpadded base64url,
// the form Astarte uses for device IDs.
func encodeDeviceID(id uuid.UUID) string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}
