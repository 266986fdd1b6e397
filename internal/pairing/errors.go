package pairing

import (
	"errors"
	"fmt"
)

// Domain-specific errors for pairing operations.
var (
	// ErrInvalidCredentials is returned when the credentials secret is
	// unusable. No request is sent.
	ErrInvalidCredentials = errors.New("pairing: invalid credentials secret")

	// ErrInvalidURL is returned when the pairing URL cannot be used as a base.
	ErrInvalidURL = errors.New("pairing: invalid pairing URL")

	// ErrRequest is returned when the request could not be sent, or the
	// response could not be read, was too large, or was not JSON.
	ErrRequest = errors.New("pairing: error while sending or receiving request")

	// ErrUnexpectedResponse is returned when a success response does not
	// have the shape expected for the endpoint.
	ErrUnexpectedResponse = errors.New("pairing: unexpected API response")

	// ErrCrypto is returned when key, CSR, or certificate handling fails.
	ErrCrypto = errors.New("pairing: crypto error")
)

// APIError is returned when the pairing API answers with a non-success
// status. Body is the raw response text, unparsed.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("pairing: API returned status %d: %s", e.StatusCode, e.Body)
}
