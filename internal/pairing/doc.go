// Package pairing provisions a device's identity with the Astarte pairing API.
//
// Two endpoints are used, each with its own success shape:
//   - POST {base}/v1/{realm}/devices/{deviceId}/protocols/astarte_mqtt_v1/credentials
//     exchanges a CSR for a client certificate (HTTP 201)
//   - GET {base}/v1/{realm}/devices/{deviceId}
//     returns device status including the MQTT broker URL (HTTP 200)
//
// Both carry "Authorization: Bearer {credentialsSecret}". Any other status
// is an *APIError holding the raw response body.
//
// Error Handling:
//
//	cert, err := client.FetchCredentials(ctx, csr)
//	var apiErr *pairing.APIError
//	switch {
//	case errors.As(err, &apiErr):
//	    // apiErr.StatusCode, apiErr.Body
//	case errors.Is(err, pairing.ErrRequest):
//	    // network failure, caller decides whether to retry
//	}
//
// The client never retries. Reconnection and backoff policy live with the
// caller.
package pairing
