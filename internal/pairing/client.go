package pairing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// maxResponseSize bounds how much of a response body is read. Larger
// bodies fail with ErrRequest.
const maxResponseSize = 1 << 20

const tracerName = "github.com/nerrad567/astarte-device-core/internal/pairing"

// Config identifies the device towards the pairing API. The client never
// modifies it.
type Config struct {
	Realm             string
	DeviceID          string
	CredentialsSecret string
	PairingURL        string
}

// Logger is the subset of logging the client needs.
type Logger interface {
	Debug(msg string, args ...any)
}

// Client talks to the Astarte pairing API.
//
// Thread Safety:
//   - Stateless between calls; safe for concurrent use.
//
// Calls are one-shot. Retries, backoff, and timeouts belong to the caller
// and are driven through the context.
type Client struct {
	cfg    Config
	http   *http.Client
	logger Logger
	tracer trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithLogger sets a logger for request/response debug entries.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// NewClient creates a pairing client.
func NewClient(cfg Config, opts ...Option) *Client {
	c := &Client{
		cfg:    cfg,
		http:   http.DefaultClient,
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type credentialsRequest struct {
	Data struct {
		CSR string `json:"csr"`
	} `json:"data"`
}

// FetchCredentials exchanges a PEM CSR for a signed PEM client certificate.
//
// Returns:
//   - The certificate on HTTP 201
//   - ErrRequest if the 201 body is not JSON
//   - ErrUnexpectedResponse if the 201 body lacks data.clientCertificate
//   - *APIError carrying the raw body for any other status
func (c *Client) FetchCredentials(ctx context.Context, csr string) (string, error) {
	var req credentialsRequest
	req.Data.CSR = csr
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%w: encoding request: %w", ErrRequest, err)
	}

	raw, err := c.do(ctx, "pairing.FetchCredentials", http.MethodPost, http.StatusCreated, payload,
		"v1", c.cfg.Realm, "devices", c.cfg.DeviceID, "protocols", "astarte_mqtt_v1", "credentials")
	if err != nil {
		return "", err
	}

	body, err := parseBody(raw)
	if err != nil {
		return "", err
	}
	return stringField(body, "data", "clientCertificate")
}

// FetchBrokerURL returns the MQTT broker URL the device should connect to.
//
// Returns:
//   - The broker URL on HTTP 200
//   - ErrRequest if the 200 body is not JSON
//   - ErrUnexpectedResponse if the 200 body lacks data.version, data.status
//     or data.protocols.astarteMqttV1.brokerUrl
//   - *APIError carrying the raw body for any other status
func (c *Client) FetchBrokerURL(ctx context.Context) (string, error) {
	raw, err := c.do(ctx, "pairing.FetchBrokerURL", http.MethodGet, http.StatusOK, nil,
		"v1", c.cfg.Realm, "devices", c.cfg.DeviceID)
	if err != nil {
		return "", err
	}

	body, err := parseBody(raw)
	if err != nil {
		return "", err
	}
	for _, key := range []string{"version", "status"} {
		if _, err := field(body, "data", key); err != nil {
			return "", err
		}
	}
	return stringField(body, "data", "protocols", "astarteMqttV1", "brokerUrl")
}

// parseBody checks that a success body is JSON at all. A body that is not
// is a transport-level failure, not a shape mismatch.
func parseBody(raw []byte) (json.RawMessage, error) {
	var body json.RawMessage
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", ErrRequest, err)
	}
	return body, nil
}

// field walks body along path. Keys match exactly, unlike encoding/json
// struct decoding. A missing key, a null, or a non-object along the way is
// ErrUnexpectedResponse.
func field(body json.RawMessage, path ...string) (json.RawMessage, error) {
	cur := body
	for i, key := range path {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(cur, &obj); err != nil || obj == nil {
			return nil, fmt.Errorf("%w: %s is not an object", ErrUnexpectedResponse, dotted(path[:i]))
		}
		next, ok := obj[key]
		if !ok || string(next) == "null" {
			return nil, fmt.Errorf("%w: missing %s", ErrUnexpectedResponse, dotted(path[:i+1]))
		}
		cur = next
	}
	return cur, nil
}

func stringField(body json.RawMessage, path ...string) (string, error) {
	raw, err := field(body, path...)
	if err != nil {
		return "", err
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %s is not a string", ErrUnexpectedResponse, dotted(path))
	}
	return s, nil
}

func dotted(path []string) string {
	if len(path) == 0 {
		return "body"
	}
	return strings.Join(path, ".")
}

// do sends one request and returns the body when the status is want.
func (c *Client) do(ctx context.Context, op, method string, want int, payload []byte, segments ...string) (_ []byte, err error) {
	ctx, span := c.tracer.Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("astarte.realm", c.cfg.Realm),
			attribute.String("astarte.device_id", c.cfg.DeviceID),
			attribute.String("http.request.method", method),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if err := ValidateSecret(c.cfg.CredentialsSecret); err != nil {
		return nil, err
	}

	endpoint, err := buildURL(c.cfg.PairingURL, segments...)
	if err != nil {
		return nil, err
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.CredentialsSecret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	c.debug("pairing request", "method", method, "url", endpoint)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequest, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrRequest, err)
	}
	if len(raw) > maxResponseSize {
		return nil, fmt.Errorf("%w: response body exceeds %d bytes", ErrRequest, maxResponseSize)
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	c.debug("pairing response", "method", method, "url", endpoint, "status", resp.StatusCode)

	if resp.StatusCode != want {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

// buildURL appends path segments to base. Each segment is escaped on its
// own, and a trailing slash on base does not change the result.
func buildURL(base string, segments ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if !u.IsAbs() || u.Opaque != "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q cannot be a base URL", ErrInvalidURL, base)
	}

	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}

	rawPath := strings.TrimSuffix(u.EscapedPath(), "/") + "/" + strings.Join(escaped, "/")
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	u.Path = path
	u.RawPath = rawPath

	return u.String(), nil
}

// ValidateSecret rejects secrets that cannot be sent as a bearer token.
func ValidateSecret(secret string) error {
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("%w: secret is empty", ErrInvalidCredentials)
	}
	if strings.ContainsAny(secret, "\r\n") {
		return fmt.Errorf("%w: secret contains a line break", ErrInvalidCredentials)
	}
	return nil
}

func (c *Client) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
