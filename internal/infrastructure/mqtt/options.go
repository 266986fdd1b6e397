package mqtt

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is used when Options.KeepAlive is zero.
	defaultKeepAlive = 30 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Options describes one broker session.
type Options struct {
	// BrokerURL is the URL returned by pairing discovery, e.g.
	// "mqtts://broker.astarte.example.com:8883/".
	BrokerURL string

	// ClientID is "realm/deviceId" for Astarte devices.
	ClientID string

	// TLSConfig carries the client certificate from pairing. Required for
	// secure schemes; a nil config on mqtts:// uses a default with only
	// MinVersion set.
	TLSConfig *tls.Config

	KeepAlive             time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
}

// brokerAddress normalises a discovered broker URL into the form paho
// dials: scheme://host:port with no path. Secure reports whether TLS is used.
func brokerAddress(raw string) (addr string, secure bool, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("%w: parsing broker URL: %w", ErrConnectionFailed, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("%w: broker URL %q has no host", ErrConnectionFailed, raw)
	}

	switch u.Scheme {
	case "mqtts", "ssl", "tls", "tcps":
		secure = true
	case "mqtt", "tcp":
	default:
		return "", false, fmt.Errorf("%w: unsupported broker scheme %q", ErrConnectionFailed, u.Scheme)
	}

	return u.Scheme + "://" + u.Host, secure, nil
}

// buildClientOptions creates paho MQTT options for a device session.
//
// This configures:
//   - Broker address from the discovered URL
//   - Client ID for identification
//   - Mutual TLS with the pairing certificate (secure schemes)
//   - Auto-reconnect with exponential backoff
//   - Clean session mode
func buildClientOptions(o Options) (*pahomqtt.ClientOptions, error) {
	addr, secure, err := brokerAddress(o.BrokerURL)
	if err != nil {
		return nil, err
	}
	if o.ClientID == "" {
		return nil, fmt.Errorf("%w: client ID is required", ErrConnectionFailed)
	}
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(addr)
	opts.SetClientID(o.ClientID)

	// Every connect is a fresh session; the device resends its state
	// from the property cache.
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(false)
	if o.ReconnectMaxDelay > 0 {
		opts.SetMaxReconnectInterval(o.ReconnectMaxDelay)
	}
	if o.ReconnectInitialDelay > 0 {
		opts.SetConnectRetryInterval(o.ReconnectInitialDelay)
	}

	opts.SetConnectTimeout(defaultConnectTimeout)

	keepAlive := o.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	if secure {
		tlsConfig := o.TLSConfig
		if tlsConfig == nil {
			tlsConfig = &tls.Config{}
		} else {
			tlsConfig = tlsConfig.Clone()
		}
		if tlsConfig.MinVersion < tlsMinVersion {
			tlsConfig.MinVersion = tlsMinVersion
		}
		opts.SetTLSConfig(tlsConfig)
	}

	return opts, nil
}
