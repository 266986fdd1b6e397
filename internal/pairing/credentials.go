package pairing

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
)

// Credentials is the result of a full pairing exchange.
type Credentials struct {
	// Certificate holds the signed client certificate and its private key.
	// Certificate.Leaf is populated.
	Certificate tls.Certificate

	// CertificatePEM is the certificate as returned by the pairing API.
	CertificatePEM string

	// BrokerURL is the MQTT broker the device should connect to.
	BrokerURL string
}

// TLSConfig returns a client TLS configuration presenting the certificate.
func (c Credentials) TLSConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.Certificate},
		MinVersion:   tls.VersionTLS12,
	}
}

// GenerateCSR creates a new ECDSA P-256 key and a PEM encoded certificate
// signing request with common name "realm/deviceID".
func GenerateCSR(realm, deviceID string) (csrPEM string, key *ecdsa.PrivateKey, err error) {
	key, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", nil, fmt.Errorf("%w: generating key: %w", ErrCrypto, err)
	}

	template := &x509.CertificateRequest{
		Subject: pkix.Name{
			CommonName: realm + "/" + deviceID,
		},
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}
	der, err := x509.CreateCertificateRequest(rand.Reader, template, key)
	if err != nil {
		return "", nil, fmt.Errorf("%w: creating CSR: %w", ErrCrypto, err)
	}

	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})), key, nil
}

// Pair runs the full exchange: generate a key and CSR, fetch the signed
// certificate, then discover the broker URL.
func (c *Client) Pair(ctx context.Context) (*Credentials, error) {
	csr, key, err := GenerateCSR(c.cfg.Realm, c.cfg.DeviceID)
	if err != nil {
		return nil, err
	}

	certPEM, err := c.FetchCredentials(ctx, csr)
	if err != nil {
		return nil, fmt.Errorf("fetching credentials: %w", err)
	}

	cert, err := keyPair(certPEM, key)
	if err != nil {
		return nil, err
	}

	brokerURL, err := c.FetchBrokerURL(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching broker URL: %w", err)
	}

	return &Credentials{
		Certificate:    cert,
		CertificatePEM: certPEM,
		BrokerURL:      brokerURL,
	}, nil
}

// keyPair joins a PEM certificate with its private key, checking that they match.
func keyPair(certPEM string, key *ecdsa.PrivateKey) (tls.Certificate, error) {
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: encoding key: %w", ErrCrypto, err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	cert, err := tls.X509KeyPair([]byte(certPEM), keyPEM)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("%w: loading certificate: %w", ErrCrypto, err)
	}
	return cert, nil
}
