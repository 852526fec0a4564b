package client

import (
	"fmt"
	"os"
	"path/filepath"
)

// CertBundle holds the PEM-encoded certificate material for an mTLS
// client identity. It is written to disk by 'attestary cert' and read
// back by NewFromCertDir.
type CertBundle struct {
	// CertPEM is the client's X.509 certificate issued by the archive CA.
	CertPEM string

	// PrivateKeyPEM is the client's RSA private key. Keep this secret.
	PrivateKeyPEM string

	// CAPEM is the archive CA certificate used to verify the server's
	// TLS certificate.
	CAPEM string
}

// LoadCertBundle reads cert.pem, key.pem, and ca.pem from dir.
//
//	bundle, err := client.LoadCertBundle(os.ExpandEnv("$HOME/.attestary/certs/verifier"))
func LoadCertBundle(dir string) (*CertBundle, error) {
	read := func(name string) (string, error) {
		b, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return "", fmt.Errorf("read %s: %w", name, err)
		}
		return string(b), nil
	}

	cert, err := read("cert.pem")
	if err != nil {
		return nil, err
	}
	key, err := read("key.pem")
	if err != nil {
		return nil, err
	}
	ca, err := read("ca.pem")
	if err != nil {
		return nil, err
	}
	return &CertBundle{CertPEM: cert, PrivateKeyPEM: key, CAPEM: ca}, nil
}

// NewFromCertDir creates an mTLS-authenticated SDK client by loading
// the certificate bundle written by 'attestary cert' from dir.
//
// Additional options (e.g. WithBearerToken) can be appended:
//
//	c, err := client.NewFromCertDir(
//	    "https://evidence.internal:8443",
//	    os.ExpandEnv("$HOME/.attestary/certs/verifier"),
//	    client.WithBearerToken(token),
//	)
func NewFromCertDir(baseURL, dir string, opts ...Option) (*Client, error) {
	bundle, err := LoadCertBundle(dir)
	if err != nil {
		return nil, fmt.Errorf("load cert bundle from %q: %w", dir, err)
	}
	return New(baseURL, append([]Option{WithMTLS(bundle.CertPEM, bundle.PrivateKeyPEM, bundle.CAPEM)}, opts...)...)
}

// WithCertDir is the functional-option form of NewFromCertDir.
// It loads cert.pem, key.pem, and ca.pem from dir and configures mTLS.
func WithCertDir(dir string) Option {
	return func(c *Client) error {
		bundle, err := LoadCertBundle(dir)
		if err != nil {
			return fmt.Errorf("load cert bundle from %q: %w", dir, err)
		}
		return WithMTLS(bundle.CertPEM, bundle.PrivateKeyPEM, bundle.CAPEM)(c)
	}
}
