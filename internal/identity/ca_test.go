package identity_test

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/attestary/attestary/internal/identity"
)

// newTestCA is a helper that creates a fresh CA in a temp dir.
func newTestCA(t *testing.T) *identity.CAManager {
	t.Helper()
	ca := identity.NewCAManager(t.TempDir())
	if err := ca.Create(); err != nil {
		t.Fatalf("create test CA: %v", err)
	}
	return ca
}

func TestCAManager_Create(t *testing.T) {
	dir := t.TempDir()
	ca := identity.NewCAManager(dir)

	if err := ca.Create(); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// Cert and key must be on disk.
	for _, name := range []string{"ca.crt", "ca.key"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s to exist: %v", name, err)
		}
	}

	if ca.Cert() == nil {
		t.Error("Cert() returned nil after Create()")
	}
	if ca.Key() == nil {
		t.Error("Key() returned nil after Create()")
	}

	// CA cert must be self-signed.
	pool := ca.CertPool()
	opts := x509.VerifyOptions{Roots: pool}
	if _, err := ca.Cert().Verify(opts); err != nil {
		t.Errorf("CA cert does not verify against itself: %v", err)
	}
}

func TestCAManager_LoadOrCreate_idempotent(t *testing.T) {
	dir := t.TempDir()
	ca1 := identity.NewCAManager(dir)
	if err := ca1.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}
	serial1 := ca1.Cert().SerialNumber.String()

	// Second LoadOrCreate on the same dir must load, not create a new CA.
	ca2 := identity.NewCAManager(dir)
	if err := ca2.LoadOrCreate(); err != nil {
		t.Fatal(err)
	}
	serial2 := ca2.Cert().SerialNumber.String()

	if serial1 != serial2 {
		t.Errorf("LoadOrCreate created a new CA on the second call (serial changed: %s → %s)", serial1, serial2)
	}
}

func TestCAManager_CertPEM(t *testing.T) {
	ca := newTestCA(t)

	pemBytes := ca.CertPEM()
	if len(pemBytes) == 0 {
		t.Error("CertPEM() returned empty bytes")
	}
	if string(pemBytes[:27]) != "-----BEGIN CERTIFICATE-----" {
		t.Errorf("CertPEM() does not start with PEM header: %q", string(pemBytes[:27]))
	}
}

func TestCAManager_IssueServerCert(t *testing.T) {
	ca := newTestCA(t)

	cert, err := ca.IssueServerCert([]string{"evidence.internal"}, []net.IP{net.IPv4(127, 0, 0, 1)}, 0)
	if err != nil {
		t.Fatalf("IssueServerCert() error: %v", err)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse issued certificate: %v", err)
	}

	if len(leaf.DNSNames) != 1 || leaf.DNSNames[0] != "evidence.internal" {
		t.Errorf("DNSNames: got %v, want [evidence.internal]", leaf.DNSNames)
	}
	if len(leaf.IPAddresses) != 1 || !leaf.IPAddresses[0].Equal(net.IPv4(127, 0, 0, 1)) {
		t.Errorf("IPAddresses: got %v, want [127.0.0.1]", leaf.IPAddresses)
	}

	opts := x509.VerifyOptions{
		Roots:     ca.CertPool(),
		DNSName:   "evidence.internal",
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	if _, err := leaf.Verify(opts); err != nil {
		t.Errorf("server cert does not verify against the CA: %v", err)
	}
}

func TestCAManager_IssueServerCert_requiresLoadedCA(t *testing.T) {
	ca := identity.NewCAManager(t.TempDir())
	if _, err := ca.IssueServerCert([]string{"evidence.internal"}, nil, 0); err == nil {
		t.Error("expected error when CA is not loaded, got nil")
	}
}

func TestCAManager_IssueClientCert(t *testing.T) {
	ca := newTestCA(t)

	certPEM, keyPEM, err := ca.IssueClientCert("attestation-verifier", 0)
	if err != nil {
		t.Fatalf("IssueClientCert() error: %v", err)
	}

	// The pair must load as a usable TLS client certificate.
	if _, err := tls.X509KeyPair(certPEM, keyPEM); err != nil {
		t.Fatalf("issued pair does not load as a key pair: %v", err)
	}

	block, _ := pem.Decode(certPEM)
	if block == nil {
		t.Fatal("issued cert PEM did not decode")
	}
	leaf, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		t.Fatalf("parse issued certificate: %v", err)
	}

	if leaf.Subject.CommonName != "attestation-verifier" {
		t.Errorf("CommonName: got %q, want %q", leaf.Subject.CommonName, "attestation-verifier")
	}

	opts := x509.VerifyOptions{
		Roots:     ca.CertPool(),
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	if _, err := leaf.Verify(opts); err != nil {
		t.Errorf("client cert does not verify against the CA: %v", err)
	}
}

func TestCAManager_TLSConfig(t *testing.T) {
	ca := newTestCA(t)
	serverCert, err := ca.IssueServerCert([]string{"evidence.internal"}, nil, 0)
	if err != nil {
		t.Fatal(err)
	}

	open := ca.TLSConfig(serverCert, false)
	if open.ClientAuth != tls.NoClientCert {
		t.Errorf("ClientAuth without mTLS: got %v, want NoClientCert", open.ClientAuth)
	}
	if open.MinVersion != tls.VersionTLS13 {
		t.Errorf("MinVersion: got %x, want TLS 1.3", open.MinVersion)
	}

	mutual := ca.TLSConfig(serverCert, true)
	if mutual.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Errorf("ClientAuth with mTLS: got %v, want RequireAndVerifyClientCert", mutual.ClientAuth)
	}
	if mutual.ClientCAs == nil {
		t.Error("ClientCAs is nil with mTLS enabled")
	}
}
