package dtlsbridge

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/pion/dtls/v3/pkg/crypto/fingerprint"
	"github.com/pion/dtls/v3/pkg/crypto/selfsign"
)

// FingerprintAlgorithm names the hash used for Certificate.Fingerprint, as
// browsers expect it in session descriptions.
const FingerprintAlgorithm = "sha-256"

// Certificate is the relay's handshake identity.
type Certificate struct {
	TLS tls.Certificate
	// Fingerprint is the colon-separated SHA-256 digest of the leaf.
	Fingerprint string
}

// GenerateCertificate creates a self-signed certificate for the relay.
func GenerateCertificate() (Certificate, error) {
	cert, err := selfsign.GenerateSelfSigned()
	if err != nil {
		return Certificate{}, fmt.Errorf("dtlsbridge: generate certificate: %w", err)
	}
	return NewCertificate(cert)
}

// NewCertificate wraps an existing certificate and computes its fingerprint.
func NewCertificate(cert tls.Certificate) (Certificate, error) {
	if len(cert.Certificate) == 0 {
		return Certificate{}, fmt.Errorf("dtlsbridge: certificate has no leaf")
	}
	leaf := cert.Leaf
	if leaf == nil {
		var err error
		if leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return Certificate{}, fmt.Errorf("dtlsbridge: parse certificate: %w", err)
		}
	}
	fp, err := fingerprint.Fingerprint(leaf, crypto.SHA256)
	if err != nil {
		return Certificate{}, fmt.Errorf("dtlsbridge: fingerprint: %w", err)
	}
	return Certificate{TLS: cert, Fingerprint: fp}, nil
}
