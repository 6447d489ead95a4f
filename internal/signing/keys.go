package signing

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rezonia/zatca-pipeline/internal/model"
)

// Key material lives on disk, not in the database: private keys are
// written 0600 inside 0700 directories and loaded fresh on every use.

// GenerateKeyPair creates a P-256 key for a company and writes it under
// dir. Returns the key file path. Refuses to overwrite an existing key.
func GenerateKeyPair(dir, name string) (string, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", model.ErrSigning("cannot create key directory", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", model.ErrSigning("key generation failed", err)
	}

	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return "", model.ErrSigning("key encoding failed", err)
	}
	block := &pem.Block{Type: "EC PRIVATE KEY", Bytes: der}

	path := filepath.Join(dir, name+".pem")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", model.ErrSigning(fmt.Sprintf("cannot create key file %s", path), err)
	}
	defer f.Close()

	if err := pem.Encode(f, block); err != nil {
		return "", model.ErrSigning("cannot write key file", err)
	}
	return path, nil
}

// CSRSubject identifies the company on a certificate signing request
type CSRSubject struct {
	CommonName   string
	Organization string
	Country      string
	SerialNumber string // tax number
}

// GenerateCSR builds a PEM certificate signing request for the key at
// keyPath, the artifact handed to the authority during CSID onboarding
func GenerateCSR(keyPath string, subject CSRSubject) (string, error) {
	key, err := LoadPrivateKey(keyPath)
	if err != nil {
		return "", err
	}

	country := subject.Country
	if country == "" {
		country = "SA"
	}
	tmpl := &x509.CertificateRequest{
		Subject: pkix.Name{
			CommonName:   subject.CommonName,
			Organization: []string{subject.Organization},
			Country:      []string{country},
			SerialNumber: subject.SerialNumber,
		},
		SignatureAlgorithm: x509.ECDSAWithSHA256,
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, tmpl, key)
	if err != nil {
		return "", model.ErrSigning("CSR generation failed", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})), nil
}

// ImportCertificate validates and stores an authority-issued certificate
// next to the company's key material. Certificates outside their validity
// window are refused at the door rather than failing on first signature.
// Returns the stored path.
func ImportCertificate(dir, name string, certPEM []byte) (string, error) {
	cert, err := parseCertificate(certPEM)
	if err != nil {
		return "", err
	}
	now := time.Now()
	if now.Before(cert.NotBefore) {
		return "", model.ErrSigning(
			fmt.Sprintf("certificate is not valid until %s", cert.NotBefore.Format(time.RFC3339)), nil)
	}
	if now.After(cert.NotAfter) {
		return "", model.ErrSigning(
			fmt.Sprintf("certificate expired at %s", cert.NotAfter.Format(time.RFC3339)), nil)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", model.ErrSigning("cannot create certificate directory", err)
	}

	path := filepath.Join(dir, name+".crt")
	if err := os.WriteFile(path, certPEM, 0o600); err != nil {
		return "", model.ErrSigning(fmt.Sprintf("cannot write certificate %s", path), err)
	}
	return path, nil
}

// LoadPrivateKey reads an EC private key from disk. Keys are never cached;
// rotating the file takes effect on the next signature. Non-EC keys are
// rejected outright.
func LoadPrivateKey(path string) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, model.ErrMissingKey(path, err)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, model.ErrMissingKey(path, fmt.Errorf("no PEM block found"))
	}

	if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, model.ErrMissingKey(path, err)
	}
	key, ok := parsed.(*ecdsa.PrivateKey)
	if !ok {
		return nil, model.ErrUnsupportedKey(fmt.Sprintf("%T", parsed))
	}
	return key, nil
}

// LoadCertificate reads a PEM certificate and requires an EC public key
func LoadCertificate(path string) (*x509.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, model.ErrSigning(fmt.Sprintf("cannot read certificate %s", path), err)
	}
	return parseCertificate(raw)
}

func parseCertificate(certPEM []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(certPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, model.ErrSigning("no certificate PEM block found", nil)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, model.ErrSigning("certificate parse failed", err)
	}
	if _, ok := cert.PublicKey.(*ecdsa.PublicKey); !ok {
		return nil, model.ErrUnsupportedKey(fmt.Sprintf("%T", cert.PublicKey))
	}
	return cert, nil
}
