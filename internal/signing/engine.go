// Package signing produces and verifies the detached ECDSA signatures
// embedded in phase 2 invoice documents. The scheme is hash-then-sign:
// the canonical document digest (uppercase hex SHA-256) is itself signed
// with P-256 over SHA-256.
package signing

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"regexp"
	"strings"

	"github.com/rezonia/zatca-pipeline/internal/model"
)

// XMLDSig algorithm identifiers carried in the signature block
const (
	algCanonicalization = "http://www.w3.org/2001/10/xml-exc-c14n#"
	algSignature        = "http://www.w3.org/2001/04/xmldsig-more#ecdsa-sha256"
	algDigest           = "http://www.w3.org/2001/04/xmlenc#sha256"
)

var (
	signatureValueRe = regexp.MustCompile(`(?s)<ds:SignatureValue>(.*?)</ds:SignatureValue>`)
	digestValueRe    = regexp.MustCompile(`(?s)<ds:DigestValue>(.*?)</ds:DigestValue>`)
)

// Engine signs and verifies invoice documents
type Engine struct{}

// NewEngine creates a signing engine
func NewEngine() *Engine {
	return &Engine{}
}

// SignResult carries the signed document and its crypto artifacts
type SignResult struct {
	SignedXML      string
	SignatureValue string // base64 ASN.1 ECDSA signature
	DigestValue    string // uppercase hex SHA-256 of the canonical form
}

// Sign canonicalizes the document, signs its digest with the company key
// and splices the ds:Signature block into the extension placeholder.
// certPath may be empty, in which case no certificate is embedded.
func (e *Engine) Sign(xml, keyPath, certPath string) (*SignResult, error) {
	key, err := LoadPrivateKey(keyPath)
	if err != nil {
		return nil, err
	}

	var certB64 string
	if certPath != "" {
		cert, err := LoadCertificate(certPath)
		if err != nil {
			return nil, err
		}
		certB64 = base64.StdEncoding.EncodeToString(cert.Raw)
	}

	digest := DigestHex(Canonicalize(xml))

	payload := sha256.Sum256([]byte(digest))
	sig, err := ecdsa.SignASN1(rand.Reader, key, payload[:])
	if err != nil {
		return nil, model.ErrSigning("signature generation failed", err)
	}
	sigB64 := base64.StdEncoding.EncodeToString(sig)

	signed, err := spliceSignature(xml, buildSignatureBlock(sigB64, digest, certB64))
	if err != nil {
		return nil, err
	}

	return &SignResult{
		SignedXML:      signed,
		SignatureValue: sigB64,
		DigestValue:    digest,
	}, nil
}

// Verify checks the embedded signature of a signed document against the
// certificate at certPath. Returns nil when the digest matches the
// document and the signature matches the digest.
func (e *Engine) Verify(signedXML, certPath string) error {
	cert, err := LoadCertificate(certPath)
	if err != nil {
		return err
	}
	pub := cert.PublicKey.(*ecdsa.PublicKey)

	sigB64, err := ExtractSignatureValue(signedXML)
	if err != nil {
		return err
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return model.ErrSigning("signature value is not valid base64", err)
	}

	embedded, err := extractDigestValue(signedXML)
	if err != nil {
		return err
	}

	digest := DigestHex(Canonicalize(signedXML))
	if embedded != digest {
		return model.ErrSigning(
			fmt.Sprintf("digest mismatch: document hashes to %s but signature covers %s", digest, embedded), nil)
	}

	payload := sha256.Sum256([]byte(digest))
	if !ecdsa.VerifyASN1(pub, payload[:], sig) {
		return model.ErrSigning("signature does not verify against certificate", nil)
	}
	return nil
}

// DigestHex returns the uppercase hex SHA-256 of s
func DigestHex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// ExtractSignatureValue pulls the base64 signature out of a signed
// document
func ExtractSignatureValue(signedXML string) (string, error) {
	m := signatureValueRe.FindStringSubmatch(signedXML)
	if m == nil {
		return "", model.ErrSigning("document carries no signature value", nil)
	}
	return strings.TrimSpace(m[1]), nil
}

func extractDigestValue(signedXML string) (string, error) {
	m := digestValueRe.FindStringSubmatch(signedXML)
	if m == nil {
		return "", model.ErrSigning("document carries no digest value", nil)
	}
	return strings.TrimSpace(m[1]), nil
}

// EmbeddedCertificate returns the PEM certificate carried in a signed
// document, if any
func EmbeddedCertificate(signedXML string) (*x509.Certificate, error) {
	re := regexp.MustCompile(`(?s)<ds:X509Certificate>(.*?)</ds:X509Certificate>`)
	m := re.FindStringSubmatch(signedXML)
	if m == nil {
		return nil, model.ErrSigning("document carries no certificate", nil)
	}
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(m[1]))
	if err != nil {
		return nil, model.ErrSigning("embedded certificate is not valid base64", err)
	}
	return parseCertificate(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

func buildSignatureBlock(sigB64, digestHex, certB64 string) string {
	var b strings.Builder
	b.WriteString(`<ds:Signature xmlns:ds="http://www.w3.org/2000/09/xmldsig#" Id="signature">`)
	b.WriteString(`<ds:SignedInfo>`)
	fmt.Fprintf(&b, `<ds:CanonicalizationMethod Algorithm="%s"/>`, algCanonicalization)
	fmt.Fprintf(&b, `<ds:SignatureMethod Algorithm="%s"/>`, algSignature)
	b.WriteString(`<ds:Reference Id="invoiceSignedData" URI="">`)
	fmt.Fprintf(&b, `<ds:DigestMethod Algorithm="%s"/>`, algDigest)
	fmt.Fprintf(&b, `<ds:DigestValue>%s</ds:DigestValue>`, digestHex)
	b.WriteString(`</ds:Reference>`)
	b.WriteString(`</ds:SignedInfo>`)
	fmt.Fprintf(&b, `<ds:SignatureValue>%s</ds:SignatureValue>`, sigB64)
	if certB64 != "" {
		fmt.Fprintf(&b, `<ds:KeyInfo><ds:X509Data><ds:X509Certificate>%s</ds:X509Certificate></ds:X509Data></ds:KeyInfo>`, certB64)
	}
	b.WriteString(`</ds:Signature>`)
	return b.String()
}

// spliceSignature replaces the first empty extension content placeholder
// with the signature block. Documents without a placeholder (phase 1, or
// already signed) are rejected.
func spliceSignature(xml, block string) (string, error) {
	for _, placeholder := range []string{
		"<ext:ExtensionContent/>",
		"<ext:ExtensionContent></ext:ExtensionContent>",
	} {
		if idx := strings.Index(xml, placeholder); idx >= 0 {
			filled := "<ext:ExtensionContent>" + block + "</ext:ExtensionContent>"
			return xml[:idx] + filled + xml[idx+len(placeholder):], nil
		}
	}
	return "", model.ErrSigning("document has no signature placeholder", nil)
}
