package compliance_test

import (
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/zatca-pipeline/internal/compliance"
	"github.com/rezonia/zatca-pipeline/internal/hashchain"
	"github.com/rezonia/zatca-pipeline/internal/model"
	"github.com/rezonia/zatca-pipeline/internal/qrtlv"
	"github.com/rezonia/zatca-pipeline/internal/signing"
	"github.com/rezonia/zatca-pipeline/internal/ubl"
)

func schemaDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	for _, f := range []string{
		"UBL-Invoice-2.1.xsd",
		"UBL-CommonAggregateComponents-2.1.xsd",
		"UBL-CommonBasicComponents-2.1.xsd",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), []byte("<xs:schema/>"), 0o644))
	}
	return dir
}

func testSnapshot() *model.InvoiceSnapshot {
	return &model.InvoiceSnapshot{
		InvoiceID: "INV-7",
		Number:    "RYD01-POS7-20260214-000000001",
		UUID:      "8d487816-70b8-47ad-9a35-de31b09d64d6",
		IssueDate: "2026-02-14",
		IssueTime: "10:30:00",
		Form:      model.FormSimplified,
		Channel:   model.ChannelB2C,
		TypeCode:  model.TypeCodeSimplified,
		Currency:  "SAR",
		Seller:    model.Party{Name: "Najd Trading Co", TaxNumber: "310122393500003"},
		Buyer:     model.Party{Name: "Walk-in customer"},
		Lines: []model.LineItem{
			{ID: 1, Description: "Coffee beans 1kg", Quantity: decimal.NewFromInt(2),
				UnitPrice: decimal.NewFromInt(85), VATCategory: "S", VATRate: decimal.NewFromInt(15),
				NetAmount: decimal.NewFromInt(170), VATAmount: decimal.RequireFromString("25.50"),
				TotalAmount: decimal.RequireFromString("195.50")},
		},
		NetTotal:   decimal.NewFromInt(170),
		VATTotal:   decimal.RequireFromString("25.50"),
		GrossTotal: decimal.RequireFromString("195.50"),
	}
}

// signedInvoice builds, hashes and signs a complete phase 2 document
func signedInvoice(t *testing.T) (xml string, hash string, tlv []byte, cfg *model.Configuration) {
	t.Helper()
	dir := t.TempDir()

	keyPath, err := signing.GenerateKeyPair(dir, "company-1")
	require.NoError(t, err)
	key, err := signing.LoadPrivateKey(keyPath)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Najd Trading Co"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	certPath, err := signing.ImportCertificate(dir, "company-1",
		pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, err)

	cfg = &model.Configuration{
		CompanyID:       1,
		Phase:           model.Phase2,
		Currency:        "SAR",
		TaxNumber:       "310122393500003",
		CertificatePath: certPath,
		PrivateKeyPath:  keyPath,
	}

	snap := testSnapshot()
	hash = hashchain.NewEngine().CalculateHash(snap, "")

	raw, err := ubl.NewGenerator().Generate(ubl.Input{
		Snapshot:    snap,
		Sequence:    1,
		InvoiceHash: hash,
	}, cfg)
	require.NoError(t, err)

	res, err := signing.NewEngine().Sign(raw, keyPath, certPath)
	require.NoError(t, err)

	tlv, err = qrtlv.Encode(qrtlv.FromSnapshot(snap, hash, res.SignatureValue))
	require.NoError(t, err)

	return res.SignedXML, hash, tlv, cfg
}

func TestValidate_CleanPhase2Invoice(t *testing.T) {
	xml, hash, tlv, cfg := signedInvoice(t)
	v := compliance.NewValidator(schemaDir(t), nil)

	report := v.Validate(compliance.Input{
		XML:          xml,
		Config:       cfg,
		ExpectedHash: hash,
		QRTLV:        tlv,
	})

	assert.True(t, report.Valid, "errors: %v", report.AllErrors())
	require.Len(t, report.Phases, 5)
	for _, p := range report.Phases {
		assert.True(t, p.Passed, "phase %s failed: %v", p.Name, p.Errors)
		assert.False(t, p.Skipped)
	}
}

func TestValidate_MissingSchemaManifest(t *testing.T) {
	xml, hash, tlv, cfg := signedInvoice(t)
	v := compliance.NewValidator(t.TempDir(), nil) // no schema files

	report := v.Validate(compliance.Input{XML: xml, Config: cfg, ExpectedHash: hash, QRTLV: tlv})

	assert.False(t, report.Valid)
	structure := report.Phase(compliance.PhaseStructure)
	require.NotNil(t, structure)
	assert.Contains(t, strings.Join(structure.Errors, " "), "schema resource")
}

func TestValidate_MalformedXML(t *testing.T) {
	v := compliance.NewValidator(schemaDir(t), nil)

	report := v.Validate(compliance.Input{XML: "<Invoice><unclosed>"})

	assert.False(t, report.Valid)
	require.Len(t, report.Phases, 1, "later phases must not run on unparseable input")
	assert.Contains(t, strings.Join(report.Phases[0].Errors, " "), "well-formed")
}

func TestValidate_WrongRootElement(t *testing.T) {
	v := compliance.NewValidator(schemaDir(t), nil)

	report := v.Validate(compliance.Input{XML: "<CreditNote/>"})

	assert.False(t, report.Valid)
	assert.Contains(t, strings.Join(report.Phase(compliance.PhaseStructure).Errors, " "), "CreditNote")
}

func TestValidate_TotalsMismatch(t *testing.T) {
	xml, hash, tlv, cfg := signedInvoice(t)
	tampered := strings.Replace(xml, `<cbc:TaxInclusiveAmount currencyID="SAR">195.50`, `<cbc:TaxInclusiveAmount currencyID="SAR">999.00`, 1)

	v := compliance.NewValidator(schemaDir(t), nil)
	report := v.Validate(compliance.Input{XML: tampered, Config: cfg, ExpectedHash: hash, QRTLV: tlv})

	assert.False(t, report.Valid)
	content := report.Phase(compliance.PhaseContent)
	assert.Contains(t, strings.Join(content.Errors, " "), "tax-inclusive total")

	// and the signature no longer covers the document
	crypto := report.Phase(compliance.PhaseCrypto)
	assert.False(t, crypto.Passed)
}

func TestValidate_ToleratesHalalaDrift(t *testing.T) {
	xml, hash, tlv, cfg := signedInvoice(t)
	// 195.50 -> 195.51: inside the 0.01 tolerance for totals
	drifted := strings.Replace(xml, `<cbc:TaxInclusiveAmount currencyID="SAR">195.50`, `<cbc:TaxInclusiveAmount currencyID="SAR">195.51`, 1)

	v := compliance.NewValidator(schemaDir(t), nil)
	report := v.Validate(compliance.Input{XML: drifted, Config: cfg, ExpectedHash: hash, QRTLV: tlv})

	content := report.Phase(compliance.PhaseContent)
	assert.True(t, content.Passed, "errors: %v", content.Errors)
}

func TestValidate_BadSellerTaxNumber(t *testing.T) {
	xml, hash, tlv, cfg := signedInvoice(t)
	tampered := strings.ReplaceAll(xml, "310122393500003", "12345")

	v := compliance.NewValidator(schemaDir(t), nil)
	report := v.Validate(compliance.Input{XML: tampered, Config: cfg, ExpectedHash: hash, QRTLV: tlv})

	assert.False(t, report.Valid)
	assert.Contains(t, strings.Join(report.Phase(compliance.PhaseContent).Errors, " "), "15 digits")
}

func TestValidate_HashMismatch(t *testing.T) {
	xml, _, tlv, cfg := signedInvoice(t)

	v := compliance.NewValidator(schemaDir(t), nil)
	report := v.Validate(compliance.Input{
		XML:          xml,
		Config:       cfg,
		ExpectedHash: strings.Repeat("F", 64),
		QRTLV:        tlv,
	})

	assert.False(t, report.Valid)
	crypto := report.Phase(compliance.PhaseCrypto)
	assert.Contains(t, strings.Join(crypto.Errors, " "), "does not match the chain record")
}

func TestValidate_Phase1SkipsCryptoAndQR(t *testing.T) {
	snap := testSnapshot()
	cfg := &model.Configuration{CompanyID: 1, Phase: model.Phase1, Currency: "SAR", TaxNumber: "310122393500003"}

	xml, err := ubl.NewGenerator().Generate(ubl.Input{Snapshot: snap, Sequence: 1}, cfg)
	require.NoError(t, err)

	v := compliance.NewValidator(schemaDir(t), nil)
	report := v.Validate(compliance.Input{XML: xml, Config: cfg})

	assert.True(t, report.Valid, "errors: %v", report.AllErrors())
	assert.True(t, report.Phase(compliance.PhaseCrypto).Skipped)
	assert.True(t, report.Phase(compliance.PhaseQR).Skipped)
}

func TestValidate_Phase2RequiresQR(t *testing.T) {
	xml, hash, _, cfg := signedInvoice(t)

	v := compliance.NewValidator(schemaDir(t), nil)
	report := v.Validate(compliance.Input{XML: xml, Config: cfg, ExpectedHash: hash})

	assert.False(t, report.Valid)
	assert.Contains(t, strings.Join(report.Phase(compliance.PhaseQR).Errors, " "), "no QR payload")
}

func TestValidate_QRDisagreesWithDocument(t *testing.T) {
	xml, hash, _, cfg := signedInvoice(t)

	p := qrtlv.FromSnapshot(testSnapshot(), hash, "sig")
	p.Total = "999.00"
	badTLV, err := qrtlv.Encode(p)
	require.NoError(t, err)

	v := compliance.NewValidator(schemaDir(t), nil)
	report := v.Validate(compliance.Input{XML: xml, Config: cfg, ExpectedHash: hash, QRTLV: badTLV})

	assert.False(t, report.Valid)
	assert.Contains(t, strings.Join(report.Phase(compliance.PhaseQR).Errors, " "), "does not match payable amount")
}

func TestValidate_SellerDiffersFromConfiguration(t *testing.T) {
	xml, hash, tlv, cfg := signedInvoice(t)
	cfg.TaxNumber = "399999999900003"

	v := compliance.NewValidator(schemaDir(t), nil)
	report := v.Validate(compliance.Input{XML: xml, Config: cfg, ExpectedHash: hash, QRTLV: tlv})

	assert.False(t, report.Valid)
	assert.Contains(t, strings.Join(report.Phase(compliance.PhaseContent).Errors, " "),
		"not the configured tax number")
}

func TestValidate_BusinessRuleIdentifiers(t *testing.T) {
	xml, hash, tlv, cfg := signedInvoice(t)
	v := compliance.NewValidator(schemaDir(t), nil)

	cases := []struct {
		name string
		from string
		to   string
		want string
	}{
		{"wrong UBL version", ">UBL 2.1<", ">UBL 2.0<", "must be UBL 2.1"},
		{"foreign tax currency", "<cbc:TaxCurrencyCode>SAR", "<cbc:TaxCurrencyCode>USD", "must be SAR"},
		{"stripped customization", "urn:fdc:saudi:2022:vat:UBL:extension:v1.0", "urn:other", "Saudi VAT extension"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tampered := strings.Replace(xml, tc.from, tc.to, 1)
			require.NotEqual(t, xml, tampered)

			report := v.Validate(compliance.Input{XML: tampered, Config: cfg, ExpectedHash: hash, QRTLV: tlv})
			assert.False(t, report.Valid)
			assert.Contains(t, strings.Join(report.Phase(compliance.PhaseContent).Errors, " "), tc.want)
		})
	}
}

func TestValidate_ExecutionIDAgainstPhase(t *testing.T) {
	snap := testSnapshot()
	phase2 := &model.Configuration{CompanyID: 1, Phase: model.Phase2, Currency: "SAR", TaxNumber: "310122393500003"}
	xml, err := ubl.NewGenerator().Generate(ubl.Input{Snapshot: snap, Sequence: 1, InvoiceHash: strings.Repeat("A", 64)}, phase2)
	require.NoError(t, err)

	// same document judged under a phase 1 configuration
	phase1 := &model.Configuration{CompanyID: 1, Phase: model.Phase1, Currency: "SAR", TaxNumber: "310122393500003"}
	v := compliance.NewValidator(schemaDir(t), nil)
	report := v.Validate(compliance.Input{XML: xml, Config: phase1})

	assert.False(t, report.Valid)
	assert.Contains(t, strings.Join(report.Phase(compliance.PhaseContent).Errors, " "),
		"does not match the configured phase")
}

func TestValidate_UnknownTypeCodeWarns(t *testing.T) {
	xml, hash, tlv, cfg := signedInvoice(t)
	tampered := strings.Replace(xml, `>388<`, `>999<`, 1)
	require.NotEqual(t, xml, tampered)

	v := compliance.NewValidator(schemaDir(t), nil)
	report := v.Validate(compliance.Input{XML: tampered, Config: cfg, ExpectedHash: hash, QRTLV: tlv})

	domain := report.Phase(compliance.PhaseDomain)
	require.NotNil(t, domain)
	assert.Empty(t, domain.Errors)
	assert.Contains(t, strings.Join(domain.Warnings, " "), "not a recognized document type")
}

func TestValidate_DomainFormats(t *testing.T) {
	xml, hash, tlv, cfg := signedInvoice(t)
	v := compliance.NewValidator(schemaDir(t), nil)

	t.Run("uuid not v4", func(t *testing.T) {
		tampered := strings.Replace(xml, "8d487816-70b8-47ad-9a35-de31b09d64d6", "not-a-uuid-at-all", 2)
		report := v.Validate(compliance.Input{XML: tampered, Config: cfg, ExpectedHash: hash, QRTLV: tlv})

		assert.Contains(t, strings.Join(report.Phase(compliance.PhaseDomain).Errors, " "),
			"not a version 4 UUID")
	})

	t.Run("embedded hash malformed", func(t *testing.T) {
		tampered := strings.Replace(xml, hash, "not-a-sha256-hash", 1)
		report := v.Validate(compliance.Input{XML: tampered, Config: cfg, ExpectedHash: hash, QRTLV: tlv})

		assert.Contains(t, strings.Join(report.Phase(compliance.PhaseDomain).Errors, " "),
			"64 uppercase hex")
	})
}

func TestValidate_SnapshotTotalsDriftWarns(t *testing.T) {
	xml, hash, tlv, cfg := signedInvoice(t)

	snap := testSnapshot()
	snap.NetTotal = decimal.NewFromInt(171) // one riyal off the line sum

	v := compliance.NewValidator(schemaDir(t), nil)
	report := v.Validate(compliance.Input{XML: xml, Config: cfg, Snapshot: snap, ExpectedHash: hash, QRTLV: tlv})

	content := report.Phase(compliance.PhaseContent)
	assert.True(t, content.Passed, "errors: %v", content.Errors)
	assert.Contains(t, strings.Join(content.Warnings, " "), "drift")
}

func TestValidate_UnsignedPhase2(t *testing.T) {
	_, hash, tlv, cfg := signedInvoice(t)

	snap := testSnapshot()
	raw, err := ubl.NewGenerator().Generate(ubl.Input{Snapshot: snap, Sequence: 1, InvoiceHash: hash}, cfg)
	require.NoError(t, err)

	v := compliance.NewValidator(schemaDir(t), nil)
	report := v.Validate(compliance.Input{XML: raw, Config: cfg, ExpectedHash: hash, QRTLV: tlv})

	assert.False(t, report.Valid)
	assert.Contains(t, strings.Join(report.Phase(compliance.PhaseCrypto).Errors, " "), "not signed")
}
