// Package compliance runs invoice documents through the validation
// phases that gate submission: structural checks against the schema
// manifest, business content rules, cryptographic verification, domain
// rules and QR payload consistency.
package compliance

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	dec "github.com/rezonia/zatca-pipeline/internal/decimal"
	"github.com/rezonia/zatca-pipeline/internal/model"
	"github.com/rezonia/zatca-pipeline/internal/qrtlv"
	"github.com/rezonia/zatca-pipeline/internal/signing"
	"github.com/rezonia/zatca-pipeline/internal/snapshot"
)

// schemaManifest lists the schema resources that must exist on disk before
// structural validation can claim anything. Their absence is a validation
// failure, not a pass.
var schemaManifest = []string{
	"UBL-Invoice-2.1.xsd",
	"UBL-CommonAggregateComponents-2.1.xsd",
	"UBL-CommonBasicComponents-2.1.xsd",
}

var requiredElements = []string{
	"cbc:UBLVersionID",
	"cbc:ProfileID",
	"cbc:ID",
	"cbc:UUID",
	"cbc:IssueDate",
	"cbc:IssueTime",
	"cbc:InvoiceTypeCode",
	"cbc:DocumentCurrencyCode",
	"cbc:LineCountNumeric",
	"cac:AccountingSupplierParty",
	"cac:AccountingCustomerParty",
	"cac:TaxTotal",
	"cac:LegalMonetaryTotal",
	"cac:InvoiceLine",
}

// knownTypeCodes lists the UN/EDIFACT 1001 codes the authority recognizes.
// Codes outside the list warn rather than fail; the registry grows.
var knownTypeCodes = map[string]bool{
	"380": true, "381": true, "383": true, "384": true, "385": true,
	"386": true, "387": true, "388": true, "389": true, "395": true,
	"396": true,
}

const customizationURN = "urn:fdc:saudi:2022:vat:UBL:extension:v1.0"

var (
	taxNumberRe = regexp.MustCompile(`^\d{15}$`)
	issueDateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	issueTimeRe = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}$`)
	hashHexRe   = regexp.MustCompile(`^[A-F0-9]{64}$`)
	uuidV4Re    = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-4[0-9a-fA-F]{3}-[89abAB][0-9a-fA-F]{3}-[0-9a-fA-F]{12}$`)
)

// amountTolerance absorbs independent per-line rounding drift
var amountTolerance = decimal.New(1, -2)

// Input is one document plus the context needed to judge it
type Input struct {
	XML          string
	Config       *model.Configuration
	Snapshot     *model.InvoiceSnapshot // optional; enables totals drift warnings
	ExpectedHash string                 // uppercase hex; "" skips the cross-check
	QRTLV        []byte                 // raw TLV; optional for phase 1
}

// Validator executes the validation phases
type Validator struct {
	schemaDir string
	signer    *signing.Engine
}

// NewValidator creates a validator. schemaDir holds the schema manifest
// files; signer verifies embedded signatures.
func NewValidator(schemaDir string, signer *signing.Engine) *Validator {
	if signer == nil {
		signer = signing.NewEngine()
	}
	return &Validator{schemaDir: schemaDir, signer: signer}
}

// Validate runs all phases and returns the combined report. Later phases
// still run when earlier ones fail, except that an unparseable document
// stops after the structure phase.
func (v *Validator) Validate(in Input) *Report {
	report := NewReport()

	doc := etree.NewDocument()
	parseErr := doc.ReadFromString(in.XML)

	report.addPhase(v.structurePhase(doc, parseErr))
	if parseErr != nil || doc.Root() == nil {
		report.ComputeValidity()
		return report
	}

	report.addPhase(v.contentPhase(doc, in))
	report.addPhase(v.cryptoPhase(in))
	report.addPhase(v.domainPhase(doc, in))
	report.addPhase(v.qrPhase(doc, in))

	report.ComputeValidity()
	return report
}

func (v *Validator) structurePhase(doc *etree.Document, parseErr error) PhaseResult {
	p := PhaseResult{Name: PhaseStructure, Passed: true}

	for _, f := range schemaManifest {
		if _, err := os.Stat(filepath.Join(v.schemaDir, f)); err != nil {
			p.AddError(fmt.Sprintf("schema resource %s not available", f))
		}
	}

	if parseErr != nil {
		p.AddError(fmt.Sprintf("document is not well-formed XML: %v", parseErr))
		return p
	}
	root := doc.Root()
	if root == nil {
		p.AddError("document has no root element")
		return p
	}
	if root.Tag != "Invoice" {
		p.AddError(fmt.Sprintf("root element is %s, expected Invoice", root.Tag))
		return p
	}

	for _, el := range requiredElements {
		if root.FindElement(el) == nil {
			p.AddError(fmt.Sprintf("required element %s is missing", el))
		}
	}
	return p
}

func (v *Validator) contentPhase(doc *etree.Document, in Input) PhaseResult {
	p := PhaseResult{Name: PhaseContent, Passed: true}
	root := doc.Root()

	if version := elementText(root, "cbc:UBLVersionID"); version != "UBL 2.1" {
		p.AddError(fmt.Sprintf("UBL version %q; must be UBL 2.1", version))
	}
	if custom := elementText(root, "cbc:CustomizationID"); custom == "" {
		p.AddError("customization id is missing")
	} else if !strings.Contains(custom, customizationURN) {
		p.AddError("customization id does not carry the Saudi VAT extension")
	}
	if currency := elementText(root, "cbc:TaxCurrencyCode"); currency != "SAR" {
		p.AddError(fmt.Sprintf("tax currency %q; must be SAR", currency))
	}

	execution := elementText(root, "cbc:ProfileExecutionID")
	if in.Config != nil {
		want := "1.0"
		if in.Config.IsPhase2() {
			want = "2.0"
		}
		if execution != want {
			p.AddError(fmt.Sprintf("profile execution id %q does not match the configured phase (want %s)", execution, want))
		}
	} else if execution == "" {
		p.AddError("profile execution id is missing")
	}

	sellerTax := elementText(root, "cac:AccountingSupplierParty/cac:Party/cac:PartyTaxScheme/cbc:CompanyID")
	if sellerTax == "" {
		p.AddError("seller tax number is missing")
	} else if !taxNumberRe.MatchString(sellerTax) {
		p.AddError(fmt.Sprintf("seller tax number %q must be 15 digits", sellerTax))
	}
	if in.Config != nil && in.Config.TaxNumber != "" && sellerTax != "" && sellerTax != in.Config.TaxNumber {
		p.AddError(fmt.Sprintf("document seller %s is not the configured tax number %s", sellerTax, in.Config.TaxNumber))
	}

	buyerTax := elementText(root, "cac:AccountingCustomerParty/cac:Party/cac:PartyTaxScheme/cbc:CompanyID")
	if buyerTax != "" && !taxNumberRe.MatchString(buyerTax) {
		p.AddError(fmt.Sprintf("buyer tax number %q must be 15 digits", buyerTax))
	}

	switch elementText(root, "cbc:InvoiceTypeCode") {
	case model.TypeCodeStandard:
		if buyerTax == "" {
			p.AddError("type code 380 requires a buyer tax number")
		}
	case model.TypeCodeSimplified:
		if buyerTax != "" {
			p.AddWarning("type code 388 with a buyer tax number; 380 expected for B2B")
		}
	}

	if d := elementText(root, "cbc:IssueDate"); d != "" && !issueDateRe.MatchString(d) {
		p.AddError(fmt.Sprintf("issue date %q is not YYYY-MM-DD", d))
	}
	if tm := elementText(root, "cbc:IssueTime"); tm != "" && !issueTimeRe.MatchString(tm) {
		p.AddError(fmt.Sprintf("issue time %q is not HH:MM:SS", tm))
	}

	v.checkTotals(root, &p)
	if in.Snapshot != nil && snapshot.DerivedTotalsDiffer(in.Snapshot) {
		p.AddWarning("supplied invoice totals drift from the recomputed line sums")
	}
	return p
}

// domainPhase always runs; it covers the identifier and hash formats the
// authority rejects regardless of phase.
func (v *Validator) domainPhase(doc *etree.Document, in Input) PhaseResult {
	p := PhaseResult{Name: PhaseDomain, Passed: true}
	root := doc.Root()

	embedded := elementText(root, "ext:UBLExtensions/ext:UBLExtension/ext:ExtensionContent/zac:InvoiceHash")
	if embedded == "" {
		if in.Config != nil && in.Config.IsPhase2() {
			p.AddError("document carries no invoice hash extension")
		}
	} else if !hashHexRe.MatchString(embedded) {
		p.AddError("invoice hash is not 64 uppercase hex characters")
	}

	if id := elementText(root, "cbc:UUID"); id != "" && !uuidV4Re.MatchString(id) {
		p.AddError(fmt.Sprintf("uuid %q is not a version 4 UUID", id))
	}

	if typeCode := elementText(root, "cbc:InvoiceTypeCode"); typeCode != "" && !knownTypeCodes[typeCode] {
		p.AddWarning(fmt.Sprintf("invoice type code %q is not a recognized document type", typeCode))
	}

	if elementText(root, "cbc:LineCountNumeric") == "" {
		p.AddWarning("line count element is missing")
	}
	return p
}

// checkTotals recomputes document totals from the lines and compares them
// with the declared monetary totals within the halala tolerance
func (v *Validator) checkTotals(root *etree.Element, p *PhaseResult) {
	lines := root.SelectElements("cac:InvoiceLine")
	if len(lines) == 0 {
		p.AddError("invoice has no lines")
		return
	}

	lineNet := decimal.Zero
	lineVAT := decimal.Zero
	for _, line := range lines {
		net, ok := amountOf(line, "cbc:LineExtensionAmount")
		if !ok {
			p.AddError(fmt.Sprintf("line %s has no parsable extension amount", elementText(line, "cbc:ID")))
			continue
		}
		lineNet = lineNet.Add(net)
		if vat, ok := amountOf(line, "cac:TaxTotal/cbc:TaxAmount"); ok {
			lineVAT = lineVAT.Add(vat)
		}
	}

	total := root.SelectElement("cac:LegalMonetaryTotal")
	if total == nil {
		return
	}
	declaredNet, okNet := amountOf(total, "cbc:TaxExclusiveAmount")
	declaredGross, okGross := amountOf(total, "cbc:TaxInclusiveAmount")
	declaredVAT, okVAT := decimal.Zero, false
	if tt := root.SelectElement("cac:TaxTotal"); tt != nil {
		declaredVAT, okVAT = amountOf(tt, "cbc:TaxAmount")
	}

	if okNet && !dec.WithinTolerance(lineNet, declaredNet, amountTolerance) {
		p.AddError(fmt.Sprintf("line amounts sum to %s but tax-exclusive total declares %s",
			dec.Format(lineNet), dec.Format(declaredNet)))
	}
	if okVAT && !dec.WithinTolerance(lineVAT, declaredVAT, amountTolerance) {
		p.AddError(fmt.Sprintf("line VAT sums to %s but tax total declares %s",
			dec.Format(lineVAT), dec.Format(declaredVAT)))
	}
	if okNet && okVAT && okGross && !dec.WithinTolerance(declaredNet.Add(declaredVAT), declaredGross, amountTolerance) {
		p.AddError(fmt.Sprintf("tax-inclusive total %s does not equal %s + %s",
			dec.Format(declaredGross), dec.Format(declaredNet), dec.Format(declaredVAT)))
	}
}

func (v *Validator) cryptoPhase(in Input) PhaseResult {
	p := PhaseResult{Name: PhaseCrypto, Passed: true}

	if in.Config == nil || !in.Config.IsPhase2() {
		p.Skipped = true
		return p
	}

	if in.ExpectedHash != "" {
		doc := etree.NewDocument()
		if err := doc.ReadFromString(in.XML); err == nil {
			embedded := elementText(doc.Root(), "ext:UBLExtensions/ext:UBLExtension/ext:ExtensionContent/zac:InvoiceHash")
			if embedded == "" {
				p.AddError("document carries no invoice hash extension")
			} else if embedded != in.ExpectedHash {
				p.AddError("embedded invoice hash does not match the chain record")
			}
		}
	}

	if _, err := signing.ExtractSignatureValue(in.XML); err != nil {
		p.AddError("document is not signed")
		return p
	}
	if in.Config.CertificatePath == "" {
		p.AddError("no certificate configured for signature verification")
		return p
	}
	if err := v.signer.Verify(in.XML, in.Config.CertificatePath); err != nil {
		p.AddError(fmt.Sprintf("signature verification failed: %v", err))
	}
	return p
}

func (v *Validator) qrPhase(doc *etree.Document, in Input) PhaseResult {
	p := PhaseResult{Name: PhaseQR, Passed: true}

	if len(in.QRTLV) == 0 {
		if in.Config != nil && in.Config.IsPhase2() {
			p.AddError("phase 2 invoice has no QR payload")
		} else {
			p.Skipped = true
		}
		return p
	}

	d := qrtlv.Decode(in.QRTLV)
	for _, e := range d.Errors {
		p.AddError("QR payload: " + e)
	}
	if !d.Valid {
		return p
	}

	root := doc.Root()
	if gross, ok := amountOf(root.SelectElement("cac:LegalMonetaryTotal"), "cbc:PayableAmount"); ok {
		if qrTotal, err := decimal.NewFromString(d.Fields[qrtlv.TagTotal]); err != nil || !qrTotal.Equal(gross) {
			p.AddError(fmt.Sprintf("QR total %s does not match payable amount %s",
				d.Fields[qrtlv.TagTotal], dec.Format(gross)))
		}
	}
	if sellerTax := elementText(root, "cac:AccountingSupplierParty/cac:Party/cac:PartyTaxScheme/cbc:CompanyID"); sellerTax != "" {
		if d.Fields[qrtlv.TagTaxNumber] != sellerTax {
			p.AddError("QR tax number does not match the document seller")
		}
	}
	if in.ExpectedHash != "" && d.Fields[qrtlv.TagInvoiceHash] != in.ExpectedHash {
		p.AddError("QR invoice hash does not match the chain record")
	}
	return p
}

func elementText(root *etree.Element, path string) string {
	if root == nil {
		return ""
	}
	if el := root.FindElement(path); el != nil {
		return el.Text()
	}
	return ""
}

func amountOf(el *etree.Element, path string) (decimal.Decimal, bool) {
	if el == nil {
		return decimal.Zero, false
	}
	target := el.FindElement(path)
	if target == nil {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(target.Text())
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}
