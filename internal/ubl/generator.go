// Package ubl renders invoice snapshots as UBL 2.1 XML documents in the
// profile Saudi tax authorities accept. Element order is fixed; the same
// snapshot always produces the same document.
package ubl

import (
	"encoding/base64"
	"strconv"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	dec "github.com/rezonia/zatca-pipeline/internal/decimal"
	"github.com/rezonia/zatca-pipeline/internal/model"
)

// Namespace and profile constants
const (
	NamespaceInvoice = "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
	NamespaceCAC     = "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"
	NamespaceCBC     = "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"
	NamespaceExt     = "urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2"
	NamespaceZAC     = "urn:zatca:schema:xsd:ComplianceExtensionComponents-1"

	UBLVersionID    = "UBL 2.1"
	CustomizationID = "urn:cen.eu:en16931:2017#compliant#urn:fdc:peppol.eu:2017:poacc:billing:01:1.0#urn:fdc:saudi:2022:vat:UBL:extension:v1.0"
	ProfileID       = "reporting:1.0"

	SignatureMethodURI = "urn:oasis:names:specification:ubl:dsig:enveloped-signatures"
	SignatureID        = "urn:oasis:names:specification:ubl:signature:Invoice"

	// FirstPreviousHash seeds the chain: base64 of the hex SHA-256 of "0",
	// embedded as the previous-hash reference of a company's first invoice.
	FirstPreviousHash = "NWZlY2ViNjZmZmM4NmYzOGQ5NTI3ODZjNmQ2OTZjNzljMmRiYzIzOWRkNGU5MWI0NjcyOWQ3M2EyN2ZiNTdlOQ=="
)

// Transaction subtype codes carried on cbc:InvoiceTypeCode/@name
const (
	subtypeStandard   = "0100000"
	subtypeSimplified = "0200000"
)

// Input carries the chain context a document embeds alongside the snapshot
type Input struct {
	Snapshot     *model.InvoiceSnapshot
	Sequence     uint64 // invoice counter value within the company chain
	InvoiceHash  string // uppercase hex
	PreviousHash string // uppercase hex, empty for the first invoice
}

// Generator renders UBL invoice documents
type Generator struct{}

// NewGenerator creates a UBL generator
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate renders the snapshot as a UBL invoice under the company
// configuration. Phase 2 documents carry the extension block with hash
// references and an empty signature placeholder; phase 1 documents omit
// extensions entirely.
func (g *Generator) Generate(in Input, cfg *model.Configuration) (string, error) {
	snap := in.Snapshot
	if snap == nil {
		return "", model.ErrValidation("snapshot", "nil snapshot")
	}
	if len(snap.Lines) == 0 {
		return "", model.ErrValidation("lines", "snapshot has no lines")
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	inv := doc.CreateElement("Invoice")
	inv.CreateAttr("xmlns", NamespaceInvoice)
	inv.CreateAttr("xmlns:cac", NamespaceCAC)
	inv.CreateAttr("xmlns:cbc", NamespaceCBC)
	inv.CreateAttr("xmlns:ext", NamespaceExt)
	inv.CreateAttr("xmlns:zac", NamespaceZAC)

	if cfg.IsPhase2() {
		g.addExtensions(inv, in)
	}

	text(inv, "cbc:UBLVersionID", UBLVersionID)
	text(inv, "cbc:CustomizationID", CustomizationID)
	text(inv, "cbc:ProfileID", ProfileID)
	text(inv, "cbc:ProfileExecutionID", profileExecution(cfg))
	text(inv, "cbc:ID", snap.Number)
	text(inv, "cbc:UUID", snap.UUID)
	text(inv, "cbc:IssueDate", snap.IssueDate)
	text(inv, "cbc:IssueTime", snap.IssueTime)

	typeCode := text(inv, "cbc:InvoiceTypeCode", snap.TypeCode)
	if snap.Form == model.FormStandard {
		typeCode.CreateAttr("name", subtypeStandard)
	} else {
		typeCode.CreateAttr("name", subtypeSimplified)
	}

	text(inv, "cbc:DocumentCurrencyCode", snap.Currency)
	text(inv, "cbc:TaxCurrencyCode", snap.Currency)
	text(inv, "cbc:LineCountNumeric", strconv.Itoa(len(snap.Lines)))

	g.addCounterReference(inv, in.Sequence)
	g.addPreviousHashReference(inv, in.PreviousHash)

	if cfg.IsPhase2() {
		sig := inv.CreateElement("cac:Signature")
		text(sig, "cbc:ID", SignatureID)
		text(sig, "cbc:SignatureMethod", SignatureMethodURI)
	}

	g.addParty(inv, "cac:AccountingSupplierParty", snap.Seller)
	g.addParty(inv, "cac:AccountingCustomerParty", snap.Buyer)

	if snap.PaymentMeans != "" {
		pm := inv.CreateElement("cac:PaymentMeans")
		text(pm, "cbc:PaymentMeansCode", snap.PaymentMeans)
	}

	g.addTaxTotal(inv, snap)
	g.addMonetaryTotal(inv, snap)

	for _, line := range snap.Lines {
		g.addLine(inv, line, snap.Currency)
	}

	doc.Indent(2)
	return doc.WriteToString()
}

func profileExecution(cfg *model.Configuration) string {
	if cfg.IsPhase2() {
		return "2.0"
	}
	return "1.0"
}

// addExtensions writes the extension block: an empty signature placeholder
// first (the signer splices into it), then the chain hash references.
func (g *Generator) addExtensions(inv *etree.Element, in Input) {
	exts := inv.CreateElement("ext:UBLExtensions")

	sigExt := exts.CreateElement("ext:UBLExtension")
	text(sigExt, "ext:ExtensionURI", SignatureMethodURI)
	sigExt.CreateElement("ext:ExtensionContent")

	hashExt := exts.CreateElement("ext:UBLExtension")
	text(hashExt, "ext:ExtensionURI", NamespaceZAC)
	content := hashExt.CreateElement("ext:ExtensionContent")
	text(content, "zac:InvoiceHash", in.InvoiceHash)
	if in.PreviousHash != "" {
		text(content, "zac:PreviousInvoiceHash", in.PreviousHash)
	}
}

func (g *Generator) addCounterReference(inv *etree.Element, sequence uint64) {
	ref := inv.CreateElement("cac:AdditionalDocumentReference")
	text(ref, "cbc:ID", "ICV")
	refUUID := ref.CreateElement("cbc:UUID")
	refUUID.SetText(strconv.FormatUint(sequence, 10))
}

func (g *Generator) addPreviousHashReference(inv *etree.Element, previousHash string) {
	ref := inv.CreateElement("cac:AdditionalDocumentReference")
	text(ref, "cbc:ID", "PIH")
	att := ref.CreateElement("cac:Attachment")
	obj := att.CreateElement("cbc:EmbeddedDocumentBinaryObject")
	obj.CreateAttr("mimeCode", "text/plain")
	if previousHash == "" {
		obj.SetText(FirstPreviousHash)
	} else {
		obj.SetText(base64.StdEncoding.EncodeToString([]byte(previousHash)))
	}
}

func (g *Generator) addParty(inv *etree.Element, tag string, p model.Party) {
	wrap := inv.CreateElement(tag)
	party := wrap.CreateElement("cac:Party")

	if p.TaxNumber != "" {
		scheme := party.CreateElement("cac:PartyTaxScheme")
		text(scheme, "cbc:CompanyID", p.TaxNumber)
		ts := scheme.CreateElement("cac:TaxScheme")
		text(ts, "cbc:ID", "VAT")
	}

	if p.Street != "" || p.City != "" || p.PostalCode != "" {
		addr := party.CreateElement("cac:PostalAddress")
		if p.Street != "" {
			text(addr, "cbc:StreetName", p.Street)
		}
		if p.District != "" {
			text(addr, "cbc:CitySubdivisionName", p.District)
		}
		if p.City != "" {
			text(addr, "cbc:CityName", p.City)
		}
		if p.PostalCode != "" {
			text(addr, "cbc:PostalZone", p.PostalCode)
		}
		country := p.Country
		if country == "" {
			country = "SA"
		}
		c := addr.CreateElement("cac:Country")
		text(c, "cbc:IdentificationCode", country)
	}

	if p.Name != "" {
		legal := party.CreateElement("cac:PartyLegalEntity")
		text(legal, "cbc:RegistrationName", p.Name)
	}
}

// addTaxTotal emits the document tax total with one subtotal per VAT
// category present on the lines
func (g *Generator) addTaxTotal(inv *etree.Element, snap *model.InvoiceSnapshot) {
	total := inv.CreateElement("cac:TaxTotal")
	amount(total, "cbc:TaxAmount", snap.VATTotal, snap.Currency)

	type bucket struct {
		net, vat decimal.Decimal
		rate     decimal.Decimal
	}
	buckets := map[string]*bucket{}
	var order []string
	for _, l := range snap.Lines {
		b, ok := buckets[l.VATCategory]
		if !ok {
			b = &bucket{rate: l.VATRate}
			buckets[l.VATCategory] = b
			order = append(order, l.VATCategory)
		}
		b.net = b.net.Add(l.NetAmount)
		b.vat = b.vat.Add(l.VATAmount)
	}

	for _, cat := range order {
		b := buckets[cat]
		sub := total.CreateElement("cac:TaxSubtotal")
		amount(sub, "cbc:TaxableAmount", b.net, snap.Currency)
		amount(sub, "cbc:TaxAmount", b.vat, snap.Currency)
		catEl := sub.CreateElement("cac:TaxCategory")
		text(catEl, "cbc:ID", cat)
		text(catEl, "cbc:Percent", dec.Format(b.rate))
		ts := catEl.CreateElement("cac:TaxScheme")
		text(ts, "cbc:ID", "VAT")
	}
}

func (g *Generator) addMonetaryTotal(inv *etree.Element, snap *model.InvoiceSnapshot) {
	total := inv.CreateElement("cac:LegalMonetaryTotal")
	amount(total, "cbc:LineExtensionAmount", snap.NetTotal, snap.Currency)
	amount(total, "cbc:TaxExclusiveAmount", snap.NetTotal, snap.Currency)
	amount(total, "cbc:TaxInclusiveAmount", snap.GrossTotal, snap.Currency)
	amount(total, "cbc:PayableAmount", snap.GrossTotal, snap.Currency)
}

func (g *Generator) addLine(inv *etree.Element, line model.LineItem, currency string) {
	el := inv.CreateElement("cac:InvoiceLine")
	text(el, "cbc:ID", strconv.Itoa(line.ID))

	qty := el.CreateElement("cbc:InvoicedQuantity")
	qty.CreateAttr("unitCode", "PCE")
	qty.SetText(line.Quantity.String())

	amount(el, "cbc:LineExtensionAmount", line.NetAmount, currency)

	taxTotal := el.CreateElement("cac:TaxTotal")
	amount(taxTotal, "cbc:TaxAmount", line.VATAmount, currency)
	amount(taxTotal, "cbc:RoundingAmount", line.TotalAmount, currency)

	item := el.CreateElement("cac:Item")
	text(item, "cbc:Name", line.Description)
	cat := item.CreateElement("cac:ClassifiedTaxCategory")
	text(cat, "cbc:ID", line.VATCategory)
	text(cat, "cbc:Percent", dec.Format(line.VATRate))
	ts := cat.CreateElement("cac:TaxScheme")
	text(ts, "cbc:ID", "VAT")

	price := el.CreateElement("cac:Price")
	amount(price, "cbc:PriceAmount", line.UnitPrice, currency)
}

func text(parent *etree.Element, tag, value string) *etree.Element {
	el := parent.CreateElement(tag)
	el.SetText(value)
	return el
}

func amount(parent *etree.Element, tag string, v decimal.Decimal, currency string) {
	el := parent.CreateElement(tag)
	el.CreateAttr("currencyID", currency)
	el.SetText(dec.Format(v))
}
