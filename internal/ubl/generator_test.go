package ubl_test

import (
	"strings"
	"testing"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/zatca-pipeline/internal/model"
	"github.com/rezonia/zatca-pipeline/internal/ubl"
)

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
		Seller:    model.Party{Name: "Najd Trading Co", TaxNumber: "310122393500003", Street: "Olaya St", City: "Riyadh", PostalCode: "12213"},
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

func phase2Config() *model.Configuration {
	return &model.Configuration{
		CompanyID: 1,
		Phase:     model.Phase2,
		Currency:  "SAR",
	}
}

func phase1Config() *model.Configuration {
	cfg := phase2Config()
	cfg.Phase = model.Phase1
	return cfg
}

func generate(t *testing.T, cfg *model.Configuration) (*etree.Document, string) {
	t.Helper()
	g := ubl.NewGenerator()
	xml, err := g.Generate(ubl.Input{
		Snapshot:    testSnapshot(),
		Sequence:    1,
		InvoiceHash: strings.Repeat("A", 64),
	}, cfg)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(xml))
	return doc, xml
}

func TestGenerate_CoreFields(t *testing.T) {
	doc, xml := generate(t, phase2Config())
	root := doc.Root()

	assert.Equal(t, "Invoice", root.Tag)
	assert.True(t, strings.HasPrefix(xml, "<?xml"))

	assert.Equal(t, "RYD01-POS7-20260214-000000001", root.FindElement("cbc:ID").Text())
	assert.Equal(t, "8d487816-70b8-47ad-9a35-de31b09d64d6", root.FindElement("cbc:UUID").Text())
	assert.Equal(t, "2026-02-14", root.FindElement("cbc:IssueDate").Text())
	assert.Equal(t, "10:30:00", root.FindElement("cbc:IssueTime").Text())
	assert.Equal(t, ubl.ProfileID, root.FindElement("cbc:ProfileID").Text())
	assert.Equal(t, "SAR", root.FindElement("cbc:DocumentCurrencyCode").Text())
	assert.Equal(t, "UBL 2.1", root.FindElement("cbc:UBLVersionID").Text())
	assert.Equal(t, "1", root.FindElement("cbc:LineCountNumeric").Text())
}

func TestGenerate_IdentifierOrder(t *testing.T) {
	doc, _ := generate(t, phase1Config())

	var order []string
	for _, child := range doc.Root().ChildElements() {
		if child.Space == "cbc" {
			order = append(order, child.Tag)
		}
	}
	require.GreaterOrEqual(t, len(order), 10)
	assert.Equal(t, []string{
		"UBLVersionID", "CustomizationID", "ProfileID", "ProfileExecutionID",
		"ID", "UUID", "IssueDate", "IssueTime", "InvoiceTypeCode",
		"DocumentCurrencyCode", "TaxCurrencyCode", "LineCountNumeric",
	}, order[:12])
}

func TestGenerate_TypeCodeBySnapshotForm(t *testing.T) {
	doc, _ := generate(t, phase2Config())
	tc := doc.Root().FindElement("cbc:InvoiceTypeCode")
	require.NotNil(t, tc)
	assert.Equal(t, "388", tc.Text())
	assert.Equal(t, "0200000", tc.SelectAttrValue("name", ""))

	g := ubl.NewGenerator()
	snap := testSnapshot()
	snap.Form = model.FormStandard
	snap.Channel = model.ChannelB2B
	snap.TypeCode = model.TypeCodeStandard
	snap.Buyer = model.Party{Name: "Gulf Supplies LLC", TaxNumber: "311234567800003"}
	xml, err := g.Generate(ubl.Input{Snapshot: snap, Sequence: 2, InvoiceHash: "AB", PreviousHash: "CD"}, phase2Config())
	require.NoError(t, err)

	doc2 := etree.NewDocument()
	require.NoError(t, doc2.ReadFromString(xml))
	tc = doc2.Root().FindElement("cbc:InvoiceTypeCode")
	assert.Equal(t, "380", tc.Text())
	assert.Equal(t, "0100000", tc.SelectAttrValue("name", ""))
}

func TestGenerate_PhaseExecutionID(t *testing.T) {
	doc, _ := generate(t, phase2Config())
	assert.Equal(t, "2.0", doc.Root().FindElement("cbc:ProfileExecutionID").Text())

	doc, _ = generate(t, phase1Config())
	assert.Equal(t, "1.0", doc.Root().FindElement("cbc:ProfileExecutionID").Text())
}

func TestGenerate_Phase2Extensions(t *testing.T) {
	doc, _ := generate(t, phase2Config())
	root := doc.Root()

	exts := root.FindElements("ext:UBLExtensions/ext:UBLExtension")
	require.Len(t, exts, 2)

	// Signature placeholder first, empty content
	assert.Equal(t, ubl.SignatureMethodURI, exts[0].FindElement("ext:ExtensionURI").Text())
	placeholder := exts[0].FindElement("ext:ExtensionContent")
	require.NotNil(t, placeholder)
	assert.Empty(t, placeholder.ChildElements())

	// Hash references second
	hash := exts[1].FindElement("ext:ExtensionContent/zac:InvoiceHash")
	require.NotNil(t, hash)
	assert.Equal(t, strings.Repeat("A", 64), hash.Text())

	// First invoice: no previous hash element
	assert.Nil(t, exts[1].FindElement("ext:ExtensionContent/zac:PreviousInvoiceHash"))

	// cac:Signature block present on phase 2
	sig := root.FindElement("cac:Signature")
	require.NotNil(t, sig)
	assert.Equal(t, ubl.SignatureID, sig.FindElement("cbc:ID").Text())
}

func TestGenerate_Phase1OmitsExtensions(t *testing.T) {
	doc, _ := generate(t, phase1Config())
	root := doc.Root()

	assert.Nil(t, root.FindElement("ext:UBLExtensions"))
	assert.Nil(t, root.FindElement("cac:Signature"))
}

func TestGenerate_ChainReferences(t *testing.T) {
	doc, _ := generate(t, phase2Config())
	root := doc.Root()

	refs := root.FindElements("cac:AdditionalDocumentReference")
	require.Len(t, refs, 2)

	assert.Equal(t, "ICV", refs[0].FindElement("cbc:ID").Text())
	assert.Equal(t, "1", refs[0].FindElement("cbc:UUID").Text())

	assert.Equal(t, "PIH", refs[1].FindElement("cbc:ID").Text())
	pih := refs[1].FindElement("cac:Attachment/cbc:EmbeddedDocumentBinaryObject")
	require.NotNil(t, pih)
	assert.Equal(t, ubl.FirstPreviousHash, pih.Text(), "first invoice embeds the seed hash")
}

func TestGenerate_Amounts(t *testing.T) {
	doc, _ := generate(t, phase2Config())
	root := doc.Root()

	total := root.FindElement("cac:LegalMonetaryTotal")
	require.NotNil(t, total)
	assert.Equal(t, "170.00", total.FindElement("cbc:TaxExclusiveAmount").Text())
	assert.Equal(t, "195.50", total.FindElement("cbc:TaxInclusiveAmount").Text())
	assert.Equal(t, "SAR", total.FindElement("cbc:PayableAmount").SelectAttrValue("currencyID", ""))

	taxTotal := root.SelectElement("cac:TaxTotal")
	require.NotNil(t, taxTotal)
	assert.Equal(t, "25.50", taxTotal.SelectElement("cbc:TaxAmount").Text())

	sub := taxTotal.FindElement("cac:TaxSubtotal")
	require.NotNil(t, sub)
	assert.Equal(t, "170.00", sub.FindElement("cbc:TaxableAmount").Text())
	assert.Equal(t, "S", sub.FindElement("cac:TaxCategory/cbc:ID").Text())
	assert.Equal(t, "15.00", sub.FindElement("cac:TaxCategory/cbc:Percent").Text())
}

func TestGenerate_Lines(t *testing.T) {
	doc, _ := generate(t, phase2Config())
	lines := doc.Root().FindElements("cac:InvoiceLine")
	require.Len(t, lines, 1)

	line := lines[0]
	assert.Equal(t, "1", line.FindElement("cbc:ID").Text())
	assert.Equal(t, "2", line.FindElement("cbc:InvoicedQuantity").Text())
	assert.Equal(t, "170.00", line.FindElement("cbc:LineExtensionAmount").Text())
	assert.Equal(t, "Coffee beans 1kg", line.FindElement("cac:Item/cbc:Name").Text())
	assert.Equal(t, "85.00", line.FindElement("cac:Price/cbc:PriceAmount").Text())
}

func TestGenerate_Deterministic(t *testing.T) {
	g := ubl.NewGenerator()
	in := ubl.Input{Snapshot: testSnapshot(), Sequence: 1, InvoiceHash: "AA"}

	a, err := g.Generate(in, phase2Config())
	require.NoError(t, err)
	b, err := g.Generate(in, phase2Config())
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestGenerate_RejectsEmptySnapshot(t *testing.T) {
	g := ubl.NewGenerator()

	_, err := g.Generate(ubl.Input{}, phase2Config())
	require.Error(t, err)

	snap := testSnapshot()
	snap.Lines = nil
	_, err = g.Generate(ubl.Input{Snapshot: snap}, phase2Config())
	require.Error(t, err)
	assert.True(t, model.IsCode(err, model.ErrCodeValidation))
}
