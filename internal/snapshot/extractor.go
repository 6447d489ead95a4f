// Package snapshot freezes upstream invoices into the immutable value
// objects the rest of the pipeline hashes, renders and signs. Editing the
// source invoice afterwards never changes what was submitted.
package snapshot

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"

	dec "github.com/rezonia/zatca-pipeline/internal/decimal"
	"github.com/rezonia/zatca-pipeline/internal/model"
	"github.com/rezonia/zatca-pipeline/internal/tax"
)

var taxNumberRe = regexp.MustCompile(`^\d{15}$`)

// Extractor builds invoice snapshots. Amounts are always recomputed from
// quantities and unit prices; totals sent by the caller are ignored.
type Extractor struct {
	calc *tax.Calculator
}

// NewExtractor creates an extractor using the given tax calculator
func NewExtractor(calc *tax.Calculator) *Extractor {
	if calc == nil {
		calc = tax.NewCalculator(nil)
	}
	return &Extractor{calc: calc}
}

// Extract derives a snapshot from a source invoice under a company
// configuration. sequence is the invoice's position in the company chain
// and feeds the human-readable invoice number.
func (e *Extractor) Extract(inv model.SourceInvoice, cfg *model.Configuration, sequence uint64) (*model.InvoiceSnapshot, error) {
	if err := validateSource(inv, cfg); err != nil {
		return nil, err
	}

	lines := make([]model.LineItem, 0, len(inv.Lines))
	for _, src := range inv.Lines {
		line, err := e.calc.Line(src)
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	net, vat, gross := e.calc.Totals(lines)

	channel := model.ChannelB2C
	form := model.FormSimplified
	typeCode := model.TypeCodeSimplified
	if inv.Buyer.TaxNumber != "" {
		channel = model.ChannelB2B
		form = model.FormStandard
		typeCode = model.TypeCodeStandard
	}

	currency := cfg.Currency
	if currency == "" {
		currency = "SAR"
	}

	snap := &model.InvoiceSnapshot{
		InvoiceID: inv.ID,
		Number:    InvoiceNumber(cfg, inv, sequence),
		UUID:      uuid.NewString(),
		IssueDate: inv.IssueDate.Format("2006-01-02"),
		IssueTime: inv.IssueDate.Format("15:04:05"),
		Form:      form,
		Channel:   channel,
		TypeCode:  typeCode,
		Currency:  currency,
		Seller: model.Party{
			Name:      cfg.CompanyName,
			TaxNumber: cfg.TaxNumber,
		},
		Buyer:        inv.Buyer,
		Lines:        lines,
		NetTotal:     net,
		VATTotal:     vat,
		GrossTotal:   gross,
		PaymentMeans: inv.PaymentMeansCode,
	}
	return snap, nil
}

// InvoiceNumber builds the compliance invoice number:
// branch-device-issuedate-sequence, with the sequence zero padded to nine
// digits
func InvoiceNumber(cfg *model.Configuration, inv model.SourceInvoice, sequence uint64) string {
	return fmt.Sprintf("%s-%s-%s-%09d",
		cfg.BranchCode, cfg.DeviceID, inv.IssueDate.Format("20060102"), sequence)
}

func validateSource(inv model.SourceInvoice, cfg *model.Configuration) error {
	if inv.ID == "" {
		return model.ErrValidation("id", "source invoice id is required")
	}
	if inv.IssueDate.IsZero() {
		return model.ErrValidation("issue_date", "issue date is required")
	}
	if len(inv.Lines) == 0 {
		return model.ErrValidation("lines", "invoice must have at least one line")
	}
	if !taxNumberRe.MatchString(cfg.TaxNumber) {
		return model.ErrValidation("seller.tax_number",
			fmt.Sprintf("seller tax number %q must be 15 digits", cfg.TaxNumber))
	}
	if inv.Buyer.TaxNumber != "" && !taxNumberRe.MatchString(inv.Buyer.TaxNumber) {
		return model.ErrValidation("buyer.tax_number",
			fmt.Sprintf("buyer tax number %q must be 15 digits", inv.Buyer.TaxNumber))
	}
	if inv.Buyer.TaxNumber != "" && inv.Buyer.Name == "" {
		return model.ErrValidation("buyer.name", "buyer name is required for standard invoices")
	}
	seen := make(map[int]bool, len(inv.Lines))
	for _, l := range inv.Lines {
		if seen[l.ID] {
			return model.ErrValidation("lines",
				fmt.Sprintf("duplicate line id %d", l.ID))
		}
		seen[l.ID] = true
	}
	return nil
}

// DerivedTotalsDiffer reports whether caller-supplied totals drift from the
// recomputed ones beyond the halala tolerance. Used by validation to warn
// about upstream rounding disagreements.
func DerivedTotalsDiffer(snap *model.InvoiceSnapshot) bool {
	var net, vat = dec.Zero, dec.Zero
	for _, l := range snap.Lines {
		net = net.Add(l.NetAmount)
		vat = vat.Add(l.VATAmount)
	}
	tol := dec.MustFromString("0.01")
	return !dec.WithinTolerance(net, snap.NetTotal, tol) ||
		!dec.WithinTolerance(vat, snap.VATTotal, tol)
}
