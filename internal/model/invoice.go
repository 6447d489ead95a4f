package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceForm distinguishes standard tax invoices from simplified ones
type InvoiceForm string

const (
	FormStandard   InvoiceForm = "standard"
	FormSimplified InvoiceForm = "simplified"
)

// Channel identifies the regulatory submission path for an invoice
type Channel string

const (
	ChannelB2B Channel = "B2B"
	ChannelB2C Channel = "B2C"
)

// Compliance phases
const (
	Phase1 = "phase1"
	Phase2 = "phase2"
)

// UBL invoice type codes
const (
	TypeCodeStandard   = "380"
	TypeCodeSimplified = "388"
)

// VAT category codes (UNCL5305 subset used for Saudi VAT)
const (
	VATCategoryStandard   = "S"
	VATCategoryZeroRated  = "Z"
	VATCategoryExempt     = "E"
	VATCategoryOutOfScope = "O"
)

// Record lifecycle statuses
const (
	StatusPending          = "PENDING"
	StatusValidationFailed = "VALIDATION_FAILED"
	StatusCSIDInvalid      = "CSID_INVALID"
	StatusAPIError         = "API_ERROR"
	StatusSubmissionError  = "SUBMISSION_ERROR"
	StatusCleared          = "CLEARED"
	StatusReported         = "REPORTED"
	StatusDeadlineMissed   = "DEADLINE_MISSED"
)

// ReportingDeadline is how long after creation a simplified invoice
// may still be reported
const ReportingDeadline = 24 * time.Hour

// Party is a seller or buyer on an invoice
type Party struct {
	Name       string `json:"name"`
	TaxNumber  string `json:"tax_number,omitempty"`
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	District   string `json:"district,omitempty"`
	Country    string `json:"country,omitempty"`
}

// SourceLine is one line of an invoice as received from the billing system
type SourceLine struct {
	ID           int             `json:"id"`
	Description  string          `json:"description"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	VATCategory  string          `json:"vat_category,omitempty"`
	VATRate      decimal.Decimal `json:"vat_rate,omitempty"`
}

// SourceInvoice is the upstream invoice a compliance record is built from.
// Amounts are derived, never trusted from the caller.
type SourceInvoice struct {
	ID               string       `json:"id"`
	IssueDate        time.Time    `json:"issue_date"`
	Buyer            Party        `json:"buyer"`
	Lines            []SourceLine `json:"lines"`
	PaymentMeansCode string       `json:"payment_means_code,omitempty"`
}

// LineItem is a computed invoice line carried in a snapshot
type LineItem struct {
	ID          int             `json:"id"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	VATCategory string          `json:"vat_category"`
	VATRate     decimal.Decimal `json:"vat_rate"`
	NetAmount   decimal.Decimal `json:"net_amount"`
	VATAmount   decimal.Decimal `json:"vat_amount"`
	TotalAmount decimal.Decimal `json:"total_amount"`
}

// InvoiceSnapshot is the immutable value object fed into hashing, XML
// generation and QR encoding. Once built it never changes; the source
// invoice may keep living its own life upstream.
type InvoiceSnapshot struct {
	InvoiceID    string          `json:"invoice_id"`
	Number       string          `json:"number"`
	UUID         string          `json:"uuid"`
	IssueDate    string          `json:"issue_date"` // YYYY-MM-DD
	IssueTime    string          `json:"issue_time"` // HH:MM:SS
	Form         InvoiceForm     `json:"form"`
	Channel      Channel         `json:"channel"`
	TypeCode     string          `json:"type_code"`
	Currency     string          `json:"currency"`
	Seller       Party           `json:"seller"`
	Buyer        Party           `json:"buyer"`
	Lines        []LineItem      `json:"lines"`
	NetTotal     decimal.Decimal `json:"net_total"`
	VATTotal     decimal.Decimal `json:"vat_total"`
	GrossTotal   decimal.Decimal `json:"gross_total"`
	PaymentMeans string          `json:"payment_means,omitempty"`
}

// IsB2B reports whether the snapshot goes through the clearance path
func (s *InvoiceSnapshot) IsB2B() bool {
	return s.Channel == ChannelB2B
}
