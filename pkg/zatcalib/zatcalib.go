// Package zatcalib provides a public API for generating and submitting
// ZATCA-compliant e-invoices.
//
// This package exposes the core types for snapshot extraction, hash
// chaining, UBL 2.1 rendering, signing, QR encoding and submission
// without reaching into internal packages.
//
// Example usage:
//
//	proc, err := zatcalib.NewProcessor(zatcalib.Options{DatabasePath: "zatca.db", SchemaDir: "schemas"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := proc.Generate(ctx, invoice, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(result.Record.InvoiceHash)
package zatcalib

import (
	"github.com/rezonia/zatca-pipeline/internal/compliance"
	"github.com/rezonia/zatca-pipeline/internal/model"
	"github.com/rezonia/zatca-pipeline/internal/pipeline"
	"github.com/rezonia/zatca-pipeline/internal/submission"
)

// Re-export core types for public API
type (
	SourceInvoice    = model.SourceInvoice
	SourceLine       = model.SourceLine
	Party            = model.Party
	InvoiceSnapshot  = model.InvoiceSnapshot
	LineItem         = model.LineItem
	ComplianceRecord = model.ComplianceRecord
	Configuration    = model.Configuration
	PipelineError    = model.PipelineError

	GenerateResult   = pipeline.GenerateResult
	ChainStatus      = pipeline.ChainStatus
	ValidationReport = compliance.Report
	SubmitResult     = submission.Result
	SweepResult      = submission.SweepResult
)

// Re-export phase and channel constants
const (
	Phase1 = model.Phase1
	Phase2 = model.Phase2

	ChannelB2B = model.ChannelB2B
	ChannelB2C = model.ChannelB2C

	FormStandard   = model.FormStandard
	FormSimplified = model.FormSimplified
)

// Re-export record statuses
const (
	StatusPending          = model.StatusPending
	StatusValidationFailed = model.StatusValidationFailed
	StatusCSIDInvalid      = model.StatusCSIDInvalid
	StatusAPIError         = model.StatusAPIError
	StatusSubmissionError  = model.StatusSubmissionError
	StatusCleared          = model.StatusCleared
	StatusReported         = model.StatusReported
	StatusDeadlineMissed   = model.StatusDeadlineMissed
)
