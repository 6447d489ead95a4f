package submission

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rezonia/zatca-pipeline/internal/compliance"
	"github.com/rezonia/zatca-pipeline/internal/model"
	"github.com/rezonia/zatca-pipeline/internal/store"
)

// Result is the outcome of one submission attempt, mirrored onto the
// record before it is returned
type Result struct {
	UUID             string   `json:"uuid"`
	Success          bool     `json:"success"`
	Status           string   `json:"status"`
	SubmissionID     string   `json:"submission_id,omitempty"`
	Error            string   `json:"error,omitempty"`
	ValidationErrors []string `json:"validation_errors,omitempty"`
}

type apiResponse struct {
	ClearanceStatus string          `json:"clearanceStatus"`
	ReportingStatus string          `json:"reportingStatus"`
	SubmissionID    string          `json:"submissionID"`
	ClearedInvoice  string          `json:"clearedInvoice"`
	Errors          json.RawMessage `json:"errors"`
	Warnings        json.RawMessage `json:"warnings"`
}

// SubmitForClearance sends a standard (B2B) invoice down the clearance
// path. The document must validate locally and the company must hold live
// credentials before anything leaves the process.
func (c *Client) SubmitForClearance(ctx context.Context, rec *model.ComplianceRecord, cfg *model.Configuration) (res *Result) {
	defer c.recoverInto(ctx, rec, &res)

	if rec.Channel != string(model.ChannelB2B) {
		return c.fail(ctx, rec, model.StatusSubmissionError,
			fmt.Sprintf("clearance is for B2B invoices, record is %s", rec.Channel))
	}
	if rec.IsTerminal() {
		return &Result{UUID: rec.UUID, Status: rec.Status,
			Error: "record already reached a terminal status"}
	}

	if res := c.validateLocally(ctx, rec, cfg); res != nil {
		return res
	}

	creds, err := c.provider.Credentials(ctx, cfg)
	if err != nil {
		return c.fail(ctx, rec, model.StatusCSIDInvalid, err.Error())
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return c.fail(ctx, rec, model.StatusSubmissionError, err.Error())
	}

	payload := c.basePayload(rec)
	payload["clearanceStatus"] = "CLEARED"

	code, raw, err := c.post(ctx, clearancePath, creds, payload)
	if err != nil {
		return c.fail(ctx, rec, model.StatusAPIError, fmt.Sprintf("clearance call failed: %v", err))
	}

	return c.settle(ctx, rec, code, raw, model.StatusCleared, "cleared")
}

// SubmitForReporting sends a simplified (B2C) invoice down the reporting
// path. Invoices past their 24h window are marked missed and never sent.
func (c *Client) SubmitForReporting(ctx context.Context, rec *model.ComplianceRecord, cfg *model.Configuration) (res *Result) {
	defer c.recoverInto(ctx, rec, &res)

	if rec.Channel != string(model.ChannelB2C) {
		return c.fail(ctx, rec, model.StatusSubmissionError,
			fmt.Sprintf("reporting is for B2C invoices, record is %s", rec.Channel))
	}
	if rec.IsTerminal() {
		return &Result{UUID: rec.UUID, Status: rec.Status,
			Error: "record already reached a terminal status"}
	}

	now := c.clock()
	if rec.PastReportingDeadline(now) {
		c.logger.Warn("reporting window closed",
			zap.String("uuid", rec.UUID),
			zap.Time("deadline", rec.ReportingDeadlineAt()))
		return c.fail(ctx, rec, model.StatusDeadlineMissed, model.ErrDeadlineMissed(rec.UUID).Error())
	}

	if res := c.validateLocally(ctx, rec, cfg); res != nil {
		return res
	}

	creds, err := c.provider.Credentials(ctx, cfg)
	if err != nil {
		return c.fail(ctx, rec, model.StatusCSIDInvalid, err.Error())
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return c.fail(ctx, rec, model.StatusSubmissionError, err.Error())
	}

	payload := c.basePayload(rec)
	payload["reportingStatus"] = "REPORTED"
	payload["reportingDateTime"] = now.UTC().Format(time.RFC3339)
	payload["invoiceDate"] = rec.CreatedAt.UTC().Format("2006-01-02")

	code, raw, err := c.post(ctx, reportingPath, creds, payload)
	if err != nil {
		return c.fail(ctx, rec, model.StatusAPIError, fmt.Sprintf("reporting call failed: %v", err))
	}

	return c.settle(ctx, rec, code, raw, model.StatusReported, "reported")
}

// Submit routes a record to its channel's path
func (c *Client) Submit(ctx context.Context, rec *model.ComplianceRecord, cfg *model.Configuration) *Result {
	if rec.Channel == string(model.ChannelB2B) {
		return c.SubmitForClearance(ctx, rec, cfg)
	}
	return c.SubmitForReporting(ctx, rec, cfg)
}

// BatchResult summarizes a batch run
type BatchResult struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results"`
}

// SubmitBatch pushes records through one by one under the rate limiter.
// A failed record never stops the rest of the batch.
func (c *Client) SubmitBatch(ctx context.Context, recs []model.ComplianceRecord, cfg *model.Configuration) *BatchResult {
	batch := &BatchResult{Total: len(recs)}
	for i := range recs {
		res := c.Submit(ctx, &recs[i], cfg)
		batch.Results = append(batch.Results, *res)
		if res.Success {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
	}
	return batch
}

// validateLocally runs the validator and persists a failure; returns nil
// when the record may proceed
func (c *Client) validateLocally(ctx context.Context, rec *model.ComplianceRecord, cfg *model.Configuration) *Result {
	report := c.validator.Validate(compliance.Input{
		XML:          rec.XML,
		Config:       cfg,
		ExpectedHash: rec.InvoiceHash,
		QRTLV:        rec.QRCode,
	})
	if report.Valid {
		return nil
	}

	errs := report.AllErrors()
	res := c.fail(ctx, rec, model.StatusValidationFailed, "local validation failed")
	res.ValidationErrors = errs
	return res
}

// settle interprets the authority response and persists the outcome
func (c *Client) settle(ctx context.Context, rec *model.ComplianceRecord, code int, raw []byte, successStatus, verb string) *Result {
	var parsed apiResponse
	parseErr := json.Unmarshal(raw, &parsed)

	switch {
	case code == http.StatusOK || code == http.StatusAccepted:
		if parseErr != nil {
			return c.fail(ctx, rec, model.StatusSubmissionError,
				fmt.Sprintf("authority returned unparsable body: %v", parseErr))
		}
		accepted := parsed.ClearanceStatus == "CLEARED" || parsed.ReportingStatus == "REPORTED"
		if !accepted {
			return c.fail(ctx, rec, model.StatusSubmissionError,
				"authority response carries no acceptance status")
		}
		return c.succeed(ctx, rec, successStatus, parsed, raw, verb)

	case code >= 400 && code < 500:
		// The authority rejected the document itself
		res := c.fail(ctx, rec, model.StatusValidationFailed,
			fmt.Sprintf("authority rejected the invoice (http %d)", code))
		if parseErr == nil && len(parsed.Errors) > 0 {
			res.ValidationErrors = append(res.ValidationErrors, string(parsed.Errors))
		}
		return res

	default:
		return c.fail(ctx, rec, model.StatusAPIError,
			fmt.Sprintf("authority unavailable (http %d)", code))
	}
}

func (c *Client) succeed(ctx context.Context, rec *model.ComplianceRecord, status string, parsed apiResponse, raw []byte, verb string) *Result {
	now := c.clock().UTC()
	response := string(raw)
	update := store.StatusUpdate{
		Status:      status,
		Response:    &response,
		SubmittedAt: &now,
	}
	if parsed.SubmissionID != "" {
		update.SubmissionID = &parsed.SubmissionID
	}
	if status == model.StatusCleared {
		update.ClearedAt = &now
	} else {
		update.ReportedAt = &now
	}

	if err := c.records.UpdateStatus(ctx, rec.UUID, update); err != nil {
		c.logger.Error("cannot persist submission outcome",
			zap.String("uuid", rec.UUID), zap.Error(err))
	}
	rec.Status = status

	if c.archive != nil {
		if _, err := c.archive.StoreXML(rec.CompanyID, rec.UUID, verb, rec.XML); err != nil {
			c.logger.Warn("cannot archive accepted document",
				zap.String("uuid", rec.UUID), zap.Error(err))
		}
	}

	c.logger.Info("invoice "+verb,
		zap.String("uuid", rec.UUID),
		zap.Uint64("company_id", rec.CompanyID),
		zap.String("submission_id", parsed.SubmissionID))

	return &Result{
		UUID:         rec.UUID,
		Success:      true,
		Status:       status,
		SubmissionID: parsed.SubmissionID,
	}
}

func (c *Client) fail(ctx context.Context, rec *model.ComplianceRecord, status, msg string) *Result {
	if err := c.records.UpdateStatus(ctx, rec.UUID, store.StatusUpdate{
		Status:    status,
		LastError: &msg,
	}); err != nil {
		c.logger.Error("cannot persist submission failure",
			zap.String("uuid", rec.UUID), zap.Error(err))
	}
	rec.Status = status

	c.logger.Warn("submission failed",
		zap.String("uuid", rec.UUID),
		zap.String("status", status),
		zap.String("reason", msg))

	return &Result{UUID: rec.UUID, Status: status, Error: msg}
}

// recoverInto converts a panic anywhere in the submission path into a
// SUBMISSION_ERROR outcome instead of taking the process down
func (c *Client) recoverInto(ctx context.Context, rec *model.ComplianceRecord, res **Result) {
	if r := recover(); r != nil {
		c.logger.Error("submission panicked",
			zap.String("uuid", rec.UUID), zap.Any("panic", r))
		*res = c.fail(ctx, rec, model.StatusSubmissionError, fmt.Sprintf("internal error: %v", r))
	}
}

func (c *Client) basePayload(rec *model.ComplianceRecord) map[string]any {
	payload := map[string]any{
		"invoice":     base64.StdEncoding.EncodeToString([]byte(rec.XML)),
		"uuid":        rec.UUID,
		"invoiceHash": rec.InvoiceHash,
	}
	if rec.PreviousHash != nil {
		payload["previousInvoiceHash"] = *rec.PreviousHash
	}
	return payload
}
