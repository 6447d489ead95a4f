package submission

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/rezonia/zatca-pipeline/internal/model"
	"github.com/rezonia/zatca-pipeline/internal/store"
)

// Exception is a record the sweep refuses to touch: its reporting window
// closed without a successful report and someone has to deal with it
type Exception struct {
	UUID       string `json:"uuid"`
	InvoiceID  string `json:"invoice_id"`
	Status     string `json:"status"`
	DeadlineAt string `json:"deadline_at"`
}

// SweepResult summarizes one reporting sweep
type SweepResult struct {
	Submitted  []Result    `json:"submitted"`
	Exceptions []Exception `json:"exceptions"`
}

// SweepReportable finds the company's simplified invoices still inside
// their reporting window and reports them. Records already past the
// deadline are marked missed and surfaced as exceptions, never submitted.
func (c *Client) SweepReportable(ctx context.Context, companyID uint64, cfg *model.Configuration) (*SweepResult, error) {
	now := c.clock()
	cutoff := now.Add(-model.ReportingDeadline)

	sweep := &SweepResult{}

	expired, err := c.records.ExpiredB2C(ctx, companyID, cutoff)
	if err != nil {
		return nil, err
	}
	for i := range expired {
		rec := &expired[i]
		msg := model.ErrDeadlineMissed(rec.UUID).Error()
		if err := c.records.UpdateStatus(ctx, rec.UUID, store.StatusUpdate{
			Status:    model.StatusDeadlineMissed,
			LastError: &msg,
		}); err != nil {
			c.logger.Error("cannot mark missed deadline",
				zap.String("uuid", rec.UUID), zap.Error(err))
		}
		sweep.Exceptions = append(sweep.Exceptions, Exception{
			UUID:       rec.UUID,
			InvoiceID:  rec.InvoiceID,
			Status:     model.StatusDeadlineMissed,
			DeadlineAt: rec.ReportingDeadlineAt().UTC().Format(time.RFC3339),
		})
	}

	due, err := c.records.ReportableB2C(ctx, companyID, cutoff)
	if err != nil {
		return nil, err
	}
	for i := range due {
		res := c.SubmitForReporting(ctx, &due[i], cfg)
		sweep.Submitted = append(sweep.Submitted, *res)
	}

	c.logger.Info("reporting sweep finished",
		zap.Uint64("company_id", companyID),
		zap.Int("submitted", len(sweep.Submitted)),
		zap.Int("exceptions", len(sweep.Exceptions)))

	return sweep, nil
}

// StatusLookup is the authority's view of a submitted invoice
type StatusLookup struct {
	UUID     string `json:"uuid"`
	Status   string `json:"status"`
	Response string `json:"response,omitempty"`
}

// LookupStatus asks the authority for the current state of a submitted
// invoice. The local record is not modified.
func (c *Client) LookupStatus(ctx context.Context, rec *model.ComplianceRecord, cfg *model.Configuration) (*StatusLookup, error) {
	creds, err := c.provider.Credentials(ctx, cfg)
	if err != nil {
		return nil, err
	}

	path := clearancePath
	if rec.Channel == string(model.ChannelB2C) {
		path = reportingPath
	}
	path = path + "/status/" + rec.UUID

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Version", "V2")
	creds.Apply(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.ErrAPIFailure(0, "status lookup failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, model.ErrAPIFailure(resp.StatusCode,
			fmt.Sprintf("authority has no record of invoice %s", rec.UUID), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, model.ErrAPIFailure(resp.StatusCode, "status lookup rejected", nil)
	}

	var lookup StatusLookup
	if err := decodeJSON(resp.Body, &lookup); err != nil {
		return nil, model.ErrAPIFailure(resp.StatusCode, "malformed status response", err)
	}
	lookup.UUID = rec.UUID
	return &lookup, nil
}
