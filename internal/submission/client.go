// Package submission drives the regulatory submission state machine:
// clearance for standard invoices, reporting for simplified ones, plus
// batch runs and the periodic reporting sweep. Every outcome lands on the
// compliance record before it is returned to the caller.
package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rezonia/zatca-pipeline/internal/archive"
	"github.com/rezonia/zatca-pipeline/internal/compliance"
	"github.com/rezonia/zatca-pipeline/internal/credentials"
	"github.com/rezonia/zatca-pipeline/internal/store"
)

// Authority invoice endpoints
const (
	SandboxBaseURL    = "https://gw-fatoora.zatca.gov.sa/e-invoicing/developer-portal"
	ProductionBaseURL = "https://gw-fatoora.zatca.gov.sa/e-invoicing/core"

	clearancePath = "/invoices/clearance/single"
	reportingPath = "/invoices/reporting/single"

	DefaultTimeout = 60 * time.Second

	// DefaultRate paces authority calls to one per second, the batch
	// spacing the authority tolerates without throttling
	DefaultRate = rate.Limit(1)
)

// Client submits invoices to the authority
type Client struct {
	httpClient *http.Client
	baseURL    string
	provider   credentials.Provider
	validator  *compliance.Validator
	records    *store.RecordRepository
	archive    *archive.Archive
	limiter    *rate.Limiter
	logger     *zap.Logger
	clock      func() time.Time
}

// Option configures the client
type Option func(*Client)

// WithBaseURL points the client at a different authority environment
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient substitutes the HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit overrides the submission pacing
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(r, burst) }
}

// WithArchive archives accepted documents after submission
func WithArchive(a *archive.Archive) Option {
	return func(c *Client) { c.archive = a }
}

// WithLogger sets the structured logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock overrides the time source, for tests
func WithClock(clock func() time.Time) Option {
	return func(c *Client) { c.clock = clock }
}

// NewClient creates a submission client against the sandbox by default
func NewClient(provider credentials.Provider, validator *compliance.Validator, records *store.RecordRepository, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    SandboxBaseURL,
		provider:   provider,
		validator:  validator,
		records:    records,
		limiter:    rate.NewLimiter(DefaultRate, 1),
		logger:     zap.NewNop(),
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// post sends an authenticated JSON payload and returns status code + body
func (c *Client) post(ctx context.Context, path string, creds credentials.Credentials, payload any) (int, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Version", "V2")
	creds.Apply(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, raw, nil
}

func decodeJSON(r io.Reader, v any) error {
	return json.NewDecoder(r).Decode(v)
}
