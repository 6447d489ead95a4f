package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rezonia/zatca-pipeline/internal/model"
)

// Authority endpoints
const (
	SandboxBaseURL    = "https://gw-fatoora.zatca.gov.sa/e-invoicing/developer-portal"
	ProductionBaseURL = "https://gw-fatoora.zatca.gov.sa/e-invoicing/core"

	DefaultOnboardingTimeout = 60 * time.Second

	acceptVersion = "V2"
)

// IssuedCSID is the credential set returned by the onboarding endpoints
type IssuedCSID struct {
	RequestID   string `json:"requestID"`
	BinaryToken string `json:"binarySecurityToken"`
	Secret      string `json:"secret"`
	Disposition string `json:"dispositionMessage"`
}

// CSIDClient drives the two-step onboarding flow: a compliance CSID
// obtained with a CSR and OTP, then a production CSID obtained with the
// compliance request id.
type CSIDClient struct {
	httpClient *http.Client
	baseURL    string
}

// CSIDOption configures the onboarding client
type CSIDOption func(*CSIDClient)

// WithBaseURL points the client at a different authority environment
func WithBaseURL(url string) CSIDOption {
	return func(c *CSIDClient) {
		c.baseURL = url
	}
}

// WithHTTPClient substitutes the HTTP client, for tests
func WithHTTPClient(hc *http.Client) CSIDOption {
	return func(c *CSIDClient) {
		c.httpClient = hc
	}
}

// NewCSIDClient creates an onboarding client against the sandbox by
// default
func NewCSIDClient(opts ...CSIDOption) *CSIDClient {
	c := &CSIDClient{
		httpClient: &http.Client{Timeout: DefaultOnboardingTimeout},
		baseURL:    SandboxBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RequestComplianceCSID exchanges a CSR plus the portal OTP for a
// compliance CSID
func (c *CSIDClient) RequestComplianceCSID(ctx context.Context, csrPEM, otp string) (*IssuedCSID, error) {
	body := map[string]string{"csr": csrPEM}

	req, err := c.newRequest(ctx, http.MethodPost, "/compliance", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("OTP", otp)

	return c.do(req)
}

// RequestProductionCSID upgrades a compliance CSID to a production one
func (c *CSIDClient) RequestProductionCSID(ctx context.Context, complianceRequestID string, temp Credentials) (*IssuedCSID, error) {
	body := map[string]string{"compliance_request_id": complianceRequestID}

	req, err := c.newRequest(ctx, http.MethodPost, "/production/csids", body)
	if err != nil {
		return nil, err
	}
	temp.Apply(req)

	return c.do(req)
}

func (c *CSIDClient) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Version", acceptVersion)
	return req, nil
}

func (c *CSIDClient) do(req *http.Request) (*IssuedCSID, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.ErrAPIFailure(0, "CSID request failed", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, model.ErrAPIFailure(resp.StatusCode, "cannot read CSID response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, model.ErrAPIFailure(resp.StatusCode,
			fmt.Sprintf("CSID request rejected: %s", truncate(string(raw), 300)), nil)
	}

	var issued IssuedCSID
	if err := json.Unmarshal(raw, &issued); err != nil {
		return nil, model.ErrAPIFailure(resp.StatusCode, "malformed CSID response", err)
	}
	if issued.BinaryToken == "" || issued.Secret == "" {
		return nil, model.ErrAPIFailure(resp.StatusCode, "CSID response carries no credentials", nil)
	}
	return &issued, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
