// Package credentials manages CSID credentials: the binary token and
// secret issued by the authority that authenticate every submission.
// Providers only hand out credentials, they never refresh them; expired
// credentials surface as errors for the onboarding flow to deal with.
package credentials

import (
	"context"
	"net/http"
	"time"

	"github.com/rezonia/zatca-pipeline/internal/model"
)

// Credentials is an issued CSID pair
type Credentials struct {
	BinaryToken string
	Secret      string
}

// Apply sets the authentication headers on an outgoing API request
func (c Credentials) Apply(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.BinaryToken)
	req.Header.Set("X-CSID-Secret", c.Secret)
}

// Provider hands out credentials for a company configuration
type Provider interface {
	Credentials(ctx context.Context, cfg *model.Configuration) (Credentials, error)
}

// StoredProvider serves the credentials persisted on the configuration,
// rejecting missing or expired ones
type StoredProvider struct {
	clock func() time.Time
}

// NewStoredProvider creates a provider over stored configuration
// credentials
func NewStoredProvider() *StoredProvider {
	return &StoredProvider{clock: time.Now}
}

// WithClock overrides the time source, for tests
func (p *StoredProvider) WithClock(clock func() time.Time) *StoredProvider {
	p.clock = clock
	return p
}

// Credentials implements Provider
func (p *StoredProvider) Credentials(_ context.Context, cfg *model.Configuration) (Credentials, error) {
	if !cfg.HasCSID() {
		return Credentials{}, model.ErrNoCredentials(cfg.CompanyID)
	}
	if cfg.CSIDExpired(p.clock()) {
		return Credentials{}, model.ErrCredentialsExpired(cfg.CompanyID)
	}
	return Credentials{
		BinaryToken: cfg.CSIDBinaryToken,
		Secret:      cfg.CSIDSecret,
	}, nil
}

// Static always returns the same credentials. Useful for sandbox runs and
// tests.
type Static struct {
	Token  string
	Secret string
}

// Credentials implements Provider
func (s Static) Credentials(context.Context, *model.Configuration) (Credentials, error) {
	return Credentials{BinaryToken: s.Token, Secret: s.Secret}, nil
}
