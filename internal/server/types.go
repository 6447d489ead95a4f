package server

import (
	"github.com/rezonia/zatca-pipeline/internal/model"
)

// ChainResponse is the response for the chain listing endpoint
type ChainResponse struct {
	CompanyID uint64                   `json:"company_id"`
	Length    int                      `json:"length"`
	Records   []model.ComplianceRecord `json:"records"`
}

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
