package model

import "time"

// ComplianceRecord is the persisted result of running an invoice through
// the pipeline. Records form a per-company hash chain ordered by
// ChainSequence; rows are append-only apart from submission status fields.
type ComplianceRecord struct {
	ID            uint64  `gorm:"primaryKey" json:"id"`
	CompanyID     uint64  `gorm:"index:idx_company_chain,unique,priority:1;not null" json:"company_id"`
	ChainSequence uint64  `gorm:"index:idx_company_chain,unique,priority:2;not null" json:"chain_sequence"`
	InvoiceID     string  `gorm:"index;not null" json:"invoice_id"`
	UUID          string  `gorm:"uniqueIndex;size:36;not null" json:"uuid"`
	Number        string  `gorm:"index" json:"number"`
	Form          string  `json:"form"`
	Channel       string  `json:"channel"`
	Phase         string  `json:"phase"`
	XML           string  `json:"-"`
	InvoiceHash   string  `gorm:"size:64" json:"invoice_hash"`
	PreviousHash  *string `gorm:"size:64" json:"previous_hash,omitempty"`
	Signature     *string `json:"-"`
	QRCode        []byte  `json:"-"`
	Status        string  `gorm:"index;default:PENDING" json:"status"`

	SubmissionID *string    `json:"submission_id,omitempty"`
	Response     *string    `json:"-"`
	LastError    *string    `json:"last_error,omitempty"`
	SubmittedAt  *time.Time `json:"submitted_at,omitempty"`
	ClearedAt    *time.Time `json:"cleared_at,omitempty"`
	ReportedAt   *time.Time `json:"reported_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReportingDeadlineAt returns the moment after which a simplified invoice
// can no longer be reported
func (r *ComplianceRecord) ReportingDeadlineAt() time.Time {
	return r.CreatedAt.Add(ReportingDeadline)
}

// PastReportingDeadline reports whether now is beyond the 24h reporting window
func (r *ComplianceRecord) PastReportingDeadline(now time.Time) bool {
	return now.After(r.ReportingDeadlineAt())
}

// IsTerminal reports whether the record reached a final regulatory state
func (r *ComplianceRecord) IsTerminal() bool {
	switch r.Status {
	case StatusCleared, StatusReported, StatusDeadlineMissed:
		return true
	}
	return false
}

// Configuration holds per-company compliance settings and CSID credentials
type Configuration struct {
	ID          uint64 `gorm:"primaryKey" json:"id"`
	CompanyID   uint64 `gorm:"uniqueIndex;not null" json:"company_id"`
	CompanyName string `json:"company_name"`
	TaxNumber   string `gorm:"size:15" json:"tax_number"`
	BranchCode  string `json:"branch_code"`
	DeviceID    string `json:"device_id"`
	Phase       string `gorm:"default:phase1" json:"phase"`
	Environment string `gorm:"default:sandbox" json:"environment"`
	Currency    string `gorm:"default:SAR" json:"currency"`

	CertificatePath string `json:"certificate_path,omitempty"`
	PrivateKeyPath  string `json:"-"`

	CSIDBinaryToken string     `gorm:"column:csid_binary_token" json:"-"`
	CSIDSecret      string     `gorm:"column:csid_secret" json:"-"`
	CSIDRequestID   string     `gorm:"column:csid_request_id" json:"csid_request_id,omitempty"`
	CSIDStatus      string     `gorm:"column:csid_status" json:"csid_status,omitempty"`
	CSIDIssuedAt    *time.Time `gorm:"column:csid_issued_at" json:"csid_issued_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CSIDLifetime is how long issued production credentials stay valid
const CSIDLifetime = 365 * 24 * time.Hour

// IsPhase2 reports whether the company operates under the integration phase
func (c *Configuration) IsPhase2() bool {
	return c.Phase == Phase2
}

// HasCSID reports whether both credential parts are present
func (c *Configuration) HasCSID() bool {
	return c.CSIDBinaryToken != "" && c.CSIDSecret != ""
}

// CSIDExpired reports whether the stored credentials are past their lifetime.
// Missing issuance timestamps count as expired.
func (c *Configuration) CSIDExpired(now time.Time) bool {
	if c.CSIDIssuedAt == nil {
		return true
	}
	return now.After(c.CSIDIssuedAt.Add(CSIDLifetime))
}
