package model

import (
	"errors"
	"fmt"
)

// Error codes for the compliance pipeline
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeChainIntegrity = "CHAIN_INTEGRITY"
	ErrCodeCrypto         = "CRYPTO_ERROR"
	ErrCodeCodec          = "CODEC_ERROR"
	ErrCodeCredential     = "CREDENTIAL_ERROR"
	ErrCodeAPI            = "API_ERROR"
	ErrCodeDeadline       = "DEADLINE_ERROR"
)

// PipelineError is the common error shape across the pipeline. Code is one
// of the ErrCode* constants and survives wrapping, so callers branch on it
// instead of matching message text.
type PipelineError struct {
	Code    string
	Field   string
	Message string
	Cause   error
}

func (e *PipelineError) Error() string {
	if e.Field != "" && e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Code, e.Field, e.Message, e.Cause)
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// NewPipelineError creates a new pipeline error
func NewPipelineError(code, field, message string, cause error) *PipelineError {
	return &PipelineError{
		Code:    code,
		Field:   field,
		Message: message,
		Cause:   cause,
	}
}

// ErrorCode extracts the pipeline error code from err, or "" if err is not
// a PipelineError anywhere in its chain
func ErrorCode(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// IsCode reports whether err carries the given pipeline error code
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// Common error constructors

// ErrValidation returns error for a failed invoice content check
func ErrValidation(field, message string) *PipelineError {
	return NewPipelineError(ErrCodeValidation, field, message, nil)
}

// ErrChainBroken returns error when the hash chain link at the given
// sequence does not match its predecessor
func ErrChainBroken(companyID, sequence uint64) *PipelineError {
	return NewPipelineError(ErrCodeChainIntegrity, "previous_hash",
		fmt.Sprintf("chain broken for company %d at sequence %d", companyID, sequence), nil)
}

// ErrChainGap returns error when record sequences are not contiguous
func ErrChainGap(companyID, expected, got uint64) *PipelineError {
	return NewPipelineError(ErrCodeChainIntegrity, "chain_sequence",
		fmt.Sprintf("chain gap for company %d: expected sequence %d, got %d", companyID, expected, got), nil)
}

// ErrMissingKey returns error when signing material cannot be loaded
func ErrMissingKey(path string, cause error) *PipelineError {
	return NewPipelineError(ErrCodeCrypto, "private_key",
		fmt.Sprintf("cannot load signing key from %s", path), cause)
}

// ErrUnsupportedKey returns error for key algorithms the signer rejects
func ErrUnsupportedKey(algorithm string) *PipelineError {
	return NewPipelineError(ErrCodeCrypto, "private_key",
		fmt.Sprintf("unsupported key algorithm: %s", algorithm), nil)
}

// ErrSigning returns error when signature generation or verification fails
func ErrSigning(message string, cause error) *PipelineError {
	return NewPipelineError(ErrCodeCrypto, "signature", message, cause)
}

// ErrOversizedValue returns error when a QR field exceeds the one-byte
// TLV length limit
func ErrOversizedValue(tag int, length int) *PipelineError {
	return NewPipelineError(ErrCodeCodec, fmt.Sprintf("tag_%d", tag),
		fmt.Sprintf("value is %d bytes, TLV limit is 255", length), nil)
}

// ErrMalformedTLV returns error when a TLV payload cannot be decoded
func ErrMalformedTLV(offset int, message string) *PipelineError {
	return NewPipelineError(ErrCodeCodec, "tlv",
		fmt.Sprintf("malformed TLV at offset %d: %s", offset, message), nil)
}

// ErrNoCredentials returns error when a company has no CSID on file
func ErrNoCredentials(companyID uint64) *PipelineError {
	return NewPipelineError(ErrCodeCredential, "csid",
		fmt.Sprintf("no CSID credentials for company %d", companyID), nil)
}

// ErrCredentialsExpired returns error when stored CSID credentials are stale
func ErrCredentialsExpired(companyID uint64) *PipelineError {
	return NewPipelineError(ErrCodeCredential, "csid",
		fmt.Sprintf("CSID credentials expired for company %d", companyID), nil)
}

// ErrAPIFailure returns error for transport-level or non-2xx API outcomes
func ErrAPIFailure(statusCode int, message string, cause error) *PipelineError {
	if statusCode > 0 {
		message = fmt.Sprintf("%s (http %d)", message, statusCode)
	}
	return NewPipelineError(ErrCodeAPI, "", message, cause)
}

// ErrDeadlineMissed returns error when the reporting window has closed
func ErrDeadlineMissed(uuid string) *PipelineError {
	return NewPipelineError(ErrCodeDeadline, "reported_at",
		fmt.Sprintf("reporting window closed for invoice %s", uuid), nil)
}
