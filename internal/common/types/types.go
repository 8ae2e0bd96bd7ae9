package types

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ValidationError reports a malformed or missing input field. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ProviderError wraps a failed call to an external cloud API.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Code returns the gRPC status code carried by the underlying error, or
// codes.Unknown when there is none.
func (e *ProviderError) Code() codes.Code {
	if s, ok := status.FromError(e.Err); ok {
		return s.Code()
	}
	return codes.Unknown
}

// Decode failure causes.
var (
	ErrMalformedPlaintext = errors.New("detokenized content has an unexpected shape")
	ErrOwnerMismatch      = errors.New("detokenized content belongs to another user")
)

// DecodeError reports detokenized plaintext that could not be trusted.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	return e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Instance is the read-only view of a compute instance the reaper works on.
type Instance struct {
	Name              string
	Zone              string // short zone name, e.g. us-central1-a
	CreationTimestamp string // RFC 3339
	Labels            map[string]string
}

// AuditEntry is one row of the audit trail.
type AuditEntry struct {
	AuditID   string
	Operation string // tokenize | detokenize | reap
	Subject   string // user id or instance name
	Status    string // success | error
	Detail    string
	ClientIP  string
	Metadata  map[string]string
	Timestamp time.Time
}

// AuditFilter narrows GetAuditLogs.
type AuditFilter struct {
	StartTime time.Time
	EndTime   time.Time
	Operation string
	Subject   string
	Limit     int
	Offset    int
}

// AuditPage is a page of audit entries with the unpaged total.
type AuditPage struct {
	Logs       []AuditEntry
	TotalCount int
}
