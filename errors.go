package dataverse

import (
	"errors"
	"fmt"
	"time"
)

// Error codes identify the failure family. They are stable strings callers can
// switch on without string-matching messages.
const (
	ErrCodeValidation = "validation"
	ErrCodeMetadata   = "metadata"
	ErrCodeSQLParse   = "sql_parse"
	ErrCodeHTTP       = "http"
	ErrCodeInternal   = "internal"
)

// Subcodes narrow an error family to a specific condition.
const (
	SubcodeValidationArgument = "validation_argument"
	SubcodeValidationConflict = "validation_conflict"

	SubcodeMetadataEntitySetNotFound     = "metadata_entityset_not_found"
	SubcodeMetadataTableNotFound         = "metadata_table_not_found"
	SubcodeMetadataAttributeNotFound     = "metadata_attribute_not_found"
	SubcodeMetadataAttributeRetryExhaust = "metadata_attribute_retry_exhausted"
	SubcodeMetadataPicklistRetryExhaust  = "metadata_picklist_retry_exhausted"
	SubcodeMetadataKeyNotFound           = "metadata_key_not_found"
	SubcodeMetadataRelationshipNotFound  = "metadata_relationship_not_found"
	SubcodeMetadataCustomAPINotFound     = "metadata_customapi_not_found"

	SubcodeSQLParseTableNotFound = "sql_parse_table_not_found"

	// SubcodeHTTPNetwork marks failures below HTTP: connection errors,
	// timeouts, canceled requests. These carry no status code.
	SubcodeHTTPNetwork = "http_network"
)

// HTTPSubcode derives the subcode for an HTTP error from its status code,
// e.g. 404 -> "http_404".
func HTTPSubcode(status int) string {
	return fmt.Sprintf("http_%d", status)
}

// transientStatuses are the HTTP statuses the generic transport retry treats
// as retryable.
var transientStatuses = map[int]bool{
	429: true,
	502: true,
	503: true,
	504: true,
}

// IsTransientStatus reports whether an HTTP status is considered transient.
func IsTransientStatus(status int) bool {
	return transientStatuses[status]
}

// DataverseError is the unified error type surfaced by every operation.
type DataverseError struct {
	Code          string         `json:"code"`
	Subcode       string         `json:"subcode,omitempty"`
	Message       string         `json:"message"`
	StatusCode    int            `json:"status_code,omitempty"`
	ServiceCode   string         `json:"service_code,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	RetryAfter    time.Duration  `json:"-"`
	BodyExcerpt   string         `json:"body_excerpt,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	Transient     bool           `json:"transient"`
	Timestamp     time.Time      `json:"timestamp"`
	Cause         error          `json:"-"`
}

func (e *DataverseError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("[%s:%s] %s (status %d)", e.Code, e.Subcode, e.Message, e.StatusCode)
	}
	if e.Subcode != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Subcode, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *DataverseError) Unwrap() error {
	return e.Cause
}

// WithDetail adds a single diagnostic detail.
func (e *DataverseError) WithDetail(key string, value any) *DataverseError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithDetails merges diagnostic details.
func (e *DataverseError) WithDetails(details map[string]any) *DataverseError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithCause attaches the underlying error.
func (e *DataverseError) WithCause(cause error) *DataverseError {
	e.Cause = cause
	return e
}

// Map returns a structured payload suitable for logging or serialization.
func (e *DataverseError) Map() map[string]any {
	m := map[string]any{
		"code":      e.Code,
		"message":   e.Message,
		"transient": e.Transient,
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339),
	}
	if e.Subcode != "" {
		m["subcode"] = e.Subcode
	}
	if e.StatusCode != 0 {
		m["status_code"] = e.StatusCode
	}
	if e.ServiceCode != "" {
		m["service_code"] = e.ServiceCode
	}
	if e.CorrelationID != "" {
		m["correlation_id"] = e.CorrelationID
	}
	if e.RetryAfter > 0 {
		m["retry_after_seconds"] = e.RetryAfter.Seconds()
	}
	if e.BodyExcerpt != "" {
		m["body_excerpt"] = e.BodyExcerpt
	}
	if len(e.Details) > 0 {
		m["details"] = e.Details
	}
	return m
}

// ============================================================================
// Constructors
// ============================================================================

// NewValidationError reports caller-supplied arguments that are structurally
// invalid. Validation errors never reach the network and are never retried.
func NewValidationError(message string) *DataverseError {
	return &DataverseError{
		Code:      ErrCodeValidation,
		Subcode:   SubcodeValidationArgument,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewConflictError reports a value disagreement between caller-supplied
// inputs, e.g. an alternate key and the record payload naming the same field
// with different values.
func NewConflictError(message string) *DataverseError {
	return &DataverseError{
		Code:      ErrCodeValidation,
		Subcode:   SubcodeValidationConflict,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewMetadataError reports a named table/column/relationship/key that does not
// exist, or a metadata operation that failed.
func NewMetadataError(subcode, message string) *DataverseError {
	return &DataverseError{
		Code:      ErrCodeMetadata,
		Subcode:   subcode,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewSQLParseError reports SQL input the restricted translator could not
// handle.
func NewSQLParseError(message string) *DataverseError {
	return &DataverseError{
		Code:      ErrCodeSQLParse,
		Subcode:   SubcodeSQLParseTableNotFound,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHTTPError reports a non-2xx service response. Transience is derived from
// the status code; the transport fills in envelope and correlation context.
// Status 0 marks a network-level failure, which is always transient.
func NewHTTPError(status int, message string) *DataverseError {
	if status == 0 {
		return &DataverseError{
			Code:      ErrCodeHTTP,
			Subcode:   SubcodeHTTPNetwork,
			Message:   message,
			Transient: true,
			Timestamp: time.Now(),
		}
	}
	return &DataverseError{
		Code:       ErrCodeHTTP,
		Subcode:    HTTPSubcode(status),
		Message:    message,
		StatusCode: status,
		Transient:  IsTransientStatus(status),
		Timestamp:  time.Now(),
	}
}

// NewInternalError reports a client-side failure that is neither bad input nor
// a service response, e.g. an unreadable response body.
func NewInternalError(message string, cause error) *DataverseError {
	return &DataverseError{
		Code:      ErrCodeInternal,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// ============================================================================
// Predicates
// ============================================================================

// AsDataverseError unwraps err to a *DataverseError when possible.
func AsDataverseError(err error) (*DataverseError, bool) {
	var de *DataverseError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsValidationError reports whether err is a validation failure.
func IsValidationError(err error) bool {
	de, ok := AsDataverseError(err)
	return ok && de.Code == ErrCodeValidation
}

// IsMetadataError reports whether err is a metadata resolution failure.
func IsMetadataError(err error) bool {
	de, ok := AsDataverseError(err)
	return ok && de.Code == ErrCodeMetadata
}

// IsSQLParseError reports whether err came from the SQL translator.
func IsSQLParseError(err error) bool {
	de, ok := AsDataverseError(err)
	return ok && de.Code == ErrCodeSQLParse
}

// IsHTTPError reports whether err carries a service HTTP status.
func IsHTTPError(err error) bool {
	de, ok := AsDataverseError(err)
	return ok && de.Code == ErrCodeHTTP
}

// IsNotFound reports whether err is an HTTP 404 from the service.
func IsNotFound(err error) bool {
	de, ok := AsDataverseError(err)
	return ok && de.Code == ErrCodeHTTP && de.StatusCode == 404
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	de, ok := AsDataverseError(err)
	return ok && de.Transient
}

// ============================================================================
// BulkError
// ============================================================================

// BulkError aggregates per-item failures from sequential bulk operations with
// success/failure statistics.
type BulkError struct {
	Errors       []*DataverseError `json:"errors"`
	SuccessCount int               `json:"success_count"`
	FailureCount int               `json:"failure_count"`
	TotalCount   int               `json:"total_count"`
}

func (be *BulkError) Error() string {
	if len(be.Errors) == 0 {
		return "no bulk errors"
	}
	if len(be.Errors) == 1 {
		return fmt.Sprintf("bulk operation failed: %s (success: %d/%d)",
			be.Errors[0].Error(), be.SuccessCount, be.TotalCount)
	}
	return fmt.Sprintf("bulk operation failed: %d errors (success: %d/%d, failures: %d/%d)",
		len(be.Errors), be.SuccessCount, be.TotalCount, be.FailureCount, be.TotalCount)
}

// Add records a per-item failure.
func (be *BulkError) Add(err *DataverseError) {
	be.Errors = append(be.Errors, err)
}

// HasErrors reports whether any item failed.
func (be *BulkError) HasErrors() bool {
	return len(be.Errors) > 0
}

// SetStatistics records the outcome counts.
func (be *BulkError) SetStatistics(success, failure, total int) {
	be.SuccessCount = success
	be.FailureCount = failure
	be.TotalCount = total
}

// ToError returns be when any item failed, nil otherwise.
func (be *BulkError) ToError() error {
	if be.HasErrors() {
		return be
	}
	return nil
}

// NewBulkError creates an empty per-item failure collector.
func NewBulkError() *BulkError {
	return &BulkError{Errors: make([]*DataverseError, 0)}
}
