package ingest

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeExecution  ErrorType = "execution"
	ErrorTypeStorage    ErrorType = "storage"
	ErrorTypeFetch      ErrorType = "fetch"
	ErrorTypeTransform  ErrorType = "transform"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeInternal   ErrorType = "internal"
)

// ErrNoMatchingColumns is the cause carried by a save that shares no columns with its table.
var ErrNoMatchingColumns = errors.New("no matching columns")

// IngestError is the structured error returned by every ingestion component.
type IngestError struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Table   string         `json:"table,omitempty"`
	Field   string         `json:"field,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

func (e *IngestError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = msg + ": " + e.Cause.Error()
	}
	switch {
	case e.Table != "" && e.Field != "":
		return fmt.Sprintf("[%s:%s] table %s field '%s': %s", e.Type, e.Code, e.Table, e.Field, msg)
	case e.Table != "":
		return fmt.Sprintf("[%s:%s] table %s: %s", e.Type, e.Code, e.Table, msg)
	case e.Field != "":
		return fmt.Sprintf("[%s:%s] field '%s': %s", e.Type, e.Code, e.Field, msg)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, msg)
}

func (e *IngestError) Unwrap() error {
	return e.Cause
}

// WithDetails merges details into the error
func (e *IngestError) WithDetails(details map[string]any) *IngestError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail adds a single detail to the error
func (e *IngestError) WithDetail(key string, value any) *IngestError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *IngestError) WithCause(cause error) *IngestError {
	e.Cause = cause
	return e
}

// WithTable adds table context
func (e *IngestError) WithTable(table string) *IngestError {
	e.Table = table
	return e
}

// WithField adds field context
func (e *IngestError) WithField(field string) *IngestError {
	e.Field = field
	return e
}

// Error codes
const (
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeInvalidTableName   = "INVALID_TABLE_NAME"
	ErrCodeInvalidDefinition  = "INVALID_DEFINITION"
	ErrCodeTableNotFound      = "TABLE_NOT_FOUND"
	ErrCodeUnknownField       = "UNKNOWN_FIELD"
	ErrCodeInvalidFilter      = "INVALID_FILTER"
	ErrCodeInvalidTimeRange   = "INVALID_TIME_RANGE"
	ErrCodeMissingID          = "MISSING_ID"
	ErrCodeNoMatchingColumns  = "NO_MATCHING_COLUMNS"
	ErrCodeConversionFailed   = "CONVERSION_FAILED"
	ErrCodeQueryExecution     = "QUERY_EXECUTION_ERROR"
	ErrCodeChunkFailed        = "CHUNK_FAILED"
	ErrCodeConnectionFailed   = "CONNECTION_FAILED"
	ErrCodeSessionClosed      = "SESSION_CLOSED"
	ErrCodeRegistrationFailed = "REGISTRATION_FAILED"
	ErrCodeUnsupportedDialect = "UNSUPPORTED_DIALECT"
	ErrCodeFetchFailed        = "FETCH_FAILED"
	ErrCodeDecodeFailed       = "DECODE_FAILED"
	ErrCodeTypeMismatch       = "TYPE_MISMATCH"
	ErrCodeTransformFailed    = "TRANSFORM_FAILED"
	ErrCodeArchiveFailed      = "ARCHIVE_FAILED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

// NewIngestError creates a new IngestError
func NewIngestError(errorType ErrorType, code, message string) *IngestError {
	return &IngestError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Details: make(map[string]any),
	}
}

// NewValidationError creates a validation error
func NewValidationError(field, message string) *IngestError {
	return &IngestError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeValidationFailed,
		Message: message,
		Field:   field,
		Details: make(map[string]any),
	}
}

// NewInvalidTableNameError reports a table identifier that breaks the <provider>_<name> convention.
func NewInvalidTableNameError(table string) *IngestError {
	return &IngestError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeInvalidTableName,
		Message: "table name must look like <provider>_<category>_<name>",
		Table:   table,
		Details: make(map[string]any),
	}
}

// NewInvalidDefinitionError creates a table definition error
func NewInvalidDefinitionError(table, message string) *IngestError {
	return &IngestError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeInvalidDefinition,
		Message: message,
		Table:   table,
		Details: make(map[string]any),
	}
}

// NewTableNotFoundError reports a table that was never registered
func NewTableNotFoundError(table string) *IngestError {
	return &IngestError{
		Type:    ErrorTypeNotFound,
		Code:    ErrCodeTableNotFound,
		Message: "table is not registered",
		Table:   table,
		Details: make(map[string]any),
	}
}

// NewUnknownFieldError reports a field the table does not declare
func NewUnknownFieldError(table, field string) *IngestError {
	return &IngestError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeUnknownField,
		Message: "unknown field",
		Table:   table,
		Field:   field,
		Details: make(map[string]any),
	}
}

// NewInvalidFilterError creates a filter error
func NewInvalidFilterError(field, message string) *IngestError {
	return &IngestError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeInvalidFilter,
		Message: message,
		Field:   field,
		Details: make(map[string]any),
	}
}

// NewInvalidTimeRangeError creates a time range error
func NewInvalidTimeRangeError(message string) *IngestError {
	return &IngestError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeInvalidTimeRange,
		Message: message,
		Details: make(map[string]any),
	}
}

// NewNoMatchingColumnsError reports a batch sharing no usable columns with its table
func NewNoMatchingColumnsError(table string) *IngestError {
	return &IngestError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeNoMatchingColumns,
		Message: "batch fields do not match table columns",
		Table:   table,
		Cause:   ErrNoMatchingColumns,
		Details: make(map[string]any),
	}
}

// NewConversionError reports a value that cannot be converted to its column type
func NewConversionError(field string, value any, cause error) *IngestError {
	return &IngestError{
		Type:    ErrorTypeValidation,
		Code:    ErrCodeConversionFailed,
		Message: fmt.Sprintf("cannot convert %T value", value),
		Field:   field,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// NewQueryExecutionError creates a query execution error
func NewQueryExecutionError(message string, cause error) *IngestError {
	return &IngestError{
		Type:    ErrorTypeExecution,
		Code:    ErrCodeQueryExecution,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// NewStorageError creates a storage error
func NewStorageError(code, message string, cause error) *IngestError {
	return &IngestError{
		Type:    ErrorTypeStorage,
		Code:    code,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// NewConnectionError creates a connection error
func NewConnectionError(message string, cause error) *IngestError {
	return NewStorageError(ErrCodeConnectionFailed, message, cause)
}

// NewUnsupportedDialectError creates an unsupported dialect error
func NewUnsupportedDialectError(dialect string) *IngestError {
	return &IngestError{
		Type:    ErrorTypeConfig,
		Code:    ErrCodeUnsupportedDialect,
		Message: "unsupported storage dialect: " + dialect,
		Details: make(map[string]any),
	}
}

// NewDecodeError creates a response decoding error
func NewDecodeError(format string, cause error) *IngestError {
	return &IngestError{
		Type:    ErrorTypeFetch,
		Code:    ErrCodeDecodeFailed,
		Message: "failed to decode " + format + " response",
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// NewTypeMismatchError reports a transformer receiving a value it cannot handle
func NewTypeMismatchError(stage string, value any) *IngestError {
	return &IngestError{
		Type:    ErrorTypeTransform,
		Code:    ErrCodeTypeMismatch,
		Message: fmt.Sprintf("%s cannot handle %T", stage, value),
		Details: make(map[string]any),
	}
}

// NewTransformError wraps a failure raised by a transformer stage
func NewTransformError(stage string, cause error) *IngestError {
	return &IngestError{
		Type:    ErrorTypeTransform,
		Code:    ErrCodeTransformFailed,
		Message: stage + " failed",
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// NewInternalError creates an internal error
func NewInternalError(message string, cause error) *IngestError {
	return &IngestError{
		Type:    ErrorTypeInternal,
		Code:    ErrCodeInternalError,
		Message: message,
		Cause:   cause,
		Details: make(map[string]any),
	}
}

// IsValidationError reports whether err carries a validation IngestError
func IsValidationError(err error) bool {
	return hasType(err, ErrorTypeValidation)
}

// IsNotFoundError reports whether err carries a not-found IngestError
func IsNotFoundError(err error) bool {
	return hasType(err, ErrorTypeNotFound)
}

// IsStorageError reports whether err carries a storage IngestError
func IsStorageError(err error) bool {
	return hasType(err, ErrorTypeStorage)
}

// ErrorCode returns the code of the first IngestError in err's chain, or "".
func ErrorCode(err error) string {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Code
	}
	return ""
}

func hasType(err error, t ErrorType) bool {
	var ie *IngestError
	if errors.As(err, &ie) {
		return ie.Type == t
	}
	return false
}
