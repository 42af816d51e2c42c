package importing

import (
	"errors"
	"fmt"
)

var (
	ErrFileFatal           = errors.New("import file cannot be processed")
	ErrMalformedEncoding   = errors.New("malformed file encoding")
	ErrMissingHeader       = errors.New("missing required header column")
	ErrInvalidSubmission   = errors.New("invalid import submission")
	ErrDuplicateSubmission = errors.New("duplicate import submission")
	ErrInvalidTransition   = errors.New("invalid batch status transition")
	ErrBatchTerminal       = errors.New("batch is already terminal")
	ErrBatchNotOwned       = errors.New("batch is processed by another worker")
	ErrAmbiguousCase       = errors.New("natural key resolves to more than one case")
	ErrCancelled           = errors.New("import cancelled")
	ErrTimeout             = errors.New("import exceeded job timeout")
)

// ErrorType classifies a recorded failure. Row-level and batch-level
// failures share one taxonomy.
type ErrorType string

const (
	ErrorTypeFileFatal           ErrorType = "FILE_FATAL"
	ErrorTypeValidation          ErrorType = "VALIDATION"
	ErrorTypeMapping             ErrorType = "MAPPING"
	ErrorTypePersistence         ErrorType = "PERSISTENCE"
	ErrorTypePersistenceFatal    ErrorType = "PERSISTENCE_FATAL"
	ErrorTypeDuplicateSubmission ErrorType = "DUPLICATE_SUBMISSION"
	ErrorTypeTimeout             ErrorType = "TIMEOUT"
	ErrorTypeCancelled           ErrorType = "CANCELLED"
	ErrorTypeInvariant           ErrorType = "INVARIANT"
)

// RowError is a per-row defect. It never aborts the batch.
type RowError struct {
	Type   ErrorType
	Reason string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Reason)
}

func NewRowError(errorType ErrorType, format string, args ...any) *RowError {
	return &RowError{Type: errorType, Reason: fmt.Sprintf(format, args...)}
}
