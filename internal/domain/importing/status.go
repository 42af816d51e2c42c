package importing

import (
	"fmt"
	"strings"
)

type BatchStatus string

const (
	StatusPending            BatchStatus = "PENDING"
	StatusProcessing         BatchStatus = "PROCESSING"
	StatusCompleted          BatchStatus = "COMPLETED"
	StatusFailed             BatchStatus = "FAILED"
	StatusPartiallyCompleted BatchStatus = "PARTIALLY_COMPLETED"
)

func ParseBatchStatus(raw string) (BatchStatus, error) {
	status := BatchStatus(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusPartiallyCompleted:
		return status, nil
	default:
		return "", fmt.Errorf("unknown batch status %q", raw)
	}
}

func (s BatchStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusPartiallyCompleted:
		return true
	default:
		return false
	}
}

// CanTransitionTo reports whether the batch lifecycle permits s -> next.
// Terminal states have no outgoing edges.
func (s BatchStatus) CanTransitionTo(next BatchStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed || next == StatusPartiallyCompleted
	default:
		return false
	}
}

func (s BatchStatus) String() string {
	return string(s)
}

// AbortReason names why a job stopped before the end of its stream.
type AbortReason string

const (
	AbortNone             AbortReason = ""
	AbortCancelled        AbortReason = "cancelled"
	AbortTimeout          AbortReason = "timeout"
	AbortPersistenceFatal AbortReason = "persistence_fatal"
)

func (r AbortReason) ErrorType() ErrorType {
	switch r {
	case AbortCancelled:
		return ErrorTypeCancelled
	case AbortTimeout:
		return ErrorTypeTimeout
	case AbortPersistenceFatal:
		return ErrorTypePersistenceFatal
	default:
		return ""
	}
}

// Outcome summarizes how a job ended, as input to DecideFinalStatus.
type Outcome struct {
	FileFatal  bool
	Abort      AbortReason
	Successful int
	Failed     int
}

// DecideFinalStatus maps a finished job to its terminal status.
// COMPLETED requires at least one successful row.
func DecideFinalStatus(o Outcome) BatchStatus {
	switch {
	case o.FileFatal:
		return StatusFailed
	case o.Successful == 0:
		return StatusFailed
	case o.Abort == AbortCancelled || o.Abort == AbortTimeout:
		return StatusFailed
	case o.Abort == AbortPersistenceFatal:
		return StatusPartiallyCompleted
	case o.Failed > 0:
		return StatusPartiallyCompleted
	default:
		return StatusCompleted
	}
}
