package importing

import (
	"fmt"
	"time"
)

// MaxBatchErrorLogs bounds the row messages kept on the batch itself.
// Terminal messages are always appended past the bound.
const MaxBatchErrorLogs = 100

type ImportBatch struct {
	ID                string
	Filename          string
	Checksum          string
	Status            BatchStatus
	TotalRecords      int
	SuccessfulRecords int
	FailedRecords     int
	CreatedRecords    int
	UpdatedRecords    int
	ErrorLogs         []string
	DryRun            bool
	CreatedBy         string
	CreatedAt         time.Time
	StartedAt         *time.Time
	CompletedAt       *time.Time
}

// CheckCounters validates the counter invariants for the batch's current status.
func (b ImportBatch) CheckCounters() error {
	if b.SuccessfulRecords < 0 || b.FailedRecords < 0 || b.TotalRecords < 0 {
		return fmt.Errorf("negative counters on batch %s", b.ID)
	}
	processed := b.SuccessfulRecords + b.FailedRecords
	if processed > b.TotalRecords {
		return fmt.Errorf("batch %s: successful(%d)+failed(%d) exceeds total(%d)", b.ID, b.SuccessfulRecords, b.FailedRecords, b.TotalRecords)
	}
	if b.Status.IsTerminal() && processed != b.TotalRecords {
		return fmt.Errorf("batch %s: terminal with successful(%d)+failed(%d) != total(%d)", b.ID, b.SuccessfulRecords, b.FailedRecords, b.TotalRecords)
	}
	if b.Status == StatusCompleted && b.SuccessfulRecords == 0 {
		return fmt.Errorf("batch %s: completed without successful records", b.ID)
	}
	return nil
}

// ImportErrorDetail is one recorded row failure. Append-only.
type ImportErrorDetail struct {
	ID           string
	BatchID      string
	RowNumber    int
	RawRowData   string
	ErrorType    ErrorType
	ErrorMessage string
	CreatedAt    time.Time
}

// LogLine renders the detail the way it appears in batch error logs.
func (d ImportErrorDetail) LogLine() string {
	return fmt.Sprintf("row %d: %s: %s", d.RowNumber, d.ErrorType, d.ErrorMessage)
}

// TerminalLogLine renders a batch-level message that has no row.
func TerminalLogLine(errorType ErrorType, message string) string {
	return fmt.Sprintf("%s: %s", errorType, message)
}
