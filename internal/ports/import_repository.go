package ports

import (
	"context"
	"errors"

	"caseimport/internal/domain/importing"
)

var (
	ErrCaseNotFound  = errors.New("case not found")
	ErrBatchNotFound = errors.New("import batch not found")
	ErrUserNotFound  = errors.New("user not found")

	// ErrConstraintViolation wraps unique or check constraint failures.
	ErrConstraintViolation = errors.New("storage constraint violation")
	// ErrStoreUnavailable wraps errors that mean the store cannot be reached at all.
	ErrStoreUnavailable = errors.New("storage unavailable")
)

type CaseRepository interface {
	// FindCaseByNaturalKey returns ErrCaseNotFound when no row matches and
	// importing.ErrAmbiguousCase when more than one does.
	FindCaseByNaturalKey(ctx context.Context, key importing.NaturalKey) (importing.CaseRecord, error)
	CreateCase(ctx context.Context, record importing.CaseRecord) (importing.CaseRecord, error)
	UpdateCase(ctx context.Context, record importing.CaseRecord) error
	// AppendActivity reports inserted=false when the activity ref already exists on the case.
	AppendActivity(ctx context.Context, activity importing.CaseActivity) (inserted bool, err error)
}

// BatchUpdate carries the mutable fields of a batch. When ExpectStatus is
// set the write only applies while the stored status still equals it.
type BatchUpdate struct {
	ExpectStatus      importing.BatchStatus
	Status            importing.BatchStatus
	TotalRecords      int
	SuccessfulRecords int
	FailedRecords     int
	CreatedRecords    int
	UpdatedRecords    int
	ErrorLogs         []string
	StartedAt         string
	CompletedAt       string
}

type BatchRepository interface {
	CreateBatch(ctx context.Context, batch importing.ImportBatch) error
	GetBatch(ctx context.Context, batchID string) (importing.ImportBatch, error)
	// UpdateBatch only touches non-terminal rows and returns
	// importing.ErrBatchTerminal otherwise, or importing.ErrInvalidTransition
	// when ExpectStatus no longer matches.
	UpdateBatch(ctx context.Context, batchID string, update BatchUpdate) error
	AppendErrorDetails(ctx context.Context, details []importing.ImportErrorDetail) error
	ListErrorDetails(ctx context.Context, batchID string, page int, pageSize int) ([]importing.ImportErrorDetail, int64, error)
	CountErrorDetails(ctx context.Context, batchID string) (int64, error)
	RepairCompletedWithoutSuccess(ctx context.Context, note string, repairedAt string) ([]string, error)
}

type UserRepository interface {
	FindUser(ctx context.Context, userID string) (importing.User, error)
	FindOrCreateSystemUser(ctx context.Context) (importing.User, error)
}
