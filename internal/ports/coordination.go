package ports

import "context"

// SubmissionGuard is an atomic check-and-set on the file checksum.
type SubmissionGuard interface {
	// Acquire returns importing.ErrDuplicateSubmission when another live
	// batch holds the checksum.
	Acquire(ctx context.Context, checksum string, batchID string) error
	// Release is a no-op unless batchID is the current holder.
	Release(ctx context.Context, checksum string, batchID string) error
}

// KeyLocker serializes work on one key inside the process.
type KeyLocker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// BatchOwnership records which in-process worker owns a batch and lets
// other callers signal it to stop.
type BatchOwnership interface {
	// Claim returns false when the batch is already owned.
	Claim(batchID string, cancel context.CancelCauseFunc) bool
	Release(batchID string)
	// Signal cancels the owner with cause and reports whether one was found.
	Signal(batchID string, cause error) bool
	Active() int
}
