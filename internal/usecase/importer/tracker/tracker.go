package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"caseimport/internal/bootstrap/logging"
	"caseimport/internal/domain/importing"
	"caseimport/internal/errs"
	"caseimport/internal/ports"
	"caseimport/internal/usecase/importer/errorlog"
	"caseimport/internal/usecase/importer/retry"
)

// SuccessKind breaks successful rows down for the batch counters.
type SuccessKind int

const (
	Created SuccessKind = iota
	Updated
	Simulated
)

// Tracker owns one batch while a worker processes it. Every counter change
// is persisted before the call returns, so readers see non-decreasing
// counters. It is not safe for concurrent use.
type Tracker struct {
	batches ports.BatchRepository
	uow     ports.UnitOfWork
	errors  *errorlog.Aggregator
	policy  retry.Policy
	now     func() time.Time

	batch   importing.ImportBatch
	rowLogs int

	// baseFailed counts failures recorded before this tracker took over.
	baseFailed int
}

func New(batch importing.ImportBatch, batches ports.BatchRepository, uow ports.UnitOfWork, agg *errorlog.Aggregator, policy retry.Policy) *Tracker {
	return &Tracker{
		batches: batches,
		uow:     uow,
		errors:  agg,
		policy:  policy,
		now:     time.Now,
		batch:   batch,
		rowLogs: len(batch.ErrorLogs),

		baseFailed: batch.FailedRecords,
	}
}

// Batch returns a copy of the tracked state.
func (t *Tracker) Batch() importing.ImportBatch {
	out := t.batch
	out.ErrorLogs = append([]string(nil), t.batch.ErrorLogs...)
	return out
}

// Start moves a PENDING batch to PROCESSING. It is a no-op once processing.
func (t *Tracker) Start(ctx context.Context) error {
	switch t.batch.Status {
	case importing.StatusProcessing:
		return nil
	case importing.StatusPending:
	default:
		return fmt.Errorf("start batch %s in %s: %w", t.batch.ID, t.batch.Status, importing.ErrBatchTerminal)
	}

	startedAt := t.now().UTC()
	next := t.batch
	next.Status = importing.StatusProcessing
	next.StartedAt = &startedAt
	if err := t.persist(ctx, importing.StatusPending, next, false); err != nil {
		return err
	}
	t.batch = next
	return nil
}

// RecordSuccess counts one committed or simulated row.
func (t *Tracker) RecordSuccess(ctx context.Context, kind SuccessKind) error {
	if err := t.Start(ctx); err != nil {
		return err
	}
	t.batch.TotalRecords++
	t.batch.SuccessfulRecords++
	switch kind {
	case Created:
		t.batch.CreatedRecords++
	case Updated:
		t.batch.UpdatedRecords++
	}
	return t.persist(ctx, importing.StatusProcessing, t.batch, false)
}

// RecordFailure counts one failed row and routes its detail to the aggregator.
// The detail and the counters are written in one transaction.
//
// Both Record methods advance the in-memory counters even when the write
// fails; Finalize writes them again.
func (t *Tracker) RecordFailure(ctx context.Context, detail importing.ImportErrorDetail) error {
	if err := t.Start(ctx); err != nil {
		return err
	}
	recorded := t.errors.Record(detail)

	t.batch.TotalRecords++
	t.batch.FailedRecords++
	if t.rowLogs < importing.MaxBatchErrorLogs {
		t.batch.ErrorLogs = append(t.batch.ErrorLogs, recorded.LogLine())
		t.rowLogs++
	}
	return t.persist(ctx, importing.StatusProcessing, t.batch, t.errors.Due())
}

// FailFile finalizes a batch whose file could not be read or parsed.
func (t *Tracker) FailFile(ctx context.Context, cause error) (importing.ImportBatch, error) {
	return t.Finalize(ctx, importing.Outcome{FileFatal: true}, importing.TerminalLogLine(importing.ErrorTypeFileFatal, cause.Error()))
}

// Abort finalizes a batch whose row loop stopped early.
func (t *Tracker) Abort(ctx context.Context, reason importing.AbortReason, message string) (importing.ImportBatch, error) {
	return t.Finalize(ctx, importing.Outcome{Abort: reason}, importing.TerminalLogLine(reason.ErrorType(), message))
}

// Finalize writes the terminal status. Counters in outcome are ignored and
// taken from the tracked batch. terminalLog, when set, is appended to the
// error logs regardless of the row message bound.
func (t *Tracker) Finalize(ctx context.Context, outcome importing.Outcome, terminalLog string) (importing.ImportBatch, error) {
	if ctx == nil {
		return importing.ImportBatch{}, errors.New("context is required")
	}
	ctx = context.WithoutCancel(ctx)
	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "importer.tracker"),
		slog.String("batch_id", t.batch.ID),
	)

	next := t.Batch()
	if outcome.FileFatal && next.TotalRecords > 0 {
		// Rows were already committed when the file broke; keep their
		// counts and end the batch like a store abort.
		outcome.FileFatal = false
		outcome.Abort = importing.AbortPersistenceFatal
	}
	outcome.Successful = next.SuccessfulRecords
	outcome.Failed = next.FailedRecords
	next.Status = importing.DecideFinalStatus(outcome)
	if terminalLog != "" {
		next.ErrorLogs = append(next.ErrorLogs, terminalLog)
	}

	if err := t.flushErrors(ctx); err != nil {
		logging.Error(logCtx, "flush error details failed", slog.Any("err", errs.Loggable(err)))
	}
	if msg, ok := t.checkDetailCount(ctx); !ok {
		logging.Error(logCtx, "error detail count mismatch", slog.String("detail", msg))
		next.Status = importing.StatusFailed
		next.ErrorLogs = append(next.ErrorLogs, importing.TerminalLogLine(importing.ErrorTypeInvariant, msg))
	}

	completedAt := t.now().UTC()
	next.CompletedAt = &completedAt
	if err := t.persist(ctx, t.batch.Status, next, false); err != nil {
		return t.Batch(), errs.Wrap(err, "finalize batch")
	}
	t.batch = next

	logging.Info(logCtx, "batch finalized",
		slog.String("status", next.Status.String()),
		slog.Int("total", next.TotalRecords),
		slog.Int("successful", next.SuccessfulRecords),
		slog.Int("failed", next.FailedRecords),
	)
	return t.Batch(), nil
}

func (t *Tracker) flushErrors(ctx context.Context) error {
	_, err := retry.Do(ctx, t.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.errors.Flush(ctx)
	}, nil)
	return err
}

func (t *Tracker) checkDetailCount(ctx context.Context) (string, bool) {
	failed := t.batch.FailedRecords
	if t.errors.Count() != failed-t.baseFailed {
		return fmt.Sprintf("aggregated %d error details for %d failed rows", t.errors.Count(), failed-t.baseFailed), false
	}
	stored, err := t.batches.CountErrorDetails(ctx, t.batch.ID)
	if err != nil {
		return fmt.Sprintf("count stored error details: %v", err), false
	}
	if int(stored) != failed {
		return fmt.Sprintf("stored %d error details for %d failed rows", stored, failed), false
	}
	return "", true
}

// persist writes next, plus pending error details when withDetails is set,
// retrying transient failures. The write only applies while the stored
// status is still expect.
func (t *Tracker) persist(ctx context.Context, expect importing.BatchStatus, next importing.ImportBatch, withDetails bool) error {
	update := ports.BatchUpdate{
		ExpectStatus:      expect,
		Status:            next.Status,
		TotalRecords:      next.TotalRecords,
		SuccessfulRecords: next.SuccessfulRecords,
		FailedRecords:     next.FailedRecords,
		CreatedRecords:    next.CreatedRecords,
		UpdatedRecords:    next.UpdatedRecords,
		ErrorLogs:         next.ErrorLogs,
	}
	if next.StartedAt != nil {
		update.StartedAt = next.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if next.CompletedAt != nil {
		update.CompletedAt = next.CompletedAt.UTC().Format(time.RFC3339Nano)
	}

	op := func(ctx context.Context) (int, error) {
		var pending []importing.ImportErrorDetail
		if withDetails {
			pending = t.errors.Pending()
		}
		err := t.uow.WithTx(ctx, func(txCtx context.Context) error {
			if len(pending) > 0 {
				if err := t.batches.AppendErrorDetails(txCtx, pending); err != nil {
					return err
				}
			}
			return t.batches.UpdateBatch(txCtx, next.ID, update)
		})
		if err != nil {
			if isConflict(err) || ctx.Err() != nil {
				return 0, retry.Permanent(err)
			}
			return 0, err
		}
		return len(pending), nil
	}

	flushed, err := retry.Do(ctx, t.policy, op, nil)
	if err != nil {
		return errs.Wrapf(err, "persist batch %s", next.ID)
	}
	t.errors.MarkFlushed(flushed)
	return nil
}

// isConflict reports errors that mean another writer already moved the batch.
func isConflict(err error) bool {
	return errors.Is(err, importing.ErrBatchTerminal) ||
		errors.Is(err, importing.ErrInvalidTransition) ||
		errors.Is(err, ports.ErrBatchNotFound)
}
