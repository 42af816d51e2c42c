package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"caseimport/internal/bootstrap/logging"
	"caseimport/internal/domain/importing"
	"caseimport/internal/errs"
	"caseimport/internal/ports"
)

type CancelResult struct {
	BatchID string                `json:"batchId"`
	Status  importing.BatchStatus `json:"status"`

	// Signalled is set when a running worker was asked to stop; the batch
	// turns FAILED once it reaches the next row boundary.
	Signalled bool `json:"signalled"`

	// Dequeued is set when the job was removed before any worker saw it.
	Dequeued bool `json:"dequeued"`
}

// Cancel stops a batch. A PENDING batch is dropped from the queue and
// finalized FAILED here. A PROCESSING batch owned by this process is
// signalled; one owned elsewhere yields importing.ErrBatchNotOwned.
func (s *Service) Cancel(ctx context.Context, batchID string) (CancelResult, error) {
	if ctx == nil {
		return CancelResult{}, errors.New("context is required")
	}
	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "importer.cancel"),
		slog.String("batch_id", batchID),
	)

	batch, err := s.batches.GetBatch(ctx, batchID)
	if err != nil {
		return CancelResult{}, err
	}
	if batch.Status.IsTerminal() {
		return CancelResult{BatchID: batchID, Status: batch.Status}, fmt.Errorf("cancel batch %s: %w", batchID, importing.ErrBatchTerminal)
	}

	if s.owners.Signal(batchID, importing.ErrCancelled) {
		logging.Info(logCtx, "cancel signalled to running worker")
		return CancelResult{BatchID: batchID, Status: batch.Status, Signalled: true}, nil
	}
	if batch.Status != importing.StatusPending {
		return CancelResult{BatchID: batchID, Status: batch.Status}, fmt.Errorf("cancel batch %s: %w", batchID, importing.ErrBatchNotOwned)
	}

	removed, err := s.queue.Remove(ctx, batchID)
	if err != nil {
		logging.Warn(logCtx, "remove job from queue failed", slog.Any("err", errs.Loggable(err)))
	}

	update := ports.BatchUpdate{
		ExpectStatus: importing.StatusPending,
		Status:       importing.StatusFailed,
		ErrorLogs:    append(batch.ErrorLogs, importing.TerminalLogLine(importing.ErrorTypeCancelled, "cancelled before processing started")),
		CompletedAt:  s.now().UTC().Format(timeLayout),
	}
	if err := s.batches.UpdateBatch(ctx, batchID, update); err != nil {
		if errors.Is(err, importing.ErrInvalidTransition) && s.owners.Signal(batchID, importing.ErrCancelled) {
			// A worker claimed the batch between the read and the write.
			return CancelResult{BatchID: batchID, Status: importing.StatusProcessing, Signalled: true}, nil
		}
		if errors.Is(err, importing.ErrInvalidTransition) {
			return CancelResult{BatchID: batchID, Status: importing.StatusProcessing}, fmt.Errorf("cancel batch %s: %w", batchID, importing.ErrBatchNotOwned)
		}
		return CancelResult{}, errs.Wrap(err, "mark batch cancelled")
	}

	s.releaseGuard(logCtx, importing.ImportJob{BatchID: batchID, Checksum: batch.Checksum})
	s.metrics.batchesTotal.WithLabelValues(string(importing.StatusFailed)).Inc()
	logging.Info(logCtx, "pending batch cancelled", slog.Bool("dequeued", removed))
	return CancelResult{BatchID: batchID, Status: importing.StatusFailed, Dequeued: removed}, nil
}
