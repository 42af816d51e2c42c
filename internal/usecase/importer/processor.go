package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"caseimport/internal/bootstrap/logging"
	"caseimport/internal/domain/importing"
	"caseimport/internal/errs"
	"caseimport/internal/ports"
	"caseimport/internal/usecase/importer/csvrow"
	"caseimport/internal/usecase/importer/errorlog"
	"caseimport/internal/usecase/importer/mapping"
	"caseimport/internal/usecase/importer/tracker"
	"caseimport/internal/usecase/importer/upsert"
)

// ErrJobSkipped means the delivery carried a job that must not run, for
// example because its batch was already finalized.
var ErrJobSkipped = errors.New("import job skipped")

// Processor drives one job end to end: open, parse, map, upsert, track.
type Processor struct {
	batches ports.BatchRepository
	uow     ports.UnitOfWork
	guard   ports.SubmissionGuard
	owners  ports.BatchOwnership
	source  ports.FileSource
	parser  *csvrow.Parser
	mapper  *mapping.Mapper
	engine  *upsert.Engine
	cfg     Config
	metrics *metrics
	now     func() time.Time
}

func newProcessor(deps Dependencies, engine *upsert.Engine, cfg Config) *Processor {
	return &Processor{
		batches: deps.Batches,
		uow:     deps.UoW,
		guard:   deps.Guard,
		owners:  deps.Owners,
		source:  deps.Source,
		parser:  deps.Parser,
		mapper:  deps.Mapper,
		engine:  engine,
		cfg:     cfg,
		metrics: getMetrics(),
		now:     time.Now,
	}
}

// Process runs job and returns the batch as finalized. It returns
// ErrJobSkipped when the job must not run; other errors mean the batch
// could not be finalized and the delivery should be retried.
func (p *Processor) Process(ctx context.Context, job importing.ImportJob) (importing.ImportBatch, error) {
	if ctx == nil {
		return importing.ImportBatch{}, errors.New("context is required")
	}
	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "importer.processor"),
		slog.String("batch_id", job.BatchID),
	)

	batch, err := p.batches.GetBatch(ctx, job.BatchID)
	if err != nil {
		if errors.Is(err, ports.ErrBatchNotFound) {
			logging.Warn(logCtx, "job references unknown batch")
			return importing.ImportBatch{}, fmt.Errorf("%w: %w", ErrJobSkipped, err)
		}
		return importing.ImportBatch{}, errs.Wrap(err, "load batch")
	}
	if batch.Status.IsTerminal() {
		logging.Info(logCtx, "batch already finalized, skipping job", slog.String("status", batch.Status.String()))
		return batch, fmt.Errorf("%w: batch %s is %s", ErrJobSkipped, batch.ID, batch.Status)
	}

	jobCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if !p.owners.Claim(batch.ID, cancel) {
		logging.Warn(logCtx, "batch already owned by another worker")
		return batch, fmt.Errorf("%w: batch %s is already being processed", ErrJobSkipped, batch.ID)
	}
	defer p.owners.Release(batch.ID)

	if p.cfg.JobTimeout > 0 {
		var cancelTimeout context.CancelFunc
		jobCtx, cancelTimeout = context.WithTimeoutCause(jobCtx, p.cfg.JobTimeout, importing.ErrTimeout)
		defer cancelTimeout()
	}

	started := p.now()
	agg := errorlog.New(batch.ID, p.batches, p.cfg.FlushEvery)
	tr := tracker.New(batch, p.batches, p.uow, agg, p.cfg.RowRetry)

	var final importing.ImportBatch
	if batch.Status == importing.StatusProcessing {
		// Redelivered after a worker lost the batch mid-stream. Rows already
		// applied cannot be told apart from new ones, so close it out.
		logging.Warn(logCtx, "batch was interrupted, closing it")
		final, err = tr.Abort(ctx, importing.AbortCancelled, "processing was interrupted before the batch was finalized")
	} else {
		final, err = p.run(jobCtx, logCtx, job, batch, tr)
	}
	if err != nil {
		if errors.Is(err, importing.ErrBatchTerminal) || errors.Is(err, importing.ErrInvalidTransition) {
			logging.Warn(logCtx, "batch was finalized elsewhere", slog.Any("err", errs.Loggable(err)))
			return tr.Batch(), fmt.Errorf("%w: %w", ErrJobSkipped, err)
		}
		logging.Error(logCtx, "finalize batch failed", slog.Any("err", errs.Loggable(err)))
		return tr.Batch(), err
	}

	if err := p.guard.Release(context.WithoutCancel(ctx), final.Checksum, final.ID); err != nil {
		logging.Warn(logCtx, "release submission guard failed", slog.Any("err", errs.Loggable(err)))
	}
	p.metrics.batchesTotal.WithLabelValues(final.Status.String()).Inc()
	p.metrics.jobDuration.WithLabelValues(final.Status.String()).Observe(p.now().Sub(started).Seconds())
	return final, nil
}

func (p *Processor) run(jobCtx context.Context, logCtx context.Context, job importing.ImportJob, batch importing.ImportBatch, tr *tracker.Tracker) (importing.ImportBatch, error) {
	// Tracker writes must land even after the job context ends.
	writeCtx := context.WithoutCancel(jobCtx)

	stream, closeFile, err := p.openStream(jobCtx, job.FilePath)
	if err != nil {
		if isStop(jobCtx) {
			return p.abort(writeCtx, jobCtx, tr)
		}
		logging.Warn(logCtx, "file is not importable", slog.Any("err", errs.Loggable(err)))
		return tr.FailFile(writeCtx, err)
	}
	defer closeFile()

	// The batch must read PROCESSING before the first row touches a case.
	if err := tr.Start(writeCtx); err != nil {
		return p.persistenceFatal(writeCtx, logCtx, tr, err)
	}

	session := upsert.NewSession(batch.ID, batch.DryRun)
	// consecutivePersist counts back-to-back PERSISTENCE rows; any other row
	// outcome ends the run.
	consecutivePersist := 0

	for {
		if isStop(jobCtx) {
			return p.abort(writeCtx, jobCtx, tr)
		}

		v, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logging.Warn(logCtx, "file became unreadable", slog.Any("err", errs.Loggable(err)))
			return tr.FailFile(writeCtx, err)
		}

		failure := v.Failure
		var projection mapping.Projection
		if failure == nil {
			projection, failure = p.mapper.Map(*v.Row)
		}
		if failure != nil {
			consecutivePersist = 0
			p.metrics.rowsTotal.WithLabelValues(string(failure.Type)).Inc()
			if err := tr.RecordFailure(writeCtx, failure.Detail(batch.ID)); err != nil {
				return p.persistenceFatal(writeCtx, logCtx, tr, err)
			}
			continue
		}

		res, err := p.engine.Apply(jobCtx, session, projection)
		if err != nil {
			if isStop(jobCtx) {
				return p.abort(writeCtx, jobCtx, tr)
			}
			consecutivePersist++
			p.metrics.rowsTotal.WithLabelValues(string(importing.ErrorTypePersistence)).Inc()
			detail := importing.ImportErrorDetail{
				RowNumber:    projection.RowNumber,
				RawRowData:   projection.Raw,
				ErrorType:    importing.ErrorTypePersistence,
				ErrorMessage: err.Error(),
			}
			if recErr := tr.RecordFailure(writeCtx, detail); recErr != nil {
				return p.persistenceFatal(writeCtx, logCtx, tr, recErr)
			}
			if errors.Is(err, ports.ErrStoreUnavailable) || consecutivePersist >= p.cfg.MaxConsecutivePersistenceFailures {
				return p.persistenceFatal(writeCtx, logCtx, tr, err)
			}
			continue
		}

		consecutivePersist = 0
		p.metrics.rowsTotal.WithLabelValues(string(res.Outcome)).Inc()
		if err := tr.RecordSuccess(writeCtx, successKind(res.Outcome)); err != nil {
			return p.persistenceFatal(writeCtx, logCtx, tr, err)
		}
	}

	return tr.Finalize(writeCtx, importing.Outcome{}, "")
}

func (p *Processor) openStream(ctx context.Context, path string) (*csvrow.Stream, func(), error) {
	f, err := p.source.Open(ctx, path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", importing.ErrFileFatal, err)
	}
	closeFile := func() { _ = f.Close() }

	if err := csvrow.CheckEncoding(f); err != nil {
		closeFile()
		return nil, nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		closeFile()
		return nil, nil, fmt.Errorf("%w: rewind file: %w", importing.ErrFileFatal, err)
	}

	stream, err := p.parser.Open(ctx, f)
	if err != nil {
		closeFile()
		return nil, nil, err
	}
	return stream, closeFile, nil
}

func (p *Processor) abort(writeCtx context.Context, jobCtx context.Context, tr *tracker.Tracker) (importing.ImportBatch, error) {
	cause := context.Cause(jobCtx)
	switch {
	case errors.Is(cause, importing.ErrTimeout):
		return tr.Abort(writeCtx, importing.AbortTimeout, fmt.Sprintf("job exceeded its %s time budget", p.cfg.JobTimeout))
	case errors.Is(cause, importing.ErrCancelled):
		return tr.Abort(writeCtx, importing.AbortCancelled, "cancelled by request")
	default:
		return tr.Abort(writeCtx, importing.AbortCancelled, "worker stopped before the end of the file")
	}
}

func (p *Processor) persistenceFatal(writeCtx context.Context, logCtx context.Context, tr *tracker.Tracker, cause error) (importing.ImportBatch, error) {
	if errors.Is(cause, importing.ErrBatchTerminal) || errors.Is(cause, importing.ErrInvalidTransition) {
		return tr.Batch(), cause
	}
	logging.Error(logCtx, "store failure, aborting remaining rows", slog.Any("err", errs.Loggable(cause)))
	return tr.Abort(writeCtx, importing.AbortPersistenceFatal, "store failure: "+cause.Error())
}

func isStop(ctx context.Context) bool {
	return ctx.Err() != nil
}

func successKind(o upsert.Outcome) tracker.SuccessKind {
	switch o {
	case upsert.OutcomeCreated:
		return tracker.Created
	case upsert.OutcomeUpdated:
		return tracker.Updated
	default:
		return tracker.Simulated
	}
}
