package importer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"caseimport/internal/bootstrap/logging"
	"caseimport/internal/domain/importing"
	"caseimport/internal/errs"
	"caseimport/internal/ports"
)

// Submission is the job descriptor accepted from callers. Only FilePath is
// required; the rest is derived from the file or defaulted.
type Submission struct {
	FilePath string `json:"filePath" jsonschema:"required,minLength=1,description=Path of the CSV file to import"`
	Filename string `json:"filename,omitempty" jsonschema:"description=Display name; defaults to the base name of filePath"`
	FileSize *int64 `json:"fileSize,omitempty" jsonschema:"minimum=0"`
	Checksum string `json:"checksum,omitempty" jsonschema:"description=Content fingerprint; defaults to the SHA-256 of the file"`
	UserID   string `json:"userId,omitempty" jsonschema:"description=Submitting user; the system identity is used when empty"`
	BatchID  string `json:"batchId,omitempty" jsonschema:"description=Batch identifier; generated when empty"`

	// DryRun defaults to true. false only takes effect when live writes are enabled.
	DryRun *bool `json:"dryRun,omitempty" jsonschema:"default=true"`
}

type SubmitResult struct {
	BatchID  string                `json:"batchId"`
	Status   importing.BatchStatus `json:"status"`
	Checksum string                `json:"checksum"`
	DryRun   bool                  `json:"dryRun"`
}

func newBatchID() string {
	return uuid.NewString()
}

// Submit accepts a job: it takes the checksum guard, creates the PENDING
// batch and publishes the job. A checksum already held by a live batch is
// rejected with importing.ErrDuplicateSubmission and no batch is created.
func (s *Service) Submit(ctx context.Context, sub Submission) (SubmitResult, error) {
	if ctx == nil {
		return SubmitResult{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return SubmitResult{}, errs.Wrap(err, "check context")
	}

	job, err := s.buildJob(ctx, sub)
	if err != nil {
		s.metrics.submitTotal.WithLabelValues("invalid").Inc()
		return SubmitResult{}, err
	}

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "importer.submit"),
		slog.String("batch_id", job.BatchID),
		slog.String("filename", job.Filename),
		slog.Bool("dry_run", job.DryRun),
	)

	if err := s.guard.Acquire(ctx, job.Checksum, job.BatchID); err != nil {
		if errors.Is(err, importing.ErrDuplicateSubmission) {
			s.metrics.submitTotal.WithLabelValues("duplicate").Inc()
			logging.Warn(logCtx, "duplicate submission rejected", slog.String("checksum", job.Checksum))
			return SubmitResult{}, err
		}
		s.metrics.submitTotal.WithLabelValues("error").Inc()
		return SubmitResult{}, errs.Wrap(err, "acquire submission guard")
	}

	batch := importing.ImportBatch{
		ID:        job.BatchID,
		Filename:  job.Filename,
		Checksum:  job.Checksum,
		Status:    importing.StatusPending,
		DryRun:    job.DryRun,
		CreatedBy: job.UserID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.batches.CreateBatch(ctx, batch); err != nil {
		s.releaseGuard(logCtx, job)
		s.metrics.submitTotal.WithLabelValues("error").Inc()
		if errors.Is(err, ports.ErrConstraintViolation) {
			return SubmitResult{}, fmt.Errorf("%w: batch %s already exists", importing.ErrInvalidSubmission, job.BatchID)
		}
		return SubmitResult{}, errs.Wrap(err, "create import batch")
	}

	if err := s.queue.Publish(ctx, job); err != nil {
		s.failUnpublished(logCtx, job, err)
		s.metrics.submitTotal.WithLabelValues("error").Inc()
		return SubmitResult{}, errs.Wrap(err, "publish import job")
	}

	s.metrics.submitTotal.WithLabelValues("accepted").Inc()
	logging.Info(logCtx, "import job accepted")
	return SubmitResult{BatchID: job.BatchID, Status: importing.StatusPending, Checksum: job.Checksum, DryRun: job.DryRun}, nil
}

func (s *Service) buildJob(ctx context.Context, sub Submission) (importing.ImportJob, error) {
	sub.FilePath = strings.TrimSpace(sub.FilePath)
	if sub.FilePath == "" {
		return importing.ImportJob{}, fmt.Errorf("%w: filePath is required", importing.ErrInvalidSubmission)
	}
	if sub.FileSize != nil && *sub.FileSize < 0 {
		return importing.ImportJob{}, fmt.Errorf("%w: fileSize must be >= 0", importing.ErrInvalidSubmission)
	}

	job := importing.ImportJob{
		FilePath: sub.FilePath,
		Filename: strings.TrimSpace(sub.Filename),
		Checksum: strings.TrimSpace(sub.Checksum),
		BatchID:  strings.TrimSpace(sub.BatchID),
		DryRun:   s.effectiveDryRun(ctx, sub.DryRun),
	}
	if sub.FileSize != nil {
		job.FileSize = *sub.FileSize
	}

	if job.Checksum == "" || job.Filename == "" || sub.FileSize == nil {
		info, err := s.source.Stat(ctx, sub.FilePath)
		if err != nil {
			return importing.ImportJob{}, fmt.Errorf("%w: %w", importing.ErrInvalidSubmission, err)
		}
		job.FilePath = info.Path
		if job.Checksum == "" {
			job.Checksum = info.Checksum
		}
		if job.Filename == "" {
			job.Filename = info.Name
		}
		if sub.FileSize == nil {
			job.FileSize = info.Size
		}
	}
	if job.BatchID == "" {
		job.BatchID = s.newID()
	}

	user, err := s.resolveUser(ctx, strings.TrimSpace(sub.UserID))
	if err != nil {
		return importing.ImportJob{}, err
	}
	job.UserID = user.ID

	if err := job.Validate(); err != nil {
		return importing.ImportJob{}, err
	}
	return job, nil
}

func (s *Service) effectiveDryRun(ctx context.Context, requested *bool) bool {
	if requested == nil || *requested {
		return true
	}
	if !s.cfg.LiveWrites {
		logging.Warn(logging.WithAttrs(ctx, slog.String("component", "importer.submit")),
			"live writes are disabled, running as dry run")
		return true
	}
	return false
}

func (s *Service) resolveUser(ctx context.Context, userID string) (importing.User, error) {
	if userID == "" {
		user, err := s.users.FindOrCreateSystemUser(ctx)
		if err != nil {
			return importing.User{}, errs.Wrap(err, "resolve system user")
		}
		return user, nil
	}
	user, err := s.users.FindUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ports.ErrUserNotFound) {
			return importing.User{}, fmt.Errorf("%w: unknown user %s", importing.ErrInvalidSubmission, userID)
		}
		return importing.User{}, errs.Wrap(err, "resolve user")
	}
	return user, nil
}

// failUnpublished closes a batch whose job never reached the queue.
func (s *Service) failUnpublished(ctx context.Context, job importing.ImportJob, cause error) {
	writeCtx := context.WithoutCancel(ctx)
	update := ports.BatchUpdate{
		ExpectStatus: importing.StatusPending,
		Status:       importing.StatusFailed,
		ErrorLogs:    []string{importing.TerminalLogLine(importing.ErrorTypePersistenceFatal, "job could not be queued: "+cause.Error())},
		CompletedAt:  s.now().UTC().Format(timeLayout),
	}
	if err := s.batches.UpdateBatch(writeCtx, job.BatchID, update); err != nil {
		logging.Error(ctx, "mark unpublished batch failed", slog.Any("err", errs.Loggable(err)))
	}
	s.releaseGuard(ctx, job)
}

func (s *Service) releaseGuard(ctx context.Context, job importing.ImportJob) {
	if err := s.guard.Release(context.WithoutCancel(ctx), job.Checksum, job.BatchID); err != nil {
		logging.Warn(ctx, "release submission guard failed", slog.Any("err", errs.Loggable(err)))
	}
}
