package upsert

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
	"caseimport/internal/usecase/importer/mapping"
	"caseimport/internal/usecase/importer/retry"
)

type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeSimulated Outcome = "dry_run_simulated"
)

type Result struct {
	Outcome          Outcome
	CaseID           string
	Changed          bool
	ActivityAppended bool
	// WouldCreate is set on simulated results for keys not seen before.
	WouldCreate bool
}

// Session carries per-batch upsert state. One job uses one session; it is
// not safe for concurrent use.
type Session struct {
	BatchID   string
	DryRun    bool
	simulated map[importing.NaturalKey]struct{}
}

func NewSession(batchID string, dryRun bool) *Session {
	return &Session{BatchID: batchID, DryRun: dryRun, simulated: make(map[importing.NaturalKey]struct{})}
}

type Engine struct {
	cases  ports.CaseRepository
	uow    ports.UnitOfWork
	locks  ports.KeyLocker
	policy retry.Policy
}

func NewEngine(cases ports.CaseRepository, uow ports.UnitOfWork, locks ports.KeyLocker, policy retry.Policy) *Engine {
	return &Engine{cases: cases, uow: uow, locks: locks, policy: policy}
}

// createRaceError marks an insert that lost to a concurrent insert of the same
// natural key. The next attempt finds the row and merges instead.
type createRaceError struct{ err error }

func (e *createRaceError) Error() string { return "concurrent create: " + e.err.Error() }
func (e *createRaceError) Unwrap() error { return e.err }

// Apply writes one projection, or simulates it in a dry-run session.
func (e *Engine) Apply(ctx context.Context, s *Session, p mapping.Projection) (Result, error) {
	if ctx == nil {
		return Result{}, errors.New("context is required")
	}
	if s == nil {
		return Result{}, errors.New("session is required")
	}

	unlock, err := e.locks.Lock(ctx, p.Case.Key.String())
	if err != nil {
		return Result{}, errs.Wrap(err, "lock natural key")
	}
	defer unlock()

	logCtx := logging.WithAttrs(ctx,
		slog.String("component", "importer.upsert"),
		slog.String("batch_id", s.BatchID),
		slog.Int("row", p.RowNumber),
	)
	notify := func(err error, next time.Duration) {
		logging.Warn(logCtx, "upsert attempt failed, retrying", slog.Any("err", errs.Loggable(err)), slog.Duration("next", next))
	}

	op := func(ctx context.Context) (Result, error) {
		var res Result
		var err error
		if s.DryRun {
			res, err = e.simulate(ctx, s, p)
		} else {
			err = e.uow.WithTx(ctx, func(txCtx context.Context) error {
				applied, err := e.applyTx(txCtx, s, p)
				res = applied
				return err
			})
		}
		if err == nil {
			return res, nil
		}
		if retryable(ctx, err) {
			return Result{}, err
		}
		return Result{}, retry.Permanent(err)
	}

	res, err := retry.Do(ctx, e.policy, op, notify)
	if err != nil {
		return Result{}, fmt.Errorf("upsert %s: %w", p.Case.Key, err)
	}
	if s.DryRun && res.WouldCreate {
		s.simulated[p.Case.Key] = struct{}{}
	}
	return res, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, importing.ErrAmbiguousCase) {
		return false
	}
	var race *createRaceError
	if errors.As(err, &race) {
		return true
	}
	if errors.Is(err, ports.ErrConstraintViolation) {
		return false
	}
	return true
}

func (e *Engine) applyTx(ctx context.Context, s *Session, p mapping.Projection) (Result, error) {
	existing, err := e.cases.FindCaseByNaturalKey(ctx, p.Case.Key)
	switch {
	case errors.Is(err, ports.ErrCaseNotFound):
		created, err := e.cases.CreateCase(ctx, newCase(p.Case, p.Activity, s.BatchID))
		if err != nil {
			if errors.Is(err, ports.ErrConstraintViolation) {
				return Result{}, &createRaceError{err: err}
			}
			return Result{}, err
		}
		appended, err := e.appendActivity(ctx, created.ID, s, p)
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeCreated, CaseID: created.ID, Changed: true, ActivityAppended: appended}, nil

	case err != nil:
		return Result{}, err

	default:
		merged, changed := merge(existing, p.Case, p.Activity, s.BatchID)
		if changed {
			if err := e.cases.UpdateCase(ctx, merged); err != nil {
				return Result{}, err
			}
		}
		appended, err := e.appendActivity(ctx, existing.ID, s, p)
		if err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeUpdated, CaseID: existing.ID, Changed: changed, ActivityAppended: appended}, nil
	}
}

func (e *Engine) appendActivity(ctx context.Context, caseID string, s *Session, p mapping.Projection) (bool, error) {
	return e.cases.AppendActivity(ctx, importing.CaseActivity{
		CaseID:          caseID,
		BatchID:         s.BatchID,
		RowNumber:       p.RowNumber,
		ActivityDate:    p.Activity.ActivityDate,
		Outcome:         p.Activity.Outcome,
		NextHearingDate: p.Activity.NextHearingDate,
		Remarks:         p.Activity.Remarks,
		Adjournments:    p.Activity.Adjournments,
		ActivityRef:     p.Activity.ActivityRef,
	})
}

func (e *Engine) simulate(ctx context.Context, s *Session, p mapping.Projection) (Result, error) {
	if _, seen := s.simulated[p.Case.Key]; seen {
		return Result{Outcome: OutcomeSimulated}, nil
	}
	existing, err := e.cases.FindCaseByNaturalKey(ctx, p.Case.Key)
	switch {
	case errors.Is(err, ports.ErrCaseNotFound):
		return Result{Outcome: OutcomeSimulated, WouldCreate: true}, nil
	case err != nil:
		return Result{}, err
	default:
		_, changed := merge(existing, p.Case, p.Activity, s.BatchID)
		return Result{Outcome: OutcomeSimulated, CaseID: existing.ID, Changed: changed}, nil
	}
}

func newCase(c mapping.CaseProjection, a mapping.ActivityProjection, batchID string) importing.CaseRecord {
	status := c.CaseStatus
	if status == "" {
		status = mapping.DefaultCaseStatus
	}
	return importing.CaseRecord{
		Key:               c.Key,
		CaseType:          c.CaseType,
		CaseStatus:        status,
		FilingDate:        c.FilingDate,
		Petitioner:        c.Petitioner,
		Respondent:        c.Respondent,
		NextHearingDate:   a.NextHearingDate,
		LastImportBatchID: batchID,
	}
}

// merge applies the import-authoritative fields of a projection. Empty
// optional values keep what is stored; fields owned by other subsystems are
// never touched.
func merge(current importing.CaseRecord, c mapping.CaseProjection, a mapping.ActivityProjection, batchID string) (importing.CaseRecord, bool) {
	next := current
	changed := false

	set := func(dst *string, value string) {
		if value != "" && *dst != value {
			*dst = value
			changed = true
		}
	}
	set(&next.CaseType, c.CaseType)
	set(&next.CaseStatus, c.CaseStatus)
	set(&next.Petitioner, c.Petitioner)
	set(&next.Respondent, c.Respondent)

	if !c.FilingDate.IsZero() && !next.FilingDate.Equal(c.FilingDate) {
		next.FilingDate = c.FilingDate
		changed = true
	}
	if a.NextHearingDate != nil && (next.NextHearingDate == nil || !next.NextHearingDate.Equal(*a.NextHearingDate)) {
		hearing := *a.NextHearingDate
		next.NextHearingDate = &hearing
		changed = true
	}

	if changed {
		next.LastImportBatchID = batchID
	}
	return next, changed
}
