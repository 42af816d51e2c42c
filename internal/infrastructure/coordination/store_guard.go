package coordination

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"caseimport/internal/domain/importing"
	"caseimport/internal/errs"
	"caseimport/internal/infrastructure/persistence/sqlite/model"
	"caseimport/internal/ports"
)

// DefaultStaleAfter is how old a guard row must be before a holder whose
// batch row is missing counts as crashed.
const DefaultStaleAfter = time.Minute

// StoreGuard keeps the checksum guard in the submission_locks table.
type StoreGuard struct {
	db         *gorm.DB
	batches    ports.BatchRepository
	staleAfter time.Duration
	now        func() time.Time
}

var _ ports.SubmissionGuard = (*StoreGuard)(nil)

func NewStoreGuard(db *gorm.DB, batches ports.BatchRepository) *StoreGuard {
	return &StoreGuard{
		db:         db,
		batches:    batches,
		staleAfter: DefaultStaleAfter,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (g *StoreGuard) Acquire(ctx context.Context, checksum string, batchID string) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	key := strings.TrimSpace(checksum)
	if key == "" {
		return errors.New("checksum is required")
	}

	now := g.now()
	row := model.SubmissionLock{
		Checksum:  key,
		BatchID:   batchID,
		UpdatedAt: now.Format(time.RFC3339Nano),
	}
	result := g.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "checksum"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		return errs.Wrap(result.Error, "insert submission lock")
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var current model.SubmissionLock
	if err := g.db.WithContext(ctx).Where("checksum = ?", key).Take(&current).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Released between insert and read.
			return g.Acquire(ctx, checksum, batchID)
		}
		return errs.Wrap(err, "query submission lock")
	}
	if current.BatchID == batchID {
		return nil
	}

	heldSince, _ := time.Parse(time.RFC3339Nano, current.UpdatedAt)
	stale, err := holderIsStale(ctx, g.batches, current.BatchID, now.Sub(heldSince) >= g.staleAfter)
	if err != nil {
		return err
	}
	if !stale {
		return fmt.Errorf("%w: checksum held by batch %s", importing.ErrDuplicateSubmission, current.BatchID)
	}

	takeover := g.db.WithContext(ctx).Model(&model.SubmissionLock{}).
		Where("checksum = ? AND batch_id = ?", key, current.BatchID).
		Updates(map[string]any{
			"batch_id":   batchID,
			"updated_at": row.UpdatedAt,
		})
	if takeover.Error != nil {
		return errs.Wrap(takeover.Error, "take over submission lock")
	}
	if takeover.RowsAffected == 0 {
		return fmt.Errorf("%w: checksum taken concurrently", importing.ErrDuplicateSubmission)
	}
	return nil
}

func (g *StoreGuard) Release(ctx context.Context, checksum string, batchID string) error {
	if ctx == nil {
		return errors.New("context is required")
	}

	key := strings.TrimSpace(checksum)
	if key == "" {
		return nil
	}
	if err := g.db.WithContext(ctx).
		Where("checksum = ? AND batch_id = ?", key, batchID).
		Delete(&model.SubmissionLock{}).Error; err != nil {
		return errs.Wrap(err, "delete submission lock")
	}
	return nil
}

// holderIsStale reports whether the batch holding a guard can no longer use
// it: terminal, or missing once the guard is old enough.
func holderIsStale(ctx context.Context, batches ports.BatchRepository, holderID string, oldEnough bool) (bool, error) {
	if batches == nil {
		return false, nil
	}
	batch, err := batches.GetBatch(ctx, holderID)
	if err != nil {
		if errors.Is(err, ports.ErrBatchNotFound) {
			return oldEnough, nil
		}
		return false, errs.Wrap(err, "load guard holder batch")
	}
	return batch.Status.IsTerminal(), nil
}
