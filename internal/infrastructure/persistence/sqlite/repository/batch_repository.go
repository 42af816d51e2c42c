package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"caseimport/internal/domain/importing"
	"caseimport/internal/errs"
	"caseimport/internal/infrastructure/persistence/sqlite/model"
	"caseimport/internal/ports"
)

const errorDetailInsertBatchSize = 100

var liveStatuses = []string{string(importing.StatusPending), string(importing.StatusProcessing)}

type BatchRepository struct {
	db *gorm.DB
}

var _ ports.BatchRepository = (*BatchRepository)(nil)

func NewBatchRepository(db *gorm.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

func (r *BatchRepository) CreateBatch(ctx context.Context, batch importing.ImportBatch) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	if batch.Status == "" {
		batch.Status = importing.StatusPending
	}
	logsJSON, err := encodeLogs(batch.ErrorLogs)
	if err != nil {
		return err
	}

	var startedAt, completedAt *string
	if batch.StartedAt != nil {
		startedAt = strPtr(formatTime(*batch.StartedAt))
	}
	if batch.CompletedAt != nil {
		completedAt = strPtr(formatTime(*batch.CompletedAt))
	}

	row := model.ImportBatch{
		BatchID:           batch.ID,
		Filename:          batch.Filename,
		Checksum:          batch.Checksum,
		Status:            string(batch.Status),
		TotalRecords:      batch.TotalRecords,
		SuccessfulRecords: batch.SuccessfulRecords,
		FailedRecords:     batch.FailedRecords,
		CreatedRecords:    batch.CreatedRecords,
		UpdatedRecords:    batch.UpdatedRecords,
		ErrorLogsJSON:     logsJSON,
		DryRun:            batch.DryRun,
		CreatedBy:         batch.CreatedBy,
		CreatedAt:         formatTime(batch.CreatedAt),
		StartedAt:         startedAt,
		CompletedAt:       completedAt,
	}
	if err := db.Create(&row).Error; err != nil {
		return classify(err, "insert import batch")
	}
	return nil
}

func (r *BatchRepository) GetBatch(ctx context.Context, batchID string) (importing.ImportBatch, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return importing.ImportBatch{}, err
	}

	var row model.ImportBatch
	if err := db.Where("batch_id = ?", batchID).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return importing.ImportBatch{}, ports.ErrBatchNotFound
		}
		return importing.ImportBatch{}, classify(err, "query import batch")
	}
	return mapBatch(row)
}

func (r *BatchRepository) UpdateBatch(ctx context.Context, batchID string, update ports.BatchUpdate) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	logsJSON, err := encodeLogs(update.ErrorLogs)
	if err != nil {
		return err
	}

	values := map[string]any{
		"status":             string(update.Status),
		"total_records":      update.TotalRecords,
		"successful_records": update.SuccessfulRecords,
		"failed_records":     update.FailedRecords,
		"created_records":    update.CreatedRecords,
		"updated_records":    update.UpdatedRecords,
		"error_logs_json":    logsJSON,
	}
	if update.StartedAt != "" {
		values["started_at"] = update.StartedAt
	}
	if update.CompletedAt != "" {
		values["completed_at"] = update.CompletedAt
	}

	query := db.Model(&model.ImportBatch{}).Where("batch_id = ? AND status IN ?", batchID, liveStatuses)
	if update.ExpectStatus != "" {
		query = query.Where("status = ?", string(update.ExpectStatus))
	}
	result := query.Updates(values)
	if result.Error != nil {
		return classify(result.Error, "update import batch")
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var current model.ImportBatch
	if err := db.Select("status").Where("batch_id = ?", batchID).Take(&current).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.ErrBatchNotFound
		}
		return classify(err, "query import batch status")
	}
	if importing.BatchStatus(current.Status).IsTerminal() {
		return fmt.Errorf("update batch %s: %w", batchID, importing.ErrBatchTerminal)
	}
	return fmt.Errorf("update batch %s: expected %s, found %s: %w", batchID, update.ExpectStatus, current.Status, importing.ErrInvalidTransition)
}

func (r *BatchRepository) AppendErrorDetails(ctx context.Context, details []importing.ImportErrorDetail) error {
	if len(details) == 0 {
		return nil
	}
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	rows := make([]model.ImportErrorDetail, 0, len(details))
	for _, detail := range details {
		id := detail.ID
		if id == "" {
			id = uuid.NewString()
		}
		createdAt := detail.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		rows = append(rows, model.ImportErrorDetail{
			DetailID:     id,
			BatchID:      detail.BatchID,
			RowNumber:    detail.RowNumber,
			RawRowData:   detail.RawRowData,
			ErrorType:    string(detail.ErrorType),
			ErrorMessage: detail.ErrorMessage,
			CreatedAt:    formatTime(createdAt),
		})
	}

	if err := db.CreateInBatches(&rows, errorDetailInsertBatchSize).Error; err != nil {
		return classify(err, "insert import error details")
	}
	return nil
}

// ListErrorDetails pages through a batch's details ordered by row number.
// page is 1-based.
func (r *BatchRepository) ListErrorDetails(ctx context.Context, batchID string, page int, pageSize int) ([]importing.ImportErrorDetail, int64, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	var total int64
	if err := db.Model(&model.ImportErrorDetail{}).Where("batch_id = ?", batchID).Count(&total).Error; err != nil {
		return nil, 0, classify(err, "count import error details")
	}

	var rows []model.ImportErrorDetail
	if err := db.
		Where("batch_id = ?", batchID).
		Order("row_number asc, created_at asc").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, classify(err, "query import error details")
	}

	items := make([]importing.ImportErrorDetail, 0, len(rows))
	for _, row := range rows {
		items = append(items, importing.ImportErrorDetail{
			ID:           row.DetailID,
			BatchID:      row.BatchID,
			RowNumber:    row.RowNumber,
			RawRowData:   row.RawRowData,
			ErrorType:    importing.ErrorType(row.ErrorType),
			ErrorMessage: row.ErrorMessage,
			CreatedAt:    parseTime(row.CreatedAt),
		})
	}
	return items, total, nil
}

func (r *BatchRepository) CountErrorDetails(ctx context.Context, batchID string) (int64, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return 0, err
	}

	var total int64
	if err := db.Model(&model.ImportErrorDetail{}).Where("batch_id = ?", batchID).Count(&total).Error; err != nil {
		return 0, classify(err, "count import error details")
	}
	return total, nil
}

// RepairCompletedWithoutSuccess rewrites COMPLETED batches that committed no
// rows to FAILED and appends note to their logs. It returns the repaired ids.
func (r *BatchRepository) RepairCompletedWithoutSuccess(ctx context.Context, note string, repairedAt string) ([]string, error) {
	if ports.TxFromContext(ctx) == nil {
		var repaired []string
		if err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			ids, err := r.RepairCompletedWithoutSuccess(ports.WithTxContext(ctx, tx), note, repairedAt)
			if err != nil {
				return err
			}
			repaired = ids
			return nil
		}); err != nil {
			return nil, err
		}
		return repaired, nil
	}

	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}

	var rows []model.ImportBatch
	if err := db.
		Where("status = ? AND successful_records = 0", string(importing.StatusCompleted)).
		Order("created_at asc").
		Find(&rows).Error; err != nil {
		return nil, classify(err, "query completed batches without success")
	}

	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		logs, err := decodeLogs(row.ErrorLogsJSON)
		if err != nil {
			return nil, errs.Wrapf(err, "decode error logs of batch %s", row.BatchID)
		}
		logs = append(logs, note)
		logsJSON, err := encodeLogs(logs)
		if err != nil {
			return nil, err
		}
		if err := db.Model(&model.ImportBatch{}).
			Where("batch_id = ? AND status = ?", row.BatchID, string(importing.StatusCompleted)).
			Updates(map[string]any{
				"status":          string(importing.StatusFailed),
				"error_logs_json": logsJSON,
				"completed_at":    repairedAt,
			}).Error; err != nil {
			return nil, classify(err, "repair import batch")
		}
		ids = append(ids, row.BatchID)
	}
	return ids, nil
}

func mapBatch(row model.ImportBatch) (importing.ImportBatch, error) {
	logs, err := decodeLogs(row.ErrorLogsJSON)
	if err != nil {
		return importing.ImportBatch{}, errs.Wrapf(err, "decode error logs of batch %s", row.BatchID)
	}
	return importing.ImportBatch{
		ID:                row.BatchID,
		Filename:          row.Filename,
		Checksum:          row.Checksum,
		Status:            importing.BatchStatus(row.Status),
		TotalRecords:      row.TotalRecords,
		SuccessfulRecords: row.SuccessfulRecords,
		FailedRecords:     row.FailedRecords,
		CreatedRecords:    row.CreatedRecords,
		UpdatedRecords:    row.UpdatedRecords,
		ErrorLogs:         logs,
		DryRun:            row.DryRun,
		CreatedBy:         row.CreatedBy,
		CreatedAt:         parseTime(row.CreatedAt),
		StartedAt:         parseTimePtr(row.StartedAt),
		CompletedAt:       parseTimePtr(row.CompletedAt),
	}, nil
}

func encodeLogs(logs []string) (string, error) {
	if logs == nil {
		logs = []string{}
	}
	raw, err := json.Marshal(logs)
	if err != nil {
		return "", errs.Wrap(err, "encode error logs")
	}
	return string(raw), nil
}

func decodeLogs(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var logs []string
	if err := json.Unmarshal([]byte(raw), &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
