package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"caseimport/internal/domain/importing"
	"caseimport/internal/infrastructure/persistence/sqlite/model"
	"caseimport/internal/ports"
)

type CaseRepository struct {
	db *gorm.DB
}

var _ ports.CaseRepository = (*CaseRepository)(nil)

func NewCaseRepository(db *gorm.DB) *CaseRepository {
	return &CaseRepository{db: db}
}

func (r *CaseRepository) FindCaseByNaturalKey(ctx context.Context, key importing.NaturalKey) (importing.CaseRecord, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return importing.CaseRecord{}, err
	}

	key = key.Normalize()
	var rows []model.Case
	if err := db.
		Where("case_number = ? AND court_code = ? AND filing_year = ?", key.CaseNumber, key.CourtCode, key.FilingYear).
		Limit(2).
		Find(&rows).Error; err != nil {
		return importing.CaseRecord{}, classify(err, "query case by natural key")
	}

	switch len(rows) {
	case 0:
		return importing.CaseRecord{}, ports.ErrCaseNotFound
	case 1:
		return mapCase(rows[0]), nil
	default:
		return importing.CaseRecord{}, importing.ErrAmbiguousCase
	}
}

func (r *CaseRepository) CreateCase(ctx context.Context, record importing.CaseRecord) (importing.CaseRecord, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return importing.CaseRecord{}, err
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	record.Key = record.Key.Normalize()

	row := toCaseModel(record)
	if err := db.Create(&row).Error; err != nil {
		return importing.CaseRecord{}, classify(err, "insert case")
	}
	return mapCase(row), nil
}

// UpdateCase writes the import-authoritative columns only.
func (r *CaseRepository) UpdateCase(ctx context.Context, record importing.CaseRecord) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	result := db.Model(&model.Case{}).
		Where("case_id = ?", record.ID).
		Updates(map[string]any{
			"case_type":            record.CaseType,
			"case_status":          record.CaseStatus,
			"filing_date":          formatDate(record.FilingDate),
			"petitioner":           record.Petitioner,
			"respondent":           record.Respondent,
			"next_hearing_date":    formatDatePtr(record.NextHearingDate),
			"last_import_batch_id": record.LastImportBatchID,
			"updated_at":           nowText(),
		})
	if result.Error != nil {
		return classify(result.Error, "update case")
	}
	if result.RowsAffected == 0 {
		return ports.ErrCaseNotFound
	}
	return nil
}

func (r *CaseRepository) AppendActivity(ctx context.Context, activity importing.CaseActivity) (bool, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return false, err
	}

	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now().UTC()
	}

	row := model.CaseActivity{
		ActivityID:      activity.ID,
		CaseID:          activity.CaseID,
		BatchID:         activity.BatchID,
		RowNumber:       activity.RowNumber,
		ActivityDate:    formatDate(activity.ActivityDate),
		Outcome:         activity.Outcome,
		NextHearingDate: formatDatePtr(activity.NextHearingDate),
		Remarks:         activity.Remarks,
		Adjournments:    activity.Adjournments,
		ActivityRef:     strPtr(activity.ActivityRef),
		CreatedAt:       formatTime(activity.CreatedAt),
	}

	if row.ActivityRef == nil {
		if err := db.Create(&row).Error; err != nil {
			return false, classify(err, "insert case activity")
		}
		return true, nil
	}

	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "case_id"}, {Name: "activity_ref"}},
		DoNothing: true,
	}).Create(&row)
	if result.Error != nil {
		return false, classify(result.Error, "insert case activity")
	}
	return result.RowsAffected > 0, nil
}

// ListActivities returns the activities of a case in insertion order.
func (r *CaseRepository) ListActivities(ctx context.Context, caseID string) ([]importing.CaseActivity, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}

	var rows []model.CaseActivity
	if err := db.Where("case_id = ?", caseID).Order("created_at asc, row_number asc").Find(&rows).Error; err != nil {
		return nil, classify(err, "query case activities")
	}

	items := make([]importing.CaseActivity, 0, len(rows))
	for _, row := range rows {
		ref := ""
		if row.ActivityRef != nil {
			ref = *row.ActivityRef
		}
		items = append(items, importing.CaseActivity{
			ID:              row.ActivityID,
			CaseID:          row.CaseID,
			BatchID:         row.BatchID,
			RowNumber:       row.RowNumber,
			ActivityDate:    parseDate(row.ActivityDate),
			Outcome:         row.Outcome,
			NextHearingDate: parseDatePtr(row.NextHearingDate),
			Remarks:         row.Remarks,
			Adjournments:    row.Adjournments,
			ActivityRef:     ref,
			CreatedAt:       parseTime(row.CreatedAt),
		})
	}
	return items, nil
}

func toCaseModel(record importing.CaseRecord) model.Case {
	return model.Case{
		CaseID:            record.ID,
		CaseNumber:        record.Key.CaseNumber,
		CourtCode:         record.Key.CourtCode,
		FilingYear:        record.Key.FilingYear,
		CaseType:          record.CaseType,
		CaseStatus:        record.CaseStatus,
		FilingDate:        formatDate(record.FilingDate),
		Petitioner:        record.Petitioner,
		Respondent:        record.Respondent,
		NextHearingDate:   formatDatePtr(record.NextHearingDate),
		LastImportBatchID: record.LastImportBatchID,
		AssignedJudge:     record.AssignedJudge,
		Priority:          record.Priority,
		InternalNotes:     record.InternalNotes,
		CreatedAt:         formatTime(record.CreatedAt),
		UpdatedAt:         formatTime(record.UpdatedAt),
	}
}

func mapCase(row model.Case) importing.CaseRecord {
	key := importing.NaturalKey{
		CaseNumber: row.CaseNumber,
		CourtCode:  row.CourtCode,
		FilingYear: row.FilingYear,
	}
	return importing.CaseRecord{
		ID:                row.CaseID,
		Key:               key,
		CaseType:          row.CaseType,
		CaseStatus:        row.CaseStatus,
		FilingDate:        parseDate(row.FilingDate),
		Petitioner:        row.Petitioner,
		Respondent:        row.Respondent,
		NextHearingDate:   parseDatePtr(row.NextHearingDate),
		LastImportBatchID: row.LastImportBatchID,
		AssignedJudge:     row.AssignedJudge,
		Priority:          row.Priority,
		InternalNotes:     row.InternalNotes,
		CreatedAt:         parseTime(row.CreatedAt),
		UpdatedAt:         parseTime(row.UpdatedAt),
	}
}
