package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"caseimport/internal/domain/importing"
	"caseimport/internal/infrastructure/persistence/sqlite/model"
	"caseimport/internal/ports"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "import.sqlite")
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(model.All()...); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}
	return db
}

func date(t *testing.T, raw string) time.Time {
	t.Helper()
	d, err := time.Parse("2006-01-02", raw)
	if err != nil {
		t.Fatalf("parse date %q: %v", raw, err)
	}
	return d
}

func TestCaseRepositoryCreateFindUpdate(t *testing.T) {
	db := setupDB(t)
	repo := NewCaseRepository(db)
	ctx := context.Background()

	key := importing.NaturalKey{CaseNumber: "wp-101", CourtCode: "hc", FilingYear: 2022}
	created, err := repo.CreateCase(ctx, importing.CaseRecord{
		Key:               key,
		CaseType:          "WRIT_PETITION",
		CaseStatus:        "PENDING",
		FilingDate:        date(t, "2022-03-01"),
		Petitioner:        "A",
		Respondent:        "B",
		LastImportBatchID: "batch-1",
		AssignedJudge:     "Justice K",
	})
	if err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}
	if created.ID == "" {
		t.Fatalf("CreateCase() id is empty")
	}

	found, err := repo.FindCaseByNaturalKey(ctx, importing.NaturalKey{CaseNumber: "WP-101", CourtCode: "HC", FilingYear: 2022})
	if err != nil {
		t.Fatalf("FindCaseByNaturalKey() error = %v", err)
	}
	if found.ID != created.ID || found.CaseType != "WRIT_PETITION" {
		t.Fatalf("FindCaseByNaturalKey() = %+v", found)
	}
	if !found.FilingDate.Equal(date(t, "2022-03-01")) {
		t.Fatalf("FindCaseByNaturalKey() filing date = %v", found.FilingDate)
	}

	next := date(t, "2022-06-10")
	found.CaseStatus = "ACTIVE"
	found.NextHearingDate = &next
	found.AssignedJudge = ""
	found.LastImportBatchID = "batch-2"
	if err := repo.UpdateCase(ctx, found); err != nil {
		t.Fatalf("UpdateCase() error = %v", err)
	}

	updated, err := repo.FindCaseByNaturalKey(ctx, key)
	if err != nil {
		t.Fatalf("FindCaseByNaturalKey() after update error = %v", err)
	}
	if updated.CaseStatus != "ACTIVE" || updated.LastImportBatchID != "batch-2" {
		t.Fatalf("UpdateCase() not applied: %+v", updated)
	}
	if updated.NextHearingDate == nil || !updated.NextHearingDate.Equal(next) {
		t.Fatalf("UpdateCase() next hearing = %v", updated.NextHearingDate)
	}
	if updated.AssignedJudge != "Justice K" {
		t.Fatalf("UpdateCase() overwrote assigned judge: %q", updated.AssignedJudge)
	}

	_, err = repo.FindCaseByNaturalKey(ctx, importing.NaturalKey{CaseNumber: "X", CourtCode: "HC", FilingYear: 2022})
	if !errors.Is(err, ports.ErrCaseNotFound) {
		t.Fatalf("FindCaseByNaturalKey() error = %v, want ErrCaseNotFound", err)
	}
}

func TestCaseRepositoryCreateDuplicateIsConstraintViolation(t *testing.T) {
	db := setupDB(t)
	repo := NewCaseRepository(db)
	ctx := context.Background()

	record := importing.CaseRecord{
		Key:        importing.NaturalKey{CaseNumber: "CV-1", CourtCode: "DC", FilingYear: 2020},
		CaseType:   "CIVIL",
		CaseStatus: "PENDING",
		FilingDate: date(t, "2020-01-02"),
	}
	if _, err := repo.CreateCase(ctx, record); err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}
	_, err := repo.CreateCase(ctx, record)
	if !errors.Is(err, ports.ErrConstraintViolation) {
		t.Fatalf("CreateCase() duplicate error = %v, want ErrConstraintViolation", err)
	}
}

func TestCaseRepositoryAppendActivityDedupesByRef(t *testing.T) {
	db := setupDB(t)
	repo := NewCaseRepository(db)
	ctx := context.Background()

	created, err := repo.CreateCase(ctx, importing.CaseRecord{
		Key:        importing.NaturalKey{CaseNumber: "CR-9", CourtCode: "SC", FilingYear: 2019},
		CaseType:   "CRIMINAL",
		CaseStatus: "ACTIVE",
		FilingDate: date(t, "2019-05-05"),
	})
	if err != nil {
		t.Fatalf("CreateCase() error = %v", err)
	}

	withRef := importing.CaseActivity{CaseID: created.ID, BatchID: "b1", RowNumber: 1, ActivityDate: date(t, "2019-06-01"), ActivityRef: "H-1"}
	inserted, err := repo.AppendActivity(ctx, withRef)
	if err != nil || !inserted {
		t.Fatalf("AppendActivity() first = %v, %v", inserted, err)
	}
	inserted, err = repo.AppendActivity(ctx, withRef)
	if err != nil {
		t.Fatalf("AppendActivity() repeat error = %v", err)
	}
	if inserted {
		t.Fatalf("AppendActivity() repeat inserted = true")
	}

	noRef := importing.CaseActivity{CaseID: created.ID, BatchID: "b1", RowNumber: 2, ActivityDate: date(t, "2019-07-01")}
	for i := 0; i < 2; i++ {
		inserted, err := repo.AppendActivity(ctx, noRef)
		if err != nil || !inserted {
			t.Fatalf("AppendActivity() without ref #%d = %v, %v", i, inserted, err)
		}
	}

	items, err := repo.ListActivities(ctx, created.ID)
	if err != nil {
		t.Fatalf("ListActivities() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("ListActivities() len = %d, want 3", len(items))
	}
}

func TestBatchRepositoryLifecycle(t *testing.T) {
	db := setupDB(t)
	repo := NewBatchRepository(db)
	ctx := context.Background()

	if err := repo.CreateBatch(ctx, importing.ImportBatch{ID: "b1", Filename: "a.csv", Checksum: "sum", DryRun: true, CreatedBy: "u1"}); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}

	got, err := repo.GetBatch(ctx, "b1")
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if got.Status != importing.StatusPending || !got.DryRun || len(got.ErrorLogs) != 0 {
		t.Fatalf("GetBatch() = %+v", got)
	}

	if err := repo.UpdateBatch(ctx, "b1", ports.BatchUpdate{
		Status:            importing.StatusPartiallyCompleted,
		TotalRecords:      5,
		SuccessfulRecords: 3,
		FailedRecords:     2,
		CreatedRecords:    3,
		ErrorLogs:         []string{"row 3: VALIDATION: bad", "row 5: MAPPING: bad"},
		CompletedAt:       nowText(),
	}); err != nil {
		t.Fatalf("UpdateBatch() error = %v", err)
	}

	got, err = repo.GetBatch(ctx, "b1")
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if got.Status != importing.StatusPartiallyCompleted || got.TotalRecords != 5 || len(got.ErrorLogs) != 2 || got.CompletedAt == nil {
		t.Fatalf("GetBatch() after update = %+v", got)
	}

	err = repo.UpdateBatch(ctx, "b1", ports.BatchUpdate{Status: importing.StatusCompleted})
	if !errors.Is(err, importing.ErrBatchTerminal) {
		t.Fatalf("UpdateBatch() terminal error = %v, want ErrBatchTerminal", err)
	}
	err = repo.UpdateBatch(ctx, "missing", ports.BatchUpdate{Status: importing.StatusFailed})
	if !errors.Is(err, ports.ErrBatchNotFound) {
		t.Fatalf("UpdateBatch() missing error = %v, want ErrBatchNotFound", err)
	}
	if _, err := repo.GetBatch(ctx, "missing"); !errors.Is(err, ports.ErrBatchNotFound) {
		t.Fatalf("GetBatch() missing error = %v", err)
	}
}

func TestBatchRepositoryErrorDetailsPaging(t *testing.T) {
	db := setupDB(t)
	repo := NewBatchRepository(db)
	ctx := context.Background()

	details := make([]importing.ImportErrorDetail, 0, 7)
	for row := 7; row >= 1; row-- {
		details = append(details, importing.ImportErrorDetail{
			BatchID:      "b1",
			RowNumber:    row,
			RawRowData:   "x,y",
			ErrorType:    importing.ErrorTypeValidation,
			ErrorMessage: "bad",
		})
	}
	if err := repo.AppendErrorDetails(ctx, details); err != nil {
		t.Fatalf("AppendErrorDetails() error = %v", err)
	}

	count, err := repo.CountErrorDetails(ctx, "b1")
	if err != nil || count != 7 {
		t.Fatalf("CountErrorDetails() = %d, %v", count, err)
	}

	page, total, err := repo.ListErrorDetails(ctx, "b1", 2, 3)
	if err != nil {
		t.Fatalf("ListErrorDetails() error = %v", err)
	}
	if total != 7 || len(page) != 3 {
		t.Fatalf("ListErrorDetails() total=%d len=%d", total, len(page))
	}
	if page[0].RowNumber != 4 || page[2].RowNumber != 6 {
		t.Fatalf("ListErrorDetails() rows = %d..%d", page[0].RowNumber, page[2].RowNumber)
	}
}

func TestBatchRepositoryRepairCompletedWithoutSuccess(t *testing.T) {
	db := setupDB(t)
	repo := NewBatchRepository(db)
	ctx := context.Background()

	if err := repo.CreateBatch(ctx, importing.ImportBatch{ID: "bad", Filename: "a.csv", Checksum: "s1", Status: importing.StatusCompleted}); err != nil {
		t.Fatalf("CreateBatch(bad) error = %v", err)
	}
	if err := repo.CreateBatch(ctx, importing.ImportBatch{ID: "good", Filename: "b.csv", Checksum: "s2", Status: importing.StatusCompleted, TotalRecords: 1, SuccessfulRecords: 1}); err != nil {
		t.Fatalf("CreateBatch(good) error = %v", err)
	}

	ids, err := repo.RepairCompletedWithoutSuccess(ctx, "INVARIANT: repaired", nowText())
	if err != nil {
		t.Fatalf("RepairCompletedWithoutSuccess() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "bad" {
		t.Fatalf("RepairCompletedWithoutSuccess() ids = %v", ids)
	}

	repaired, err := repo.GetBatch(ctx, "bad")
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if repaired.Status != importing.StatusFailed || len(repaired.ErrorLogs) != 1 {
		t.Fatalf("repaired batch = %+v", repaired)
	}
	kept, err := repo.GetBatch(ctx, "good")
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if kept.Status != importing.StatusCompleted {
		t.Fatalf("good batch status = %s", kept.Status)
	}
}

func TestUserRepositoryFindOrCreateSystemUser(t *testing.T) {
	db := setupDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	first, err := repo.FindOrCreateSystemUser(ctx)
	if err != nil {
		t.Fatalf("FindOrCreateSystemUser() error = %v", err)
	}
	second, err := repo.FindOrCreateSystemUser(ctx)
	if err != nil {
		t.Fatalf("FindOrCreateSystemUser() second error = %v", err)
	}
	if first.ID != second.ID || !first.IsSystem || first.Username != importing.SystemUsername {
		t.Fatalf("FindOrCreateSystemUser() first=%+v second=%+v", first, second)
	}

	if _, err := repo.FindUser(ctx, "nobody"); !errors.Is(err, ports.ErrUserNotFound) {
		t.Fatalf("FindUser() error = %v, want ErrUserNotFound", err)
	}
}

func TestUserRepositoryCreateUser(t *testing.T) {
	db := setupDB(t)
	repo := NewUserRepository(db)
	ctx := context.Background()

	created, err := repo.CreateUser(ctx, importing.User{Username: "clerk-7", DisplayName: "Registry Clerk"})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if created.ID == "" || created.IsSystem {
		t.Fatalf("CreateUser() = %+v", created)
	}

	found, err := repo.FindUser(ctx, created.ID)
	if err != nil {
		t.Fatalf("FindUser() error = %v", err)
	}
	if found.Username != "clerk-7" || found.DisplayName != "Registry Clerk" {
		t.Fatalf("FindUser() = %+v", found)
	}

	_, err = repo.CreateUser(ctx, importing.User{Username: "clerk-7"})
	if !errors.Is(err, ports.ErrConstraintViolation) {
		t.Fatalf("CreateUser(duplicate) error = %v, want ErrConstraintViolation", err)
	}
}

func TestClosedDatabaseIsStoreUnavailable(t *testing.T) {
	db := setupDB(t)
	repo := NewBatchRepository(db)

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	if err := sqlDB.Close(); err != nil {
		t.Fatalf("close sql db: %v", err)
	}

	_, err = repo.GetBatch(context.Background(), "b1")
	if !errors.Is(err, ports.ErrStoreUnavailable) {
		t.Fatalf("GetBatch() error = %v, want ErrStoreUnavailable", err)
	}
}

func TestBatchRepositoryExpectStatus(t *testing.T) {
	db := setupDB(t)
	repo := NewBatchRepository(db)
	ctx := context.Background()

	if err := repo.CreateBatch(ctx, importing.ImportBatch{ID: "b1", Filename: "a.csv", Checksum: "sum"}); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	if err := repo.UpdateBatch(ctx, "b1", ports.BatchUpdate{ExpectStatus: importing.StatusPending, Status: importing.StatusProcessing}); err != nil {
		t.Fatalf("UpdateBatch() PENDING->PROCESSING error = %v", err)
	}

	err := repo.UpdateBatch(ctx, "b1", ports.BatchUpdate{ExpectStatus: importing.StatusPending, Status: importing.StatusFailed})
	if !errors.Is(err, importing.ErrInvalidTransition) {
		t.Fatalf("UpdateBatch() stale expectation error = %v, want ErrInvalidTransition", err)
	}

	got, err := repo.GetBatch(ctx, "b1")
	if err != nil {
		t.Fatalf("GetBatch() error = %v", err)
	}
	if got.Status != importing.StatusProcessing {
		t.Fatalf("status = %s, want PROCESSING kept", got.Status)
	}
}
