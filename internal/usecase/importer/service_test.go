package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"caseimport/internal/domain/importing"
	"caseimport/internal/infrastructure/coordination"
	"caseimport/internal/infrastructure/file"
	"caseimport/internal/infrastructure/persistence/sqlite/model"
	"caseimport/internal/infrastructure/persistence/sqlite/repository"
	"caseimport/internal/infrastructure/persistence/sqlite/uow"
	"caseimport/internal/infrastructure/queue/memory"
	"caseimport/internal/ports"
	"caseimport/internal/usecase/importer/csvrow"
	"caseimport/internal/usecase/importer/mapping"
	"caseimport/internal/usecase/importer/retry"
)

const csvHeader = "case_number,court_code,filing_year,case_type,case_status,filing_date,petitioner,respondent,activity_date,outcome,next_hearing_date,remarks,adjournments,activity_ref\n"

// fiveRows has an invalid date on row 3 and an unknown case type on row 5.
const fiveRows = csvHeader +
	"WP-1,HC,2021,WP,ACTIVE,2021-02-01,A,B,2021-03-01,heard,2021-04-01,,0,\n" +
	"CV-2,DC,2020,CV,,2020-06-05,C,D,2020-06-10,,,,,\n" +
	"CV-3,DC,2020,CV,,2020-13-45,C,D,2020-06-10,,,,,\n" +
	"CR-4,SC,2019,CR,PENDING,2019-01-10,E,F,2019-02-10,,,,2,H-1\n" +
	"CR-5,SC,2019,XX,PENDING,2019-01-10,E,F,2019-02-10,,,,,\n"

type harness struct {
	svc     *Service
	db      *gorm.DB
	batches *repository.BatchRepository
	queue   *memory.Queue
	owners  *coordination.OwnerRegistry
	dir     string
}

func newHarness(t *testing.T, cfg Config, locks ports.KeyLocker) harness {
	t.Helper()
	return newHarnessWithCases(t, cfg, locks, nil)
}

// newHarnessWithCases lets wrap decorate the case repository the pipeline writes through.
func newHarnessWithCases(t *testing.T, cfg Config, locks ports.KeyLocker, wrap func(ports.CaseRepository) ports.CaseRepository) harness {
	t.Helper()

	dir := t.TempDir()
	db, err := gorm.Open(gormsqlite.Open(filepath.Join(dir, "import.sqlite")), &gorm.Config{})
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

	if locks == nil {
		locks = coordination.NewKeyedMutex()
	}
	if cfg.RowRetry.Attempts == 0 {
		cfg.RowRetry = retry.Policy{Attempts: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}
	}

	batches := repository.NewBatchRepository(db)
	queue := memory.New(16)
	owners := coordination.NewOwnerRegistry()
	clock := func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) }

	var cases ports.CaseRepository = repository.NewCaseRepository(db)
	if wrap != nil {
		cases = wrap(cases)
	}

	svc, err := NewService(Dependencies{
		Cases:   cases,
		Batches: batches,
		Users:   repository.NewUserRepository(db),
		UoW:     uow.NewUnitOfWork(db),
		Queue:   queue,
		Guard:   coordination.NewStoreGuard(db, batches),
		Locks:   locks,
		Owners:  owners,
		Source:  file.NewLocalSource(dir),
		Parser:  csvrow.NewParser(csvrow.HeaderMapping{}),
		Mapper:  mapping.NewMapper(mapping.WithClock(clock)),
	}, cfg)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return harness{svc: svc, db: db, batches: batches, queue: queue, owners: owners, dir: dir}
}

func (h harness) writeCSV(t *testing.T, name string, body string) string {
	t.Helper()
	path := filepath.Join(h.dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return name
}

// runNext processes the next queued job the way a pool worker would.
func (h harness) runNext(t *testing.T) importing.ImportBatch {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	d, err := h.queue.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	batch, err := h.svc.Processor().Process(ctx, d.Job())
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if err := d.Ack(ctx); err != nil {
		t.Fatalf("Ack() error = %v", err)
	}
	return batch
}

func (h harness) count(t *testing.T, m any) int64 {
	t.Helper()
	var n int64
	if err := h.db.Model(m).Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", m, err)
	}
	return n
}

func boolPtr(v bool) *bool {
	return &v
}

func TestFiveRowFileIsPartiallyCompleted(t *testing.T) {
	h := newHarness(t, Config{LiveWrites: true}, nil)
	ctx := context.Background()
	path := h.writeCSV(t, "cases.csv", fiveRows)

	res, err := h.svc.Submit(ctx, Submission{FilePath: path, DryRun: boolPtr(false)})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if res.DryRun || res.Status != importing.StatusPending || res.BatchID == "" || res.Checksum == "" {
		t.Fatalf("Submit() = %+v", res)
	}

	pending, err := h.svc.Status(ctx, res.BatchID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if pending.Status != importing.StatusPending || pending.CreatedBy == "" {
		t.Fatalf("Status() before processing = %+v", pending)
	}

	final := h.runNext(t)
	if final.Status != importing.StatusPartiallyCompleted {
		t.Fatalf("final status = %s", final.Status)
	}

	view, err := h.svc.Status(ctx, res.BatchID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if view.TotalRecords != 5 || view.SuccessfulRecords != 3 || view.FailedRecords != 2 {
		t.Fatalf("Status() counters = %+v", view)
	}
	if view.CreatedRecords != 3 || len(view.ErrorSummary) != 2 {
		t.Fatalf("Status() created=%d summary=%v", view.CreatedRecords, view.ErrorSummary)
	}

	page, err := h.svc.ListErrors(ctx, res.BatchID, 1, 10)
	if err != nil {
		t.Fatalf("ListErrors() error = %v", err)
	}
	if page.Total != 2 || len(page.Items) != 2 {
		t.Fatalf("ListErrors() = %+v", page)
	}
	if page.Items[0].RowNumber != 3 || page.Items[0].ErrorType != importing.ErrorTypeValidation {
		t.Fatalf("first error = %+v, want row 3 VALIDATION", page.Items[0])
	}
	if page.Items[1].RowNumber != 5 || page.Items[1].ErrorType != importing.ErrorTypeMapping {
		t.Fatalf("second error = %+v, want row 5 MAPPING", page.Items[1])
	}
	if !strings.Contains(page.Items[1].RawRowData, "XX") {
		t.Fatalf("raw row = %q", page.Items[1].RawRowData)
	}

	if got := h.count(t, &model.Case{}); got != 3 {
		t.Fatalf("cases = %d, want 3", got)
	}
	if got := h.count(t, &model.ImportErrorDetail{}); got != int64(view.FailedRecords) {
		t.Fatalf("error details = %d, want %d", got, view.FailedRecords)
	}
}

func TestResubmissionOnlyUpdates(t *testing.T) {
	h := newHarness(t, Config{LiveWrites: true}, nil)
	ctx := context.Background()
	path := h.writeCSV(t, "cases.csv", fiveRows)

	if _, err := h.svc.Submit(ctx, Submission{FilePath: path, DryRun: boolPtr(false)}); err != nil {
		t.Fatalf("Submit() first error = %v", err)
	}
	h.runNext(t)
	activitiesAfterFirst := h.count(t, &model.CaseActivity{})

	if _, err := h.svc.Submit(ctx, Submission{FilePath: path, DryRun: boolPtr(false)}); err != nil {
		t.Fatalf("Submit() second error = %v", err)
	}
	second := h.runNext(t)

	if second.SuccessfulRecords != 3 || second.CreatedRecords != 0 || second.UpdatedRecords != 3 {
		t.Fatalf("second run = %+v, want all updates", second)
	}
	if got := h.count(t, &model.Case{}); got != 3 {
		t.Fatalf("cases = %d, want 3", got)
	}
	// Rows without an activity ref are appended again; H-1 is not.
	if got := h.count(t, &model.CaseActivity{}); got != activitiesAfterFirst+2 {
		t.Fatalf("activities = %d, want %d", got, activitiesAfterFirst+2)
	}
}

func TestDryRunLeavesStoreUntouched(t *testing.T) {
	h := newHarness(t, Config{LiveWrites: true}, nil)
	ctx := context.Background()
	path := h.writeCSV(t, "cases.csv", fiveRows)

	if _, err := h.svc.Submit(ctx, Submission{FilePath: path, DryRun: boolPtr(false)}); err != nil {
		t.Fatalf("Submit() live error = %v", err)
	}
	live := h.runNext(t)
	cases := h.count(t, &model.Case{})
	activities := h.count(t, &model.CaseActivity{})

	res, err := h.svc.Submit(ctx, Submission{FilePath: path})
	if err != nil {
		t.Fatalf("Submit() dry error = %v", err)
	}
	if !res.DryRun {
		t.Fatalf("Submit() without dryRun should default to dry run")
	}
	dry := h.runNext(t)

	if dry.SuccessfulRecords != live.SuccessfulRecords || dry.FailedRecords != live.FailedRecords || dry.Status != live.Status {
		t.Fatalf("dry run = %+v, live = %+v", dry, live)
	}
	if h.count(t, &model.Case{}) != cases || h.count(t, &model.CaseActivity{}) != activities {
		t.Fatalf("dry run changed case or activity rows")
	}
}

func TestLiveWritesSwitchGuardsDryRun(t *testing.T) {
	h := newHarness(t, Config{LiveWrites: false}, nil)
	ctx := context.Background()
	path := h.writeCSV(t, "cases.csv", fiveRows)

	res, err := h.svc.Submit(ctx, Submission{FilePath: path, DryRun: boolPtr(false)})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if !res.DryRun {
		t.Fatalf("dryRun=false honored while live writes are disabled")
	}
	h.runNext(t)
	if got := h.count(t, &model.Case{}); got != 0 {
		t.Fatalf("cases = %d, want 0", got)
	}
}

func TestDuplicateSubmissionRejected(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	path := h.writeCSV(t, "cases.csv", fiveRows)

	if _, err := h.svc.Submit(ctx, Submission{FilePath: path}); err != nil {
		t.Fatalf("Submit() first error = %v", err)
	}
	_, err := h.svc.Submit(ctx, Submission{FilePath: path})
	if !errors.Is(err, importing.ErrDuplicateSubmission) {
		t.Fatalf("Submit() second error = %v, want ErrDuplicateSubmission", err)
	}
	if got := h.count(t, &model.ImportBatch{}); got != 1 {
		t.Fatalf("batches = %d, want 1", got)
	}

	h.runNext(t)
	if _, err := h.svc.Submit(ctx, Submission{FilePath: path}); err != nil {
		t.Fatalf("Submit() after finalize error = %v", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	negative := int64(-1)

	cases := []Submission{
		{},
		{FilePath: "cases.csv", FileSize: &negative},
		{FilePath: "missing.csv"},
		{FilePath: h.writeCSV(t, "a.csv", fiveRows), UserID: "nobody"},
	}
	for i, sub := range cases {
		if _, err := h.svc.Submit(ctx, sub); !errors.Is(err, importing.ErrInvalidSubmission) {
			t.Fatalf("case %d: Submit() error = %v, want ErrInvalidSubmission", i, err)
		}
	}
	if got := h.count(t, &model.ImportBatch{}); got != 0 {
		t.Fatalf("batches = %d, want 0", got)
	}
}

func TestFileFatalBatchesHaveZeroCounters(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	zero := int64(0)

	inputs := map[string]Submission{
		"missing header": {FilePath: h.writeCSV(t, "header.csv", "case_number,court_code\nA,B\n")},
		"bad encoding":   {FilePath: h.writeCSV(t, "enc.csv", csvHeader+"WP-1,HC,2021,WP,ACTIVE,2021-02-01,\xff,B,2021-03-01,,,,,\n")},
		"missing file":   {FilePath: "gone.csv", Filename: "gone.csv", FileSize: &zero, Checksum: "gone"},
		"empty file":     {FilePath: h.writeCSV(t, "empty.csv", "")},
	}
	for name, sub := range inputs {
		if _, err := h.svc.Submit(ctx, sub); err != nil {
			t.Fatalf("%s: Submit() error = %v", name, err)
		}
		final := h.runNext(t)
		if final.Status != importing.StatusFailed {
			t.Fatalf("%s: status = %s, want FAILED", name, final.Status)
		}
		if final.TotalRecords != 0 || final.SuccessfulRecords != 0 || final.FailedRecords != 0 {
			t.Fatalf("%s: counters = %+v, want zeros", name, final)
		}
		if len(final.ErrorLogs) != 1 || !strings.HasPrefix(final.ErrorLogs[0], "FILE_FATAL: ") {
			t.Fatalf("%s: error logs = %v", name, final.ErrorLogs)
		}
	}
}

func TestHeaderOnlyFileFails(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	if _, err := h.svc.Submit(ctx, Submission{FilePath: h.writeCSV(t, "header.csv", csvHeader)}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	final := h.runNext(t)
	if final.Status != importing.StatusFailed || final.TotalRecords != 0 {
		t.Fatalf("final = %+v, want FAILED with no rows", final)
	}
}

func TestCancelPendingBatch(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()
	path := h.writeCSV(t, "cases.csv", fiveRows)

	res, err := h.svc.Submit(ctx, Submission{FilePath: path})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	cancelled, err := h.svc.Cancel(ctx, res.BatchID)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if cancelled.Status != importing.StatusFailed || !cancelled.Dequeued {
		t.Fatalf("Cancel() = %+v", cancelled)
	}
	if depth, _ := h.queue.Depth(ctx); depth != 0 {
		t.Fatalf("queue depth = %d, want 0", depth)
	}

	view, err := h.svc.Status(ctx, res.BatchID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if view.Status != importing.StatusFailed || len(view.ErrorSummary) != 1 || !strings.HasPrefix(view.ErrorSummary[0], "CANCELLED: ") {
		t.Fatalf("Status() = %+v", view)
	}

	if _, err := h.svc.Cancel(ctx, res.BatchID); !errors.Is(err, importing.ErrBatchTerminal) {
		t.Fatalf("Cancel() twice error = %v, want ErrBatchTerminal", err)
	}
	if _, err := h.svc.Submit(ctx, Submission{FilePath: path}); err != nil {
		t.Fatalf("Submit() after cancel error = %v", err)
	}
}

// gateLocker blocks the first Lock call until release is closed.
type gateLocker struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGateLocker() *gateLocker {
	return &gateLocker{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gateLocker) Lock(ctx context.Context, _ string) (func(), error) {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return func() {}, nil
}

func TestCancelRunningBatch(t *testing.T) {
	gate := newGateLocker()
	h := newHarness(t, Config{}, gate)
	ctx := context.Background()

	res, err := h.svc.Submit(ctx, Submission{FilePath: h.writeCSV(t, "cases.csv", fiveRows)})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	d, err := h.queue.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}

	type result struct {
		batch importing.ImportBatch
		err   error
	}
	done := make(chan result, 1)
	go func() {
		batch, err := h.svc.Processor().Process(ctx, d.Job())
		done <- result{batch: batch, err: err}
	}()

	<-gate.entered
	if stats := h.svc.Stats(ctx); stats.ActiveWorkers != 1 {
		t.Fatalf("Stats().ActiveWorkers = %d, want 1", stats.ActiveWorkers)
	}
	cancelled, err := h.svc.Cancel(ctx, res.BatchID)
	if err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if !cancelled.Signalled {
		t.Fatalf("Cancel() = %+v, want signalled", cancelled)
	}
	close(gate.release)

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Process() error = %v", r.err)
		}
		if r.batch.Status != importing.StatusFailed {
			t.Fatalf("status = %s, want FAILED", r.batch.Status)
		}
		last := r.batch.ErrorLogs[len(r.batch.ErrorLogs)-1]
		if !strings.HasPrefix(last, "CANCELLED: ") {
			t.Fatalf("terminal log = %q", last)
		}
		if err := r.batch.CheckCounters(); err != nil {
			t.Fatalf("CheckCounters() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Process() did not stop after cancel")
	}
	if h.owners.Active() != 0 {
		t.Fatalf("ownership not released")
	}
}

// stallLocker blocks every Lock call until ctx ends.
type stallLocker struct{}

func (stallLocker) Lock(ctx context.Context, _ string) (func(), error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestJobTimeoutFailsBatch(t *testing.T) {
	h := newHarness(t, Config{JobTimeout: 50 * time.Millisecond}, stallLocker{})
	ctx := context.Background()

	if _, err := h.svc.Submit(ctx, Submission{FilePath: h.writeCSV(t, "cases.csv", fiveRows)}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	final := h.runNext(t)

	if final.Status != importing.StatusFailed {
		t.Fatalf("status = %s, want FAILED", final.Status)
	}
	last := final.ErrorLogs[len(final.ErrorLogs)-1]
	if !strings.HasPrefix(last, "TIMEOUT: ") {
		t.Fatalf("terminal log = %q", last)
	}
	if err := final.CheckCounters(); err != nil {
		t.Fatalf("CheckCounters() error = %v", err)
	}
}

func TestProcessSkipsFinalizedBatch(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	res, err := h.svc.Submit(ctx, Submission{FilePath: h.writeCSV(t, "cases.csv", fiveRows)})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	d, err := h.queue.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if _, err := h.svc.Processor().Process(ctx, d.Job()); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	_, err = h.svc.Processor().Process(ctx, d.Job())
	if !errors.Is(err, ErrJobSkipped) {
		t.Fatalf("Process() redelivery error = %v, want ErrJobSkipped", err)
	}
	if _, err := h.svc.Processor().Process(ctx, importing.ImportJob{BatchID: "unknown"}); !errors.Is(err, ErrJobSkipped) {
		t.Fatalf("Process() unknown batch error = %v, want ErrJobSkipped", err)
	}
	view, err := h.svc.Status(ctx, res.BatchID)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if view.TotalRecords != 5 {
		t.Fatalf("redelivery changed counters: %+v", view)
	}
}

func TestStatusUnknownBatch(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	if _, err := h.svc.Status(context.Background(), "nope"); !errors.Is(err, ports.ErrBatchNotFound) {
		t.Fatalf("Status() error = %v, want ErrBatchNotFound", err)
	}
	if _, err := h.svc.ListErrors(context.Background(), "nope", 1, 10); !errors.Is(err, ports.ErrBatchNotFound) {
		t.Fatalf("ListErrors() error = %v, want ErrBatchNotFound", err)
	}
}

func TestRepairBatches(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	ctx := context.Background()

	broken := importing.ImportBatch{ID: "broken", Filename: "a.csv", Checksum: "x", Status: importing.StatusCompleted}
	if err := h.batches.CreateBatch(ctx, broken); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	ids, err := h.svc.RepairBatches(ctx)
	if err != nil {
		t.Fatalf("RepairBatches() error = %v", err)
	}
	if len(ids) != 1 || ids[0] != "broken" {
		t.Fatalf("RepairBatches() = %v", ids)
	}
	view, err := h.svc.Status(ctx, "broken")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if view.Status != importing.StatusFailed {
		t.Fatalf("status = %s, want FAILED", view.Status)
	}
}
