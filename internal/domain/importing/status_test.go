package importing

import (
	"errors"
	"strings"
	"testing"
)

func TestDecideFinalStatus(t *testing.T) {
	cases := []struct {
		name string
		in   Outcome
		want BatchStatus
	}{
		{name: "file fatal", in: Outcome{FileFatal: true}, want: StatusFailed},
		{name: "no data rows", in: Outcome{}, want: StatusFailed},
		{name: "all failed", in: Outcome{Failed: 4}, want: StatusFailed},
		{name: "mixed", in: Outcome{Successful: 3, Failed: 2}, want: StatusPartiallyCompleted},
		{name: "all succeeded", in: Outcome{Successful: 5}, want: StatusCompleted},
		{name: "cancelled with commits", in: Outcome{Successful: 2, Abort: AbortCancelled}, want: StatusFailed},
		{name: "timeout with commits", in: Outcome{Successful: 2, Abort: AbortTimeout}, want: StatusFailed},
		{name: "persistence fatal with commits", in: Outcome{Successful: 2, Failed: 1, Abort: AbortPersistenceFatal}, want: StatusPartiallyCompleted},
		{name: "persistence fatal without commits", in: Outcome{Failed: 1, Abort: AbortPersistenceFatal}, want: StatusFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := DecideFinalStatus(tc.in); got != tc.want {
				t.Fatalf("DecideFinalStatus(%+v) = %s, want %s", tc.in, got, tc.want)
			}
		})
	}
}

func TestBatchStatusTransitions(t *testing.T) {
	if !StatusPending.CanTransitionTo(StatusProcessing) {
		t.Fatalf("PENDING -> PROCESSING should be allowed")
	}
	if !StatusPending.CanTransitionTo(StatusFailed) {
		t.Fatalf("PENDING -> FAILED should be allowed")
	}
	if StatusPending.CanTransitionTo(StatusCompleted) {
		t.Fatalf("PENDING -> COMPLETED should be rejected")
	}
	for _, terminal := range []BatchStatus{StatusCompleted, StatusFailed, StatusPartiallyCompleted} {
		if !terminal.IsTerminal() {
			t.Fatalf("%s should be terminal", terminal)
		}
		for _, next := range []BatchStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
			if terminal.CanTransitionTo(next) {
				t.Fatalf("%s -> %s should be rejected", terminal, next)
			}
		}
	}
}

func TestParseBatchStatus(t *testing.T) {
	got, err := ParseBatchStatus(" partially_completed ")
	if err != nil {
		t.Fatalf("ParseBatchStatus() error = %v", err)
	}
	if got != StatusPartiallyCompleted {
		t.Fatalf("ParseBatchStatus() = %s", got)
	}
	if _, err := ParseBatchStatus("DONE"); err == nil {
		t.Fatalf("ParseBatchStatus(DONE) expected error")
	}
}

func TestImportBatchCheckCounters(t *testing.T) {
	ok := ImportBatch{ID: "b1", Status: StatusPartiallyCompleted, TotalRecords: 5, SuccessfulRecords: 3, FailedRecords: 2}
	if err := ok.CheckCounters(); err != nil {
		t.Fatalf("CheckCounters() error = %v", err)
	}

	inFlight := ImportBatch{ID: "b2", Status: StatusProcessing, TotalRecords: 5, SuccessfulRecords: 1}
	if err := inFlight.CheckCounters(); err != nil {
		t.Fatalf("CheckCounters() in-flight error = %v", err)
	}

	short := ImportBatch{ID: "b3", Status: StatusFailed, TotalRecords: 5, SuccessfulRecords: 1}
	if err := short.CheckCounters(); err == nil {
		t.Fatalf("CheckCounters() expected error for terminal batch with unaccounted rows")
	}

	empty := ImportBatch{ID: "b4", Status: StatusCompleted}
	if err := empty.CheckCounters(); err == nil || !strings.Contains(err.Error(), "without successful") {
		t.Fatalf("CheckCounters() error = %v, want completed-without-success", err)
	}
}

func TestDecodeJobValidates(t *testing.T) {
	raw := []byte(`{"filePath":"/in/a.csv","filename":"a.csv","fileSize":10,"checksum":"abc","batchId":"b1","dryRun":true}`)
	job, err := DecodeJob(raw)
	if err != nil {
		t.Fatalf("DecodeJob() error = %v", err)
	}
	if job.BatchID != "b1" || !job.DryRun || job.FileSize != 10 {
		t.Fatalf("DecodeJob() = %+v", job)
	}

	_, err = DecodeJob([]byte(`{"filePath":"/in/a.csv","filename":"a.csv","fileSize":-1,"checksum":"abc","batchId":"b1"}`))
	if !errors.Is(err, ErrInvalidSubmission) {
		t.Fatalf("DecodeJob() error = %v, want ErrInvalidSubmission", err)
	}
}

func TestNaturalKeyNormalize(t *testing.T) {
	a := NaturalKey{CaseNumber: " wp-12 ", CourtCode: "hc", FilingYear: 2021}.Normalize()
	b := NaturalKey{CaseNumber: "WP-12", CourtCode: "HC ", FilingYear: 2021}.Normalize()
	if a != b {
		t.Fatalf("Normalize() %v != %v", a, b)
	}
	if a.String() != "HC/WP-12/2021" {
		t.Fatalf("String() = %q", a.String())
	}
}
