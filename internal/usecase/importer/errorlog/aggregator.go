package errorlog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"caseimport/internal/domain/importing"
	"caseimport/internal/errs"
)

// DetailWriter is the slice of ports.BatchRepository the aggregator needs.
type DetailWriter interface {
	AppendErrorDetails(ctx context.Context, details []importing.ImportErrorDetail) error
}

// Aggregator collects row failures for one batch in row order. A failed
// flush leaves entries pending for the next one. Once persisted, only the
// first MaxBatchErrorLogs log lines are kept in memory.
// It is not safe for concurrent use.
type Aggregator struct {
	batchID    string
	writer     DetailWriter
	flushEvery int
	now        func() time.Time

	pending   []importing.ImportErrorDetail
	summary   []string
	count     int
	persisted int
}

func New(batchID string, writer DetailWriter, flushEvery int) *Aggregator {
	if flushEvery <= 0 {
		flushEvery = 1
	}
	return &Aggregator{
		batchID:    batchID,
		writer:     writer,
		flushEvery: flushEvery,
		now:        time.Now,
	}
}

// Record stamps and buffers one detail.
func (a *Aggregator) Record(detail importing.ImportErrorDetail) importing.ImportErrorDetail {
	if detail.ID == "" {
		detail.ID = uuid.NewString()
	}
	detail.BatchID = a.batchID
	if detail.CreatedAt.IsZero() {
		detail.CreatedAt = a.now().UTC()
	}
	a.pending = append(a.pending, detail)
	a.count++
	if len(a.summary) < importing.MaxBatchErrorLogs {
		a.summary = append(a.summary, detail.LogLine())
	}
	return detail
}

// Due reports whether enough entries are pending to warrant a flush.
func (a *Aggregator) Due() bool {
	return len(a.pending) >= a.flushEvery
}

// Pending returns the entries not yet persisted, oldest first.
func (a *Aggregator) Pending() []importing.ImportErrorDetail {
	out := make([]importing.ImportErrorDetail, len(a.pending))
	copy(out, a.pending)
	return out
}

// MarkFlushed records that the oldest n pending entries were committed.
// Callers that write Pending inside their own transaction call it after commit.
func (a *Aggregator) MarkFlushed(n int) {
	if n > len(a.pending) {
		n = len(a.pending)
	}
	if n <= 0 {
		return
	}
	a.pending = append([]importing.ImportErrorDetail(nil), a.pending[n:]...)
	a.persisted += n
}

// Flush writes all pending entries through the writer.
func (a *Aggregator) Flush(ctx context.Context) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if len(a.pending) == 0 {
		return nil
	}
	batch := a.Pending()
	if err := a.writer.AppendErrorDetails(ctx, batch); err != nil {
		return errs.Wrapf(err, "flush %d error details", len(batch))
	}
	a.MarkFlushed(len(batch))
	return nil
}

// Count is the number of recorded entries, persisted or not.
func (a *Aggregator) Count() int {
	return a.count
}

func (a *Aggregator) Persisted() int {
	return a.persisted
}

// Summary returns at most n log lines, oldest first. n <= 0 returns every
// retained line.
func (a *Aggregator) Summary(n int) []string {
	if n <= 0 || n > len(a.summary) {
		n = len(a.summary)
	}
	return append([]string(nil), a.summary[:n]...)
}
