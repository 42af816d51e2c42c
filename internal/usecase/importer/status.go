package importer

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"caseimport/internal/bootstrap/logging"
	"caseimport/internal/domain/importing"
	"caseimport/internal/errs"
)

const timeLayout = time.RFC3339Nano

// BatchStatusView is the bounded status snapshot of one batch.
type BatchStatusView struct {
	BatchID           string                `json:"batchId"`
	Filename          string                `json:"filename"`
	Status            importing.BatchStatus `json:"status"`
	TotalRecords      int                   `json:"totalRecords"`
	SuccessfulRecords int                   `json:"successfulRecords"`
	FailedRecords     int                   `json:"failedRecords"`
	CreatedRecords    int                   `json:"createdRecords"`
	UpdatedRecords    int                   `json:"updatedRecords"`
	DryRun            bool                  `json:"dryRun"`
	ErrorSummary      []string              `json:"errorSummary"`
	CreatedBy         string                `json:"createdBy,omitempty"`
	CreatedAt         string                `json:"createdAt"`
	StartedAt         string                `json:"startedAt,omitempty"`
	CompletedAt       string                `json:"completedAt,omitempty"`
}

type ErrorDetailView struct {
	RowNumber    int                 `json:"rowNumber"`
	ErrorType    importing.ErrorType `json:"errorType"`
	ErrorMessage string              `json:"errorMessage"`
	RawRowData   string              `json:"rawRowData"`
	CreatedAt    string              `json:"createdAt"`
}

type ErrorPage struct {
	BatchID  string            `json:"batchId"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
	Total    int64             `json:"total"`
	Items    []ErrorDetailView `json:"items"`
}

// QueueStats never carries an error: an unreachable broker shows up as
// BrokerConnected=false with the state and last error filled in.
type QueueStats struct {
	QueueDepth      int    `json:"queueDepth"`
	ActiveWorkers   int    `json:"activeWorkers"`
	BrokerConnected bool   `json:"brokerConnected"`
	BrokerState     string `json:"brokerState"`
	ConnectAttempts int    `json:"connectAttempts,omitempty"`
	LastError       string `json:"lastError,omitempty"`
}

// Status returns ports.ErrBatchNotFound for unknown ids.
func (s *Service) Status(ctx context.Context, batchID string) (BatchStatusView, error) {
	if ctx == nil {
		return BatchStatusView{}, errors.New("context is required")
	}
	batch, err := s.batches.GetBatch(ctx, batchID)
	if err != nil {
		return BatchStatusView{}, err
	}
	return s.statusView(batch), nil
}

func (s *Service) statusView(batch importing.ImportBatch) BatchStatusView {
	summary := batch.ErrorLogs
	if len(summary) > s.cfg.SummarySize {
		summary = summary[:s.cfg.SummarySize]
	}
	if summary == nil {
		summary = []string{}
	}

	view := BatchStatusView{
		BatchID:           batch.ID,
		Filename:          batch.Filename,
		Status:            batch.Status,
		TotalRecords:      batch.TotalRecords,
		SuccessfulRecords: batch.SuccessfulRecords,
		FailedRecords:     batch.FailedRecords,
		CreatedRecords:    batch.CreatedRecords,
		UpdatedRecords:    batch.UpdatedRecords,
		DryRun:            batch.DryRun,
		ErrorSummary:      append([]string(nil), summary...),
		CreatedBy:         batch.CreatedBy,
		CreatedAt:         formatTime(&batch.CreatedAt),
		StartedAt:         formatTime(batch.StartedAt),
		CompletedAt:       formatTime(batch.CompletedAt),
	}
	// Terminal messages past the row bound are always shown.
	if len(batch.ErrorLogs) > len(summary) && batch.Status.IsTerminal() {
		last := batch.ErrorLogs[len(batch.ErrorLogs)-1]
		if !isRowLine(last) {
			view.ErrorSummary = append(view.ErrorSummary, last)
		}
	}
	return view
}

// ListErrors pages through the stored error details in row order.
func (s *Service) ListErrors(ctx context.Context, batchID string, page int, pageSize int) (ErrorPage, error) {
	if ctx == nil {
		return ErrorPage{}, errors.New("context is required")
	}
	if _, err := s.batches.GetBatch(ctx, batchID); err != nil {
		return ErrorPage{}, err
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}

	details, total, err := s.batches.ListErrorDetails(ctx, batchID, page, pageSize)
	if err != nil {
		return ErrorPage{}, errs.Wrap(err, "list error details")
	}
	items := make([]ErrorDetailView, 0, len(details))
	for _, d := range details {
		items = append(items, ErrorDetailView{
			RowNumber:    d.RowNumber,
			ErrorType:    d.ErrorType,
			ErrorMessage: d.ErrorMessage,
			RawRowData:   d.RawRowData,
			CreatedAt:    formatTime(&d.CreatedAt),
		})
	}
	return ErrorPage{BatchID: batchID, Page: page, PageSize: pageSize, Total: total, Items: items}, nil
}

// Stats reports queue depth, local worker activity and broker health.
func (s *Service) Stats(ctx context.Context) QueueStats {
	if ctx == nil {
		ctx = context.Background()
	}
	health := s.queue.Health()
	stats := QueueStats{
		ActiveWorkers:   s.owners.Active(),
		BrokerConnected: health.Connected,
		BrokerState:     health.State,
		ConnectAttempts: health.Attempts,
		LastError:       health.LastError,
	}
	if health.Connected {
		depth, err := s.queue.Depth(ctx)
		if err != nil {
			logging.Warn(logging.WithAttrs(ctx, slog.String("component", "importer.stats")),
				"read queue depth failed", slog.Any("err", errs.Loggable(err)))
			stats.BrokerConnected = false
			stats.LastError = err.Error()
		} else {
			stats.QueueDepth = depth
		}
	}

	s.metrics.queueDepth.Set(float64(stats.QueueDepth))
	if stats.BrokerConnected {
		s.metrics.brokerUp.Set(1)
	} else {
		s.metrics.brokerUp.Set(0)
	}
	return stats
}

// RepairBatches rewrites batches stored as COMPLETED without a single
// successful row to FAILED and returns their ids.
func (s *Service) RepairBatches(ctx context.Context) ([]string, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	note := importing.TerminalLogLine(importing.ErrorTypeInvariant, "completed without successful records; corrected to FAILED")
	ids, err := s.batches.RepairCompletedWithoutSuccess(ctx, note, s.now().UTC().Format(timeLayout))
	if err != nil {
		return nil, errs.Wrap(err, "repair completed batches")
	}
	logging.Info(logging.WithAttrs(ctx, slog.String("component", "importer.maintenance")),
		"repaired batches", slog.Int("count", len(ids)))
	return ids, nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func isRowLine(line string) bool {
	return strings.HasPrefix(line, "row ")
}
