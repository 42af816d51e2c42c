package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"caseimport/internal/bootstrap/logging"
	"caseimport/internal/domain/importing"
	"caseimport/internal/errs"
	"caseimport/internal/ports"
	"caseimport/internal/usecase/importer"
)

// ImportService is the part of importer.Service the HTTP surface needs.
type ImportService interface {
	Submit(ctx context.Context, sub importer.Submission) (importer.SubmitResult, error)
	Status(ctx context.Context, batchID string) (importer.BatchStatusView, error)
	ListErrors(ctx context.Context, batchID string, page int, pageSize int) (importer.ErrorPage, error)
	Cancel(ctx context.Context, batchID string) (importer.CancelResult, error)
	Stats(ctx context.Context) importer.QueueStats
}

type Handler struct {
	svc ImportService
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiResponse struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

func NewHandler(svc ImportService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	var sub importer.Submission
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&sub); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return
	}

	out, err := h.svc.Submit(r.Context(), sub)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, apiResponse{Data: out})
}

func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Status(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: out})
}

func (h *Handler) ListBatchErrors(w http.ResponseWriter, r *http.Request) {
	page, ok := queryInt(r, "page")
	if !ok {
		writeError(w, http.StatusBadRequest, "bad_request", "page must be a positive integer")
		return
	}
	pageSize, ok := queryInt(r, "page_size")
	if !ok || pageSize > 500 {
		writeError(w, http.StatusBadRequest, "bad_request", "page_size must be between 1 and 500")
		return
	}

	out, err := h.svc.ListErrors(r.Context(), chi.URLParam(r, "batchID"), page, pageSize)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Data: out})
}

func (h *Handler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Cancel(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, apiResponse{Data: out})
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, apiResponse{Data: h.svc.Stats(r.Context())})
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, importing.ErrInvalidSubmission):
		writeError(w, http.StatusBadRequest, "invalid_submission", err.Error())
	case errors.Is(err, importing.ErrDuplicateSubmission):
		writeError(w, http.StatusConflict, "duplicate_submission", "a batch for this file is already pending or processing")
	case errors.Is(err, ports.ErrBatchNotFound):
		writeError(w, http.StatusNotFound, "batch_not_found", "import batch not found")
	case errors.Is(err, importing.ErrBatchTerminal):
		writeError(w, http.StatusConflict, "batch_terminal", "import batch is already finalized")
	case errors.Is(err, importing.ErrBatchNotOwned):
		writeError(w, http.StatusConflict, "batch_not_owned", "import batch is being processed by another worker")
	case errors.Is(err, ports.ErrQueueUnavailable), errors.Is(err, ports.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "job queue is not accepting jobs")
	default:
		logging.Error(logging.WithAttrs(r.Context(), slog.String("component", "httpapi")),
			"request failed", slog.String("path", r.URL.Path), slog.Any("err", errs.Loggable(err)))
		writeError(w, http.StatusInternalServerError, "internal_error", "request failed")
	}
}

// queryInt reads an optional positive integer; 0 means absent.
func queryInt(r *http.Request, name string) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, apiResponse{Error: &errorBody{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
