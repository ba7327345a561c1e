package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/liquidity/internal/bus"
	"github.com/opensource-finance/liquidity/internal/domain"
	"github.com/opensource-finance/liquidity/internal/history"
	"github.com/opensource-finance/liquidity/internal/pipeline"
	"github.com/opensource-finance/liquidity/internal/worker"
)

// CreateRun handles POST /runs. The run executes synchronously unless
// ?async=true, in which case a run request is published and 202 returned.
func (h *Handler) CreateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	var req domain.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if req.SubmissionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "submissionId is required",
		})
		return
	}
	if !req.Ratio.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("ratio must be %s or %s", domain.RatioLCR, domain.RatioNSFR),
		})
		return
	}
	reportingDate, err := domain.ParseReportingDate(req.ReportingDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "reportingDate must be YYYY-MM-DD",
		})
		return
	}

	if r.URL.Query().Get("async") == "true" {
		h.requestRun(w, r, req, tenantID, traceID)
		return
	}

	runReq := worker.Request{
		TenantID:      tenantID,
		SubmissionID:  req.SubmissionID,
		ReportingDate: reportingDate,
		Ratio:         req.Ratio,
		TraceID:       traceID,
	}
	if req.LineItems != nil {
		if err := prepareLineItems(req.LineItems, tenantID, req.SubmissionID, reportingDate); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		runReq.LineItems = req.LineItems
	}
	if req.Expected != nil {
		expected, err := expectedFigures(req.SubmissionID, req.ReportingDate, req.Ratio, req.Expected)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		expected.TenantID = tenantID
		runReq.Expected = expected
	}

	run, err := h.runner.Execute(ctx, runReq)
	if err != nil {
		switch {
		case errors.Is(err, pipeline.ErrInvalidInput):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"error": "run cancelled",
			})
		default:
			slog.Error("run failed",
				"tenant_id", tenantID,
				"submission_id", req.SubmissionID,
				"error", err,
			)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "run failed",
			})
		}
		return
	}

	writeJSON(w, http.StatusCreated, run)
}

// requestRun publishes a run request for the async worker.
func (h *Handler) requestRun(w http.ResponseWriter, r *http.Request, req domain.RunRequest, tenantID, traceID string) {
	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}
	if req.LineItems != nil || req.Expected != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "async runs read stored inputs; ingest line items and expected figures first",
		})
		return
	}

	msg := domain.RunRequestedMessage{
		TenantID:      tenantID,
		SubmissionID:  req.SubmissionID,
		ReportingDate: req.ReportingDate,
		Ratio:         req.Ratio,
		TraceID:       traceID,
	}
	if err := bus.PublishJSON(r.Context(), h.bus, tenantID, domain.TopicRunRequested, msg); err != nil {
		slog.Error("failed to publish run request",
			"submission_id", req.SubmissionID,
			"error", err,
		)
		status := http.StatusInternalServerError
		if errors.Is(err, bus.ErrBufferFull) || errors.Is(err, bus.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{
			"error": "failed to queue run",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":        "accepted",
		"submissionId":  req.SubmissionID,
		"reportingDate": req.ReportingDate,
		"ratio":         req.Ratio,
		"traceId":       traceID,
	})
}

// GetRun retrieves a run result by ID.
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")

	result, err := h.history.GetRun(ctx, GetTenantID(ctx), runID)
	if err != nil {
		writeRunError(w, runID, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetRunBreakdowns retrieves the breakdown rows of a run.
func (h *Handler) GetRunBreakdowns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := chi.URLParam(r, "id")

	rows, err := h.history.Breakdowns(ctx, GetTenantID(ctx), runID)
	if err != nil {
		writeRunError(w, runID, err)
		return
	}
	if rows == nil {
		rows = []domain.ComponentBreakdown{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"runId":      runID,
		"breakdowns": rows,
		"count":      len(rows),
	})
}

// ListSubmissionRuns returns the run history of a submission, newest first.
// reportingDate and ratio narrow the history when given.
func (h *Handler) ListSubmissionRuns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	submissionID := chi.URLParam(r, "id")

	var reportingDate time.Time
	if v := r.URL.Query().Get("reportingDate"); v != "" {
		d, err := domain.ParseReportingDate(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "reportingDate must be YYYY-MM-DD",
			})
			return
		}
		reportingDate = d
	}

	ratio := domain.RatioType(r.URL.Query().Get("ratio"))
	if ratio != "" && !ratio.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unknown ratio %q", ratio),
		})
		return
	}

	runs, err := h.history.ListRuns(ctx, GetTenantID(ctx), submissionID, reportingDate, ratio)
	if err != nil {
		slog.Error("failed to list runs", "submission_id", submissionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list runs",
		})
		return
	}
	if runs == nil {
		runs = []*domain.ValidationResult{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"submissionId": submissionID,
		"runs":         runs,
		"count":        len(runs),
	})
}

func writeRunError(w http.ResponseWriter, runID string, err error) {
	if history.IsNotFound(err) {
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "run not found",
		})
		return
	}
	slog.Error("failed to get run", "run_id", runID, "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "failed to get run",
	})
}

// prepareLineItems fills the batch identity into each item and validates it.
func prepareLineItems(items []*domain.LineItem, tenantID, submissionID string, reportingDate time.Time) error {
	for i, li := range items {
		if li == nil {
			return fmt.Errorf("item %d is null", i)
		}
		if li.SubmissionID != "" && li.SubmissionID != submissionID {
			return fmt.Errorf("item %s belongs to submission %s", li.ID, li.SubmissionID)
		}
		if !li.ReportingDate.IsZero() && !li.ReportingDate.Equal(reportingDate) {
			return fmt.Errorf("item %s has reporting date %s", li.ID, li.ReportingDate.Format(domain.DateLayout))
		}
		li.TenantID = tenantID
		li.SubmissionID = submissionID
		li.ReportingDate = reportingDate
		if err := li.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func expectedFigures(submissionID, reportingDate string, ratio domain.RatioType, values map[string]float64) (*domain.ExpectedFigures, error) {
	if submissionID == "" {
		return nil, errors.New("submissionId is required")
	}
	if !ratio.Valid() {
		return nil, fmt.Errorf("unknown ratio %q", ratio)
	}
	date, err := domain.ParseReportingDate(reportingDate)
	if err != nil {
		return nil, errors.New("reportingDate must be YYYY-MM-DD")
	}
	return &domain.ExpectedFigures{
		SubmissionID:  submissionID,
		ReportingDate: date,
		Ratio:         ratio,
		Values:        values,
		CreatedAt:     time.Now().UTC(),
	}, nil
}
