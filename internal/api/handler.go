package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/liquidity/internal/domain"
	"github.com/opensource-finance/liquidity/internal/history"
	"github.com/opensource-finance/liquidity/internal/metrics"
	"github.com/opensource-finance/liquidity/internal/repository"
	"github.com/opensource-finance/liquidity/internal/rules"
	"github.com/opensource-finance/liquidity/internal/worker"
)

// Handler holds dependencies for API handlers.
type Handler struct {
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	registry *rules.Registry
	runner   *worker.Runner
	history  *history.Service
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(repo domain.Repository, cache domain.Cache, bus domain.EventBus, registry *rules.Registry, runner *worker.Runner, hist *history.Service, version string) *Handler {
	return &Handler{
		repo:     repo,
		cache:    cache,
		bus:      bus,
		registry: registry,
		runner:   runner,
		history:  hist,
		version:  version,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check event bus health
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil || h.registry.RulesCount() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
			"error": "no calculation rules loaded",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// IngestLineItems handles POST /line-items. The batch is stored atomically;
// a line item that already exists rejects the whole batch.
func (h *Handler) IngestLineItems(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var batch domain.LineItemBatch
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if batch.SubmissionID == "" || len(batch.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "submissionId and at least one item are required",
		})
		return
	}
	reportingDate, err := domain.ParseReportingDate(batch.ReportingDate)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "reportingDate must be YYYY-MM-DD",
		})
		return
	}

	if err := prepareLineItems(batch.Items, tenantID, batch.SubmissionID, reportingDate); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	if err := h.repo.SaveLineItems(ctx, tenantID, batch.Items); err != nil {
		switch {
		case errors.Is(err, repository.ErrConflict):
			writeJSON(w, http.StatusConflict, map[string]string{
				"error": err.Error(),
			})
		case errors.Is(err, repository.ErrInvalidInput):
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
		default:
			slog.Error("failed to save line items",
				"submission_id", batch.SubmissionID,
				"error", err,
			)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save line items",
			})
		}
		return
	}

	metrics.AddLineItemsIngested(len(batch.Items))
	slog.Info("line items ingested",
		"tenant_id", tenantID,
		"submission_id", batch.SubmissionID,
		"reporting_date", batch.ReportingDate,
		"count", len(batch.Items),
	)

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"submissionId":  batch.SubmissionID,
		"reportingDate": batch.ReportingDate,
		"count":         len(batch.Items),
	})
}

// ExpectedRequest is the request body for POST /expected.
type ExpectedRequest struct {
	SubmissionID  string             `json:"submissionId"`
	ReportingDate string             `json:"reportingDate"`
	Ratio         domain.RatioType   `json:"ratio"`
	Values        map[string]float64 `json:"values"`
}

// SaveExpected handles POST /expected. Later figures for the same key
// replace earlier ones in validation; history is kept.
func (h *Handler) SaveExpected(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var req ExpectedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	expected, err := expectedFigures(req.SubmissionID, req.ReportingDate, req.Ratio, req.Values)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}
	if len(expected.Values) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "at least one expected value is required",
		})
		return
	}
	expected.TenantID = tenantID

	if err := h.repo.SaveExpected(ctx, tenantID, expected); err != nil {
		if errors.Is(err, repository.ErrInvalidInput) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": err.Error(),
			})
			return
		}
		slog.Error("failed to save expected figures",
			"submission_id", req.SubmissionID,
			"error", err,
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save expected figures",
		})
		return
	}

	writeJSON(w, http.StatusCreated, expected)
}

// ListRules returns the rules currently loaded in the registry.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.registry.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// GetRule retrieves a rule by code. Loaded rules are served first; disabled
// rules are read from the rule table.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	for _, rule := range h.registry.GetLoadedRules() {
		if rule.Code == code {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	rule, err := h.repo.GetRule(r.Context(), rules.GlobalTenantID, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{
				"error": "rule not found",
			})
			return
		}
		slog.Error("failed to get rule", "code", code, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to get rule",
		})
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// CreateRule validates a rule, saves it to the global rule table and
// reloads the registry so the next run uses it. Saving an existing code
// replaces that rule.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.CalculationRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}

	if err := h.registry.ValidateRule(&rule); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":  err.Error(),
			"reason": domain.ReasonInvalidRule,
		})
		return
	}

	if rule.Version == "" {
		rule.Version = "custom"
	}
	rule.TenantID = rules.GlobalTenantID

	if err := h.repo.SaveRule(ctx, rules.GlobalTenantID, &rule); err != nil {
		slog.Error("failed to save rule", "code", rule.Code, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to save rule",
		})
		return
	}

	count, err := rules.LoadFromRepository(ctx, h.repo, h.registry)
	if err != nil {
		// The stored table no longer compiles as a whole; keep serving the
		// previous rule set.
		slog.Error("failed to reload rules after save", "code", rule.Code, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "rule saved but reload failed: " + err.Error(),
		})
		return
	}

	slog.Info("rule saved", "code", rule.Code, "family", rule.Family, "enabled", rule.Enabled)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":        rule,
		"rulesLoaded": h.registry.RulesCount(),
		"rulesStored": count,
	})
}

// ReloadRules reloads all rules from the database into the registry.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	count, err := rules.LoadFromRepository(r.Context(), h.repo, h.registry)
	if err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules: " + err.Error(),
		})
		return
	}

	slog.Info("rules reloaded from database", "count", count)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   h.registry.RulesCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
