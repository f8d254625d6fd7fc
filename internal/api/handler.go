package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/opensource-finance/kestrel/internal/bus"
	"github.com/opensource-finance/kestrel/internal/casework"
	"github.com/opensource-finance/kestrel/internal/detection"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/evals"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/reporting"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Suspicious-transaction listing thresholds.
const (
	suspiciousMinScore = 70
	suspiciousMaxTrust = 50
)

// Deps are the services behind the API. Cache and Bus may be nil.
type Deps struct {
	Repo     domain.Repository
	Cache    domain.Cache
	Bus      domain.EventBus
	Engine   *rules.Engine
	Scorer   *scoring.Service
	Detector *detection.Detector
	Runner   *pipeline.Runner
	Evals    *evals.Service
	Reports  *reporting.Service
	Cases    *casework.Service
	Location *time.Location
	Version  string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	Deps
	now func() time.Time
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	return &Handler{
		Deps: deps,
		now:  time.Now,
	}
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.Repo != nil {
		if err := h.Repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.Cache != nil {
		if err := h.Cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}
	if h.Bus != nil {
		if err := h.Bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.Version,
	})
}

// Ready reports whether the repository is reachable and rules are loaded.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.Repo == nil || h.Repo.Ping(r.Context()) != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
		return
	}
	loaded := 0
	if h.Engine != nil {
		loaded = h.Engine.RulesCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ready":       true,
		"rulesLoaded": loaded,
	})
}

// RunPipeline runs the batch pipeline for the tenant. With ?async=true the
// run is handed to the worker over the event bus.
func (h *Handler) RunPipeline(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if h.Bus == nil {
			writeError(w, http.StatusServiceUnavailable, "event bus not available")
			return
		}
		req := domain.PipelineRequest{
			RunID:       uuid.New().String(),
			TenantID:    tenantID,
			RequestedBy: "api:" + GetTraceID(ctx),
		}
		if err := bus.PublishJSON(ctx, h.Bus, tenantID, domain.TopicPipelineRequested, req); err != nil {
			slog.Error("failed to publish pipeline request", "tenant", tenantID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to queue pipeline run")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"runId":  req.RunID,
			"status": "accepted",
		})
		return
	}

	summary, err := h.Runner.Run(ctx, tenantID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// TransactionView is a transaction with its links and a live score.
type TransactionView struct {
	Transaction *domain.Transaction `json:"transaction"`
	Employee    *domain.Employee    `json:"employee,omitempty"`
	Merchant    *domain.Merchant    `json:"merchant,omitempty"`
	MCC         *domain.MCC         `json:"mcc,omitempty"`
	Breakdown   *scoring.Breakdown  `json:"breakdown,omitempty"`
	ScoreError  string              `json:"scoreError,omitempty"`
}

// GetTransaction returns a transaction with the breakdown it would score
// now. Transactions with a missing link are returned without a breakdown.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	tc, b, err := h.Scorer.Explain(ctx, tenantID, txID)
	if err != nil && !errors.Is(err, domain.ErrIncompleteContext) {
		writeServiceError(w, err)
		return
	}

	view := TransactionView{
		Transaction: tc.Transaction,
		Employee:    tc.Employee,
		Merchant:    tc.Merchant,
		MCC:         tc.MCC,
	}
	if err != nil {
		view.ScoreError = err.Error()
	} else {
		view.Breakdown = &b
	}
	writeJSON(w, http.StatusOK, view)
}

// ListTransactions lists transaction facts. ?suspicious=true narrows to
// high-score transactions at untrusted HIGH_RISK or BLACK merchants.
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var (
		facts []*domain.TransactionFact
		err   error
	)
	if suspicious, _ := strconv.ParseBool(r.URL.Query().Get("suspicious")); suspicious {
		facts, err = h.Repo.ListSuspiciousTransactions(ctx, tenantID, suspiciousMinScore, suspiciousMaxTrust)
	} else {
		facts, err = h.Repo.ListTransactionFacts(ctx, tenantID)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if facts == nil {
		facts = []*domain.TransactionFact{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"transactions": facts,
		"count":        len(facts),
	})
}

// ListEmployees returns per-employee risk, riskiest first.
func (h *Handler) ListEmployees(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	stats, err := h.Repo.ListEmployeeStats(ctx, tenantID, domain.FlagThreshold)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if stats == nil {
		stats = []*domain.EmployeeStats{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"employees": stats,
		"count":     len(stats),
	})
}

// ScoreTransaction scores one transaction and stores the result.
func (h *Handler) ScoreTransaction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	txID := chi.URLParam(r, "id")

	score, err := h.Scorer.Persist(ctx, tenantID, txID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"transactionId": txID,
		"riskScore":     score,
	})
}

// RecomputeScores rescores every transaction of the tenant.
func (h *Handler) RecomputeScores(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	summary, err := h.Scorer.RecomputeAll(ctx, GetTenantID(ctx))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service sentinels to HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound),
		errors.Is(err, casework.ErrNoTemplate):
		return http.StatusNotFound
	case errors.Is(err, repository.ErrInvalidInput),
		errors.Is(err, domain.ErrInvalidAction),
		errors.Is(err, domain.ErrIncompleteContext),
		errors.Is(err, reporting.ErrInvalidPeriod):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrTerminalCase),
		errors.Is(err, pipeline.ErrRunInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
