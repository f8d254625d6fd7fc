package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/casework"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// DetectCases runs the detector over the tenant's transactions.
func (h *Handler) DetectCases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	summary, err := h.Detector.DetectAndFile(ctx, GetTenantID(ctx))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ListCases lists cases, newest first, filtered by status, severity and
// caseType query parameters.
func (h *Handler) ListCases(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()

	filter := domain.CaseFilter{
		Status:   domain.CaseStatus(q.Get("status")),
		Severity: domain.Severity(q.Get("severity")),
		CaseType: q.Get("caseType"),
	}
	if filter.Severity != "" && !filter.Severity.Valid() {
		writeError(w, http.StatusBadRequest, "unknown severity "+string(filter.Severity))
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	cases, err := h.Repo.ListCases(ctx, GetTenantID(ctx), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if cases == nil {
		cases = []*domain.Case{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cases": cases,
		"count": len(cases),
	})
}

// GetCase returns one case with its reasoning and citations.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	c, err := h.Repo.GetCase(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// ApplyCaseAction approves, rejects or requests a receipt for a case.
func (h *Handler) ApplyCaseAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req casework.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	c, err := h.Cases.Apply(ctx, GetTenantID(ctx), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// GetRejectTemplate returns the reject template for the case's type.
func (h *Handler) GetRejectTemplate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	t, err := h.Cases.RejectTemplate(ctx, GetTenantID(ctx), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"template": t,
		"message":  t.Message(),
		"metadata": t.Metadata(),
	})
}
