package api

import (
	"net/http"
	"strconv"

	"github.com/opensource-finance/kestrel/internal/reporting"
)

// GetEvals returns the stored metrics snapshot. ?refresh=true recomputes
// and saves it first.
func (h *Handler) GetEvals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if refresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh")); refresh {
		snap, err := h.Evals.Refresh(ctx, tenantID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
		return
	}

	snap, err := h.Evals.Latest(ctx, tenantID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// MonthlyReport handles GET /reports/monthly?year=&month=. Missing
// parameters default to the current month.
func (h *Handler) MonthlyReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.now().In(h.Location)

	year, ok := intParam(w, r, "year", now.Year())
	if !ok {
		return
	}
	month, ok := intParam(w, r, "month", int(now.Month()))
	if !ok {
		return
	}

	report, err := h.Reports.Monthly(ctx, GetTenantID(ctx), year, month)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// QuarterlyReport handles GET /reports/quarterly?year=&quarter=.
func (h *Handler) QuarterlyReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	now := h.now().In(h.Location)

	year, ok := intParam(w, r, "year", now.Year())
	if !ok {
		return
	}
	quarter, ok := intParam(w, r, "quarter", (int(now.Month())-1)/3+1)
	if !ok {
		return
	}

	report, err := h.Reports.Quarterly(ctx, GetTenantID(ctx), year, quarter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// RuleEffectivenessReport handles GET /reports/rules.
func (h *Handler) RuleEffectivenessReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	report, err := h.Reports.RuleEffectiveness(ctx, GetTenantID(ctx))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// TrendsReport handles GET /reports/trends.
func (h *Handler) TrendsReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	report, err := h.Reports.Trends(ctx, GetTenantID(ctx))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// intParam reads an integer query parameter. It writes a 400 and returns
// false when the value does not parse.
func intParam(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, reporting.ErrInvalidPeriod.Error()+": "+name+" must be an integer")
		return 0, false
	}
	return v, true
}
