package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/refdata"
)

// ListRules returns the rules currently loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.Engine.GetLoadedRules()

	writeJSON(w, http.StatusOK, map[string]any{
		"rules":  loaded,
		"count":  len(loaded),
		"source": "database",
	})
}

// GetRule returns one loaded rule.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	for _, rule := range h.Engine.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}
	writeError(w, http.StatusNotFound, "rule not found")
}

// CreateRule validates a rule and stores it globally. It takes effect
// after POST /rules/reload.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rule domain.ViolationRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}
	if rule.ID == "" || rule.Name == "" || rule.Expression == "" || rule.CaseType == "" {
		writeError(w, http.StatusBadRequest, "id, name, caseType and expression are required")
		return
	}
	for _, band := range rule.Bands {
		if band.Severity != "" && !band.Severity.Valid() {
			writeError(w, http.StatusBadRequest, "unknown band severity "+string(band.Severity))
			return
		}
	}

	rule.TenantID = domain.AllTenants
	if rule.Version == "" {
		rule.Version = "1.0.0"
	}

	if err := h.Engine.ValidateRule(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid CEL expression: "+err.Error())
		return
	}

	if err := h.Repo.SaveViolationRule(ctx, domain.AllTenants, &rule); err != nil {
		writeServiceError(w, err)
		return
	}

	slog.Info("rule created", "id", rule.ID, "caseType", rule.CaseType, "enabled", rule.Enabled)
	writeJSON(w, http.StatusCreated, map[string]any{
		"rule":    rule,
		"message": "Rule created. Call POST /rules/reload to apply changes.",
	})
}

// ReloadRules hot-reloads the global rules from the repository.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	n, err := h.Engine.ReloadFrom(r.Context(), h.Repo)
	if err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to reload rules: "+err.Error())
		return
	}

	slog.Info("rules reloaded from database", "count", n)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "rules reloaded successfully",
		"count":   n,
	})
}

// SeedReference loads the built-in MCC and tax rule catalog for the
// tenant and seeds the default rules if none are stored.
func (h *Handler) SeedReference(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	catalog, err := refdata.Load()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	res, err := refdata.Seed(ctx, h.Repo, tenantID, catalog)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	if err := h.Detector.InvalidateCitations(ctx, tenantID, res.MCCCodes); err != nil {
		slog.Warn("failed to invalidate citations", "tenant", tenantID, "error", err)
	}

	n, err := refdata.SeedDefaultRules(ctx, h.Repo)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	res.RulesSeeded = n
	if n > 0 {
		if _, err := h.Engine.ReloadFrom(ctx, h.Repo); err != nil {
			writeServiceError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, res)
}
