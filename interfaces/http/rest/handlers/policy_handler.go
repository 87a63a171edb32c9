package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"designgraph/application/services"
	"designgraph/domain/policy"
	pkgerrors "designgraph/pkg/errors"
)

// PolicyHandler serves tenant policies and the policy cache
type PolicyHandler struct {
	policies     *services.PolicyService
	logger       *zap.Logger
	errorHandler *pkgerrors.ErrorHandler
}

// NewPolicyHandler creates a new policy handler
func NewPolicyHandler(policies *services.PolicyService, logger *zap.Logger, errorHandler *pkgerrors.ErrorHandler) *PolicyHandler {
	return &PolicyHandler{
		policies:     policies,
		logger:       logger,
		errorHandler: errorHandler,
	}
}

// SavePolicyRequest represents the request body for saving a policy.
// Version is the version being replaced, 0 for a new tenant.
type SavePolicyRequest struct {
	AutoApproveEnabled   bool            `json:"auto_approve_enabled"`
	RiskThresholdDefault float64         `json:"risk_threshold_default" validate:"gte=0,lte=1"`
	ActionWhitelist      []string        `json:"action_whitelist" validate:"omitempty,dive,required"`
	ActionBlacklist      []string        `json:"action_blacklist" validate:"omitempty,dive,required"`
	EnabledDomains       []string        `json:"enabled_domains" validate:"omitempty,dive,required"`
	FeatureFlags         map[string]bool `json:"feature_flags"`
	Version              int             `json:"version" validate:"gte=0"`
}

// PolicyResponse is the cached policy, with a decision when one was asked for
type PolicyResponse struct {
	Policy     policy.Document  `json:"policy"`
	Tier       string           `json:"tier"`
	FailClosed bool             `json:"fail_closed"`
	Decision   *policy.Decision `json:"decision,omitempty"`
}

// GetPolicy handles GET /tenants/{tenantID}/policy. With action_type (and
// optionally confidence) it also previews the decision.
func (h *PolicyHandler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	actionType := r.URL.Query().Get("action_type")

	if actionType == "" {
		res, err := h.policies.Get(r.Context(), tenantID)
		if err != nil {
			h.errorHandler.Handle(w, r, err)
			return
		}
		respondJSON(w, h.logger, http.StatusOK, PolicyResponse{Policy: res.Document, Tier: res.Tier, FailClosed: res.FailClosed})
		return
	}

	confidence := 0.0
	if raw := r.URL.Query().Get("confidence"); raw != "" {
		c, err := strconv.ParseFloat(raw, 64)
		if err != nil || c < 0 || c > 1 {
			h.errorHandler.Handle(w, r, pkgerrors.NewValidationError("confidence must be a number within [0,1]").WithCode(pkgerrors.CodeInvalidRequest))
			return
		}
		confidence = c
	}

	decision, res, err := h.policies.Preview(r.Context(), tenantID, actionType, confidence)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, PolicyResponse{
		Policy:     res.Document,
		Tier:       res.Tier,
		FailClosed: res.FailClosed,
		Decision:   &decision,
	})
}

// SavePolicy handles PUT /tenants/{tenantID}/policy
func (h *PolicyHandler) SavePolicy(w http.ResponseWriter, r *http.Request) {
	var req SavePolicyRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	saved, err := h.policies.Save(r.Context(), policy.Document{
		TenantID:             chi.URLParam(r, "tenantID"),
		AutoApproveEnabled:   req.AutoApproveEnabled,
		RiskThresholdDefault: req.RiskThresholdDefault,
		ActionWhitelist:      req.ActionWhitelist,
		ActionBlacklist:      req.ActionBlacklist,
		EnabledDomains:       req.EnabledDomains,
		FeatureFlags:         req.FeatureFlags,
		Version:              req.Version,
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, saved)
}

// InvalidateTenant handles POST /tenants/{tenantID}/policy/invalidate
func (h *PolicyHandler) InvalidateTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "tenantID")
	if tenantID == "" {
		h.errorHandler.Handle(w, r, pkgerrors.NewValidationError("tenant_id is required"))
		return
	}
	if err := h.policies.Invalidate(r.Context(), tenantID); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InvalidateAll handles POST /policy-cache/invalidate
func (h *PolicyHandler) InvalidateAll(w http.ResponseWriter, r *http.Request) {
	if err := h.policies.Invalidate(r.Context(), ""); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
