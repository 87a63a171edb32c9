package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"designgraph/application/services"
	"designgraph/domain/approval"
	"designgraph/domain/core/aggregates"
	"designgraph/domain/policy"
	pkgerrors "designgraph/pkg/errors"
)

// ApprovalHandler serves the approval queue and mutation intake
type ApprovalHandler struct {
	approvals    *services.ApprovalService
	mutations    *services.MutationService
	logger       *zap.Logger
	errorHandler *pkgerrors.ErrorHandler
}

// NewApprovalHandler creates a new approval handler
func NewApprovalHandler(
	approvals *services.ApprovalService,
	mutations *services.MutationService,
	logger *zap.Logger,
	errorHandler *pkgerrors.ErrorHandler,
) *ApprovalHandler {
	return &ApprovalHandler{
		approvals:    approvals,
		mutations:    mutations,
		logger:       logger,
		errorHandler: errorHandler,
	}
}

// ProposeApprovalRequest represents the request body for queuing a patch
type ProposeApprovalRequest struct {
	ApprovalID  string           `json:"approval_id,omitempty" validate:"omitempty,max=128"`
	SessionID   string           `json:"session_id" validate:"required,max=128"`
	TenantID    string           `json:"tenant_id,omitempty"`
	Task        string           `json:"task,omitempty"`
	RequestID   string           `json:"request_id,omitempty"`
	ActionType  string           `json:"action_type,omitempty"`
	Confidence  float64          `json:"confidence" validate:"gte=0,lte=1"`
	Reason      string           `json:"reason,omitempty"`
	RequestedBy string           `json:"requested_by,omitempty"`
	Patch       aggregates.Patch `json:"patch"`
}

// DecisionRequest represents the request body for deciding an approval
type DecisionRequest struct {
	Decision string `json:"decision" validate:"required,oneof=approve reject"`
	Approver string `json:"approver" validate:"required,max=128"`
}

// SubmitMutationRequest represents a candidate patch from a planner
type SubmitMutationRequest struct {
	TenantID        string           `json:"tenant_id" validate:"required"`
	ActionType      string           `json:"action_type" validate:"required"`
	Confidence      float64          `json:"confidence" validate:"gte=0,lte=1"`
	Task            string           `json:"task,omitempty"`
	RequestID       string           `json:"request_id,omitempty"`
	RequestedBy     string           `json:"requested_by,omitempty"`
	ApprovalID      string           `json:"approval_id,omitempty" validate:"omitempty,max=128"`
	ExpectedVersion *int             `json:"expected_version,omitempty" validate:"omitempty,gte=0"`
	Patch           aggregates.Patch `json:"patch"`
}

// MutationResponse reports how a candidate patch was routed
type MutationResponse struct {
	Decision      policy.Decision           `json:"decision"`
	FailClosed    bool                      `json:"fail_closed"`
	PolicyVersion int                       `json:"policy_version"`
	Applied       bool                      `json:"applied"`
	Graph         *GraphSummary             `json:"graph,omitempty"`
	Approval      *approval.PendingApproval `json:"approval,omitempty"`
}

// ListApprovalsResponse is the response for listing a session's approvals
type ListApprovalsResponse struct {
	Approvals []*approval.PendingApproval `json:"approvals"`
	Count     int                         `json:"count"`
}

// SubmitMutation handles POST /sessions/{sessionID}/mutations
func (h *ApprovalHandler) SubmitMutation(w http.ResponseWriter, r *http.Request) {
	var req SubmitMutationRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	res, err := h.mutations.Submit(r.Context(), services.MutationRequest{
		TenantID:        req.TenantID,
		SessionID:       chi.URLParam(r, "sessionID"),
		ActionType:      req.ActionType,
		Confidence:      req.Confidence,
		Task:            req.Task,
		RequestID:       req.RequestID,
		RequestedBy:     req.RequestedBy,
		ApprovalID:      req.ApprovalID,
		ExpectedVersion: req.ExpectedVersion,
		Patch:           req.Patch,
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	resp := MutationResponse{
		Decision:      res.Decision,
		FailClosed:    res.FailClosed,
		PolicyVersion: res.PolicyVersion,
		Applied:       res.Applied(),
		Approval:      res.Approval,
	}
	status := http.StatusAccepted
	if res.Applied() {
		summary := summarize(res.Graph)
		resp.Graph = &summary
		status = http.StatusOK
		setVersion(w, res.Graph.Version())
	}
	respondJSON(w, h.logger, status, resp)
}

// ListApprovals handles GET /sessions/{sessionID}/approvals
func (h *ApprovalHandler) ListApprovals(w http.ResponseWriter, r *http.Request) {
	status := approval.Status(r.URL.Query().Get("status"))
	recs, err := h.approvals.List(r.Context(), chi.URLParam(r, "sessionID"), status)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	if recs == nil {
		recs = []*approval.PendingApproval{}
	}
	respondJSON(w, h.logger, http.StatusOK, ListApprovalsResponse{Approvals: recs, Count: len(recs)})
}

// ProposeApproval handles POST /approvals
func (h *ApprovalHandler) ProposeApproval(w http.ResponseWriter, r *http.Request) {
	var req ProposeApprovalRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	rec, err := h.approvals.Propose(r.Context(), approval.Proposal{
		ApprovalID:  req.ApprovalID,
		SessionID:   req.SessionID,
		TenantID:    req.TenantID,
		Task:        req.Task,
		RequestID:   req.RequestID,
		ActionType:  req.ActionType,
		Confidence:  req.Confidence,
		Reason:      req.Reason,
		RequestedBy: req.RequestedBy,
		Patch:       req.Patch,
	})
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	respondJSON(w, h.logger, http.StatusCreated, rec)
}

// GetApproval handles GET /approvals/{approvalID}
func (h *ApprovalHandler) GetApproval(w http.ResponseWriter, r *http.Request) {
	rec, err := h.approvals.Get(r.Context(), chi.URLParam(r, "approvalID"))
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	respondJSON(w, h.logger, http.StatusOK, rec)
}

// DecideApproval handles POST /approvals/{approvalID}/decision
func (h *ApprovalHandler) DecideApproval(w http.ResponseWriter, r *http.Request) {
	var req DecisionRequest
	if err := decodeAndValidate(r, &req); err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}

	rec, err := h.approvals.Decide(r.Context(), chi.URLParam(r, "approvalID"), approval.Decision(req.Decision), req.Approver)
	if err != nil {
		h.errorHandler.Handle(w, r, err)
		return
	}
	if rec.AppliedVersion > 0 {
		setVersion(w, rec.AppliedVersion)
	}
	respondJSON(w, h.logger, http.StatusOK, rec)
}
