package services

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"designgraph/application/policycache"
	"designgraph/domain/approval"
	"designgraph/domain/core/aggregates"
	"designgraph/domain/policy"
	pkgerrors "designgraph/pkg/errors"
)

// PolicyDecider classifies candidate mutations for a tenant
type PolicyDecider interface {
	Decide(ctx context.Context, tenantID, actionType string, confidence float64) (policy.Decision, policycache.Result)
}

// MutationRequest is a candidate patch produced by a planner or tool
type MutationRequest struct {
	TenantID        string
	SessionID       string
	ActionType      string
	Confidence      float64
	Task            string
	RequestID       string
	RequestedBy     string
	ApprovalID      string
	ExpectedVersion *int
	Patch           aggregates.Patch
}

// MutationResult reports what happened to a candidate patch. Exactly one of
// Graph and Approval is set.
type MutationResult struct {
	Decision      policy.Decision
	FailClosed    bool
	PolicyVersion int
	Graph         *aggregates.Graph
	Approval      *approval.PendingApproval
}

// Applied reports whether the patch was committed directly
func (r MutationResult) Applied() bool {
	return r.Graph != nil
}

// MutationService routes candidate patches: allowed ones are applied
// directly, denied ones are queued for review.
type MutationService struct {
	policies  PolicyDecider
	graphs    *GraphService
	approvals *ApprovalService
	logger    *zap.Logger
}

// NewMutationService creates a new mutation service
func NewMutationService(policies PolicyDecider, graphs *GraphService, approvals *ApprovalService, logger *zap.Logger) *MutationService {
	return &MutationService{
		policies:  policies,
		graphs:    graphs,
		approvals: approvals,
		logger:    logger,
	}
}

// Submit classifies and routes one candidate patch
func (s *MutationService) Submit(ctx context.Context, req MutationRequest) (res MutationResult, err error) {
	ctx, span := startSpan(ctx, "MutationService.Submit")
	span.SetAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.String("session.id", req.SessionID),
		attribute.String("mutation.action_type", req.ActionType),
		attribute.Float64("mutation.confidence", req.Confidence),
	)
	defer func() { endSpan(span, err) }()

	if req.TenantID == "" {
		return MutationResult{}, pkgerrors.NewValidationError("tenant_id is required")
	}
	if req.ActionType == "" {
		return MutationResult{}, pkgerrors.NewValidationError("action_type is required")
	}
	if req.Confidence < 0 || req.Confidence > 1 {
		return MutationResult{}, pkgerrors.NewValidationErrorf("confidence must be within [0,1], got %v", req.Confidence)
	}
	if err := req.Patch.Validate(); err != nil {
		return MutationResult{}, err
	}

	decision, pol := s.policies.Decide(ctx, req.TenantID, req.ActionType, req.Confidence)
	res = MutationResult{
		Decision:      decision,
		FailClosed:    pol.FailClosed,
		PolicyVersion: pol.Document.Version,
	}
	span.SetAttributes(
		attribute.String("policy.result", string(decision.Result)),
		attribute.String("policy.reason", string(decision.Reason)),
	)
	s.logger.Info("mutation classified",
		zap.String("tenant_id", req.TenantID),
		zap.String("session_id", req.SessionID),
		zap.String("action_type", req.ActionType),
		zap.String("result", string(decision.Result)),
		zap.String("reason", string(decision.Reason)),
		zap.Bool("fail_closed", pol.FailClosed),
	)

	if decision.Allowed() {
		expected := 0
		if req.ExpectedVersion != nil {
			expected = *req.ExpectedVersion
		} else {
			head, err := s.graphs.GetGraph(ctx, req.SessionID)
			if err != nil {
				return MutationResult{}, err
			}
			expected = head.Version()
		}
		next, err := s.graphs.ApplyPatch(ctx, req.SessionID, expected, req.Patch)
		if err != nil {
			return MutationResult{}, err
		}
		res.Graph = next
		return res, nil
	}

	rec, err := s.approvals.Propose(ctx, approval.Proposal{
		ApprovalID:  req.ApprovalID,
		SessionID:   req.SessionID,
		TenantID:    req.TenantID,
		Task:        req.Task,
		RequestID:   req.RequestID,
		ActionType:  req.ActionType,
		Confidence:  req.Confidence,
		Reason:      string(decision.Reason),
		RequestedBy: req.RequestedBy,
		Patch:       req.Patch,
	})
	if err != nil {
		return MutationResult{}, err
	}
	res.Approval = rec
	return res, nil
}
