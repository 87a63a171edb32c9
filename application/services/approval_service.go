package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"designgraph/application/ports"
	"designgraph/domain/approval"
	"designgraph/domain/core/aggregates"
	"designgraph/domain/events"
	pkgerrors "designgraph/pkg/errors"
)

// ApprovalService runs the human review queue. Approving re-applies the
// stored patch against the session's current head, never the head seen at
// proposal time.
type ApprovalService struct {
	approvals ports.ApprovalRepository
	graphs    *GraphService
	events    eventSink
	metrics   ports.MetricsCollector
	logger    *zap.Logger
	now       func() time.Time
}

// NewApprovalService creates a new approval service
func NewApprovalService(
	approvals ports.ApprovalRepository,
	graphs *GraphService,
	publisher ports.EventPublisher,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *ApprovalService {
	if metrics == nil {
		metrics = ports.NoOpMetrics{}
	}
	return &ApprovalService{
		approvals: approvals,
		graphs:    graphs,
		events:    eventSink{publisher: publisher, metrics: metrics, logger: logger},
		metrics:   metrics,
		logger:    logger,
		now:       time.Now,
	}
}

// Propose stores a pending approval for an existing session
func (s *ApprovalService) Propose(ctx context.Context, p approval.Proposal) (rec *approval.PendingApproval, err error) {
	ctx, span := startSpan(ctx, "ApprovalService.Propose")
	span.SetAttributes(attribute.String("session.id", p.SessionID), attribute.String("approval.id", p.ApprovalID))
	defer func() { endSpan(span, err) }()

	rec, err = approval.New(p, s.now())
	if err != nil {
		return nil, err
	}
	if _, err := s.graphs.GetGraph(ctx, p.SessionID); err != nil {
		return nil, err
	}
	if err := s.approvals.Create(ctx, rec); err != nil {
		return nil, err
	}

	s.metrics.IncrementCounter(ports.MetricApprovals, map[string]string{"status": string(approval.StatusPending)})
	s.logger.Info("approval proposed",
		zap.String("approval_id", rec.ApprovalID),
		zap.String("session_id", rec.SessionID),
		zap.String("action_type", rec.ActionType),
		zap.String("reason", rec.Reason),
	)
	s.events.publish(ctx, events.NewApprovalProposed(rec.ApprovalID, rec.SessionID, rec.TenantID,
		rec.ActionType, rec.Reason, rec.Confidence, rec.CreatedAt))
	return rec, nil
}

// Get returns one approval record
func (s *ApprovalService) Get(ctx context.Context, approvalID string) (*approval.PendingApproval, error) {
	if approvalID == "" {
		return nil, pkgerrors.NewValidationError("approval_id is required")
	}
	return s.approvals.Get(ctx, approvalID)
}

// List returns a session's approvals in creation order
func (s *ApprovalService) List(ctx context.Context, sessionID string, status approval.Status) ([]*approval.PendingApproval, error) {
	if sessionID == "" {
		return nil, pkgerrors.NewValidationError("session_id is required")
	}
	if status != "" && !status.IsValid() {
		return nil, pkgerrors.NewValidationErrorf("unknown status %q", status)
	}
	return s.approvals.ListBySession(ctx, sessionID, status)
}

// Decide records a human decision
func (s *ApprovalService) Decide(ctx context.Context, approvalID string, decision approval.Decision, approver string) (rec *approval.PendingApproval, err error) {
	ctx, span := startSpan(ctx, "ApprovalService.Decide")
	span.SetAttributes(attribute.String("approval.id", approvalID), attribute.String("approval.decision", string(decision)))
	defer func() { endSpan(span, err) }()

	if !decision.IsValid() {
		return nil, pkgerrors.NewValidationErrorf("decision must be %q or %q", approval.DecisionApprove, approval.DecisionReject)
	}

	rec, err = s.Get(ctx, approvalID)
	if err != nil {
		return nil, err
	}

	if decision == approval.DecisionReject {
		return s.reject(ctx, rec, approver)
	}
	return s.approve(ctx, rec, approver)
}

func (s *ApprovalService) reject(ctx context.Context, rec *approval.PendingApproval, approver string) (*approval.PendingApproval, error) {
	prev := rec.Revision
	if err := rec.Reject(approver, s.now()); err != nil {
		return nil, err
	}
	if err := s.approvals.Update(ctx, rec, prev); err != nil {
		return nil, decisionRaceError(err)
	}
	s.decided(ctx, rec)
	return rec, nil
}

func (s *ApprovalService) approve(ctx context.Context, rec *approval.PendingApproval, approver string) (*approval.PendingApproval, error) {
	if err := rec.Decidable(s.now()); err != nil {
		return nil, err
	}
	head, err := s.graphs.GetGraph(ctx, rec.SessionID)
	if err != nil {
		return nil, err
	}

	// A non-zero base left behind by an expired claim means an earlier
	// approver may have committed the patch and then lost the record write.
	base, landed := rec.ApplyBase, 0
	if base > 0 {
		v, known := head.PatchAppliedAfter(rec.Patch.PatchID, base)
		if !known {
			return nil, pkgerrors.NewInvalidStateError("cannot tell whether the approved patch was already applied").
				WithDetails(map[string]interface{}{
					"approval_id": rec.ApprovalID,
					"apply_base":  base,
					"head":        head.Version(),
				})
		}
		landed = v
	} else {
		base = head.Version()
	}

	token := uuid.New().String()
	prev := rec.Revision
	if err := rec.ClaimForApply(token, base, s.now()); err != nil {
		return nil, err
	}
	if err := s.approvals.Update(ctx, rec, prev); err != nil {
		return nil, decisionRaceError(err)
	}
	claimed := rec.Revision

	applied := landed
	if applied == 0 {
		patch := rec.Patch
		next, err := s.graphs.RetryApply(ctx, rec.SessionID, DefaultRetryAttempts, func(*aggregates.Graph) (aggregates.Patch, error) {
			return patch, nil
		})
		if err != nil {
			rec.Release(token)
			if uerr := s.approvals.Update(ctx, rec, claimed); uerr != nil {
				s.logger.Warn("failed to release approval claim",
					zap.String("approval_id", rec.ApprovalID),
					zap.Error(uerr),
				)
			}
			s.logger.Info("approval apply failed, record stays pending",
				zap.String("approval_id", rec.ApprovalID),
				zap.Error(err),
			)
			return nil, err
		}
		applied = next.Version()
	} else {
		s.logger.Info("approved patch already applied, recording the earlier commit",
			zap.String("approval_id", rec.ApprovalID),
			zap.String("patch_id", rec.Patch.PatchID),
			zap.Int("applied_version", applied),
		)
	}

	if err := rec.Approve(token, approver, applied, s.now()); err != nil {
		return nil, err
	}
	if err := s.approvals.Update(ctx, rec, claimed); err != nil {
		// The graph already moved; the claim and its base stay behind for
		// the next decider.
		s.logger.Error("patch applied but approval record not updated",
			zap.String("approval_id", rec.ApprovalID),
			zap.Int("applied_version", applied),
			zap.Error(err),
		)
		return nil, pkgerrors.Wrap(err, "record approval")
	}
	s.decided(ctx, rec)
	return rec, nil
}

func (s *ApprovalService) decided(ctx context.Context, rec *approval.PendingApproval) {
	s.metrics.IncrementCounter(ports.MetricApprovals, map[string]string{"status": string(rec.Status)})
	s.logger.Info("approval decided",
		zap.String("approval_id", rec.ApprovalID),
		zap.String("status", string(rec.Status)),
		zap.String("decided_by", rec.DecidedBy),
		zap.Int("applied_version", rec.AppliedVersion),
	)
	s.events.publish(ctx, events.NewApprovalDecided(rec.ApprovalID, rec.SessionID, string(rec.Status),
		rec.DecidedBy, rec.AppliedVersion, rec.Revision, *rec.DecidedAt))
}

// decisionRaceError maps a lost revision compare-and-swap to the error a
// concurrent decider sees.
func decisionRaceError(err error) error {
	if pkgerrors.IsConflict(err) {
		return pkgerrors.NewInvalidStateError("decision in progress").
			WithCode(pkgerrors.CodeDecisionPending).
			WithCause(err)
	}
	return err
}
