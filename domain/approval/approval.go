// Package approval models mutations waiting for a human decision.
package approval

import (
	"time"

	"github.com/google/uuid"

	"designgraph/domain/core/aggregates"
	pkgerrors "designgraph/pkg/errors"
)

// ClaimTTL bounds how long a decider may hold a record before another
// decider can take over.
const ClaimTTL = 30 * time.Second

// Status of a pending approval
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// IsValid reports whether the status is known
func (s Status) IsValid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusRejected
}

// Decision is a human verdict
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionReject  Decision = "reject"
)

// IsValid reports whether the decision is known
func (d Decision) IsValid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// PendingApproval is a queued mutation. It moves from pending to exactly one
// terminal status and never changes after that.
type PendingApproval struct {
	ApprovalID     string           `json:"approval_id"`
	SessionID      string           `json:"session_id"`
	TenantID       string           `json:"tenant_id,omitempty"`
	Task           string           `json:"task,omitempty"`
	RequestID      string           `json:"request_id,omitempty"`
	ActionType     string           `json:"action_type,omitempty"`
	Confidence     float64          `json:"confidence"`
	Reason         string           `json:"reason,omitempty"`
	Patch          aggregates.Patch `json:"patch"`
	Status         Status           `json:"status"`
	RequestedBy    string           `json:"requested_by,omitempty"`
	DecidedBy      string           `json:"decided_by,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	DecidedAt      *time.Time       `json:"decided_at,omitempty"`
	AppliedVersion int              `json:"applied_version,omitempty"`
	Revision       int              `json:"revision"`
	ClaimToken     string           `json:"-"`
	ClaimedAt      time.Time        `json:"-"`
	// ApplyBase is the graph head seen when an approve claim was taken. It
	// survives an expired claim so the next decider can tell whether the
	// patch already landed.
	ApplyBase int `json:"-"`
}

// Proposal carries the inputs of a new approval
type Proposal struct {
	ApprovalID  string
	SessionID   string
	TenantID    string
	Task        string
	RequestID   string
	ActionType  string
	Confidence  float64
	Reason      string
	RequestedBy string
	Patch       aggregates.Patch
}

// New creates a pending record, generating an id when none is given
func New(p Proposal, now time.Time) (*PendingApproval, error) {
	if p.SessionID == "" {
		return nil, pkgerrors.NewValidationError("session_id is required")
	}
	if err := p.Patch.Validate(); err != nil {
		return nil, err
	}

	id := p.ApprovalID
	if id == "" {
		id = uuid.New().String()
	}
	patch := p.Patch
	if patch.PatchID == "" {
		patch.PatchID = uuid.New().String()
	}

	return &PendingApproval{
		ApprovalID:  id,
		SessionID:   p.SessionID,
		TenantID:    p.TenantID,
		Task:        p.Task,
		RequestID:   p.RequestID,
		ActionType:  p.ActionType,
		Confidence:  p.Confidence,
		Reason:      p.Reason,
		Patch:       patch,
		Status:      StatusPending,
		RequestedBy: p.RequestedBy,
		CreatedAt:   now.UTC(),
		Revision:    1,
	}, nil
}

// IsTerminal reports whether a decision has been recorded
func (a *PendingApproval) IsTerminal() bool {
	return a.Status == StatusApproved || a.Status == StatusRejected
}

// Claimed reports whether an unexpired claim is held at now
func (a *PendingApproval) Claimed(now time.Time) bool {
	return a.ClaimToken != "" && now.Sub(a.ClaimedAt) < ClaimTTL
}

// Decidable returns the InvalidState error a decision at now would hit, or
// nil.
func (a *PendingApproval) Decidable(now time.Time) error {
	return a.checkDecidable(now)
}

func (a *PendingApproval) checkDecidable(now time.Time) error {
	if a.IsTerminal() {
		return pkgerrors.NewInvalidStateError("approval already decided").
			WithCode(pkgerrors.CodeAlreadyDecided).
			WithDetail("status", string(a.Status))
	}
	if a.Claimed(now) {
		return pkgerrors.NewInvalidStateError("decision in progress").
			WithCode(pkgerrors.CodeDecisionPending)
	}
	return nil
}

// Claim reserves the record for one decider. An expired claim may be taken
// over.
func (a *PendingApproval) Claim(token string, now time.Time) error {
	if err := a.checkDecidable(now); err != nil {
		return err
	}
	a.ClaimToken = token
	a.ClaimedAt = now.UTC()
	a.Revision++
	return nil
}

// ClaimForApply claims the record before its patch is applied on top of
// graph version base.
func (a *PendingApproval) ClaimForApply(token string, base int, now time.Time) error {
	if err := a.Claim(token, now); err != nil {
		return err
	}
	a.ApplyBase = base
	return nil
}

// Release drops a claim held under token, leaving the record pending. The
// caller asserts that the patch was not applied.
func (a *PendingApproval) Release(token string) {
	if a.ClaimToken != token {
		return
	}
	a.ClaimToken = ""
	a.ClaimedAt = time.Time{}
	a.ApplyBase = 0
	a.Revision++
}

// Approve records a successful apply. The caller must hold the claim.
func (a *PendingApproval) Approve(token, approver string, appliedVersion int, now time.Time) error {
	if a.IsTerminal() {
		return pkgerrors.NewInvalidStateError("approval already decided").
			WithCode(pkgerrors.CodeAlreadyDecided)
	}
	if a.ClaimToken != token {
		return pkgerrors.NewInvalidStateError("decision in progress").
			WithCode(pkgerrors.CodeDecisionPending)
	}
	decided := now.UTC()
	a.Status = StatusApproved
	a.DecidedBy = approver
	a.DecidedAt = &decided
	a.AppliedVersion = appliedVersion
	a.ClaimToken = ""
	a.ClaimedAt = time.Time{}
	a.ApplyBase = 0
	a.Revision++
	return nil
}

// Reject discards the mutation
func (a *PendingApproval) Reject(approver string, now time.Time) error {
	if err := a.checkDecidable(now); err != nil {
		return err
	}
	decided := now.UTC()
	a.Status = StatusRejected
	a.DecidedBy = approver
	a.DecidedAt = &decided
	a.Revision++
	return nil
}

// Clone returns a copy that shares nothing mutable with a
func (a *PendingApproval) Clone() *PendingApproval {
	c := *a
	if a.DecidedAt != nil {
		t := *a.DecidedAt
		c.DecidedAt = &t
	}
	c.Patch.Operations = make([]aggregates.Operation, len(a.Patch.Operations))
	for i, op := range a.Patch.Operations {
		c.Patch.Operations[i] = aggregates.Operation{
			OpID:  op.OpID,
			Op:    op.Op,
			Value: append([]byte(nil), op.Value...),
		}
	}
	return &c
}
