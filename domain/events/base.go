package events

import "time"

// DomainEvent is the base interface for all domain events
// Events represent something that has happened in the past
type DomainEvent interface {
	GetAggregateID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetVersion() int
}

// Event type names, also used as EventBridge detail types.
const (
	TypeSessionCreated   = "graph.session_created"
	TypePatchApplied     = "graph.patch_applied"
	TypeApprovalProposed = "approval.proposed"
	TypeApprovalDecided  = "approval.decided"
	TypePolicyUpdated    = "policy.updated"
)

// BaseEvent provides common event fields
type BaseEvent struct {
	AggregateID string    `json:"aggregate_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	Version     int       `json:"version"`
}

func (e BaseEvent) GetAggregateID() string  { return e.AggregateID }
func (e BaseEvent) GetEventType() string    { return e.EventType }
func (e BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e BaseEvent) GetVersion() int         { return e.Version }

// Graph Events

// SessionCreated is raised when a session graph is first created
type SessionCreated struct {
	BaseEvent
	SessionID string `json:"session_id"`
}

// NewSessionCreated creates a SessionCreated event
func NewSessionCreated(sessionID string, timestamp time.Time) SessionCreated {
	return SessionCreated{
		BaseEvent: BaseEvent{
			AggregateID: sessionID,
			EventType:   TypeSessionCreated,
			Timestamp:   timestamp,
			Version:     1,
		},
		SessionID: sessionID,
	}
}

// PatchApplied is raised when a patch commits and advances the graph version
type PatchApplied struct {
	BaseEvent
	SessionID      string `json:"session_id"`
	PatchID        string `json:"patch_id"`
	OperationCount int    `json:"operation_count"`
	NodeCount      int    `json:"node_count"`
	EdgeCount      int    `json:"edge_count"`
}

// NewPatchApplied creates a PatchApplied event carrying the new version
func NewPatchApplied(sessionID, patchID string, version, opCount, nodeCount, edgeCount int, timestamp time.Time) PatchApplied {
	return PatchApplied{
		BaseEvent: BaseEvent{
			AggregateID: sessionID,
			EventType:   TypePatchApplied,
			Timestamp:   timestamp,
			Version:     version,
		},
		SessionID:      sessionID,
		PatchID:        patchID,
		OperationCount: opCount,
		NodeCount:      nodeCount,
		EdgeCount:      edgeCount,
	}
}

// Approval Events

// ApprovalProposed is raised when a mutation is queued for human review
type ApprovalProposed struct {
	BaseEvent
	ApprovalID string  `json:"approval_id"`
	SessionID  string  `json:"session_id"`
	TenantID   string  `json:"tenant_id,omitempty"`
	ActionType string  `json:"action_type,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Confidence float64 `json:"confidence"`
}

// NewApprovalProposed creates an ApprovalProposed event
func NewApprovalProposed(approvalID, sessionID, tenantID, actionType, reason string, confidence float64, timestamp time.Time) ApprovalProposed {
	return ApprovalProposed{
		BaseEvent: BaseEvent{
			AggregateID: approvalID,
			EventType:   TypeApprovalProposed,
			Timestamp:   timestamp,
			Version:     1,
		},
		ApprovalID: approvalID,
		SessionID:  sessionID,
		TenantID:   tenantID,
		ActionType: actionType,
		Reason:     reason,
		Confidence: confidence,
	}
}

// ApprovalDecided is raised when a pending approval reaches a terminal state
type ApprovalDecided struct {
	BaseEvent
	ApprovalID     string `json:"approval_id"`
	SessionID      string `json:"session_id"`
	Status         string `json:"status"`
	DecidedBy      string `json:"decided_by,omitempty"`
	AppliedVersion int    `json:"applied_version,omitempty"`
}

// NewApprovalDecided creates an ApprovalDecided event
func NewApprovalDecided(approvalID, sessionID, status, decidedBy string, appliedVersion, revision int, timestamp time.Time) ApprovalDecided {
	return ApprovalDecided{
		BaseEvent: BaseEvent{
			AggregateID: approvalID,
			EventType:   TypeApprovalDecided,
			Timestamp:   timestamp,
			Version:     revision,
		},
		ApprovalID:     approvalID,
		SessionID:      sessionID,
		Status:         status,
		DecidedBy:      decidedBy,
		AppliedVersion: appliedVersion,
	}
}

// Policy Events

// PolicyUpdated is raised when a tenant policy document is saved
type PolicyUpdated struct {
	BaseEvent
	TenantID string `json:"tenant_id"`
}

// NewPolicyUpdated creates a PolicyUpdated event
func NewPolicyUpdated(tenantID string, version int, timestamp time.Time) PolicyUpdated {
	return PolicyUpdated{
		BaseEvent: BaseEvent{
			AggregateID: tenantID,
			EventType:   TypePolicyUpdated,
			Timestamp:   timestamp,
			Version:     version,
		},
		TenantID: tenantID,
	}
}
