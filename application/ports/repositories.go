package ports

import (
	"context"
	"time"

	"designgraph/domain/approval"
	"designgraph/domain/core/aggregates"
	"designgraph/domain/events"
	"designgraph/domain/policy"
)

// GraphRepository persists one versioned graph per session.
// Implementations never lock around an update; CompareAndSwap is the only
// write path after creation.
type GraphRepository interface {
	// Create stores a new graph. Returns a conflict with code SESSION_EXISTS
	// if the session already has one.
	Create(ctx context.Context, graph *aggregates.Graph) error

	// Get returns the latest committed snapshot, or NotFound.
	Get(ctx context.Context, sessionID string) (*aggregates.Graph, error)

	// CompareAndSwap replaces the stored graph with next only if the stored
	// version still equals expectedVersion. Otherwise it returns a version
	// conflict carrying the current version.
	CompareAndSwap(ctx context.Context, expectedVersion int, next *aggregates.Graph) error
}

// ApprovalRepository persists pending approvals
type ApprovalRepository interface {
	// Create stores a new record; conflict if the id exists
	Create(ctx context.Context, record *approval.PendingApproval) error

	// Get retrieves a record by id, or NotFound
	Get(ctx context.Context, approvalID string) (*approval.PendingApproval, error)

	// Update replaces the record only if its stored revision equals
	// expectedRevision; returns a conflict otherwise.
	Update(ctx context.Context, record *approval.PendingApproval, expectedRevision int) error

	// ListBySession returns a session's records ordered by creation time.
	// An empty status returns every status.
	ListBySession(ctx context.Context, sessionID string, status approval.Status) ([]*approval.PendingApproval, error)
}

// PolicySource is the durable source of truth for tenant policies.
// Load returns NotFound for tenants that never stored a policy.
type PolicySource interface {
	Load(ctx context.Context, tenantID string) (policy.Document, error)
}

// PolicyStore is a writable PolicySource
type PolicyStore interface {
	PolicySource

	// Save stores doc if doc.Version matches the stored version (0 for a new
	// tenant) and returns it with the version incremented.
	Save(ctx context.Context, doc policy.Document) (policy.Document, error)
}

// PolicyTier is one cache level for policy documents
type PolicyTier interface {
	// Get returns the cached document and its expiry
	Get(ctx context.Context, tenantID string) (doc policy.Document, expiresAt time.Time, ok bool, err error)

	// Set stores a document until expiresAt
	Set(ctx context.Context, doc policy.Document, expiresAt time.Time) error

	// Delete removes a tenant's entry
	Delete(ctx context.Context, tenantID string) error

	// Clear removes all entries
	Clear(ctx context.Context) error
}

// EventPublisher defines the interface for publishing domain events
type EventPublisher interface {
	// Publish sends a single event
	Publish(ctx context.Context, event events.DomainEvent) error

	// PublishBatch sends multiple events
	PublishBatch(ctx context.Context, events []events.DomainEvent) error
}
