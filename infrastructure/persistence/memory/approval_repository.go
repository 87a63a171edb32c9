package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tidwall/btree"

	"designgraph/application/ports"
	"designgraph/domain/approval"
	pkgerrors "designgraph/pkg/errors"
)

// sessionIndexItem orders a session's approvals by creation time
type sessionIndexItem struct {
	SessionID  string
	CreatedAt  time.Time
	ApprovalID string
}

func sessionIndexLess(a, b sessionIndexItem) bool {
	if a.SessionID != b.SessionID {
		return a.SessionID < b.SessionID
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ApprovalID < b.ApprovalID
}

// ApprovalRepository stores approvals in a map with a B-tree index by
// (session, created_at). Records are copied in and out.
type ApprovalRepository struct {
	mu      sync.RWMutex
	records map[string]*approval.PendingApproval
	index   *btree.BTreeG[sessionIndexItem]
}

// NewApprovalRepository creates an empty repository
func NewApprovalRepository() *ApprovalRepository {
	return &ApprovalRepository{
		records: make(map[string]*approval.PendingApproval),
		index:   btree.NewBTreeG[sessionIndexItem](sessionIndexLess),
	}
}

var _ ports.ApprovalRepository = (*ApprovalRepository)(nil)

// Create stores a new record
func (r *ApprovalRepository) Create(ctx context.Context, record *approval.PendingApproval) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[record.ApprovalID]; exists {
		return pkgerrors.NewConflictError("approval already exists").
			WithCode(pkgerrors.CodeApprovalExists).
			WithDetail("approval_id", record.ApprovalID)
	}
	r.records[record.ApprovalID] = record.Clone()
	r.index.Set(sessionIndexItem{
		SessionID:  record.SessionID,
		CreatedAt:  record.CreatedAt,
		ApprovalID: record.ApprovalID,
	})
	return nil
}

// Get retrieves a record by id
func (r *ApprovalRepository) Get(ctx context.Context, approvalID string) (*approval.PendingApproval, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[approvalID]
	if !ok {
		return nil, pkgerrors.NewNotFoundError("approval", approvalID)
	}
	return rec.Clone(), nil
}

// Update replaces a record if its revision still matches
func (r *ApprovalRepository) Update(ctx context.Context, record *approval.PendingApproval, expectedRevision int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.records[record.ApprovalID]
	if !ok {
		return pkgerrors.NewNotFoundError("approval", record.ApprovalID)
	}
	if stored.Revision != expectedRevision {
		return pkgerrors.NewConflictError("approval revision changed").
			WithDetails(map[string]interface{}{
				"approval_id":       record.ApprovalID,
				"expected_revision": expectedRevision,
				"current_revision":  stored.Revision,
			})
	}
	r.records[record.ApprovalID] = record.Clone()
	return nil
}

// ListBySession walks the index for one session in creation order
func (r *ApprovalRepository) ListBySession(ctx context.Context, sessionID string, status approval.Status) ([]*approval.PendingApproval, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*approval.PendingApproval, 0)
	r.index.Ascend(sessionIndexItem{SessionID: sessionID}, func(item sessionIndexItem) bool {
		if item.SessionID != sessionID {
			return false
		}
		rec := r.records[item.ApprovalID]
		if rec != nil && (status == "" || rec.Status == status) {
			out = append(out, rec.Clone())
		}
		return true
	})
	return out, nil
}
