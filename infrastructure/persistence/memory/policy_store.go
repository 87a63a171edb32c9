package memory

import (
	"context"
	"sync"
	"time"

	"designgraph/application/ports"
	"designgraph/domain/policy"
	pkgerrors "designgraph/pkg/errors"
)

// PolicyStore is a process-local durable policy source
type PolicyStore struct {
	mu   sync.RWMutex
	docs map[string]policy.Document
}

// NewPolicyStore creates a store seeded with docs
func NewPolicyStore(docs ...policy.Document) *PolicyStore {
	s := &PolicyStore{docs: make(map[string]policy.Document, len(docs))}
	for _, d := range docs {
		s.docs[d.TenantID] = d.Normalize()
	}
	return s
}

var _ ports.PolicyStore = (*PolicyStore)(nil)

// Load returns the stored document or NotFound
func (s *PolicyStore) Load(ctx context.Context, tenantID string) (policy.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[tenantID]
	if !ok {
		return policy.Document{}, pkgerrors.NewNotFoundError("policy", tenantID)
	}
	return doc.Clone(), nil
}

// Save stores doc if its version matches the stored one
func (s *PolicyStore) Save(ctx context.Context, doc policy.Document) (policy.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := 0
	if stored, ok := s.docs[doc.TenantID]; ok {
		current = stored.Version
	}
	if doc.Version != current {
		return policy.Document{}, pkgerrors.NewConflictError("policy version changed").
			WithDetails(map[string]interface{}{
				"tenant_id":       doc.TenantID,
				"current_version": current,
			})
	}

	saved := doc.Clone()
	saved.Version = current + 1
	saved.UpdatedAt = time.Now().UTC()
	s.docs[doc.TenantID] = saved
	return saved.Clone(), nil
}
