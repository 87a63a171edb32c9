// Package memory holds process-local repositories. They are the default
// backend for development and the reference for the durable backends'
// semantics.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"designgraph/application/ports"
	"designgraph/domain/core/aggregates"
	pkgerrors "designgraph/pkg/errors"
)

// GraphRepository keeps one atomic pointer per session. Readers load the
// pointer and see a complete snapshot; writers swap it with CompareAndSwap,
// so exactly one writer wins for a given base snapshot.
type GraphRepository struct {
	sessions sync.Map // sessionID -> *atomic.Pointer[aggregates.Graph]
}

// NewGraphRepository creates an empty repository
func NewGraphRepository() *GraphRepository {
	return &GraphRepository{}
}

var _ ports.GraphRepository = (*GraphRepository)(nil)

// Create stores a new session graph
func (r *GraphRepository) Create(ctx context.Context, graph *aggregates.Graph) error {
	slot := new(atomic.Pointer[aggregates.Graph])
	slot.Store(graph)
	if _, loaded := r.sessions.LoadOrStore(graph.SessionID(), slot); loaded {
		return pkgerrors.NewConflictError("session already exists").
			WithCode(pkgerrors.CodeSessionExists).
			WithDetail("session_id", graph.SessionID())
	}
	return nil
}

// Get returns the current snapshot
func (r *GraphRepository) Get(ctx context.Context, sessionID string) (*aggregates.Graph, error) {
	slot, ok := r.slot(sessionID)
	if !ok {
		return nil, pkgerrors.NewNotFoundError("session", sessionID)
	}
	return slot.Load(), nil
}

// CompareAndSwap installs next if the stored snapshot is still at
// expectedVersion
func (r *GraphRepository) CompareAndSwap(ctx context.Context, expectedVersion int, next *aggregates.Graph) error {
	slot, ok := r.slot(next.SessionID())
	if !ok {
		return pkgerrors.NewNotFoundError("session", next.SessionID())
	}

	current := slot.Load()
	if current.Version() != expectedVersion {
		return pkgerrors.NewVersionConflictError(next.SessionID(), expectedVersion, current.Version())
	}
	if !slot.CompareAndSwap(current, next) {
		return pkgerrors.NewVersionConflictError(next.SessionID(), expectedVersion, slot.Load().Version())
	}
	return nil
}

// Count returns the number of sessions
func (r *GraphRepository) Count() int {
	n := 0
	r.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (r *GraphRepository) slot(sessionID string) (*atomic.Pointer[aggregates.Graph], bool) {
	v, ok := r.sessions.Load(sessionID)
	if !ok {
		return nil, false
	}
	return v.(*atomic.Pointer[aggregates.Graph]), true
}
