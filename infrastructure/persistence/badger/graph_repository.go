package badger

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"designgraph/application/ports"
	"designgraph/domain/core/aggregates"
	pkgerrors "designgraph/pkg/errors"
)

func graphKey(sessionID string) []byte { return []byte("graph/" + sessionID) }

// GraphRepository stores one JSON snapshot per session
type GraphRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewGraphRepository creates a new GraphRepository
func NewGraphRepository(db *DB, logger *zap.Logger) *GraphRepository {
	return &GraphRepository{db: db, logger: logger}
}

var _ ports.GraphRepository = (*GraphRepository)(nil)

// Create stores a new graph
func (r *GraphRepository) Create(ctx context.Context, graph *aggregates.Graph) error {
	body, err := json.Marshal(graph.Snapshot())
	if err != nil {
		return pkgerrors.NewInternalError("failed to marshal graph snapshot").WithCause(err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(graphKey(graph.SessionID()))
		switch {
		case err == nil:
			return pkgerrors.NewConflictError("session already exists").
				WithCode(pkgerrors.CodeSessionExists).
				WithDetail("session_id", graph.SessionID())
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(graphKey(graph.SessionID()), body)
	})
	if errors.Is(err, badger.ErrConflict) {
		return pkgerrors.NewConflictError("session already exists").
			WithCode(pkgerrors.CodeSessionExists).
			WithDetail("session_id", graph.SessionID())
	}
	return wrapTxnError("create graph", err)
}

// Get loads the latest snapshot
func (r *GraphRepository) Get(ctx context.Context, sessionID string) (*aggregates.Graph, error) {
	var g *aggregates.Graph
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		g, err = readGraph(txn, sessionID)
		return err
	})
	if err != nil {
		return nil, wrapTxnError("get graph", err)
	}
	return g, nil
}

// CompareAndSwap replaces the snapshot if it is still at expectedVersion
func (r *GraphRepository) CompareAndSwap(ctx context.Context, expectedVersion int, next *aggregates.Graph) error {
	body, err := json.Marshal(next.Snapshot())
	if err != nil {
		return pkgerrors.NewInternalError("failed to marshal graph snapshot").WithCause(err)
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		current, err := readGraph(txn, next.SessionID())
		if err != nil {
			return err
		}
		if current.Version() != expectedVersion {
			return pkgerrors.NewVersionConflictError(next.SessionID(), expectedVersion, current.Version())
		}
		return txn.Set(graphKey(next.SessionID()), body)
	})
	if errors.Is(err, badger.ErrConflict) {
		// another transaction committed first; report what it left behind
		current, gerr := r.Get(ctx, next.SessionID())
		if gerr != nil {
			return gerr
		}
		r.logger.Debug("graph transaction conflict",
			zap.String("session_id", next.SessionID()),
			zap.Int("expected_version", expectedVersion),
			zap.Int("current_version", current.Version()),
		)
		return pkgerrors.NewVersionConflictError(next.SessionID(), expectedVersion, current.Version())
	}
	return wrapTxnError("compare and swap graph", err)
}

func readGraph(txn *badger.Txn, sessionID string) (*aggregates.Graph, error) {
	item, err := txn.Get(graphKey(sessionID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, pkgerrors.NewNotFoundError("session", sessionID)
	}
	if err != nil {
		return nil, err
	}

	var snap aggregates.Snapshot
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &snap)
	}); err != nil {
		return nil, pkgerrors.NewDatabaseError("decode graph", err)
	}
	return aggregates.FromSnapshot(snap)
}

// wrapTxnError passes application errors through and wraps the rest
func wrapTxnError(operation string, err error) error {
	if err == nil || pkgerrors.IsAppError(err) {
		return err
	}
	return pkgerrors.NewDatabaseError(operation, err)
}
