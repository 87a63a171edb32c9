package badger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"designgraph/application/ports"
	"designgraph/domain/policy"
	pkgerrors "designgraph/pkg/errors"
)

func policyKey(tenantID string) []byte { return []byte("policy/" + tenantID) }

// PolicyStore keeps tenant policies next to the graphs
type PolicyStore struct {
	db     *DB
	logger *zap.Logger
}

// NewPolicyStore creates a new PolicyStore
func NewPolicyStore(db *DB, logger *zap.Logger) *PolicyStore {
	return &PolicyStore{db: db, logger: logger}
}

var _ ports.PolicyStore = (*PolicyStore)(nil)

// Load returns the stored policy or NotFound
func (s *PolicyStore) Load(ctx context.Context, tenantID string) (policy.Document, error) {
	var doc policy.Document
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		doc, err = readPolicy(txn, tenantID)
		return err
	})
	if err != nil {
		return policy.Document{}, wrapTxnError("load policy", err)
	}
	return doc, nil
}

// Save writes doc as the next version if doc.Version is still current
func (s *PolicyStore) Save(ctx context.Context, doc policy.Document) (policy.Document, error) {
	saved := doc.Normalize()
	saved.Version = doc.Version + 1
	saved.UpdatedAt = time.Now().UTC()
	val, err := json.Marshal(saved)
	if err != nil {
		return policy.Document{}, pkgerrors.NewInternalError("failed to marshal policy").WithCause(err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		current := 0
		stored, err := readPolicy(txn, doc.TenantID)
		switch {
		case err == nil:
			current = stored.Version
		case !pkgerrors.IsNotFound(err):
			return err
		}
		if current != doc.Version {
			return pkgerrors.NewConflictError("policy version changed").
				WithDetails(map[string]interface{}{
					"tenant_id":       doc.TenantID,
					"current_version": current,
				})
		}
		return txn.Set(policyKey(doc.TenantID), val)
	})
	if errors.Is(err, badger.ErrConflict) {
		return policy.Document{}, pkgerrors.NewConflictError("policy version changed").
			WithDetail("tenant_id", doc.TenantID)
	}
	if err != nil {
		return policy.Document{}, wrapTxnError("save policy", err)
	}

	s.logger.Info("policy stored", zap.String("tenant_id", saved.TenantID), zap.Int("version", saved.Version))
	return saved, nil
}

func readPolicy(txn *badger.Txn, tenantID string) (policy.Document, error) {
	item, err := txn.Get(policyKey(tenantID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return policy.Document{}, pkgerrors.NewNotFoundError("policy", tenantID)
	}
	if err != nil {
		return policy.Document{}, err
	}
	var doc policy.Document
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &doc)
	}); err != nil {
		return policy.Document{}, pkgerrors.NewDatabaseError("decode policy", err)
	}
	return doc.Normalize(), nil
}
