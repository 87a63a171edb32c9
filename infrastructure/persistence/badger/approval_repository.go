package badger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"designgraph/application/ports"
	"designgraph/domain/approval"
	pkgerrors "designgraph/pkg/errors"
)

const sortTime = "20060102T150405.000000000Z"

func approvalKey(id string) []byte { return []byte("approval/" + id) }

func sessionIndexPrefix(sessionID string) []byte {
	return []byte("approval-session/" + sessionID + "/")
}

func sessionIndexKey(a *approval.PendingApproval) []byte {
	return append(sessionIndexPrefix(a.SessionID),
		[]byte(a.CreatedAt.UTC().Format(sortTime)+"/"+a.ApprovalID)...)
}

// storedApproval persists the claim fields the JSON API hides
type storedApproval struct {
	*approval.PendingApproval
	ClaimToken string    `json:"claim_token,omitempty"`
	ClaimedAt  time.Time `json:"claimed_at,omitempty"`
	ApplyBase  int       `json:"apply_base,omitempty"`
}

func encodeApproval(a *approval.PendingApproval) ([]byte, error) {
	return json.Marshal(storedApproval{
		PendingApproval: a,
		ClaimToken:      a.ClaimToken,
		ClaimedAt:       a.ClaimedAt,
		ApplyBase:       a.ApplyBase,
	})
}

func decodeApproval(val []byte) (*approval.PendingApproval, error) {
	s := storedApproval{PendingApproval: &approval.PendingApproval{}}
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, err
	}
	s.PendingApproval.ClaimToken = s.ClaimToken
	s.PendingApproval.ClaimedAt = s.ClaimedAt
	s.PendingApproval.ApplyBase = s.ApplyBase
	return s.PendingApproval, nil
}

// ApprovalRepository stores approvals with a per-session key index
type ApprovalRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewApprovalRepository creates a new ApprovalRepository
func NewApprovalRepository(db *DB, logger *zap.Logger) *ApprovalRepository {
	return &ApprovalRepository{db: db, logger: logger}
}

var _ ports.ApprovalRepository = (*ApprovalRepository)(nil)

// Create stores a record and its index entry
func (r *ApprovalRepository) Create(ctx context.Context, record *approval.PendingApproval) error {
	val, err := encodeApproval(record)
	if err != nil {
		return pkgerrors.NewInternalError("failed to marshal approval").WithCause(err)
	}

	exists := pkgerrors.NewConflictError("approval already exists").
		WithCode(pkgerrors.CodeApprovalExists).
		WithDetail("approval_id", record.ApprovalID)

	err = r.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(approvalKey(record.ApprovalID))
		if err == nil {
			return exists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(approvalKey(record.ApprovalID), val); err != nil {
			return err
		}
		return txn.Set(sessionIndexKey(record), nil)
	})
	if errors.Is(err, badger.ErrConflict) {
		return exists
	}
	return wrapTxnError("create approval", err)
}

// Get retrieves a record
func (r *ApprovalRepository) Get(ctx context.Context, approvalID string) (*approval.PendingApproval, error) {
	var rec *approval.PendingApproval
	err := r.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = readApproval(txn, approvalID)
		return err
	})
	if err != nil {
		return nil, wrapTxnError("get approval", err)
	}
	return rec, nil
}

// Update replaces a record if its revision is unchanged
func (r *ApprovalRepository) Update(ctx context.Context, record *approval.PendingApproval, expectedRevision int) error {
	val, err := encodeApproval(record)
	if err != nil {
		return pkgerrors.NewInternalError("failed to marshal approval").WithCause(err)
	}

	revisionChanged := func() *pkgerrors.AppError {
		return pkgerrors.NewConflictError("approval revision changed").
			WithDetails(map[string]interface{}{
				"approval_id":       record.ApprovalID,
				"expected_revision": expectedRevision,
			})
	}

	err = r.db.Update(func(txn *badger.Txn) error {
		stored, err := readApproval(txn, record.ApprovalID)
		if err != nil {
			return err
		}
		if stored.Revision != expectedRevision {
			return revisionChanged().WithDetail("current_revision", stored.Revision)
		}
		return txn.Set(approvalKey(record.ApprovalID), val)
	})
	if errors.Is(err, badger.ErrConflict) {
		return revisionChanged()
	}
	return wrapTxnError("update approval", err)
}

// ListBySession iterates the session index in key (creation) order
func (r *ApprovalRepository) ListBySession(ctx context.Context, sessionID string, status approval.Status) ([]*approval.PendingApproval, error) {
	out := make([]*approval.PendingApproval, 0)
	prefix := sessionIndexPrefix(sessionID)

	err := r.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			id := lastSegment(key)
			rec, err := readApproval(txn, id)
			if err != nil {
				if pkgerrors.IsNotFound(err) {
					r.logger.Warn("dangling approval index entry", zap.ByteString("key", key))
					continue
				}
				return err
			}
			if status == "" || rec.Status == status {
				out = append(out, rec)
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrapTxnError("list approvals", err)
	}
	return out, nil
}

func readApproval(txn *badger.Txn, approvalID string) (*approval.PendingApproval, error) {
	item, err := txn.Get(approvalKey(approvalID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, pkgerrors.NewNotFoundError("approval", approvalID)
	}
	if err != nil {
		return nil, err
	}
	var rec *approval.PendingApproval
	err = item.Value(func(val []byte) error {
		var derr error
		rec, derr = decodeApproval(val)
		return derr
	})
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("decode approval", err)
	}
	return rec, nil
}

func lastSegment(key []byte) string {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '/' {
			return string(key[i+1:])
		}
	}
	return string(key)
}
