package badger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"designgraph/domain/approval"
	"designgraph/domain/core/aggregates"
	"designgraph/domain/policy"
	pkgerrors "designgraph/pkg/errors"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(InMemoryConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{}, zap.NewNop())
	assert.Error(t, err)
}

func TestGraphRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewGraphRepository(openTestDB(t), zap.NewNop())

	g, err := aggregates.NewGraph("s1")
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, g))

	err = repo.Create(ctx, g)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeSessionExists, pkgerrors.GetAppError(err).Code)

	next, err := g.Apply(aggregates.NewPatch("",
		aggregates.AddNodeOp("", "p1", "panel", map[string]any{"layer": "single-line", "x": 10.0, "y": 20.0}),
	))
	require.NoError(t, err)
	require.NoError(t, repo.CompareAndSwap(ctx, 1, next))

	err = repo.CompareAndSwap(ctx, 1, next)
	require.Error(t, err)
	current, ok := pkgerrors.CurrentVersion(err)
	require.True(t, ok)
	assert.Equal(t, 2, current)

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version())
	n, ok := got.Node("p1")
	require.True(t, ok)
	assert.Equal(t, "single-line", n.Attrs.Layer)
	assert.True(t, n.Attrs.HasPosition())

	_, err = repo.Get(ctx, "nope")
	assert.True(t, pkgerrors.IsNotFound(err))

	missing, _ := aggregates.NewGraph("nope")
	err = repo.CompareAndSwap(ctx, 1, missing)
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestGraphRepository_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	repo := NewGraphRepository(openTestDB(t), zap.NewNop())
	base, _ := aggregates.NewGraph("s1")
	require.NoError(t, repo.Create(ctx, base))

	const writers = 12
	var wins, conflicts atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next, err := base.Apply(aggregates.NewPatch("", aggregates.SetMetaOp("", "k", "v")))
			if !assert.NoError(t, err) {
				return
			}
			err = repo.CompareAndSwap(ctx, 1, next)
			switch {
			case err == nil:
				wins.Add(1)
			case pkgerrors.IsConflict(err):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load())
	assert.Equal(t, int64(writers-1), conflicts.Load())
}

func TestApprovalRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewApprovalRepository(openTestDB(t), zap.NewNop())
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	patch := aggregates.NewPatch("p", aggregates.AddNodeOp("", "n", "panel", nil))

	for i, id := range []string{"c", "a", "b"} {
		rec, err := approval.New(approval.Proposal{ApprovalID: id, SessionID: "s1", Patch: patch}, t0.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.NoError(t, repo.Create(ctx, rec))
	}
	other, _ := approval.New(approval.Proposal{ApprovalID: "z", SessionID: "s10", Patch: patch}, t0)
	require.NoError(t, repo.Create(ctx, other))

	dup, _ := approval.New(approval.Proposal{ApprovalID: "a", SessionID: "s1", Patch: patch}, t0)
	err := repo.Create(ctx, dup)
	assert.Equal(t, pkgerrors.CodeApprovalExists, pkgerrors.GetAppError(err).Code)

	list, err := repo.ListBySession(ctx, "s1", "")
	require.NoError(t, err)
	ids := make([]string, len(list))
	for i, r := range list {
		ids[i] = r.ApprovalID
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)

	rec, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, rec.ClaimForApply("tok", 3, t0.Add(time.Minute)))
	require.NoError(t, repo.Update(ctx, rec, 1))

	got, err := repo.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "tok", got.ClaimToken)
	assert.Equal(t, 3, got.ApplyBase)
	assert.True(t, got.Claimed(t0.Add(time.Minute+time.Second)))

	err = repo.Update(ctx, rec, 1)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
	assert.Equal(t, 2, pkgerrors.GetAppError(err).Details["current_revision"])

	require.NoError(t, got.Approve("tok", "alice", 5, t0.Add(2*time.Minute)))
	require.NoError(t, repo.Update(ctx, got, 2))

	approved, err := repo.ListBySession(ctx, "s1", approval.StatusApproved)
	require.NoError(t, err)
	require.Len(t, approved, 1)
	assert.Equal(t, 5, approved[0].AppliedVersion)
	assert.Empty(t, approved[0].ClaimToken)

	_, err = repo.Get(ctx, "missing")
	assert.True(t, pkgerrors.IsNotFound(err))
}

func TestPolicyStore(t *testing.T) {
	ctx := context.Background()
	store := NewPolicyStore(openTestDB(t), zap.NewNop())

	_, err := store.Load(ctx, "t1")
	assert.True(t, pkgerrors.IsNotFound(err))

	doc := policy.Defaults("t1")
	doc.ActionWhitelist = []string{"rename", "rename", "annotate"}
	doc.FeatureFlags = map[string]bool{"beta": true}
	saved, err := store.Save(ctx, doc)
	require.NoError(t, err)
	assert.Equal(t, 1, saved.Version)

	loaded, err := store.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, []string{"annotate", "rename"}, loaded.ActionWhitelist)
	assert.True(t, loaded.FeatureEnabled("beta"))

	_, err = store.Save(ctx, doc)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsConflict(err))
	assert.Equal(t, 1, pkgerrors.GetAppError(err).Details["current_version"])

	_, err = store.Save(ctx, loaded)
	assert.NoError(t, err)
}
