package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"designgraph/domain/core/aggregates"
	pkgerrors "designgraph/pkg/errors"
)

func samplePatch() aggregates.Patch {
	return aggregates.NewPatch("p1", aggregates.AddNodeOp("o1", "n2", "panel", nil))
}

func newPending(t *testing.T) *PendingApproval {
	t.Helper()
	a, err := New(Proposal{ApprovalID: "a1", SessionID: "s1", Task: "add panel", Patch: samplePatch()}, time.Now())
	require.NoError(t, err)
	return a
}

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		proposal Proposal
		wantErr  bool
	}{
		{"valid", Proposal{ApprovalID: "a1", SessionID: "s1", Patch: samplePatch()}, false},
		{"generated id", Proposal{SessionID: "s1", Patch: samplePatch()}, false},
		{"missing session", Proposal{ApprovalID: "a1", Patch: samplePatch()}, true},
		{"empty patch", Proposal{ApprovalID: "a1", SessionID: "s1"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(tt.proposal, time.Now())
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, pkgerrors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, a.ApprovalID)
			assert.Equal(t, StatusPending, a.Status)
			assert.Equal(t, 1, a.Revision)
			assert.Nil(t, a.DecidedAt)
		})
	}
}

func TestClaimApprove(t *testing.T) {
	a := newPending(t)
	now := time.Now()

	require.NoError(t, a.Claim("tok", now))
	assert.True(t, a.Claimed(now))
	assert.Equal(t, 2, a.Revision)

	// a second decider is turned away while the claim is live
	err := a.Claim("other", now.Add(time.Second))
	assert.True(t, pkgerrors.IsInvalidState(err))
	err = a.Reject("bob", now.Add(time.Second))
	assert.True(t, pkgerrors.IsInvalidState(err))

	require.NoError(t, a.Approve("tok", "alice", 3, now))
	assert.Equal(t, StatusApproved, a.Status)
	assert.Equal(t, 3, a.AppliedVersion)
	assert.Equal(t, "alice", a.DecidedBy)
	assert.NotNil(t, a.DecidedAt)
	assert.Empty(t, a.ClaimToken)

	err = a.Claim("tok2", now)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeAlreadyDecided, pkgerrors.GetAppError(err).Code)
}

func TestClaimExpires(t *testing.T) {
	a := newPending(t)
	now := time.Now()
	require.NoError(t, a.Claim("stale", now))

	later := now.Add(ClaimTTL + time.Second)
	assert.False(t, a.Claimed(later))
	require.NoError(t, a.Claim("fresh", later))
	assert.Equal(t, "fresh", a.ClaimToken)
}

func TestRelease(t *testing.T) {
	a := newPending(t)
	now := time.Now()
	require.NoError(t, a.Claim("tok", now))

	a.Release("wrong")
	assert.Equal(t, "tok", a.ClaimToken)

	a.Release("tok")
	assert.Empty(t, a.ClaimToken)
	assert.Equal(t, StatusPending, a.Status)
	assert.NoError(t, a.Claim("again", now))
}

func TestClaimForApplyKeepsBaseAcrossExpiry(t *testing.T) {
	a := newPending(t)
	now := time.Now()
	require.NoError(t, a.ClaimForApply("first", 4, now))
	assert.Equal(t, 4, a.ApplyBase)
	assert.True(t, pkgerrors.IsInvalidState(a.Decidable(now)))

	later := now.Add(ClaimTTL + time.Second)
	require.NoError(t, a.Decidable(later))
	assert.Equal(t, 4, a.ApplyBase, "an expired claim leaves its base behind")

	require.NoError(t, a.ClaimForApply("second", 4, later))
	require.NoError(t, a.Approve("second", "bob", 5, later))
	assert.Zero(t, a.ApplyBase)

	b := newPending(t)
	require.NoError(t, b.ClaimForApply("tok", 7, now))
	b.Release("tok")
	assert.Zero(t, b.ApplyBase)
}

func TestApproveWithoutClaim(t *testing.T) {
	a := newPending(t)
	err := a.Approve("tok", "alice", 2, time.Now())
	assert.True(t, pkgerrors.IsInvalidState(err))
	assert.Equal(t, StatusPending, a.Status)
}

func TestReject(t *testing.T) {
	a := newPending(t)
	require.NoError(t, a.Reject("bob", time.Now()))
	assert.Equal(t, StatusRejected, a.Status)
	assert.Zero(t, a.AppliedVersion)

	assert.True(t, pkgerrors.IsInvalidState(a.Reject("bob", time.Now())))
}

func TestClone(t *testing.T) {
	a := newPending(t)
	c := a.Clone()
	c.Patch.Operations[0].Value[0] = 'X'
	c.Status = StatusRejected

	assert.Equal(t, byte('{'), a.Patch.Operations[0].Value[0])
	assert.Equal(t, StatusPending, a.Status)
}

func TestStatusAndDecisionValidity(t *testing.T) {
	assert.True(t, StatusPending.IsValid())
	assert.False(t, Status("done").IsValid())
	assert.True(t, DecisionReject.IsValid())
	assert.False(t, Decision("maybe").IsValid())
}
