package dataref

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShouldInline(t *testing.T) {
	assert.True(t, ShouldInline(100, 1024))
	assert.False(t, ShouldInline(2048, 1024))
	assert.True(t, ShouldInline(100, 0), "zero threshold falls back to the package default")
}

func TestCostEstimatorLocalFraction(t *testing.T) {
	est := NewCostEstimator(1024)
	refs := []DataRef{
		{ServerAddr: "s1"},
		{ServerAddr: "s2"},
		{ServerAddr: "s1"},
	}
	assert.InDelta(t, 2.0/3.0, est.LocalFraction(refs, "s1"), 0.0001)
	assert.Equal(t, 0.0, est.LocalFraction(refs, "s3"))
	assert.Equal(t, 0.0, est.LocalFraction(nil, "s1"))
}

func TestCostEstimatorEstimateMs(t *testing.T) {
	est := NewCostEstimator(1024)
	ref := DataRef{ServerAddr: "s1", SizeBytes: 2048}
	assert.Equal(t, 0.0, est.EstimateMs(ref, "s1"), "already-local transfer is free")
	assert.Equal(t, 2.0, est.EstimateMs(ref, "s2"))
}

func TestStorePutGetUpdateTierDelete(t *testing.T) {
	store := NewStore()
	wf := uuid.New()
	ref := New("server-a", 100, DataDescriptor{Kind: KindJSON}, wf)
	store.Put(ref)

	got, ok := store.Get(ref.UUID)
	require.True(t, ok)
	assert.Equal(t, TierDRAM, got.Tier)

	assert.True(t, store.UpdateTier(ref.UUID, TierDisk))
	got, _ = store.Get(ref.UUID)
	assert.Equal(t, TierDisk, got.Tier)

	byWf := store.ByWorkflow(wf)
	require.Len(t, byWf, 1)

	assert.True(t, store.Delete(ref.UUID))
	_, ok = store.Get(ref.UUID)
	assert.False(t, ok)
	assert.False(t, store.Delete(ref.UUID), "deleting twice reports not-found")
}

func TestTokenIssueAndVerifyRoundTrip(t *testing.T) {
	mgr := NewTokenManager("cluster-secret")
	dataID := uuid.New()
	tok, err := mgr.Issue(dataID, "server-a", time.Minute, ReadOnly())
	require.NoError(t, err)

	err = mgr.Verify(tok, ReadOnly())
	assert.NoError(t, err)
}

func TestTokenVerifyRejectsExpired(t *testing.T) {
	mgr := NewTokenManager("cluster-secret")
	dataID := uuid.New()
	tok, err := mgr.Issue(dataID, "server-a", -time.Minute, ReadOnly())
	require.NoError(t, err)

	err = mgr.Verify(tok, ReadOnly())
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenVerifyRejectsInsufficientPermissions(t *testing.T) {
	mgr := NewTokenManager("cluster-secret")
	dataID := uuid.New()
	tok, err := mgr.Issue(dataID, "server-a", time.Minute, ReadOnly())
	require.NoError(t, err)

	err = mgr.Verify(tok, Full())
	assert.ErrorIs(t, err, ErrTokenInsufficient)
}

func TestTokenVerifyRejectsTamperedSignature(t *testing.T) {
	mgr := NewTokenManager("cluster-secret")
	other := NewTokenManager("different-secret")
	dataID := uuid.New()
	tok, err := other.Issue(dataID, "server-a", time.Minute, ReadOnly())
	require.NoError(t, err)

	err = mgr.Verify(tok, ReadOnly())
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenVerifyRejectsMismatchedDataUUID(t *testing.T) {
	mgr := NewTokenManager("cluster-secret")
	tok, err := mgr.Issue(uuid.New(), "server-a", time.Minute, ReadOnly())
	require.NoError(t, err)

	tok.DataUUID = uuid.New() // claim it's for a different ref without re-signing
	err = mgr.Verify(tok, ReadOnly())
	assert.ErrorIs(t, err, ErrTokenInvalid)
}
