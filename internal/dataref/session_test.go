package dataref

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestShouldMigrateSameServerIsFalse(t *testing.T) {
	s := LlmSession{PreferredServer: "s1"}
	assert.False(t, s.ShouldMigrate("s1", 1024))
}

func TestShouldMigrateNoCacheIsTrue(t *testing.T) {
	s := LlmSession{PreferredServer: "s1"}
	assert.True(t, s.ShouldMigrate("s2", 1024))
}

func TestShouldMigrateComparesTransferVsReprefillCost(t *testing.T) {
	ref := uuid.New()
	// Small seq_length with fast bandwidth: migrating a tiny cache is far
	// cheaper than re-running a large prefill, i.e. migrationCostMs much
	// smaller than reprefillCostMs, since prefill cost scales with
	// seq_length too but the constant (2ms/token) dwarfs a fast transfer.
	s := LlmSession{PreferredServer: "s1", KVCacheRef: &ref, SeqLength: 100}
	assert.True(t, s.ShouldMigrate("s2", 1<<20)) // very high bandwidth
}

func TestShouldMigrateFalseWhenReprefillCheaper(t *testing.T) {
	ref := uuid.New()
	// Extremely slow bandwidth makes migration cost dominate.
	s := LlmSession{PreferredServer: "s1", KVCacheRef: &ref, SeqLength: 100}
	assert.False(t, s.ShouldMigrate("s2", 1))
}

func TestLlmSessionValid(t *testing.T) {
	assert.True(t, LlmSession{SeqLength: 10, MaxSeqLength: 20}.Valid())
	assert.False(t, LlmSession{SeqLength: 30, MaxSeqLength: 20}.Valid())
}
