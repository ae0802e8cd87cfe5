package dataref

import "github.com/google/uuid"

// LlmSession is the affinity record binding a stateful (KV-cache) execution
// to the server currently holding its cache, so the scheduler can keep
// re-placing that work on the same server instead of paying a re-prefill
// cost on every node.
type LlmSession struct {
	SessionID      uuid.UUID  `json:"session_id"`
	ModelID        string     `json:"model_id"`
	KVCacheRef     *uuid.UUID `json:"kv_cache_ref,omitempty"`
	PreferredServer string    `json:"preferred_server"`
	SeqLength      int        `json:"seq_length"`
	MaxSeqLength   int        `json:"max_seq_length"`
}

// bytesPerToken approximates the per-token footprint of a KV cache entry
// used to translate sequence length into a migration-cost proxy. This is a
// coarse constant, not a model-accurate estimate — both costs it feeds into
// are comparative, not absolute.
const bytesPerToken = 128 * 1024

// ShouldMigrate returns true only when the projected cost of migrating this
// session's KV cache to target is strictly less than the projected cost of
// re-prefilling the session from scratch on target. Migration cost is
// proportional to the KV cache's byte size; re-prefill cost is proportional
// to seq_length (the number of tokens that would need to be recomputed).
// When there is no KV cache yet, there is nothing to migrate, so moving is
// always cheaper than a no-op comparison would suggest — but also nothing
// to protect, so the scheduler should treat this as "no preference" rather
// than call should_migrate at all; here it simply reports true for an empty
// cache so a caller that does call it is not blocked from placing fresh
// sessions anywhere.
func (s LlmSession) ShouldMigrate(target string, bandwidthBytesPerMs float64) bool {
	if target == s.PreferredServer {
		return false
	}
	if s.KVCacheRef == nil {
		return true
	}
	if bandwidthBytesPerMs <= 0 {
		bandwidthBytesPerMs = 1
	}

	cacheSizeBytes := float64(s.SeqLength) * bytesPerToken
	migrationCostMs := cacheSizeBytes / bandwidthBytesPerMs

	const prefillMsPerToken = 2.0
	reprefillCostMs := float64(s.SeqLength) * prefillMsPerToken

	return migrationCostMs < reprefillCostMs
}

// Valid reports the seq_length <= max_seq_length invariant.
func (s LlmSession) Valid() bool { return s.SeqLength <= s.MaxSeqLength }
