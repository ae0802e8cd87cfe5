package dataref

// CostEstimator produces advisory millisecond transfer-cost hints used by
// placement heuristics (notably the DataAffinity scheduler strategy). The
// hint is never authoritative: it only compares candidates against each
// other.
type CostEstimator struct {
	// BandwidthBytesPerMs is the configurable per-hop bandwidth constant.
	BandwidthBytesPerMs float64
}

func NewCostEstimator(bandwidthBytesPerMs float64) CostEstimator {
	if bandwidthBytesPerMs <= 0 {
		bandwidthBytesPerMs = 1024 // 1 MB/s fallback, conservative default
	}
	return CostEstimator{BandwidthBytesPerMs: bandwidthBytesPerMs}
}

// EstimateMs returns the projected millisecond cost of making ref available
// on targetServer: zero if the ref already lives there, otherwise
// size_bytes / bandwidth.
func (c CostEstimator) EstimateMs(ref DataRef, targetServer string) float64 {
	if ref.ServerAddr == targetServer {
		return 0
	}
	return float64(ref.SizeBytes) / c.BandwidthBytesPerMs
}

// LocalFraction returns, for a set of input refs a node consumes, the
// fraction already local to candidate — the statistic the DataAffinity
// placement strategy maximizes.
func (c CostEstimator) LocalFraction(refs []DataRef, candidate string) float64 {
	if len(refs) == 0 {
		return 0
	}
	local := 0
	for _, r := range refs {
		if r.ServerAddr == candidate {
			local++
		}
	}
	return float64(local) / float64(len(refs))
}
