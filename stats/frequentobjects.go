package stats

// spaceSavingSizeFactor oversizes the estimator relative to the number
// of sizes ultimately reported, which keeps the reported top-k accurate
// on heavy-tailed distributions.
const spaceSavingSizeFactor = 8

// FrequentObjectsStats estimates the most frequently allocated object
// sizes. Per-thread instances are fed from TLH sampling walks and
// merged into the global instance on flush.
type FrequentObjectsStats struct {
	topKFrequent int
	estimator    *SpaceSaving
}

// NewFrequentObjectsStats builds an estimator reporting the top
// topKFrequent sizes.
func NewFrequentObjectsStats(topKFrequent int) *FrequentObjectsStats {
	return &FrequentObjectsStats{
		topKFrequent: topKFrequent,
		estimator:    NewSpaceSaving(topKFrequent * spaceSavingSizeFactor),
	}
}

// Update records one allocation of size bytes.
func (s *FrequentObjectsStats) Update(size uintptr) {
	s.estimator.Update(size, 1)
}

// Clear empties the estimator.
func (s *FrequentObjectsStats) Clear() {
	s.estimator.Clear()
}

// Merge folds other's ranked sizes into s.
func (s *FrequentObjectsStats) Merge(other *FrequentObjectsStats) {
	for k := 1; k <= other.estimator.CurSize(); k++ {
		size, ok := other.estimator.KthMostFrequent(k)
		if !ok {
			break
		}
		s.estimator.Update(size, other.estimator.KthMostFrequentCount(k))
	}
}

// TopSizes returns up to topKFrequent sizes in descending frequency.
func (s *FrequentObjectsStats) TopSizes() []uintptr {
	limit := s.topKFrequent
	if cur := s.estimator.CurSize(); cur < limit {
		limit = cur
	}
	sizes := make([]uintptr, 0, limit)
	for k := 1; k <= limit; k++ {
		size, ok := s.estimator.KthMostFrequent(k)
		if !ok {
			break
		}
		sizes = append(sizes, size)
	}
	return sizes
}
