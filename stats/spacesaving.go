package stats

// SpaceSaving is a streaming top-k estimator over numeric keys. With
// capacity around eight times the wanted k it reports the true top k
// with high probability on the heavy-tailed size distributions managed
// runtimes produce. Error is bounded by the lowest-ranked counter:
// newcomers inherit the evicted minimum as their lower bound.
type SpaceSaving struct {
	ranking *Ranking
}

// NewSpaceSaving builds an estimator with the given capacity.
func NewSpaceSaving(size int) *SpaceSaving {
	return &SpaceSaving{ranking: NewRanking(size)}
}

// Clear empties the estimator.
func (s *SpaceSaving) Clear() {
	s.ranking.Clear()
}

// Update records count occurrences of key.
func (s *SpaceSaving) Update(key uintptr, count uintptr) {
	if s.ranking.IncrementEntry(key, count) {
		return
	}
	if s.ranking.CurSize() == s.ranking.Size() {
		s.ranking.UpdateLowest(key, s.ranking.LowestCount()+count)
	} else {
		s.ranking.UpdateLowest(key, count)
	}
}

// KthMostFrequent returns the k-th most frequent key (k >= 1).
func (s *SpaceSaving) KthMostFrequent(k int) (key uintptr, ok bool) {
	return s.ranking.KthHighest(k)
}

// KthMostFrequentCount returns the k-th most frequent key's count.
func (s *SpaceSaving) KthMostFrequentCount(k int) uintptr {
	return s.ranking.KthHighestCount(k)
}

// CurSize returns the number of tracked keys.
func (s *SpaceSaving) CurSize() int {
	return s.ranking.CurSize()
}
