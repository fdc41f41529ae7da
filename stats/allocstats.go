// Package stats implements allocation-profile statistics: per-thread
// allocation counters merged into a global view, a space-saving top-k
// estimator of frequent allocation sizes, a size-class histogram of
// free entries, and GC-phase CPU utilization snapshots.
package stats

import "sync/atomic"

// AllocationStats counts allocation activity. Thread-local instances
// are written without synchronization by their owning thread and merged
// into the global instance on flush; the merge uses atomic adds and a
// CAS-loop maximum for high-water fields.
type AllocationStats struct {
	TLHRefreshCountFresh    uint64 // refreshes satisfied with fresh heap
	TLHRefreshCountReused   uint64 // refreshes satisfied from the abandoned list
	TLHAllocatedFresh       uint64 // bytes acquired fresh from the heap
	TLHAllocatedReused      uint64 // bytes acquired from reused TLHs
	TLHRequestedBytes       uint64 // bytes requested across refreshes
	TLHDiscardedBytes       uint64 // bytes discarded from abandoned TLHs
	TLHMaxAbandonedListSize uint64 // abandoned-list high-water

	ArrayletLeafAllocationCount uint64
	ArrayletLeafAllocationBytes uint64

	AllocationCount          uint64
	AllocationBytes          uint64
	DiscardedBytes           uint64
	AllocationSearchCount    uint64
	AllocationSearchCountMax uint64
}

// Clear zeroes every counter.
func (s *AllocationStats) Clear() {
	*s = AllocationStats{}
}

// Merge accumulates other into s. Safe against concurrent merges into
// the same target.
func (s *AllocationStats) Merge(other *AllocationStats) {
	atomic.AddUint64(&s.TLHRefreshCountFresh, other.TLHRefreshCountFresh)
	atomic.AddUint64(&s.TLHRefreshCountReused, other.TLHRefreshCountReused)
	atomic.AddUint64(&s.TLHAllocatedFresh, other.TLHAllocatedFresh)
	atomic.AddUint64(&s.TLHAllocatedReused, other.TLHAllocatedReused)
	atomic.AddUint64(&s.TLHRequestedBytes, other.TLHRequestedBytes)
	atomic.AddUint64(&s.TLHDiscardedBytes, other.TLHDiscardedBytes)
	atomicStoreMax(&s.TLHMaxAbandonedListSize, other.TLHMaxAbandonedListSize)

	atomic.AddUint64(&s.ArrayletLeafAllocationCount, other.ArrayletLeafAllocationCount)
	atomic.AddUint64(&s.ArrayletLeafAllocationBytes, other.ArrayletLeafAllocationBytes)

	atomic.AddUint64(&s.AllocationCount, other.AllocationCount)
	atomic.AddUint64(&s.AllocationBytes, other.AllocationBytes)
	atomic.AddUint64(&s.DiscardedBytes, other.DiscardedBytes)
	atomic.AddUint64(&s.AllocationSearchCount, other.AllocationSearchCount)
	atomicStoreMax(&s.AllocationSearchCountMax, other.AllocationSearchCountMax)
}

// TLHBytesAllocated returns net TLH bytes handed to the mutator.
func (s *AllocationStats) TLHBytesAllocated() uint64 {
	return s.TLHAllocatedFresh - s.TLHDiscardedBytes
}

// NonTLHBytesAllocated returns bytes allocated outside TLHs.
func (s *AllocationStats) NonTLHBytesAllocated() uint64 {
	return s.AllocationBytes
}

// BytesAllocated returns the total bytes allocated.
func (s *AllocationStats) BytesAllocated() uint64 {
	return s.TLHBytesAllocated() + s.NonTLHBytesAllocated() + s.ArrayletLeafAllocationBytes
}

// atomicStoreMax raises *target to value with a CAS loop; concurrent
// raisers converge on the maximum.
func atomicStoreMax(target *uint64, value uint64) {
	for {
		prev := atomic.LoadUint64(target)
		if prev >= value {
			return
		}
		if atomic.CompareAndSwapUint64(target, prev, value) {
			return
		}
	}
}

// AllocationFailureStats counts exhaustion events per subspace.
type AllocationFailureStats struct {
	AllocationFailureCount      uint64 // failures that triggered a collection
	AllocationFailureMaxBytes   uint64 // largest failed request
	AllocationFailureTotalBytes uint64
}

// Clear zeroes the failure counters.
func (s *AllocationFailureStats) Clear() {
	*s = AllocationFailureStats{}
}

// RecordFailure notes a failed request of size bytes.
func (s *AllocationFailureStats) RecordFailure(size uint64) {
	atomic.AddUint64(&s.AllocationFailureCount, 1)
	atomic.AddUint64(&s.AllocationFailureTotalBytes, size)
	atomicStoreMax(&s.AllocationFailureMaxBytes, size)
}
