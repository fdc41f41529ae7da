package tlh

import (
	"github.com/orizon-lang/orizon-gc/env"
	"github.com/orizon-lang/orizon-gc/heap"
	"github.com/orizon-lang/orizon-gc/stats"
)

// GlobalStats is the merge target shared by every thread's allocation
// interface.
type GlobalStats struct {
	Allocation      stats.AllocationStats
	Failure         stats.AllocationFailureStats
	FrequentObjects *stats.FrequentObjectsStats
}

// NewGlobalStats builds the global merge target.
func NewGlobalStats(topKFrequent int) *GlobalStats {
	return &GlobalStats{FrequentObjects: stats.NewFrequentObjectsStats(topKFrequent)}
}

// AllocationInterface is the per-thread allocation front end: a zeroed
// TLH, an optional non-zeroed twin for allocations flagged
// allowed-non-zero, and the thread-local statistics merged on flush.
type AllocationInterface struct {
	extensions *env.Extensions
	global     *GlobalStats

	allocationStats stats.AllocationStats
	frequentObjects *stats.FrequentObjectsStats

	zeroTLH    *AllocationSupport
	nonZeroTLH *AllocationSupport
}

// NewAllocationInterface builds the allocation front end for one
// thread.
func NewAllocationInterface(extensions *env.Extensions, slab *heap.Slab, global *GlobalStats) *AllocationInterface {
	ai := &AllocationInterface{extensions: extensions, global: global}
	if extensions.Options().FrequentObjectsStatsEnabled {
		ai.frequentObjects = stats.NewFrequentObjectsStats(extensions.Options().MaxFrequentAllocateSizes)
	}
	ai.zeroTLH = NewAllocationSupport(extensions, slab, true, &ai.allocationStats, ai.frequentObjects)
	ai.nonZeroTLH = NewAllocationSupport(extensions, slab, false, &ai.allocationStats, ai.frequentObjects)
	return ai
}

// ZeroTLH returns the batch-cleared cache.
func (ai *AllocationInterface) ZeroTLH() *AllocationSupport { return ai.zeroTLH }

// NonZeroTLH returns the never-cleared twin.
func (ai *AllocationInterface) NonZeroTLH() *AllocationSupport { return ai.nonZeroTLH }

// Stats returns the thread-local allocation counters.
func (ai *AllocationInterface) Stats() *stats.AllocationStats { return &ai.allocationStats }

// ConnectSubSpace binds both caches to the subspace refreshes draw
// from.
func (ai *AllocationInterface) ConnectSubSpace(subSpace env.MemorySubSpace) {
	ai.zeroTLH.ConnectSubSpace(subSpace)
	ai.nonZeroTLH.ConnectSubSpace(subSpace)
}

// AllocateObject services a GC-managed object allocation. Zero-byte
// requests are rejected. On TLH miss the request falls through to the
// subspace path; a zero return means exhaustion and the caller's
// CollectOnFailure policy decides what happens next.
func (ai *AllocationInterface) AllocateObject(e *env.Environment, desc *env.AllocateDescription) env.Address {
	if desc.ContiguousBytes == 0 {
		return 0
	}
	support := ai.zeroTLH
	if desc.AllowNonZero {
		support = ai.nonZeroTLH
	}
	if result := support.AllocateFromTLH(e, desc, desc.CollectOnFailure); result != 0 {
		ai.allocationStats.AllocationCount++
		return result
	}

	subSpace := support.memorySubSpaceForRefresh()
	if subSpace == nil {
		ai.global.Failure.RecordFailure(uint64(desc.ContiguousBytes))
		return 0
	}
	result := subSpace.AllocateObject(e, desc)
	if result == 0 {
		ai.global.Failure.RecordFailure(uint64(desc.ContiguousBytes))
		return 0
	}
	ai.allocationStats.AllocationCount++
	ai.allocationStats.AllocationBytes += uint64(desc.ContiguousBytes)
	return result
}

// AllocateArrayletLeaf services an arraylet leaf allocation through the
// subspace path.
func (ai *AllocationInterface) AllocateArrayletLeaf(e *env.Environment, desc *env.AllocateDescription) env.Address {
	subSpace := ai.zeroTLH.memorySubSpaceForRefresh()
	if subSpace == nil {
		return 0
	}
	result := subSpace.AllocateArrayletLeaf(e, desc)
	if result != 0 {
		ai.allocationStats.ArrayletLeafAllocationCount++
		ai.allocationStats.ArrayletLeafAllocationBytes += uint64(desc.ContiguousBytes)
	}
	return result
}

// FlushCache invalidates both caches at a safe point and merges the
// thread-local statistics into the global view. The thread-local stats
// are cleared by this caller, matching the merge contract.
func (ai *AllocationInterface) FlushCache(e *env.Environment) {
	ai.zeroTLH.FlushCache(e)
	ai.nonZeroTLH.FlushCache(e)

	ai.global.Allocation.Merge(&ai.allocationStats)
	ai.allocationStats.Clear()
	if ai.frequentObjects != nil {
		ai.global.FrequentObjects.Merge(ai.frequentObjects)
		ai.frequentObjects.Clear()
	}
}

// Reconnect resets both caches for a mutator reattaching after a flush.
func (ai *AllocationInterface) Reconnect(e *env.Environment) {
	ai.zeroTLH.Reconnect(e)
	ai.nonZeroTLH.Reconnect(e)
}

// Restart halves both caches' hungriness.
func (ai *AllocationInterface) Restart(e *env.Environment) {
	ai.zeroTLH.Restart(e)
	ai.nonZeroTLH.Restart(e)
}
